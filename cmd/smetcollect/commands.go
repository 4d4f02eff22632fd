package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/cramakri/smet-collect-go/pkg/bundle"
	"github.com/cramakri/smet-collect-go/pkg/collect"
	"github.com/cramakri/smet-collect-go/pkg/process"
	"github.com/cramakri/smet-collect-go/pkg/twitter"
)

var (
	flagLimit        float64
	flagResume       bool
	flagRace         string
	flagCollectDepth int
	flagRunDepth     int
	flagUntil        string
	flagKind         string
	flagConfigOnly   bool
	flagExecute      bool
	flagSkip         bool
)

func init() {
	collectCmd.Flags().Float64Var(&flagLimit, "limit", 2.0, "The number of hours to wait before performing a new run.")
	collectCmd.Flags().BoolVar(&flagResume, "resume", false, "Resume the last run.")
	collectCmd.Flags().StringVar(&flagRace, "race", "", "A single race to run a search for.")
	collectCmd.Flags().IntVarP(&flagCollectDepth, "maxdepth", "d", 3, "The max depth to search for each race.")
	collectCmd.Flags().StringVarP(&flagUntil, "until", "u", "", "Only retrieve results before date (YYYY-MM-DD).")

	for _, cmd := range []*cobra.Command{pruneCmd, analyzeCmd, compressCmd, uncompressCmd, rebuildCmd, archiveCmd} {
		cmd.Flags().StringVar(&flagRace, "race", "", "A single race to process.")
		cmd.Flags().IntVarP(&flagRunDepth, "maxdepth", "d", 5, "The max number of runs to process.")
	}
	for _, cmd := range []*cobra.Command{pruneCmd, analyzeCmd} {
		cmd.Flags().BoolVar(&flagConfigOnly, "config-only", false, "Write the task manifest without running anything.")
	}
	analyzeCmd.Flags().StringVar(&flagKind, "kind", "metadata", "The analysis to run: metadata, mdplus, or hashtag.")

	purgeCmd.Flags().StringVar(&flagRace, "race", "", "The race with the runs to purge.")
	purgeCmd.Flags().BoolVarP(&flagExecute, "execute", "e", false, "Actually execute the purge.")

	pipelineCmd.Flags().IntVarP(&flagCollectDepth, "maxdepth", "d", 3, "The max number of runs to process.")
	pipelineCmd.Flags().BoolVarP(&flagSkip, "skipcollect", "s", false, "Skip collecting data from the API.")
}

// maxDepth converts the flag to the collector's optional bound.
func maxDepth() *int {
	if flagCollectDepth <= 0 {
		return nil
	}
	depth := flagCollectDepth
	return &depth
}

func searchClient(status *bundle.Status) (*twitter.Client, error) {
	creds, err := bundle.LoadCredentials(status.Bundle.CredentialsPath())
	if err != nil {
		return nil, err
	}
	config, err := twitter.NewConfig(creds)
	if err != nil {
		return nil, err
	}
	return twitter.NewClient(config)
}

func processingEngine(status *bundle.Status) *process.Engine {
	config := process.DefaultEngineConfig()
	config.Logger = log
	return process.NewEngine(status, config)
}

var collectCmd = &cobra.Command{
	Use:   "collect BUNDLE",
	Short: "Collect data for a bundle",
	Long: `Collect data for a bundle.

Perform a search against the API to get the latest data for the races in the
bundle. The search results are stored to files in the bundle.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if flagResume {
			echoRaw(fmt.Sprintf("Continue last run for bundle %s", args[0]))
		} else {
			echoRaw(fmt.Sprintf("Capturing data for bundle %s", args[0]))
		}

		status, err := statusForBundle(args[0])
		if err != nil {
			return err
		}
		client, err := searchClient(status)
		if err != nil {
			return err
		}
		config := collect.DefaultConfig()
		config.WaitPeriod = time.Duration(flagLimit * float64(time.Hour))
		config.MaxDepth = maxDepth()
		config.Logger = log
		collector := collect.New(status, client, config, collect.Options{
			Resume: flagResume,
			Race:   flagRace,
			Until:  flagUntil,
		})
		if err := collector.Run(context.Background()); err != nil {
			return err
		}
		echoRaw("Done.")
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:   "import IMPORTROOT BUNDLE",
	Short: "Read raw data from another bundle into the status db",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		echoRaw(fmt.Sprintf("Synchronize data for bundle %s", args[1]))
		status, err := statusForBundle(args[1])
		if err != nil {
			return err
		}
		importer := collect.NewRawImport(status, args[0], log)
		if err := importer.Run(); err != nil {
			return err
		}
		echoRaw("Done.")
		return nil
	},
}

var pruneCmd = &cobra.Command{
	Use:   "prune BUNDLE",
	Short: "Prune bundle run data down to the relevant data",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		echoRaw(fmt.Sprintf("Pruning data for bundle %s", args[0]))
		status, err := statusForBundle(args[0])
		if err != nil {
			return err
		}
		config := process.DefaultPrunerConfig()
		config.MaxRuns = flagRunDepth
		config.ConfigOnly = flagConfigOnly
		pruner := process.NewPruner(status, &config)
		engine := processingEngine(status)
		if engine.PrerequisitesSatisfied() {
			if err := engine.Run(process.NewCommand(status, pruner, flagRace, log)); err != nil {
				return err
			}
		}
		echoRaw("Done.")
		return nil
	},
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze BUNDLE",
	Short: "Analyze pruned runs in a bundle",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		echoRaw(fmt.Sprintf("Analyzing data for bundle %s", args[0]))
		status, err := statusForBundle(args[0])
		if err != nil {
			return err
		}
		var config process.CommandConfig
		switch flagKind {
		case "metadata":
			config = process.MetadataAnalyzerConfig()
		case "mdplus":
			config = process.MetadataPlusAnalyzerConfig()
		case "hashtag":
			config = process.HashtagAnalyzerConfig()
		default:
			return fmt.Errorf("unknown analysis kind %q", flagKind)
		}
		config.MaxRuns = flagRunDepth
		config.ConfigOnly = flagConfigOnly
		analyzer := process.NewAnalyzer(status, &config)
		engine := processingEngine(status)
		if engine.PrerequisitesSatisfied() {
			if err := engine.Run(process.NewCommand(status, analyzer, flagRace, log)); err != nil {
				return err
			}
		}
		echoRaw("Done.")
		return nil
	},
}

var compressCmd = &cobra.Command{
	Use:   "compress BUNDLE",
	Short: "Compress pruned runs in a bundle",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		echoRaw(fmt.Sprintf("Compressing data for bundle %s", args[0]))
		status, err := statusForBundle(args[0])
		if err != nil {
			return err
		}
		config := collect.CompressorConfig{MaxRuns: flagRunDepth}
		if err := collect.NewCompressor(status, &config, flagRace).Run(); err != nil {
			return err
		}
		echoRaw("Done.")
		return nil
	},
}

var uncompressCmd = &cobra.Command{
	Use:   "uncompress BUNDLE",
	Short: "Uncompress runs in a bundle",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		echoRaw(fmt.Sprintf("Uncompressing data for bundle %s", args[0]))
		status, err := statusForBundle(args[0])
		if err != nil {
			return err
		}
		config := collect.CompressorConfig{MaxRuns: flagRunDepth}
		if err := collect.NewUncompressor(status, &config, flagRace).Run(); err != nil {
			return err
		}
		echoRaw("Done.")
		return nil
	},
}

var rebuildCmd = &cobra.Command{
	Use:   "rebuild BUNDLE",
	Short: "Rebuild faulty pruned data in a bundle",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		echoRaw(fmt.Sprintf("Rebuilding data for bundle %s", args[0]))
		status, err := statusForBundle(args[0])
		if err != nil {
			return err
		}
		config := collect.CompressorConfig{MaxRuns: flagRunDepth}
		rebuilder := collect.NewRebuilder(processingEngine(status), status, &config, flagRace)
		if err := rebuilder.Run(); err != nil {
			return err
		}
		echoRaw("Done.")
		return nil
	},
}

var archiveCmd = &cobra.Command{
	Use:   "archive BUNDLE",
	Short: "Delete raw data of compressed runs in a bundle",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		echoRaw(fmt.Sprintf("Archiving data for bundle %s", args[0]))
		status, err := statusForBundle(args[0])
		if err != nil {
			return err
		}
		config := collect.CompressorConfig{MaxRuns: flagRunDepth}
		if err := collect.NewArchiver(status, &config, flagRace).Run(); err != nil {
			return err
		}
		echoRaw("Done.")
		return nil
	},
}

var purgeCmd = &cobra.Command{
	Use:   "purge BUNDLE",
	Short: "Purge runs that have lost their data",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		status, err := statusForBundle(args[0])
		if err != nil {
			return err
		}
		echoRaw(fmt.Sprintf("Purging data for bundle %s", args[0]))
		config := collect.PurgerConfig{Execute: flagExecute}
		if err := collect.NewPurger(status, &config, flagRace).Run(); err != nil {
			return err
		}
		echoRaw("Done.")
		return nil
	},
}

var pipelineCmd = &cobra.Command{
	Use:   "pipeline BUNDLE",
	Short: "Run the full pipeline once: collect, prune, compress, archive",
	Long: `Run the full pipeline once. Logs are in the bundle log folder.
- Collect runs
- Prune
- Compress
- Archive`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		status, err := statusForBundle(args[0])
		if err != nil {
			return err
		}

		// Progress goes to a log file instead of stdout.
		logPath, err := status.GenerateRunningLogFilePath("pipeline")
		if err != nil {
			return err
		}
		fp, err := openFileProgress(logPath)
		if err != nil {
			return err
		}
		status.Progress = fp.progress

		echoRaw(fmt.Sprintf("%s Running pipeline for bundle %s...",
			time.Now().Format("2006-01-02"), args[0]))

		if flagSkip {
			echo("-- Skip Collecting data")
		} else {
			echo("-- Collecting data")
			client, err := searchClient(status)
			if err != nil {
				return err
			}
			config := collect.DefaultConfig()
			config.WaitPeriod = time.Hour
			config.MaxDepth = maxDepth()
			config.Logger = log
			collector := collect.New(status, client, config, collect.Options{})
			if err := collector.Run(context.Background()); err != nil {
				return err
			}
		}

		engine := processingEngine(status)

		echo("-- Pruning data")
		prunerConfig := process.DefaultPrunerConfig()
		prunerConfig.MaxRuns = flagCollectDepth
		pruner := process.NewPruner(status, &prunerConfig)
		if engine.PrerequisitesSatisfied() {
			if err := engine.Run(process.NewCommand(status, pruner, "", log)); err != nil {
				return err
			}
		}

		echo("-- Compressing data")
		compressorConfig := collect.CompressorConfig{MaxRuns: flagCollectDepth}
		if err := collect.NewCompressor(status, &compressorConfig, "").Run(); err != nil {
			return err
		}

		echo("-- Archiving data")
		if err := collect.NewArchiver(status, &compressorConfig, "").Run(); err != nil {
			return err
		}

		if err := fp.close(); err != nil {
			return err
		}
		if err := status.MoveLogToSuccess(logPath); err != nil {
			return err
		}
		echo("Done.")
		return nil
	},
}
