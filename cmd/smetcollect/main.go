package main

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/cramakri/smet-collect-go/pkg/bundle"
	"github.com/cramakri/smet-collect-go/pkg/logging"
	"github.com/cramakri/smet-collect-go/pkg/progress"
)

var (
	log = logrus.New()

	flagQuiet bool
)

func main() {
	if err := godotenv.Load(); err != nil {
		// .env is optional
		logrus.WithError(err).Debug("Error loading .env file")
	}

	log.SetFormatter(logging.NewColoredJSONFormatter())

	logLevel := os.Getenv("LOG_LEVEL")
	if level, err := logrus.ParseLevel(logLevel); err == nil {
		log.SetLevel(level)
	} else {
		log.SetLevel(logrus.WarnLevel)
	}

	rootCmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "Suppress status reporting.")
	rootCmd.SilenceErrors = true

	rootCmd.AddCommand(collectCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(pruneCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(compressCmd)
	rootCmd.AddCommand(uncompressCmd)
	rootCmd.AddCommand(rebuildCmd)
	rootCmd.AddCommand(archiveCmd)
	rootCmd.AddCommand(purgeCmd)
	rootCmd.AddCommand(pipelineCmd)

	if err := rootCmd.Execute(); err != nil {
		log.WithError(err).Error("smetcollect failed")
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "smetcollect",
	Short:        "Collect and process social media election tracking data",
	SilenceUsage: true,
}

// echo prints a status line with a timestamp, unless -q was given.
func echo(message string) {
	if flagQuiet {
		return
	}
	fmt.Printf("%s %s\n", time.Now().Format("15:04:05"), message)
}

// echoRaw prints a status line without a timestamp.
func echoRaw(message string) {
	if !flagQuiet {
		fmt.Println(message)
	}
}

// terminalProgress prints progress and error reports to stdout.
func terminalProgress(report progress.Report) {
	switch report.Kind {
	case progress.KindProgress, progress.KindError:
		echo(report.Message)
	}
}

// fileProgress writes every report to a log file, timestamped.
type fileProgress struct {
	file *os.File
}

func openFileProgress(path string) (*fileProgress, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open progress log %s: %w", path, err)
	}
	return &fileProgress{file: f}, nil
}

func (p *fileProgress) progress(report progress.Report) {
	fmt.Fprintf(p.file, "\n%s %s", time.Now().Format("15:04:05"), report.Message)
	p.file.Sync()
}

func (p *fileProgress) close() error { return p.file.Close() }

// statusForBundle opens a bundle's status store with the terminal progress
// sink and brings the schema and config up to date.
func statusForBundle(root string) (*bundle.Status, error) {
	if _, err := os.Stat(root); err != nil {
		return nil, fmt.Errorf("bundle %s not found: %w", root, err)
	}
	status, err := bundle.OpenStatus(bundle.New(root), bundle.StatusOptions{
		Logger:   log,
		Progress: terminalProgress,
	})
	if err != nil {
		return nil, err
	}
	if err := status.CreateTables(); err != nil {
		return nil, err
	}
	if err := status.SyncConfig(); err != nil {
		return nil, err
	}
	return status, nil
}
