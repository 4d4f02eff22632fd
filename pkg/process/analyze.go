package process

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cramakri/smet-collect-go/pkg/bundle"
	"github.com/cramakri/smet-collect-go/pkg/progress"
)

// Analyzer runs an analysis script against pruned run data. The config
// decides which script runs and where the results end up.
type Analyzer struct {
	status *bundle.Status
	config CommandConfig
}

// NewAnalyzer creates an analyzer task source. A nil config defaults to
// the metadata analyzer.
func NewAnalyzer(status *bundle.Status, config *CommandConfig) *Analyzer {
	if config == nil {
		c := MetadataAnalyzerConfig()
		config = &c
	}
	return &Analyzer{status: status, config: *config}
}

// MetadataAnalyzerConfig summarizes tweet metadata per run.
func MetadataAnalyzerConfig() CommandConfig {
	return CommandConfig{
		Script:      "mdsummary.rb",
		Description: "Analyzing",
		Kind:        progress.KindAnalyze,
		MaxRuns:     5,
		Output:      OutputMetadata,
	}
}

// MetadataPlusAnalyzerConfig is the extended metadata summary.
func MetadataPlusAnalyzerConfig() CommandConfig {
	return CommandConfig{
		Script:      "mdsummary_plus.rb",
		Description: "Analyzing",
		Kind:        progress.KindAnalyze,
		MaxRuns:     5,
		Output:      OutputMetadataPlus,
	}
}

// HashtagAnalyzerConfig summarizes hashtag use per run.
func HashtagAnalyzerConfig() CommandConfig {
	return CommandConfig{
		Script:      "hashtags.rb",
		Description: "Analyzing Hashtags",
		Kind:        progress.KindAnalyze,
		MaxRuns:     5,
		Output:      OutputHashtag,
	}
}

func (a *Analyzer) Config() CommandConfig { return a.config }

// NeedsProcessing reports whether the run's analysis output is missing.
func (a *Analyzer) NeedsProcessing(race bundle.Race, run bundle.Run) bool {
	return outputMissing(a.status, a.config.Output, race, run)
}

// Task maps the run's pruned data file to its analysis output location.
func (a *Analyzer) Task(race bundle.Race, run bundle.Run) TaskDef {
	folder, name := a.config.Output.Resolve(a.status, race, &run)
	return TaskDef{
		RaceSlug:  race.Slug,
		InPath:    a.status.PrunedDataPathForRun(race, run),
		OutFolder: folder,
		OutName:   name,
	}
}

// Prepare ensures the output folders exist and writes the candidate
// configuration the analysis scripts read.
func (a *Analyzer) Prepare(races []bundle.Race) error {
	for _, race := range races {
		folder, _ := a.config.Output.Resolve(a.status, race, nil)
		if err := bundle.EnsureFolder(folder); err != nil {
			return err
		}
	}
	if len(races) > 0 {
		return WriteAnalysisConfig(a.status, "")
	}
	return nil
}

// WriteAnalysisConfig renders the race/candidate/term configuration as
// JSON for the analysis scripts. An empty path means
// analyzed/analysis_config.json.
func WriteAnalysisConfig(status *bundle.Status, path string) error {
	if path == "" {
		path = filepath.Join(status.AnalyzedDataFolder(), "analysis_config.json")
	}
	races, err := configRaces(status)
	if err != nil {
		return err
	}
	data, err := json.Marshal(races)
	if err != nil {
		return fmt.Errorf("failed to encode analysis config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write analysis config %s: %w", path, err)
	}
	return nil
}
