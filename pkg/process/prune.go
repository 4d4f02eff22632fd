package process

import (
	"github.com/cramakri/smet-collect-go/pkg/bundle"
	"github.com/cramakri/smet-collect-go/pkg/progress"
)

// Pruner reduces raw run data to the relevant subset. Input is the raw
// data folder for a run; output goes to the pruned data area.
type Pruner struct {
	status *bundle.Status
	config CommandConfig
}

// NewPruner creates a pruner task source. A zero config gets the defaults.
func NewPruner(status *bundle.Status, config *CommandConfig) *Pruner {
	if config == nil {
		c := DefaultPrunerConfig()
		config = &c
	}
	return &Pruner{status: status, config: *config}
}

// DefaultPrunerConfig returns the standard pruner parameters.
func DefaultPrunerConfig() CommandConfig {
	return CommandConfig{
		Script:      "prune.rb",
		Description: "Pruning",
		Kind:        progress.KindPrune,
		MaxRuns:     5,
		Output:      OutputPruned,
	}
}

func (p *Pruner) Config() CommandConfig { return p.config }

// NeedsProcessing reports whether the run has no pruned data yet.
func (p *Pruner) NeedsProcessing(race bundle.Race, run bundle.Run) bool {
	return !p.status.HasPrunedDataForRun(race, run)
}

// Task maps the run's raw data folder to its pruned output location.
func (p *Pruner) Task(race bundle.Race, run bundle.Run) TaskDef {
	folder, name := p.config.Output.Resolve(p.status, race, &run)
	return TaskDef{
		RaceSlug:  race.Slug,
		InPath:    p.status.RawDataFolderForRun(race, &run),
		OutFolder: folder,
		OutName:   name,
	}
}

// Prepare ensures the pruned data folders exist.
func (p *Pruner) Prepare(races []bundle.Race) error {
	for _, race := range races {
		folder, _ := p.config.Output.Resolve(p.status, race, nil)
		if err := bundle.EnsureFolder(folder); err != nil {
			return err
		}
	}
	return nil
}
