package process

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/cramakri/smet-collect-go/pkg/bundle"
	"github.com/cramakri/smet-collect-go/pkg/progress"
)

// OutputKind names where a processing command's output for a run lives.
// Each kind resolves to a (folder, filename) pair for a race and run; with a
// nil run only the folder is meaningful.
type OutputKind struct {
	name     string
	template string
}

var (
	// OutputPruned places output in the pruned data area.
	OutputPruned = OutputKind{name: "pruned"}

	// OutputMetadata places output under analyzed/<race>/metadata.
	OutputMetadata = OutputKind{name: "metadata"}

	// OutputMetadataPlus places output under analyzed/<race>/mdplus.
	OutputMetadataPlus = OutputKind{name: "mdplus"}

	// OutputHashtag places output under analyzed/<race>/hashtag.
	OutputHashtag = OutputKind{name: "hashtag"}
)

// CustomOutput resolves output locations from a path template. The
// placeholders {race} and {run} expand to the race slug and the run's
// results folder.
func CustomOutput(template string) OutputKind {
	return OutputKind{name: "custom", template: template}
}

// Resolve returns the output folder and file name for a race and run.
func (k OutputKind) Resolve(status *bundle.Status, race bundle.Race, run *bundle.Run) (string, string) {
	switch k.name {
	case "pruned":
		if run == nil {
			return status.PrunedDataFolderForRace(race), ""
		}
		return status.PrunedDataComponentsForRun(race, *run)
	case "custom":
		folder := strings.ReplaceAll(k.template, "{race}", race.Slug)
		name := ""
		if run != nil {
			name = run.ResultsFolder + ".json"
			folder = strings.ReplaceAll(folder, "{run}", run.ResultsFolder)
		}
		return folder, name
	default:
		return status.AnalysisResultComponents(race, k.name, run)
	}
}

// IsPruned reports whether the kind targets the pruned data area, which has
// its own existence check.
func (k OutputKind) IsPruned() bool { return k.name == "pruned" }

// CommandConfig parameterizes one kind of processing command.
type CommandConfig struct {
	// Script is the external script that processes the batch manifest.
	Script string

	// Description labels progress messages ("Pruning", "Analyzing").
	Description string

	// Kind is the progress kind queued-run messages report under.
	Kind progress.Kind

	// MaxRuns caps how many runs per race one batch processes. Zero or
	// negative means no cap.
	MaxRuns int

	// ConfigOnly writes the manifest without launching anything.
	ConfigOnly bool

	// Output decides where each run's output goes and thereby which runs
	// still need processing.
	Output OutputKind
}

// TaskSource is the task-producing collaborator: it decides which runs need
// work and turns a run into a task definition.
type TaskSource interface {
	// Config returns the command parameters.
	Config() CommandConfig

	// NeedsProcessing reports whether the run's output is still missing.
	NeedsProcessing(race bundle.Race, run bundle.Run) bool

	// Task builds the task definition for one run.
	Task(race bundle.Race, run bundle.Run) TaskDef

	// Prepare runs once before queuing, e.g. to create output folders.
	Prepare(races []bundle.Race) error
}

type raceRuns struct {
	race bundle.Race
	runs []bundle.Run
}

// Command walks the races, collects the runs its TaskSource still needs to
// process, and queues task definitions for the engine.
type Command struct {
	status   *bundle.Status
	source   TaskSource
	raceSlug string
	logger   *logrus.Logger

	queue []raceRuns
	tasks []TaskDef
}

// NewCommand creates a command over a task source. A non-empty raceSlug
// restricts the batch to one race.
func NewCommand(status *bundle.Status, source TaskSource, raceSlug string, logger *logrus.Logger) *Command {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Command{status: status, source: source, raceSlug: raceSlug, logger: logger}
}

// Config exposes the source's command parameters.
func (c *Command) Config() CommandConfig { return c.source.Config() }

// Description labels the command in progress messages.
func (c *Command) Description() string { return c.source.Config().Description }

// Tasks returns the queued task definitions.
func (c *Command) Tasks() []TaskDef { return c.tasks }

// CollectRuns finds the runs that still need processing, most recent
// first. An ambiguous or unmatched race slug is reported and leaves the
// queue empty.
func (c *Command) CollectRuns() error {
	races, err := c.status.RacesMatchingSlug(c.raceSlug)
	if err != nil {
		return err
	}
	if c.raceSlug != "" {
		if len(races) < 1 {
			progress.Reportf(c.status.Progress, progress.KindError,
				"Found no races matching slug %s.", c.raceSlug)
			return nil
		}
		if len(races) > 1 {
			progress.Reportf(c.status.Progress, progress.KindError,
				"Found multiple races matching slug %s.", c.raceSlug)
			return nil
		}
	}
	for _, race := range races {
		if err := c.collectRunsFromRace(race); err != nil {
			return err
		}
	}
	return nil
}

func (c *Command) collectRunsFromRace(race bundle.Race) error {
	progress.Reportf(c.status.Progress, progress.KindProgress,
		"Collecting runs from race %s", race.Name)
	runs, err := c.status.RunsOrdered(race, true)
	if err != nil {
		return err
	}
	entry := raceRuns{race: race}
	for _, run := range runs {
		if c.source.NeedsProcessing(race, run) {
			entry.runs = append(entry.runs, run)
		}
	}
	if len(entry.runs) > 0 {
		c.queue = append(c.queue, entry)
	}
	return nil
}

// LogQueueSummary reports how much work the batch holds.
func (c *Command) LogQueueSummary() {
	if len(c.queue) < 1 {
		progress.Reportf(c.status.Progress, progress.KindProgress, "No runs to process.")
		return
	}
	for _, entry := range c.queue {
		progress.Reportf(c.status.Progress, progress.KindProgress,
			"Race %s has %d runs to process", entry.race.Name, len(entry.runs))
	}
	if maxRuns := c.source.Config().MaxRuns; maxRuns > 0 {
		progress.Reportf(c.status.Progress, progress.KindProgress,
			"\tLimiting to %d runs per race", maxRuns)
	}
}

// QueueTasks prepares the output areas and turns the collected runs into
// task definitions, honoring the per-race run cap.
func (c *Command) QueueTasks() error {
	races := make([]bundle.Race, 0, len(c.queue))
	for _, entry := range c.queue {
		races = append(races, entry.race)
	}
	if err := c.source.Prepare(races); err != nil {
		return err
	}

	maxRuns := c.source.Config().MaxRuns
	for _, entry := range c.queue {
		runs := entry.runs
		if maxRuns > 0 && len(runs) > maxRuns {
			runs = runs[:maxRuns]
		}
		for _, run := range runs {
			c.QueueRun(entry.race, run)
		}
	}
	return nil
}

// QueueRun appends the task for one run. Exposed so a targeted rebuild can
// queue an exact job set without re-collecting.
func (c *Command) QueueRun(race bundle.Race, run bundle.Run) {
	task := c.source.Task(race, run)
	progress.Reportf(c.status.Progress, c.source.Config().Kind,
		"%s run: %s", c.Description(), task.InPath)
	c.tasks = append(c.tasks, task)
}

// WriteManifest saves the batch manifest and reports where it went.
func (c *Command) WriteManifest() (string, error) {
	script := c.source.Config().Script
	slug := strings.TrimSuffix(script, filepath.Ext(script))
	manifest := NewManifest(c.status, slug, c.tasks)
	path, err := manifest.Save("")
	if err != nil {
		return "", err
	}
	progress.Reportf(c.status.Progress, progress.KindProgress,
		"Task configuration written to %s", path)
	return path, nil
}

// outputMissing is the default NeedsProcessing check: the run's resolved
// output artifact does not exist yet.
func outputMissing(status *bundle.Status, kind OutputKind, race bundle.Race, run bundle.Run) bool {
	folder, name := kind.Resolve(status, race, &run)
	_, err := os.Stat(bundle.PathFromComponents(folder, name))
	return err != nil
}
