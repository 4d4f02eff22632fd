package process

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cramakri/smet-collect-go/pkg/bundle"
	"github.com/cramakri/smet-collect-go/pkg/progress"
)

const scriptDirEnv = "SMET_SCRIPT_DIR"

// EngineConfig parameterizes the processing engine.
type EngineConfig struct {
	// ScriptDir holds the external processing scripts. Empty falls back to
	// the SMET_SCRIPT_DIR environment variable, then "scripts".
	ScriptDir string

	// MaxRunning caps concurrently running processes. Zero means the
	// scheduler default.
	MaxRunning int

	// PollInterval is how often the scheduler checks running processes.
	// Zero means the scheduler default.
	PollInterval time.Duration

	Logger *logrus.Logger
}

// DefaultEngineConfig resolves the script directory from the environment.
func DefaultEngineConfig() EngineConfig {
	dir := os.Getenv(scriptDirEnv)
	if dir == "" {
		dir = "scripts"
	}
	return EngineConfig{ScriptDir: dir}
}

// Engine runs batches of external processing commands against a bundle. It
// writes the batch manifest, launches the command's script with bounded
// concurrency, and routes logs to succeeded or failed when the batch ends.
type Engine struct {
	status    *bundle.Status
	config    EngineConfig
	scheduler *Scheduler
	logger    *logrus.Logger

	runLogPath string
	runLog     *os.File
}

// NewEngine creates an engine over a bundle's status store.
func NewEngine(status *bundle.Status, config EngineConfig) *Engine {
	if config.ScriptDir == "" {
		config.ScriptDir = DefaultEngineConfig().ScriptDir
	}
	logger := config.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Engine{
		status:    status,
		config:    config,
		scheduler: NewScheduler(config.MaxRunning, config.PollInterval, logger),
		logger:    logger,
	}
}

// PathForScript locates a processing script by name.
func (e *Engine) PathForScript(name string) string {
	return filepath.Join(e.config.ScriptDir, name)
}

// ScriptAvailable checks that a script exists and reports an error to the
// progress sink when it does not.
func (e *Engine) ScriptAvailable(name string) bool {
	info, err := os.Stat(e.PathForScript(name))
	if err != nil || info.IsDir() {
		progress.Reportf(e.status.Progress, progress.KindError, "%s not found in path.", name)
		return false
	}
	return true
}

// PrerequisitesSatisfied checks that the processing scripts the engine
// depends on are available.
func (e *Engine) PrerequisitesSatisfied() bool {
	for _, name := range []string{"mdsummary.rb", "prune.rb"} {
		if !e.ScriptAvailable(name) {
			return false
		}
	}
	return true
}

// StartRun opens the run-scoped log that records every command the batch
// executes.
func (e *Engine) StartRun() error {
	path, err := e.status.GenerateRunningLogFilePath("jq")
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open run log %s: %w", path, err)
	}
	e.runLogPath = path
	e.runLog = f
	return nil
}

// StopRun closes the run log, routes it by the batch's outcome, and resets
// the scheduler for the next batch.
func (e *Engine) StopRun() error {
	if e.runLog == nil {
		return nil
	}
	e.runLog.Close()
	e.runLog = nil

	var err error
	if e.scheduler.AnyFailed() {
		err = e.status.MoveLogToFail(e.runLogPath)
	} else {
		err = e.status.MoveLogToSuccess(e.runLogPath)
	}
	e.runLogPath = ""
	e.scheduler.Reset()
	return err
}

// SubmitTasks writes the command's manifest and launches its script on the
// manifest. When the command is config-only nothing is launched. A sync
// submit runs the script to completion before returning.
func (e *Engine) SubmitTasks(cmd *Command, sync bool) error {
	manifestPath, err := cmd.WriteManifest()
	if err != nil {
		return err
	}
	if cmd.Config().ConfigOnly {
		return nil
	}

	logPath, err := e.status.GenerateRunningLogFilePath("run")
	if err != nil {
		return err
	}
	argv := []string{e.PathForScript(cmd.Config().Script), manifestPath}
	if e.runLog != nil {
		logCommandExecution(e.runLog, argv)
	}
	handle := NewHandle(argv, logPath)
	if sync {
		return e.scheduler.SubmitSync(handle)
	}
	e.scheduler.Enqueue(handle)
	return nil
}

// Run collects the runs the command needs to process and executes the
// batch.
func (e *Engine) Run(cmd *Command) error {
	if err := cmd.CollectRuns(); err != nil {
		return err
	}
	cmd.LogQueueSummary()
	if err := cmd.QueueTasks(); err != nil {
		return err
	}
	if err := bundle.EnsureFolder(e.status.TmpFolder()); err != nil {
		return err
	}
	if err := e.doProcessing(cmd); err != nil {
		return err
	}
	progress.Reportf(e.status.Progress, progress.KindProgress, "%s finished", cmd.Description())
	return nil
}

// RunWithoutCollect executes a batch whose tasks the caller queued
// directly.
func (e *Engine) RunWithoutCollect(cmd *Command) error {
	if err := bundle.EnsureFolder(e.status.TmpFolder()); err != nil {
		return err
	}
	return e.doProcessing(cmd)
}

func (e *Engine) doProcessing(cmd *Command) error {
	configOnly := cmd.Config().ConfigOnly
	if !configOnly {
		if err := e.StartRun(); err != nil {
			return err
		}
	}

	if err := e.SubmitTasks(cmd, false); err != nil {
		if !configOnly {
			e.StopRun()
		}
		return err
	}
	e.scheduler.Drain()
	e.scheduler.RouteLogs(e.status)

	if !configOnly {
		return e.StopRun()
	}
	return nil
}
