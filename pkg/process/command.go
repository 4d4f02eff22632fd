// Package process implements the external-command side of the system: a
// handle around one subprocess with its log file, a bounded-concurrency
// scheduler draining batches of such handles, and the engine that turns
// queued analysis tasks into manifest-driven command runs.
package process

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"
)

// Handle represents one external command: its argv, the log file capturing
// its combined output, and its lifecycle from start to exit. A handle is
// owned by exactly one scheduler entry and never shared.
type Handle struct {
	cmd     []string
	logPath string

	logFile  *os.File
	proc     *exec.Cmd
	done     chan struct{}
	exitCode int
	started  bool
	finished bool
}

// NewHandle prepares a command without starting it. cmd[0] is the
// executable; stdout and stderr both go to the file at logPath.
func NewHandle(cmd []string, logPath string) *Handle {
	return &Handle{cmd: cmd, logPath: logPath, exitCode: -1}
}

// LogPath returns where the command's output is written.
func (h *Handle) LogPath() string { return h.logPath }

// Command returns the argv this handle runs.
func (h *Handle) Command() []string { return h.cmd }

// Start opens the log file and launches the process.
func (h *Handle) Start() error {
	if h.started {
		return fmt.Errorf("command already started: %s", strings.Join(h.cmd, " "))
	}

	logFile, err := os.OpenFile(h.logPath, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file %s: %w", h.logPath, err)
	}
	logCommandExecution(logFile, h.cmd)

	proc := exec.Command(h.cmd[0], h.cmd[1:]...)
	proc.Stdout = logFile
	proc.Stderr = logFile
	if err := proc.Start(); err != nil {
		logFile.Close()
		return fmt.Errorf("failed to start %s: %w", h.cmd[0], err)
	}

	h.logFile = logFile
	h.proc = proc
	h.started = true
	h.done = make(chan struct{})

	// The waiter goroutine only reaps the process; all state the control
	// loop reads is published before done closes.
	go func() {
		err := proc.Wait()
		h.exitCode = exitCodeFromError(err)
		close(h.done)
	}()
	return nil
}

// Wait blocks until the process exits and returns its exit code.
func (h *Handle) Wait() int {
	<-h.done
	h.finished = true
	return h.exitCode
}

// Poll reports without blocking whether the process has exited, and its
// exit code when it has.
func (h *Handle) Poll() (int, bool) {
	select {
	case <-h.done:
		h.finished = true
		return h.exitCode, true
	default:
		return 0, false
	}
}

// ExitCode returns the recorded exit code. Valid once Wait or Poll reported
// completion; 0 means success.
func (h *Handle) ExitCode() int { return h.exitCode }

// Cleanup releases the log file. Idempotent.
func (h *Handle) Cleanup() {
	if h.logFile == nil {
		return
	}
	h.logFile.Close()
	h.logFile = nil
}

func exitCodeFromError(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	// The process could not be reaped at all; report it as failed.
	return -1
}

// logCommandExecution writes the command header line that opens every log.
func logCommandExecution(w io.Writer, cmd []string) {
	now := time.Now().UTC().Format("15:04:05")
	fmt.Fprintf(w, "\n%s ==== Executing %s\n", now, strings.Join(cmd, " "))
}
