package process

import (
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// DefaultMaxRunning caps how many external commands run at once.
	DefaultMaxRunning = 10

	// DefaultPollInterval is the pause between scheduler polling ticks.
	DefaultPollInterval = time.Second
)

// LogRouter places a finished command's log in the success or failure
// archive. Satisfied by *bundle.Status.
type LogRouter interface {
	MoveLogToSuccess(logPath string) error
	MoveLogToFail(logPath string) error
}

// Scheduler owns three ordered job lists and moves handles from queued to
// running to completed. All three lists are mutated only by the goroutine
// driving the scheduler; concurrency exists purely as child processes.
type Scheduler struct {
	queued    []*Handle
	running   []*Handle
	completed []*Handle

	maxRunning   int
	pollInterval time.Duration
	logger       *logrus.Logger
}

// NewScheduler creates a scheduler with the given concurrency cap.
// Non-positive arguments fall back to the defaults.
func NewScheduler(maxRunning int, pollInterval time.Duration, logger *logrus.Logger) *Scheduler {
	if maxRunning <= 0 {
		maxRunning = DefaultMaxRunning
	}
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Scheduler{maxRunning: maxRunning, pollInterval: pollInterval, logger: logger}
}

// Enqueue adds a handle to the tail of the queue without starting it.
func (s *Scheduler) Enqueue(h *Handle) {
	s.queued = append(s.queued, h)
}

// SubmitSync runs a single handle to completion: start, wait, release the
// log. The one legitimately blocking path, used for one-off commands.
func (s *Scheduler) SubmitSync(h *Handle) error {
	if err := h.Start(); err != nil {
		return err
	}
	h.Wait()
	h.Cleanup()
	s.completed = append(s.completed, h)
	return nil
}

// Drain advances the scheduler until every queued and running job has
// completed. Each pass polls the running jobs, then starts queued jobs as
// capacity frees (FIFO), and sleeps one tick when jobs are still running.
func (s *Scheduler) Drain() {
	for len(s.queued) > 0 || len(s.running) > 0 {
		s.pollRunning()
		s.startQueued()
		if len(s.running) > 0 {
			time.Sleep(s.pollInterval)
		}
	}
}

// pollRunning moves every exited job to completed and releases its log.
func (s *Scheduler) pollRunning() {
	remaining := s.running[:0]
	for _, h := range s.running {
		if code, finished := h.Poll(); finished {
			h.Cleanup()
			s.completed = append(s.completed, h)
			s.logger.WithFields(logrus.Fields{
				"command":   h.cmd[0],
				"exit_code": code,
			}).Debug("job completed")
			continue
		}
		remaining = append(remaining, h)
	}
	s.running = remaining
}

// startQueued starts jobs from the head of the queue while capacity allows.
// Jobs that fail to start at all are completed immediately with a nonzero
// code so their logs still route to the failure archive.
func (s *Scheduler) startQueued() {
	for len(s.queued) > 0 && len(s.running) < s.maxRunning {
		h := s.queued[0]
		s.queued = s.queued[1:]
		if err := h.Start(); err != nil {
			s.logger.WithError(err).WithField("command", h.cmd[0]).Error("failed to start job")
			h.exitCode = -1
			h.finished = true
			s.completed = append(s.completed, h)
			continue
		}
		s.running = append(s.running, h)
	}
}

// RunningCount returns how many jobs are currently running.
func (s *Scheduler) RunningCount() int { return len(s.running) }

// QueuedCount returns how many jobs are waiting to start.
func (s *Scheduler) QueuedCount() int { return len(s.queued) }

// Completed returns the jobs that have finished, in completion order.
func (s *Scheduler) Completed() []*Handle { return s.completed }

// AnyFailed reports whether any completed job exited nonzero.
func (s *Scheduler) AnyFailed() bool {
	for _, h := range s.completed {
		if h.ExitCode() != 0 {
			return true
		}
	}
	return false
}

// RouteLogs moves each completed job's log to the success or failure
// archive according to its exit code.
func (s *Scheduler) RouteLogs(router LogRouter) {
	for _, h := range s.completed {
		var err error
		if h.ExitCode() != 0 {
			err = router.MoveLogToFail(h.LogPath())
		} else {
			err = router.MoveLogToSuccess(h.LogPath())
		}
		if err != nil {
			s.logger.WithError(err).WithField("log", h.LogPath()).Error("failed to route job log")
		}
	}
}

// Reset clears all three job lists for the next batch.
func (s *Scheduler) Reset() {
	s.queued = nil
	s.running = nil
	s.completed = nil
}
