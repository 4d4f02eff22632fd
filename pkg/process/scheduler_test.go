package process

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sirupsen/logrus"
)

// recordingRouter remembers which archive each log landed in.
type recordingRouter struct {
	succeeded []string
	failed    []string
}

func (r *recordingRouter) MoveLogToSuccess(logPath string) error {
	r.succeeded = append(r.succeeded, logPath)
	return nil
}

func (r *recordingRouter) MoveLogToFail(logPath string) error {
	r.failed = append(r.failed, logPath)
	return nil
}

var _ = Describe("Scheduler", func() {
	var (
		dir    string
		logger *logrus.Logger
	)

	BeforeEach(func() {
		var err error
		dir, err = os.MkdirTemp("", "scheduler")
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(os.RemoveAll, dir)

		logger = logrus.New()
		logger.SetLevel(logrus.ErrorLevel)
	})

	handle := func(name, script string) *Handle {
		return NewHandle([]string{"/bin/sh", "-c", script},
			filepath.Join(dir, name+"_log.txt"))
	}

	It("starts queued jobs only up to the concurrency cap", func() {
		s := NewScheduler(2, 10*time.Millisecond, logger)
		for i := 0; i < 5; i++ {
			s.Enqueue(handle(fmt.Sprintf("job%d", i), "sleep 0.2"))
		}
		Expect(s.QueuedCount()).To(Equal(5))

		s.startQueued()
		Expect(s.RunningCount()).To(Equal(2))
		Expect(s.QueuedCount()).To(Equal(3))

		s.Drain()
		Expect(s.RunningCount()).To(BeZero())
		Expect(s.QueuedCount()).To(BeZero())
		Expect(s.Completed()).To(HaveLen(5))
		Expect(s.AnyFailed()).To(BeFalse())
	})

	It("drains jobs in queue order under a cap of one", func() {
		marker := filepath.Join(dir, "order.txt")
		s := NewScheduler(1, 10*time.Millisecond, logger)
		for i := 0; i < 3; i++ {
			s.Enqueue(handle(fmt.Sprintf("job%d", i),
				fmt.Sprintf("echo %d >> %s", i, marker)))
		}
		s.Drain()

		data, err := os.ReadFile(marker)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(data)).To(Equal("0\n1\n2\n"))
	})

	It("records nonzero exits as failures", func() {
		s := NewScheduler(2, 10*time.Millisecond, logger)
		s.Enqueue(handle("ok", "exit 0"))
		s.Enqueue(handle("bad", "exit 7"))
		s.Drain()

		Expect(s.Completed()).To(HaveLen(2))
		Expect(s.AnyFailed()).To(BeTrue())
	})

	It("completes a job that cannot start with a failure code", func() {
		s := NewScheduler(2, 10*time.Millisecond, logger)
		s.Enqueue(NewHandle([]string{"/no/such/binary"}, filepath.Join(dir, "bad_log.txt")))
		s.Drain()

		Expect(s.Completed()).To(HaveLen(1))
		Expect(s.Completed()[0].ExitCode()).To(Equal(-1))
		Expect(s.AnyFailed()).To(BeTrue())
	})

	It("routes logs by exit code", func() {
		s := NewScheduler(2, 10*time.Millisecond, logger)
		ok := handle("ok", "exit 0")
		bad := handle("bad", "exit 1")
		s.Enqueue(ok)
		s.Enqueue(bad)
		s.Drain()

		router := &recordingRouter{}
		s.RouteLogs(router)
		Expect(router.succeeded).To(ConsistOf(ok.LogPath()))
		Expect(router.failed).To(ConsistOf(bad.LogPath()))
	})

	It("runs a synchronous submit to completion", func() {
		s := NewScheduler(2, 10*time.Millisecond, logger)
		h := handle("sync", "exit 0")
		Expect(s.SubmitSync(h)).To(Succeed())
		Expect(h.ExitCode()).To(BeZero())
		Expect(s.Completed()).To(ConsistOf(h))
	})

	It("resets all job lists between batches", func() {
		s := NewScheduler(2, 10*time.Millisecond, logger)
		s.Enqueue(handle("job", "exit 0"))
		s.Drain()
		Expect(s.Completed()).To(HaveLen(1))

		s.Reset()
		Expect(s.Completed()).To(BeEmpty())
		Expect(s.QueuedCount()).To(BeZero())
		Expect(s.RunningCount()).To(BeZero())
	})
})
