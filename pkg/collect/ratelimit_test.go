package collect_test

import (
	"fmt"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/cramakri/smet-collect-go/pkg/collect"
	"github.com/cramakri/smet-collect-go/pkg/progress"
	"github.com/cramakri/smet-collect-go/pkg/twitter"
)

var _ = Describe("RateLimitInfo", func() {
	now := time.Date(2015, 9, 14, 19, 0, 0, 0, time.UTC)

	It("parses the remaining count and computes the backoff", func() {
		headers := twitter.RateLimitHeaders{
			Remaining: "42",
			Reset:     fmt.Sprintf("%d", now.Add(90*time.Second).Unix()),
		}
		remaining, backoff := collect.RateLimitInfo(headers, now, progress.Nop)
		Expect(remaining).To(Equal(42))
		Expect(backoff).To(Equal(90 * time.Second))
	})

	It("clamps a past reset to zero backoff", func() {
		headers := twitter.RateLimitHeaders{
			Remaining: "0",
			Reset:     fmt.Sprintf("%d", now.Add(-time.Minute).Unix()),
		}
		_, backoff := collect.RateLimitInfo(headers, now, progress.Nop)
		Expect(backoff).To(BeZero())
	})

	It("reads a missing remaining count as zero", func() {
		headers := twitter.RateLimitHeaders{
			Reset: fmt.Sprintf("%d", now.Add(time.Minute).Unix()),
		}
		remaining, _ := collect.RateLimitInfo(headers, now, progress.Nop)
		Expect(remaining).To(BeZero())
	})

	It("fails open on an unparseable reset", func() {
		var reports []progress.Report
		sink := func(r progress.Report) { reports = append(reports, r) }

		headers := twitter.RateLimitHeaders{Remaining: "10", Reset: "soon"}
		remaining, backoff := collect.RateLimitInfo(headers, now, sink)
		Expect(remaining).To(Equal(10))
		Expect(backoff).To(BeZero())
		Expect(reports).To(HaveLen(1))
		Expect(reports[0].Kind).To(Equal(progress.KindError))
	})
})
