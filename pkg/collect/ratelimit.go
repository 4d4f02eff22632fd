package collect

import (
	"strconv"
	"time"

	"github.com/cramakri/smet-collect-go/pkg/progress"
	"github.com/cramakri/smet-collect-go/pkg/twitter"
)

// RateLimitInfo interprets the rate-limit signals of an API response. It
// returns how many calls remain in the current window and how long to wait
// for the next window.
//
// A missing or unparseable remaining count reads as 0. An unparseable reset
// timestamp is reported as an error and yields a zero backoff: failing open
// beats stalling the run on malformed metadata.
func RateLimitInfo(headers twitter.RateLimitHeaders, now time.Time, report progress.Func) (int, time.Duration) {
	remaining := 0
	if headers.Remaining != "" {
		if n, err := strconv.Atoi(headers.Remaining); err == nil {
			remaining = n
		}
	}

	resetEpoch, err := strconv.ParseFloat(headers.Reset, 64)
	if err != nil {
		progress.Reportf(report, progress.KindError,
			"x-rate-limit-reset(%s) is not a number", headers.Reset)
		return remaining, 0
	}

	resetAt := time.Unix(0, int64(resetEpoch*float64(time.Second))).UTC()
	backoff := resetAt.Sub(now)
	if backoff < 0 {
		backoff = 0
	}
	return remaining, backoff
}
