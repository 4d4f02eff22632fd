// Package progress defines the fire-and-forget progress sink that all
// collection and processing components report through. Reports carry a kind
// and a human-readable message; sinks must never block and never fail.
package progress

import "fmt"

// Kind classifies a progress report.
type Kind string

const (
	KindProgress   Kind = "progress"
	KindError      Kind = "error"
	KindRateLimit  Kind = "rate-limit"
	KindSearch     Kind = "search"
	KindImport     Kind = "import"
	KindPrune      Kind = "prune"
	KindAnalyze    Kind = "analyze"
	KindCompress   Kind = "compress"
	KindUncompress Kind = "uncompress"
	KindArchive    Kind = "archive"
)

// Report is one progress event.
type Report struct {
	Kind    Kind
	Message string
}

// Func receives progress reports. Implementations must not block or panic.
type Func func(Report)

// Nop discards all reports. Used as the default sink.
func Nop(Report) {}

// Reportf formats a message and sends it to f, tolerating a nil sink.
func Reportf(f Func, kind Kind, format string, args ...interface{}) {
	if f == nil {
		return
	}
	f(Report{Kind: kind, Message: fmt.Sprintf(format, args...)})
}
