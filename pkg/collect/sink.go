package collect

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cramakri/smet-collect-go/pkg/bundle"
)

// OutputSink persists one raw page payload and returns the filename it was
// written under.
type OutputSink interface {
	Save(now time.Time, payload []byte, folder string) (string, error)
}

// CompactJSONSink writes pages as single-line JSON. The standard sink.
type CompactJSONSink struct{}

func (CompactJSONSink) Save(now time.Time, payload []byte, folder string) (string, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, payload); err != nil {
		return "", fmt.Errorf("failed to compact results: %w", err)
	}
	return writeResults(now, buf.Bytes(), folder)
}

// PrettyJSONSink writes pages indented for human inspection.
type PrettyJSONSink struct{}

func (PrettyJSONSink) Save(now time.Time, payload []byte, folder string) (string, error) {
	var buf bytes.Buffer
	if err := json.Indent(&buf, payload, "", "    "); err != nil {
		return "", fmt.Errorf("failed to indent results: %w", err)
	}
	return writeResults(now, buf.Bytes(), folder)
}

func writeResults(now time.Time, data []byte, folder string) (string, error) {
	filename := bundle.TimeToResultsFilename(now)
	if err := os.WriteFile(filepath.Join(folder, filename), data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write results: %w", err)
	}
	return filename, nil
}
