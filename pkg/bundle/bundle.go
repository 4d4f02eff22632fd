// Package bundle implements the on-disk bundle format and the status store
// that tracks collection state.
//
// A bundle is a directory with a particular structure:
//
//	[bundle root]/
//	    raw/              -- raw search results, one folder per race and run
//	    pruned/           -- raw results pruned down to the core fields
//	    compressed/       -- bzip2 tarballs of already-pruned runs
//	    analyzed/         -- analysis outputs
//	    tmp/              -- task manifests and other scratch files
//	    log/
//	        running/      -- logs of in-flight external commands
//	        succeeded/    -- logs of commands that exited 0
//	        failed/       -- logs of commands that exited nonzero
//	    config.yaml       -- the races, candidates, and search terms
//	    credentials.yaml  -- API credentials
//	    status.db         -- sqlite db holding runs and searches
package bundle

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	resultsFileSuffix = ".json"
	runFolderSuffix   = "_run"

	stampSecondsLayout = "2006-01-02-15-04-05"
)

// Bundle locates the files and folders of one bundle directory.
type Bundle struct {
	Root string
}

// New creates a Bundle rooted at path. The directory is not required to
// exist yet; EnsureFolder creates subfolders on demand.
func New(root string) *Bundle {
	return &Bundle{Root: root}
}

func (b *Bundle) ConfigPath() string      { return filepath.Join(b.Root, "config.yaml") }
func (b *Bundle) CredentialsPath() string { return filepath.Join(b.Root, "credentials.yaml") }
func (b *Bundle) StatusDBPath() string    { return filepath.Join(b.Root, "status.db") }

// formatStamp renders t in the bundle timestamp convention, with
// microsecond precision: 2015-09-25-13-44-10-123456.
func formatStamp(t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("%s-%06d", t.Format(stampSecondsLayout), t.Nanosecond()/1000)
}

// parseStamp is the inverse of formatStamp.
func parseStamp(s string) (time.Time, error) {
	i := strings.LastIndex(s, "-")
	if i < 0 {
		return time.Time{}, fmt.Errorf("malformed timestamp %q", s)
	}
	base, err := time.Parse(stampSecondsLayout, s[:i])
	if err != nil {
		return time.Time{}, fmt.Errorf("malformed timestamp %q: %w", s, err)
	}
	micros, err := strconv.Atoi(s[i+1:])
	if err != nil {
		return time.Time{}, fmt.Errorf("malformed timestamp %q: %w", s, err)
	}
	return base.Add(time.Duration(micros) * time.Microsecond).UTC(), nil
}

// TimeToResultsFilename returns the filename a page fetched at t is saved as.
func TimeToResultsFilename(t time.Time) string {
	return formatStamp(t) + resultsFileSuffix
}

// ResultsFilenameToTime recovers the fetch time from a results filename.
func ResultsFilenameToTime(name string) (time.Time, error) {
	if !strings.HasSuffix(name, resultsFileSuffix) {
		return time.Time{}, fmt.Errorf("not a results filename: %q", name)
	}
	return parseStamp(strings.TrimSuffix(name, resultsFileSuffix))
}

// TimeToRunFolderName returns the folder name for a run started at t.
func TimeToRunFolderName(t time.Time) string {
	return formatStamp(t) + runFolderSuffix
}

// RunFolderNameToTime recovers the run start time from a run folder name.
func RunFolderNameToTime(name string) (time.Time, error) {
	if !strings.HasSuffix(name, runFolderSuffix) {
		return time.Time{}, fmt.Errorf("not a run folder name: %q", name)
	}
	return parseStamp(strings.TrimSuffix(name, runFolderSuffix))
}

// Slug converts a display name into its path-safe form.
func Slug(s string) string {
	return strings.ReplaceAll(strings.ToLower(s), " ", "-")
}

// EnsureFolder creates folder and any missing parents.
func EnsureFolder(folder string) error {
	if err := os.MkdirAll(folder, 0o755); err != nil {
		return fmt.Errorf("failed to create folder %s: %w", folder, err)
	}
	return nil
}
