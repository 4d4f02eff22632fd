package collect

import (
	"archive/tar"
	"compress/bzip2"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/cramakri/smet-collect-go/pkg/bundle"
	"github.com/cramakri/smet-collect-go/pkg/process"
	"github.com/cramakri/smet-collect-go/pkg/progress"
)

// CompressorConfig parameterizes the compression sweeps.
type CompressorConfig struct {
	// MaxRuns caps how many runs per race one sweep handles. Zero or
	// negative means no cap.
	MaxRuns int
}

// DefaultCompressorConfig returns the standard sweep parameters.
func DefaultCompressorConfig() CompressorConfig {
	return CompressorConfig{MaxRuns: 5}
}

// sweep is the shared shape of the maintenance passes: find the runs of
// matching races that need the operation, report the queue, then apply the
// operation run by run.
type sweep struct {
	status   *bundle.Status
	raceSlug string
	verb     string
	gerund   string
	maxRuns  int

	// ascending walks runs oldest first instead of newest first.
	ascending bool

	selects func(race bundle.Race, run bundle.Run) (bool, error)
	apply   func(race bundle.Race, run bundle.Run) error
	prepare func(race bundle.Race) error
}

type sweepEntry struct {
	race bundle.Race
	runs []bundle.Run
}

func (s *sweep) run() error {
	queue, err := s.collectRuns()
	if err != nil {
		return err
	}
	s.logQueueSummary(queue)
	if err := s.process(queue); err != nil {
		return err
	}
	progress.Reportf(s.status.Progress, progress.KindProgress, "%s finished", s.gerund)
	return nil
}

func (s *sweep) collectRuns() ([]sweepEntry, error) {
	races, err := s.status.RacesMatchingSlug(s.raceSlug)
	if err != nil {
		return nil, err
	}
	if s.raceSlug != "" {
		if len(races) < 1 {
			progress.Reportf(s.status.Progress, progress.KindError,
				"Found no races matching slug %s.", s.raceSlug)
			return nil, nil
		}
		if len(races) > 1 {
			progress.Reportf(s.status.Progress, progress.KindError,
				"Found multiple races matching slug %s.", s.raceSlug)
			return nil, nil
		}
	}

	var queue []sweepEntry
	for _, race := range races {
		progress.Reportf(s.status.Progress, progress.KindProgress,
			"Collecting runs from race %s", race.Name)
		runs, err := s.status.RunsOrdered(race, !s.ascending)
		if err != nil {
			return nil, err
		}
		entry := sweepEntry{race: race}
		for _, run := range runs {
			ok, err := s.selects(race, run)
			if err != nil {
				return nil, err
			}
			if ok {
				entry.runs = append(entry.runs, run)
			}
		}
		if len(entry.runs) > 0 {
			queue = append(queue, entry)
		}
	}
	return queue, nil
}

func (s *sweep) logQueueSummary(queue []sweepEntry) {
	if len(queue) < 1 {
		progress.Reportf(s.status.Progress, progress.KindProgress, "No runs to %s.", s.verb)
		return
	}
	for _, entry := range queue {
		progress.Reportf(s.status.Progress, progress.KindProgress,
			"Race %s has %d runs to %s", entry.race.Name, len(entry.runs), s.verb)
	}
	if s.maxRuns > 0 {
		progress.Reportf(s.status.Progress, progress.KindProgress,
			"\tLimiting to %d runs per race", s.maxRuns)
	}
}

func (s *sweep) process(queue []sweepEntry) error {
	for _, entry := range queue {
		if s.prepare != nil {
			if err := s.prepare(entry.race); err != nil {
				return err
			}
		}
		runs := entry.runs
		if s.maxRuns > 0 && len(runs) > s.maxRuns {
			runs = runs[:s.maxRuns]
		}
		for _, run := range runs {
			if err := s.apply(entry.race, run); err != nil {
				return err
			}
		}
	}
	return nil
}

// Compressor packs the raw data of already-pruned runs into tar.bz2
// archives.
type Compressor struct {
	status *bundle.Status
	config CompressorConfig
	sweep  sweep
}

// NewCompressor creates a compressor. A nil config gets the defaults and a
// non-empty raceSlug restricts the sweep to one race.
func NewCompressor(status *bundle.Status, config *CompressorConfig, raceSlug string) *Compressor {
	if config == nil {
		c := DefaultCompressorConfig()
		config = &c
	}
	compressor := &Compressor{status: status, config: *config}
	compressor.sweep = sweep{
		status:   status,
		raceSlug: raceSlug,
		verb:     "compress",
		gerund:   "Compressing",
		maxRuns:  config.MaxRuns,
		selects:  compressor.needsCompression,
		apply:    compressor.compressRun,
		prepare: func(race bundle.Race) error {
			return bundle.EnsureFolder(status.CompressedDataFolderForRace(race))
		},
	}
	return compressor
}

// Run compresses the pruned runs of matching races.
func (c *Compressor) Run() error { return c.sweep.run() }

// needsCompression selects pruned runs with no archive yet.
func (c *Compressor) needsCompression(race bundle.Race, run bundle.Run) (bool, error) {
	if !c.status.HasPrunedDataForRun(race, run) {
		return false, nil
	}
	_, err := os.Stat(c.status.CompressedDataPathForRun(race, run))
	return err != nil, nil
}

func (c *Compressor) compressRun(race bundle.Race, run bundle.Run) error {
	rawPath := c.status.RawDataFolderForRun(race, &run)
	if _, err := os.Stat(rawPath); err != nil {
		progress.Reportf(c.status.Progress, progress.KindCompress,
			"No run found at %s. Skipping...", c.status.PathRelativeToBundle(rawPath))
		return nil
	}
	archivePath := c.status.CompressedDataPathForRun(race, run)
	progress.Reportf(c.status.Progress, progress.KindCompress,
		"Compressing run %s to %s",
		c.status.PathRelativeToBundle(rawPath), c.status.PathRelativeToBundle(archivePath))

	cmd := exec.Command("tar", "-cjf", archivePath,
		"-C", c.status.RawDataFolderForRace(race), run.ResultsFolder)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to compress %s: %w", rawPath, err)
	}

	ok, err := c.verifyArchive(run, rawPath, archivePath)
	if err != nil {
		return err
	}
	if !ok {
		progress.Reportf(c.status.Progress, progress.KindCompress, "Removing corrupt archive...")
		if err := os.Remove(archivePath); err != nil {
			return fmt.Errorf("failed to remove corrupt archive %s: %w", archivePath, err)
		}
		progress.Reportf(c.status.Progress, progress.KindCompress, "Done.")
	}
	return nil
}

// verifyArchive checks that every file of the raw run made it into the
// archive intact.
func (c *Compressor) verifyArchive(run bundle.Run, rawPath, archivePath string) (bool, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return false, fmt.Errorf("failed to open archive %s: %w", archivePath, err)
	}
	defer f.Close()

	members := map[string]int64{}
	reader := tar.NewReader(bzip2.NewReader(f))
	for {
		header, err := reader.Next()
		if err != nil {
			break
		}
		members[filepath.Clean(header.Name)] = header.Size
	}

	entries, err := os.ReadDir(rawPath)
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", rawPath, err)
	}
	for _, entry := range entries {
		size, found := members[filepath.Join(run.ResultsFolder, entry.Name())]
		if !found {
			progress.Reportf(c.status.Progress, progress.KindCompress,
				"File %s is not in archive", entry.Name())
			return false, nil
		}
		if size < 0 {
			progress.Reportf(c.status.Progress, progress.KindCompress,
				"File %s is corrupt in archive", entry.Name())
			return false, nil
		}
	}
	progress.Reportf(c.status.Progress, progress.KindCompress, "Archive verified.")
	return true, nil
}

// Uncompressor restores raw run data from archives.
type Uncompressor struct {
	status *bundle.Status
	config CompressorConfig
	sweep  sweep
}

// NewUncompressor creates an uncompressor.
func NewUncompressor(status *bundle.Status, config *CompressorConfig, raceSlug string) *Uncompressor {
	if config == nil {
		c := DefaultCompressorConfig()
		config = &c
	}
	uncompressor := &Uncompressor{status: status, config: *config}
	uncompressor.sweep = sweep{
		status:   status,
		raceSlug: raceSlug,
		verb:     "uncompress",
		gerund:   "Uncompressing",
		maxRuns:  config.MaxRuns,
		selects:  uncompressor.needsUncompression,
		apply:    uncompressor.uncompressRun,
		prepare: func(race bundle.Race) error {
			return bundle.EnsureFolder(status.RawDataFolderForRace(race))
		},
	}
	return uncompressor
}

// Run uncompresses archived runs whose raw data is missing.
func (u *Uncompressor) Run() error { return u.sweep.run() }

func (u *Uncompressor) needsUncompression(race bundle.Race, run bundle.Run) (bool, error) {
	if _, err := os.Stat(u.status.CompressedDataPathForRun(race, run)); err != nil {
		return false, nil
	}
	_, err := os.Stat(u.status.RawDataFolderForRun(race, &run))
	return err != nil, nil
}

func (u *Uncompressor) uncompressRun(race bundle.Race, run bundle.Run) error {
	return uncompressRun(u.status, race, run)
}

func uncompressRun(status *bundle.Status, race bundle.Race, run bundle.Run) error {
	rawPath := status.RawDataFolderForRun(race, &run)
	archivePath := status.CompressedDataPathForRun(race, run)
	progress.Reportf(status.Progress, progress.KindUncompress,
		"Uncompressing run %s to %s",
		status.PathRelativeToBundle(archivePath), status.PathRelativeToBundle(rawPath))
	cmd := exec.Command("tar", "-xjf", archivePath, "-C", status.RawDataFolderForRace(race))
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to uncompress %s: %w", archivePath, err)
	}
	return nil
}

// Archiver deletes raw data for runs that are safely pruned and
// compressed. It walks runs oldest first so the oldest data is reclaimed
// before the cap cuts the sweep off.
type Archiver struct {
	status *bundle.Status
	config CompressorConfig
	sweep  sweep
}

// NewArchiver creates an archiver.
func NewArchiver(status *bundle.Status, config *CompressorConfig, raceSlug string) *Archiver {
	if config == nil {
		c := DefaultCompressorConfig()
		config = &c
	}
	archiver := &Archiver{status: status, config: *config}
	archiver.sweep = sweep{
		status:    status,
		raceSlug:  raceSlug,
		verb:      "archive",
		gerund:    "Archiving",
		maxRuns:   config.MaxRuns,
		ascending: true,
		selects:   archiver.canArchive,
		apply:     archiver.deleteRawRun,
	}
	return archiver
}

// Run deletes the raw data of archivable runs in matching races.
func (a *Archiver) Run() error { return a.sweep.run() }

// canArchive requires pruned data, an archive, and raw data still on disk.
func (a *Archiver) canArchive(race bundle.Race, run bundle.Run) (bool, error) {
	if !a.status.HasPrunedDataForRun(race, run) {
		return false, nil
	}
	if _, err := os.Stat(a.status.CompressedDataPathForRun(race, run)); err != nil {
		return false, nil
	}
	_, err := os.Stat(a.status.RawDataFolderForRun(race, &run))
	return err == nil, nil
}

func (a *Archiver) deleteRawRun(race bundle.Race, run bundle.Run) error {
	// The archive may have been removed since collection; keep the raw
	// data if so.
	if _, err := os.Stat(a.status.CompressedDataPathForRun(race, run)); err != nil {
		return nil
	}
	rawPath := a.status.RawDataFolderForRun(race, &run)
	progress.Reportf(a.status.Progress, progress.KindArchive,
		"Deleting raw data for run %s", a.status.PathRelativeToBundle(rawPath))
	if err := os.RemoveAll(rawPath); err != nil {
		return fmt.Errorf("failed to delete %s: %w", rawPath, err)
	}
	return nil
}

// Rebuilder regenerates faulty pruned data: runs whose pruned output is
// missing or empty are uncompressed if necessary and pruned again.
type Rebuilder struct {
	status *bundle.Status
	engine *process.Engine
	config CompressorConfig
	sweep  sweep
}

// NewRebuilder creates a rebuilder that re-queues pruning on the engine.
func NewRebuilder(engine *process.Engine, status *bundle.Status, config *CompressorConfig, raceSlug string) *Rebuilder {
	if config == nil {
		c := DefaultCompressorConfig()
		config = &c
	}
	rebuilder := &Rebuilder{status: status, engine: engine, config: *config}
	rebuilder.sweep = sweep{
		status:   status,
		raceSlug: raceSlug,
		verb:     "rebuild",
		gerund:   "Rebuilding",
		maxRuns:  config.MaxRuns,
		selects:  rebuilder.needsRebuild,
		apply:    rebuilder.rebuildRun,
		prepare: func(race bundle.Race) error {
			return bundle.EnsureFolder(status.RawDataFolderForRace(race))
		},
	}
	return rebuilder
}

// Run rebuilds the pruned data of faulty runs in matching races.
func (r *Rebuilder) Run() error { return r.sweep.run() }

// needsRebuild selects runs that still have source data but whose pruned
// output is missing or empty.
func (r *Rebuilder) needsRebuild(race bundle.Race, run bundle.Run) (bool, error) {
	hasData := false
	if _, err := os.Stat(r.status.CompressedDataPathForRun(race, run)); err == nil {
		hasData = true
	} else if _, err := os.Stat(r.status.RawDataFolderForRun(race, &run)); err == nil {
		hasData = true
	}
	if !r.status.HasPrunedDataForRun(race, run) {
		return hasData, nil
	}
	if !hasData {
		return false, nil
	}

	prunedPath := r.status.RobustPrunedDataPathForRun(race, run)
	data, err := os.ReadFile(prunedPath)
	if err != nil {
		return false, fmt.Errorf("failed to read pruned data %s: %w", prunedPath, err)
	}
	var entries []json.RawMessage
	if err := json.Unmarshal(data, &entries); err != nil {
		return false, fmt.Errorf("failed to parse pruned data %s: %w", prunedPath, err)
	}
	return len(entries) < 1, nil
}

func (r *Rebuilder) rebuildRun(race bundle.Race, run bundle.Run) error {
	if _, err := os.Stat(r.status.RawDataFolderForRun(race, &run)); err != nil {
		if err := uncompressRun(r.status, race, run); err != nil {
			return err
		}
	}
	pruner := process.NewPruner(r.status, nil)
	cmd := process.NewCommand(r.status, pruner, "", nil)
	cmd.QueueRun(race, run)
	return r.engine.RunWithoutCollect(cmd)
}

// PurgerConfig parameterizes the purger.
type PurgerConfig struct {
	// Execute really deletes. The default is a dry run that only reports
	// what would go.
	Execute bool
}

// Purger removes runs that have lost their data: no raw folder and no
// archive on disk.
type Purger struct {
	status *bundle.Status
	config PurgerConfig
	sweep  sweep
}

// NewPurger creates a purger.
func NewPurger(status *bundle.Status, config *PurgerConfig, raceSlug string) *Purger {
	if config == nil {
		config = &PurgerConfig{}
	}
	purger := &Purger{status: status, config: *config}
	purger.sweep = sweep{
		status:   status,
		raceSlug: raceSlug,
		verb:     "purge",
		gerund:   "Purging",
		selects:  purger.isDefective,
		apply:    purger.deleteRun,
	}
	return purger
}

// Run purges dataless runs in matching races.
func (p *Purger) Run() error { return p.sweep.run() }

func (p *Purger) isDefective(race bundle.Race, run bundle.Run) (bool, error) {
	if _, err := os.Stat(p.status.CompressedDataPathForRun(race, run)); err == nil {
		return false, nil
	}
	if _, err := os.Stat(p.status.RawDataFolderForRun(race, &run)); err == nil {
		return false, nil
	}
	return true, nil
}

func (p *Purger) deleteRun(race bundle.Race, run bundle.Run) error {
	if err := p.deletePath("raw data", run, p.status.RawDataFolderForRun(race, &run)); err != nil {
		return err
	}
	if err := p.deletePath("pruned data", run, p.status.PrunedDataPathForRun(race, run)); err != nil {
		return err
	}
	if err := p.deletePath("compressed data", run, p.status.CompressedDataPathForRun(race, run)); err != nil {
		return err
	}
	progress.Reportf(p.status.Progress, progress.KindProgress,
		"Removing run\n\t%s : %s\n\tfrom db", race.Slug, run.Start.Format("2006-01-02 15:04:05"))
	if p.config.Execute {
		return p.status.DeleteRun(run)
	}
	return nil
}

func (p *Purger) deletePath(desc string, run bundle.Run, path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	progress.Reportf(p.status.Progress, progress.KindProgress,
		"Deleting %s for run %s", desc, path)
	if !p.config.Execute {
		return nil
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("failed to delete %s: %w", path, err)
	}
	return nil
}
