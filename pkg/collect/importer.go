package collect

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/cramakri/smet-collect-go/pkg/bundle"
	"github.com/cramakri/smet-collect-go/pkg/progress"
	"github.com/cramakri/smet-collect-go/pkg/twitter"
)

// RawImport reads search results already on disk into the status db.
//
// For each run folder under the import root:
//   - runs already recorded in the db are skipped;
//   - files are hardlink-copied into the bundle when not yet present;
//   - each results file is mapped back to its search term via the page's
//     refresh URL and recorded as a search.
type RawImport struct {
	status     *bundle.Status
	importRoot string
	logger     *logrus.Logger

	ImportedRunFolders []string
	SkippedRunFolders  []string
}

// NewRawImport creates an importer reading from importRoot. An empty root
// imports from the bundle's own folders, which re-synchronizes the db with
// what is on disk.
func NewRawImport(status *bundle.Status, importRoot string, logger *logrus.Logger) *RawImport {
	if importRoot == "" {
		importRoot = status.Bundle.Root
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &RawImport{status: status, importRoot: importRoot, logger: logger}
}

// Run imports data for every race in the bundle.
func (ri *RawImport) Run() error {
	races, err := ri.status.Races()
	if err != nil {
		return err
	}
	for _, race := range races {
		if err := ri.importRace(race); err != nil {
			return err
		}
	}
	return nil
}

func (ri *RawImport) importRace(race bundle.Race) error {
	importRaceFolder := ri.status.RawDataFolderFromRootForRace(ri.importRoot, race)
	if _, err := os.Stat(importRaceFolder); err != nil {
		return nil
	}
	bundleRaceFolder := ri.status.RawDataFolderForRace(race)
	if err := bundle.EnsureFolder(bundleRaceFolder); err != nil {
		return err
	}

	progress.Reportf(ri.status.Progress, progress.KindImport,
		"Importing data for race %s", race.Name)

	entries, err := os.ReadDir(importRaceFolder)
	if err != nil {
		return fmt.Errorf("failed to list %s: %w", importRaceFolder, err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if err := ri.importRun(race, importRaceFolder, bundleRaceFolder, entry.Name()); err != nil {
			return err
		}
	}
	return nil
}

func (ri *RawImport) importRun(race bundle.Race, importRaceFolder, bundleRaceFolder, runFolderName string) error {
	importRunFolder := filepath.Join(importRaceFolder, runFolderName)
	bundleRunFolder := filepath.Join(bundleRaceFolder, runFolderName)

	run, err := ri.prepareRun(race, importRunFolder, bundleRunFolder, runFolderName)
	if err != nil {
		return err
	}
	if run == nil {
		ri.SkippedRunFolders = append(ri.SkippedRunFolders, runFolderName)
		progress.Reportf(ri.status.Progress, progress.KindImport,
			"\tSkipping run %s", runFolderName)
		return nil
	}

	progress.Reportf(ri.status.Progress, progress.KindImport,
		"\tImporting run %s", runFolderName)
	ri.ImportedRunFolders = append(ri.ImportedRunFolders, runFolderName)

	entries, err := os.ReadDir(bundleRunFolder)
	if err != nil {
		return fmt.Errorf("failed to list %s: %w", bundleRunFolder, err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if err := ri.importSearchResults(race, run, bundleRunFolder, entry.Name()); err != nil {
			return err
		}
	}
	return nil
}

// prepareRun hardlink-copies a run into the bundle and creates the run row.
// Runs already in the db return nil.
func (ri *RawImport) prepareRun(race bundle.Race, importRunFolder, bundleRunFolder, runFolderName string) (*bundle.Run, error) {
	start, err := bundle.RunFolderNameToTime(runFolderName)
	if err != nil {
		ri.logger.WithError(err).WithField("folder", runFolderName).Warn("skipping unparseable run folder")
		return nil, nil
	}

	existing, err := ri.status.FindRun(race, start, runFolderName)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, nil
	}

	if err := bundle.EnsureFolder(bundleRunFolder); err != nil {
		return nil, err
	}
	if err := hardlinkCopy(importRunFolder, bundleRunFolder); err != nil {
		return nil, err
	}

	return ri.status.CreateRun(race, start)
}

// hardlinkCopy links every file in src into dst, skipping files already
// present. Imports within one filesystem cost no extra space.
func hardlinkCopy(src, dst string) error {
	entries, err := os.ReadDir(src)
	if err != nil {
		return fmt.Errorf("failed to list %s: %w", src, err)
	}
	for _, entry := range entries {
		target := filepath.Join(dst, entry.Name())
		if _, err := os.Stat(target); err == nil {
			continue
		}
		if err := os.Link(filepath.Join(src, entry.Name()), target); err != nil {
			return fmt.Errorf("failed to link %s: %w", entry.Name(), err)
		}
	}
	return nil
}

func (ri *RawImport) importSearchResults(race bundle.Race, run *bundle.Run, runFolder, filename string) error {
	path := filepath.Join(runFolder, filename)
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	page, err := twitter.PageFromRaw(raw)
	if err != nil {
		ri.logger.WithError(err).WithField("path", path).Warn("skipping unparseable results file")
		return nil
	}

	termStr, err := page.QueryFromRefreshURL()
	if err != nil {
		ri.logger.WithError(err).WithField("path", path).Warn("skipping results file without query")
		return nil
	}

	term, err := ri.status.FindSearchTerm(race, termStr)
	if err != nil {
		return err
	}
	if term == nil {
		progress.Reportf(ri.status.Progress, progress.KindError,
			"Did not find search term %s in db for race %s", termStr, race.Name)
		return nil
	}

	existing, err := ri.status.SearchWithMaxID(*term, page.Metadata.MaxID)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}

	progress.Reportf(ri.status.Progress, progress.KindImport,
		"Importing data at path %s", path)

	date, err := bundle.ResultsFilenameToTime(filename)
	if err != nil {
		ri.logger.WithError(err).WithField("path", path).Warn("skipping results file with unparseable name")
		return nil
	}
	earliest, latest, err := page.EarliestAndLatest()
	if err != nil {
		return err
	}

	return ri.status.RecordSearch(&bundle.Search{
		Date:         date,
		MaxID:        page.Metadata.MaxID,
		Earliest:     earliest,
		Latest:       latest,
		TweetCount:   len(page.Statuses),
		ResultsPath:  filename,
		RunID:        run.ID,
		SearchTermID: term.ID,
	})
}
