package bundle

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/cramakri/smet-collect-go/pkg/progress"
)

// StatusOptions configures a Status.
type StatusOptions struct {
	// Logger receives structured logs. Defaults to logrus.StandardLogger.
	Logger *logrus.Logger

	// Progress receives progress reports. Defaults to progress.Nop.
	Progress progress.Func

	// Now provides the current time. Defaults to time.Now in UTC.
	// Injected so tests can control the clock.
	Now func() time.Time

	// DBPath overrides the status db location. Empty means the bundle's
	// status.db; ":memory:" gives an ephemeral db for tests.
	DBPath string
}

// Status is the collection state of one bundle: the races, candidates, and
// search terms synced from config, and the append-only record of runs and
// searches. It also owns the bundle's path conventions and log routing.
type Status struct {
	Bundle   *Bundle
	Config   *Config
	Progress progress.Func

	db     *gorm.DB
	logger *logrus.Logger
	now    func() time.Time
}

// OpenStatus opens the status db for a bundle, loading the bundle config.
func OpenStatus(b *Bundle, opts StatusOptions) (*Status, error) {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Progress == nil {
		opts.Progress = progress.Nop
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}

	cfg, err := LoadConfig(b.ConfigPath())
	if err != nil {
		return nil, err
	}

	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = b.StatusDBPath()
	}

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: newGormLogrusLogger(opts.Logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open status db %s: %w", dbPath, err)
	}

	return &Status{
		Bundle:   b,
		Config:   cfg,
		Progress: opts.Progress,
		db:       db,
		logger:   opts.Logger,
		now:      opts.Now,
	}, nil
}

// Now returns the current time according to the injected clock.
func (s *Status) Now() time.Time { return s.now() }

// CreateTables creates the status schema if it does not exist yet.
func (s *Status) CreateTables() error {
	err := s.db.AutoMigrate(&Race{}, &Candidate{}, &SearchTerm{}, &Run{}, &Search{})
	if err != nil {
		return fmt.Errorf("failed to migrate status schema: %w", err)
	}
	return nil
}

// SyncConfig inserts or updates the rows that mirror the bundle config.
// Races, candidates, and terms present in the config are marked active.
func (s *Status) SyncConfig() error {
	for _, raceCfg := range s.Config.Races {
		var race Race
		err := s.db.Where(&Race{Name: raceCfg.Race}).First(&race).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			race = Race{Name: raceCfg.Race, Slug: Slug(raceCfg.Race), Year: raceCfg.Year}
		} else if err != nil {
			return fmt.Errorf("failed to look up race %q: %w", raceCfg.Race, err)
		}
		race.Active = true
		if err := s.db.Save(&race).Error; err != nil {
			return fmt.Errorf("failed to sync race %q: %w", raceCfg.Race, err)
		}

		for _, candCfg := range raceCfg.Candidates {
			var candidate Candidate
			err := s.db.Where(&Candidate{Name: candCfg.Name}).First(&candidate).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				candidate = Candidate{Name: candCfg.Name, Party: candCfg.Party, RaceID: race.ID}
			} else if err != nil {
				return fmt.Errorf("failed to look up candidate %q: %w", candCfg.Name, err)
			}
			candidate.Active = candCfg.IsActive()
			if err := s.db.Save(&candidate).Error; err != nil {
				return fmt.Errorf("failed to sync candidate %q: %w", candCfg.Name, err)
			}

			for _, term := range candCfg.Search {
				var searchTerm SearchTerm
				err := s.db.Where(&SearchTerm{Term: term}).First(&searchTerm).Error
				if errors.Is(err, gorm.ErrRecordNotFound) {
					searchTerm = SearchTerm{Term: term, CandidateID: candidate.ID}
				} else if err != nil {
					return fmt.Errorf("failed to look up search term %q: %w", term, err)
				}
				searchTerm.Active = true
				if err := s.db.Save(&searchTerm).Error; err != nil {
					return fmt.Errorf("failed to sync search term %q: %w", term, err)
				}
			}
		}
	}
	return nil
}

// Races returns all races in the status db.
func (s *Status) Races() ([]Race, error) {
	var races []Race
	if err := s.db.Find(&races).Error; err != nil {
		return nil, fmt.Errorf("failed to query races: %w", err)
	}
	return races, nil
}

// RacesMatchingSlug returns all races when slug is empty, otherwise the
// races whose slug matches.
func (s *Status) RacesMatchingSlug(slug string) ([]Race, error) {
	races, err := s.Races()
	if err != nil || slug == "" {
		return races, err
	}
	var matching []Race
	for _, race := range races {
		if Slug(race.Name) == slug {
			matching = append(matching, race)
		}
	}
	return matching, nil
}

// Candidates returns all candidates of a race, active or not.
func (s *Status) Candidates(race Race) ([]Candidate, error) {
	var candidates []Candidate
	err := s.db.Where("race_id = ?", race.ID).Order("id").Find(&candidates).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query candidates for race %q: %w", race.Name, err)
	}
	return candidates, nil
}

// ActiveCandidates returns the active candidates of a race.
func (s *Status) ActiveCandidates(race Race) ([]Candidate, error) {
	var candidates []Candidate
	err := s.db.Where("race_id = ? AND active = ?", race.ID, true).Order("id").Find(&candidates).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query candidates for race %q: %w", race.Name, err)
	}
	return candidates, nil
}

// SearchTerms returns all search terms of a candidate, active or not.
func (s *Status) SearchTerms(candidate Candidate) ([]SearchTerm, error) {
	var terms []SearchTerm
	err := s.db.Where("candidate_id = ?", candidate.ID).Order("id").Find(&terms).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query search terms for %q: %w", candidate.Name, err)
	}
	return terms, nil
}

// FindSearchTerm looks up a term string within a race. It reports whether a
// matching term belonging to one of the race's candidates exists.
func (s *Status) FindSearchTerm(race Race, term string) (*SearchTerm, error) {
	var searchTerm SearchTerm
	err := s.db.
		Joins("JOIN candidates ON candidates.id = search_terms.candidate_id").
		Where("candidates.race_id = ? AND search_terms.term = ?", race.ID, term).
		First(&searchTerm).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up term %q in race %q: %w", term, race.Name, err)
	}
	return &searchTerm, nil
}

// RecentRuns returns up to limit runs of a race, most recent start first.
func (s *Status) RecentRuns(race Race, limit int) ([]Run, error) {
	var runs []Run
	err := s.db.Where("race_id = ?", race.ID).Order("start DESC").Limit(limit).Find(&runs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query runs for race %q: %w", race.Name, err)
	}
	return runs, nil
}

// RunsOrdered returns all runs of a race ordered by start. Descending order
// puts the most recent run first.
func (s *Status) RunsOrdered(race Race, descending bool) ([]Run, error) {
	order := "start"
	if descending {
		order = "start DESC"
	}
	var runs []Run
	err := s.db.Where("race_id = ?", race.ID).Order(order).Find(&runs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query runs for race %q: %w", race.Name, err)
	}
	return runs, nil
}

// CreateRun records the start of a new run for a race.
func (s *Status) CreateRun(race Race, start time.Time) (*Run, error) {
	run := Run{RaceID: race.ID, Start: start, ResultsFolder: TimeToRunFolderName(start)}
	if err := s.db.Create(&run).Error; err != nil {
		return nil, fmt.Errorf("failed to create run for race %q: %w", race.Name, err)
	}
	return &run, nil
}

// FindRun looks for a run of race with the given start and results folder.
// Returns nil when no such run is recorded; used by the raw importer to skip
// already-imported runs.
func (s *Status) FindRun(race Race, start time.Time, resultsFolder string) (*Run, error) {
	var run Run
	err := s.db.Where("race_id = ? AND start = ? AND results_folder = ?", race.ID, start, resultsFolder).
		First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up run %s: %w", resultsFolder, err)
	}
	return &run, nil
}

// FinishRun sets the run's end timestamp.
func (s *Status) FinishRun(run *Run, end time.Time) error {
	run.End = &end
	if err := s.db.Save(run).Error; err != nil {
		return fmt.Errorf("failed to finish run %d: %w", run.ID, err)
	}
	return nil
}

// DeleteRun removes a run and its searches from the status db.
func (s *Status) DeleteRun(run Run) error {
	if err := s.db.Where("run_id = ?", run.ID).Delete(&Search{}).Error; err != nil {
		return fmt.Errorf("failed to delete searches of run %d: %w", run.ID, err)
	}
	if err := s.db.Delete(&run).Error; err != nil {
		return fmt.Errorf("failed to delete run %d: %w", run.ID, err)
	}
	return nil
}

// RecordSearch appends one search page record.
func (s *Status) RecordSearch(search *Search) error {
	if err := s.db.Create(search).Error; err != nil {
		return fmt.Errorf("failed to record search: %w", err)
	}
	return nil
}

// SearchToResume returns the most recent search of a term recorded within a
// run, or nil if the run has no page for the term yet.
func (s *Status) SearchToResume(run *Run, term SearchTerm) (*Search, error) {
	var search Search
	err := s.db.Where("run_id = ? AND search_term_id = ?", run.ID, term.ID).
		Order("date DESC").First(&search).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query search to resume for %q: %w", term.Term, err)
	}
	return &search, nil
}

// LatestSearch returns the most recently dated search of a term across all
// runs, or nil if the term has never been searched.
func (s *Status) LatestSearch(term SearchTerm) (*Search, error) {
	var search Search
	err := s.db.Where("search_term_id = ?", term.ID).Order("date DESC").First(&search).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest search for %q: %w", term.Term, err)
	}
	return &search, nil
}

// MaxIDBefore returns the highest continuation marker recorded for a term
// before the given time. The second return is false when no search qualifies.
func (s *Status) MaxIDBefore(term SearchTerm, before time.Time) (int64, bool, error) {
	var search Search
	err := s.db.Where("search_term_id = ? AND date < ?", term.ID, before).
		Order("max_id DESC").First(&search).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to query max id for %q: %w", term.Term, err)
	}
	return search.MaxID, true, nil
}

// MaxIDWithLatestBefore returns the highest continuation marker among
// searches whose latest content timestamp precedes until. Used when
// collection is bounded by an end date.
func (s *Status) MaxIDWithLatestBefore(term SearchTerm, until time.Time) (int64, bool, error) {
	var search Search
	err := s.db.Where("search_term_id = ? AND latest < ?", term.ID, until).
		Order("max_id DESC").First(&search).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to query max id for %q: %w", term.Term, err)
	}
	return search.MaxID, true, nil
}

// SearchWithMaxID reports whether a search with the marker is already
// recorded for the term. Used by the raw importer for dedup.
func (s *Status) SearchWithMaxID(term SearchTerm, maxID int64) (*Search, error) {
	var search Search
	err := s.db.Where("search_term_id = ? AND max_id = ?", term.ID, maxID).First(&search).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query search with max id %d: %w", maxID, err)
	}
	return &search, nil
}

// SearchCount returns the number of pages recorded for a run.
func (s *Status) SearchCount(run Run) (int64, error) {
	var count int64
	err := s.db.Model(&Search{}).Where("run_id = ?", run.ID).Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count searches of run %d: %w", run.ID, err)
	}
	return count, nil
}

// --- Bundle path conventions ---

func (s *Status) RawDataFolderFromRootForRace(root string, race Race) string {
	return filepath.Join(root, "raw", race.Slug)
}

func (s *Status) RawDataFolderForRace(race Race) string {
	return s.RawDataFolderFromRootForRace(s.Bundle.Root, race)
}

func (s *Status) RawDataFolderForRun(race Race, run *Run) string {
	return filepath.Join(s.RawDataFolderForRace(race), run.ResultsFolder)
}

func (s *Status) PrunedDataFolderForRace(race Race) string {
	return filepath.Join(s.Bundle.Root, "pruned", race.Slug)
}

// PrunedDataComponentsForRun returns the folder and name of a run's pruned
// output.
func (s *Status) PrunedDataComponentsForRun(race Race, run Run) (string, string) {
	return s.PrunedDataFolderForRace(race), run.ResultsFolder
}

func (s *Status) PrunedDataPathForRun(race Race, run Run) string {
	return filepath.Join(s.PrunedDataComponentsForRun(race, run))
}

// RobustPrunedDataPathForRun returns the pruned output as a folder if it
// exists, otherwise as a .json file, otherwise empty.
func (s *Status) RobustPrunedDataPathForRun(race Race, run Run) string {
	path := s.PrunedDataPathForRun(race, run)
	if _, err := os.Stat(path); err == nil {
		return path
	}
	if _, err := os.Stat(path + ".json"); err == nil {
		return path + ".json"
	}
	return ""
}

// HasPrunedDataForRun reports whether pruning already produced output for
// the run, in either folder or single-file form.
func (s *Status) HasPrunedDataForRun(race Race, run Run) bool {
	return s.RobustPrunedDataPathForRun(race, run) != ""
}

func (s *Status) CompressedDataFolderForRace(race Race) string {
	return filepath.Join(s.Bundle.Root, "compressed", race.Slug)
}

func (s *Status) CompressedDataPathForRun(race Race, run Run) string {
	return filepath.Join(s.CompressedDataFolderForRace(race), run.ResultsFolder+".tar.bz2")
}

func (s *Status) AnalyzedDataFolder() string {
	return filepath.Join(s.Bundle.Root, "analyzed")
}

// AnalysisResultComponents returns the folder and file name for analysis
// output. analysisType selects a subfolder; with no run the file name is
// empty and the result names just the folder.
func (s *Status) AnalysisResultComponents(race Race, analysisType string, run *Run) (string, string) {
	folder := filepath.Join(s.AnalyzedDataFolder(), race.Slug)
	if analysisType != "" {
		folder = filepath.Join(folder, analysisType)
	}
	if run == nil {
		return folder, ""
	}
	return folder, run.ResultsFolder + ".json"
}

func (s *Status) TmpFolder() string {
	return filepath.Join(s.Bundle.Root, "tmp")
}

// PathFromComponents joins a (folder, name) pair, tolerating an empty name.
func PathFromComponents(folder, name string) string {
	if name == "" {
		return folder
	}
	return filepath.Join(folder, name)
}

// PathRelativeToBundle returns path relative to the bundle root, for
// progress messages. Falls back to the absolute path.
func (s *Status) PathRelativeToBundle(path string) string {
	rel, err := filepath.Rel(s.Bundle.Root, path)
	if err != nil {
		return path
	}
	return rel
}

// --- Log routing ---

func (s *Status) RunningLogPath() string {
	return filepath.Join(s.Bundle.Root, "log", "running")
}

func (s *Status) FailLogPath() string {
	return filepath.Join(s.Bundle.Root, "log", "failed")
}

func (s *Status) SuccessLogPath() string {
	return filepath.Join(s.Bundle.Root, "log", "succeeded")
}

// GenerateRunningLogFilePath returns a fresh log file path in the running
// log folder, creating the folder if needed.
func (s *Status) GenerateRunningLogFilePath(operation string) (string, error) {
	if err := EnsureFolder(s.RunningLogPath()); err != nil {
		return "", err
	}
	filename := fmt.Sprintf("%s_%s_log.txt", formatStamp(s.now()), operation)
	return filepath.Join(s.RunningLogPath(), filename), nil
}

// MoveLogToSuccess moves a log out of the running folder into succeeded/.
func (s *Status) MoveLogToSuccess(logPath string) error {
	return s.moveLog(logPath, s.SuccessLogPath())
}

// MoveLogToFail moves a log out of the running folder into failed/.
func (s *Status) MoveLogToFail(logPath string) error {
	return s.moveLog(logPath, s.FailLogPath())
}

func (s *Status) moveLog(logPath, destFolder string) error {
	if err := EnsureFolder(destFolder); err != nil {
		return err
	}
	dest := filepath.Join(destFolder, filepath.Base(logPath))
	if err := os.Rename(logPath, dest); err != nil {
		return fmt.Errorf("failed to move log %s: %w", logPath, err)
	}
	return nil
}
