// Package collect implements the collection state machine: for every active
// search term of every race, fetch the latest pages from the search API,
// write them into the bundle, and record their metadata in the status db so
// an interrupted run can resume without refetching.
package collect

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cramakri/smet-collect-go/pkg/bundle"
	"github.com/cramakri/smet-collect-go/pkg/progress"
	"github.com/cramakri/smet-collect-go/pkg/twitter"
)

const (
	// DefaultWaitPeriod is the minimum interval between searches for the
	// same term across runs.
	DefaultWaitPeriod = 2 * time.Hour

	// DefaultMaxDepth bounds how many continuation pages one term fetches
	// in one run.
	DefaultMaxDepth = 5

	untilLayout = "2006-01-02"
)

// Searcher is the search capability the collector drives. Satisfied by
// *twitter.Client; tests substitute a fake.
type Searcher interface {
	Search(ctx context.Context, params twitter.SearchParams) (*twitter.Page, error)
}

// Config collects the tunable behavior of the collector.
type Config struct {
	// WaitPeriod is the minimum time between searches for one term.
	WaitPeriod time.Duration

	// MaxDepth caps the number of search calls per term per run. Nil means
	// unbounded.
	MaxDepth *int

	// Sink persists raw pages. Defaults to CompactJSONSink.
	Sink OutputSink

	// Sleep pauses the collector during backoff. Defaults to time.Sleep;
	// tests substitute a recorder.
	Sleep func(time.Duration)

	Logger *logrus.Logger
}

// DefaultConfig returns the collector defaults.
func DefaultConfig() Config {
	depth := DefaultMaxDepth
	return Config{
		WaitPeriod: DefaultWaitPeriod,
		MaxDepth:   &depth,
		Sink:       CompactJSONSink{},
		Sleep:      time.Sleep,
		Logger:     logrus.StandardLogger(),
	}
}

func (c *Config) applyDefaults() {
	if c.Sink == nil {
		c.Sink = CompactJSONSink{}
	}
	if c.Sleep == nil {
		c.Sleep = time.Sleep
	}
	if c.Logger == nil {
		c.Logger = logrus.StandardLogger()
	}
}

// Options selects what one collector invocation covers.
type Options struct {
	// Resume continues the most recent run instead of starting a new one.
	Resume bool

	// Race restricts collection to the race with this slug.
	Race string

	// Until bounds collection to content before the date (YYYY-MM-DD).
	Until string
}

// Collector runs searches for all races of a bundle.
type Collector struct {
	status *bundle.Status
	client Searcher
	config Config
	opts   Options

	calledAPI   bool
	lastHeaders twitter.RateLimitHeaders
}

// New creates a collector over a bundle status and a search client.
func New(status *bundle.Status, client Searcher, config Config, opts Options) *Collector {
	config.applyDefaults()
	return &Collector{
		status: status,
		client: client,
		config: config,
		opts:   opts,
	}
}

// Run collects data for every matching race. Failures local to one race or
// term are reported and do not abort the remaining work.
func (c *Collector) Run(ctx context.Context) error {
	races, err := c.status.RacesMatchingSlug(c.opts.Race)
	if err != nil {
		return err
	}
	if c.opts.Race != "" {
		if len(races) < 1 {
			progress.Reportf(c.status.Progress, progress.KindError,
				"Found no races matching slug %s.", c.opts.Race)
			return nil
		}
		if len(races) > 1 {
			progress.Reportf(c.status.Progress, progress.KindError,
				"Found multiple races matching slug %s.", c.opts.Race)
			return nil
		}
	}

	for _, race := range races {
		rc := newRaceCollector(c, race)
		if err := rc.collectRace(ctx); err != nil {
			return err
		}
		c.calledAPI = c.calledAPI || rc.calledAPI
		if rc.calledAPI {
			c.lastHeaders = rc.lastHeaders
		}
	}

	if c.calledAPI {
		remaining, backoff := RateLimitInfo(c.lastHeaders, c.status.Now(), c.status.Progress)
		progress.Reportf(c.status.Progress, progress.KindProgress,
			"Run finished : %d searches remain in period. Next period starts in %.2fs",
			remaining, backoff.Seconds())
	} else {
		progress.Reportf(c.status.Progress, progress.KindProgress, "No calls made")
	}
	return nil
}

// raceCollector drives the per-term state machine for one race within one
// run: first page (replayed, wait-gated, or fetched), then continuation
// pages up to the depth bound.
type raceCollector struct {
	status *bundle.Status
	client Searcher
	config Config
	opts   Options
	race   bundle.Race
	log    *logrus.Entry

	run          *bundle.Run
	previousRun  *bundle.Run
	outputFolder string
	now          time.Time

	calledAPI   bool
	lastHeaders twitter.RateLimitHeaders
}

func newRaceCollector(c *Collector, race bundle.Race) *raceCollector {
	return &raceCollector{
		status: c.status,
		client: c.client,
		config: c.config,
		opts:   c.opts,
		race:   race,
		log:    c.config.Logger.WithFields(logrus.Fields{"race": race.Slug}),
	}
}

// initializeState decides resume vs fresh and prepares the output folder.
// After a resume request with no prior run, r.run stays nil.
func (r *raceCollector) initializeState() error {
	r.advanceTime()

	recent, err := r.status.RecentRuns(r.race, 2)
	if err != nil {
		return err
	}
	if r.opts.Resume {
		if len(recent) < 1 {
			return nil
		}
		r.run = &recent[0]
		if len(recent) > 1 {
			r.previousRun = &recent[1]
		}
	} else {
		if len(recent) > 0 {
			r.previousRun = &recent[0]
		}
		run, err := r.status.CreateRun(r.race, r.now)
		if err != nil {
			return err
		}
		r.run = run
	}

	r.outputFolder = r.status.RawDataFolderForRun(r.race, r.run)
	return bundle.EnsureFolder(r.outputFolder)
}

func (r *raceCollector) collectRace(ctx context.Context) error {
	if err := r.initializeState(); err != nil {
		return err
	}
	if r.opts.Resume && r.run == nil {
		progress.Reportf(r.status.Progress, progress.KindProgress, "No run to resume")
		return nil
	}

	candidates, err := r.status.ActiveCandidates(r.race)
	if err != nil {
		return err
	}
	for _, candidate := range candidates {
		terms, err := r.status.SearchTerms(candidate)
		if err != nil {
			return err
		}
		for _, term := range terms {
			if !term.Active {
				continue
			}
			r.collectTerm(ctx, term)
		}
	}

	return r.status.FinishRun(r.run, r.now)
}

// collectTerm runs the state machine for one search term. A fatal fetch
// failure aborts this term only.
func (r *raceCollector) collectTerm(ctx context.Context, term bundle.SearchTerm) {
	sinceID, err := r.lastRunMaxID(term)
	if err != nil {
		r.reportTermError(term, err)
		return
	}
	page, err := r.collectFirstPage(ctx, term, sinceID)
	if err != nil {
		r.reportTermError(term, err)
		return
	}
	if page == nil {
		return
	}
	if err := r.collectContinuations(ctx, term, sinceID, page); err != nil {
		r.reportTermError(term, err)
	}
}

func (r *raceCollector) reportTermError(term bundle.SearchTerm, err error) {
	r.log.WithError(err).WithField("term", term.Term).Error("search term aborted")
	progress.Reportf(r.status.Progress, progress.KindError,
		"Search for %s failed: %v", term.Term, err)
}

// lastRunMaxID decides the since filter: the highest continuation marker
// recorded before the current run started, or before the until date when
// one is configured. A term with no history gets no filter.
func (r *raceCollector) lastRunMaxID(term bundle.SearchTerm) (int64, error) {
	if r.previousRun == nil {
		return 0, nil
	}
	if r.opts.Until != "" {
		untilDate, err := time.Parse(untilLayout, r.opts.Until)
		if err != nil {
			return 0, fmt.Errorf("malformed until date %q: %w", r.opts.Until, err)
		}
		maxID, _, err := r.status.MaxIDWithLatestBefore(term, untilDate)
		return maxID, err
	}
	maxID, _, err := r.status.MaxIDBefore(term, r.run.Start)
	return maxID, err
}

// collectFirstPage produces the first page for a term this run:
//   - on resume, replay a page already recorded for this run from disk;
//   - otherwise skip the term entirely while the waiting period holds;
//   - otherwise fetch the first page from the API and record it.
//
// A nil page with nil error means the term is done for this run.
func (r *raceCollector) collectFirstPage(ctx context.Context, term bundle.SearchTerm, sinceID int64) (*twitter.Page, error) {
	if r.opts.Resume {
		search, err := r.status.SearchToResume(r.run, term)
		if err != nil {
			return nil, err
		}
		if search != nil {
			return r.replayPage(search)
		}
		// No page recorded for this run: fall through to a fresh search.
	}

	r.advanceTime()
	last, err := r.status.LatestSearch(term)
	if err != nil {
		return nil, err
	}
	if r.inWaitingPeriod(last) {
		return nil, nil
	}

	params := twitter.SearchParams{Query: term.Term, SinceID: sinceID, Until: r.opts.Until}
	page, err := r.search(ctx, params)
	if err != nil {
		return nil, err
	}
	if err := r.processPage(page, term); err != nil {
		return nil, err
	}
	return page, nil
}

// collectContinuations follows the page chain until it ends or the depth
// bound is reached. Depth starts at 1 for a fresh first page and 0 for a
// replayed one, which cost no network call.
func (r *raceCollector) collectContinuations(ctx context.Context, term bundle.SearchTerm, sinceID int64, page *twitter.Page) error {
	depth := 1
	if r.opts.Resume {
		depth = 0
	}

	for {
		maxID, ok, err := page.NextMaxID()
		if err != nil {
			return err
		}
		if !ok || r.reachedMaxDepth(depth) {
			return nil
		}

		r.advanceTime()
		// The until bound only applies to the first page; continuation
		// pages are already anchored by max_id.
		page, err = r.search(ctx, twitter.SearchParams{
			Query:   term.Term,
			SinceID: sinceID,
			MaxID:   maxID,
		})
		if err != nil {
			return err
		}
		depth++
		if err := r.processPage(page, term); err != nil {
			return err
		}
	}
}

func (r *raceCollector) reachedMaxDepth(depth int) bool {
	if r.config.MaxDepth == nil {
		return false
	}
	return depth >= *r.config.MaxDepth
}

// inWaitingPeriod reports whether the term's last search is too recent for
// another one.
func (r *raceCollector) inWaitingPeriod(last *bundle.Search) bool {
	if last == nil {
		return false
	}
	return r.now.Sub(last.Date) < r.config.WaitPeriod
}

// search performs one API call, retrying exactly once after a rate-limit
// error with the backoff the response asked for. A second failure is fatal
// for the page.
func (r *raceCollector) search(ctx context.Context, params twitter.SearchParams) (*twitter.Page, error) {
	progress.Reportf(r.status.Progress, progress.KindSearch,
		"Searching for %s : since_id=%d max_id=%d", params.Query, params.SinceID, params.MaxID)

	r.calledAPI = true
	page, err := r.client.Search(ctx, params)

	var rlErr *twitter.RateLimitError
	if errors.As(err, &rlErr) {
		headers := rlErr.Headers
		headers.Remaining = "0"
		_, backoff := RateLimitInfo(headers, r.status.Now(), r.status.Progress)
		progress.Reportf(r.status.Progress, progress.KindRateLimit,
			"Hit rate limit %v, sleeping %.0fs", rlErr.Message, backoff.Seconds())
		if backoff > 0 {
			r.config.Sleep(backoff)
		}
		page, err = r.client.Search(ctx, params)
	}
	if err != nil {
		return nil, err
	}
	r.lastHeaders = page.RateLimit
	return page, nil
}

// processPage persists the page and records its metadata, then checks the
// remaining quota so the next call does not open with a hard failure.
func (r *raceCollector) processPage(page *twitter.Page, term bundle.SearchTerm) error {
	filename, err := r.config.Sink.Save(r.now, page.Raw, r.outputFolder)
	if err != nil {
		return err
	}

	earliest, latest, err := page.EarliestAndLatest()
	if err != nil {
		return err
	}

	err = r.status.RecordSearch(&bundle.Search{
		Date:         r.now,
		MaxID:        page.Metadata.MaxID,
		Earliest:     earliest,
		Latest:       latest,
		TweetCount:   len(page.Statuses),
		ResultsPath:  filename,
		RunID:        r.run.ID,
		SearchTermID: term.ID,
	})
	if err != nil {
		return err
	}

	r.checkRateLimit(page.RateLimit)
	return nil
}

// checkRateLimit sleeps out the window proactively once the quota is spent.
func (r *raceCollector) checkRateLimit(headers twitter.RateLimitHeaders) {
	remaining, backoff := RateLimitInfo(headers, r.status.Now(), r.status.Progress)
	if remaining > 0 {
		return
	}
	progress.Reportf(r.status.Progress, progress.KindRateLimit,
		"Hit rate limit sleeping %.0fs", backoff.Seconds())
	if backoff > 0 {
		r.config.Sleep(backoff)
	}
}

// replayPage reads a previously saved page back from disk instead of
// calling the network.
func (r *raceCollector) replayPage(search *bundle.Search) (*twitter.Page, error) {
	path := filepath.Join(r.outputFolder, search.ResultsPath)
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read saved page %s: %w", path, err)
	}
	return twitter.PageFromRaw(raw)
}

func (r *raceCollector) advanceTime() {
	r.now = r.status.Now()
}
