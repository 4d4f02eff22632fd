package bundle

import (
	"time"
)

// Race is a race being tracked by the bundle.
type Race struct {
	ID     uint   `gorm:"primaryKey"`
	Name   string `gorm:"column:name"`
	Year   int    `gorm:"column:year"`
	Slug   string `gorm:"column:slug"`
	Active bool   `gorm:"column:active"`
}

func (Race) TableName() string { return "races" }

// Candidate belongs to a race and owns search terms.
type Candidate struct {
	ID     uint   `gorm:"primaryKey"`
	Name   string `gorm:"column:name"`
	Party  string `gorm:"column:party"`
	RaceID uint   `gorm:"column:race_id;index"`
	Active bool   `gorm:"column:active"`
}

func (Candidate) TableName() string { return "candidates" }

// SearchTerm is one term searched on behalf of a candidate. Terms are
// created and updated by config sync and read-only to the collector.
type SearchTerm struct {
	ID          uint   `gorm:"primaryKey"`
	Term        string `gorm:"column:term"`
	CandidateID uint   `gorm:"column:candidate_id;index"`
	Active      bool   `gorm:"column:active"`
}

func (SearchTerm) TableName() string { return "search_terms" }

// Run is one collection attempt for a race. End stays nil until every active
// search term has been attempted.
type Run struct {
	ID            uint       `gorm:"primaryKey"`
	RaceID        uint       `gorm:"column:race_id;index"`
	Start         time.Time  `gorm:"column:start"`
	End           *time.Time `gorm:"column:end"`
	ResultsFolder string     `gorm:"column:results_folder"`
}

func (Run) TableName() string { return "runs" }

// Search records one API page: when it was fetched, the highest result id it
// contained, the span of content timestamps, and where the raw payload lives.
// Rows are append-only.
type Search struct {
	ID           uint       `gorm:"primaryKey"`
	Date         time.Time  `gorm:"column:date"`
	MaxID        int64      `gorm:"column:max_id"`
	Earliest     *time.Time `gorm:"column:earliest"`
	Latest       *time.Time `gorm:"column:latest"`
	TweetCount   int        `gorm:"column:tweet_count"`
	ResultsPath  string     `gorm:"column:results_path"`
	RunID        uint       `gorm:"column:run_id;index"`
	SearchTermID uint       `gorm:"column:search_term_id;index"`
}

func (Search) TableName() string { return "searches" }
