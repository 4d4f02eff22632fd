// Package twitter implements the search API client used for data
// collection: one paginated search call with since/max id filters, raw
// payload capture, and rate-limit header reporting.
package twitter

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// CreatedAtLayout is the timestamp format used inside search results.
const CreatedAtLayout = time.RubyDate

// Status is the subset of a result item the collector cares about. The full
// item is carried opaquely in the page's raw payload.
type Status struct {
	ID        int64  `json:"id"`
	CreatedAt string `json:"created_at"`
	Text      string `json:"text"`
}

// CreatedAtTime parses the status creation timestamp into UTC.
func (s Status) CreatedAtTime() (time.Time, error) {
	t, err := time.Parse(CreatedAtLayout, s.CreatedAt)
	if err != nil {
		return time.Time{}, fmt.Errorf("malformed created_at %q: %w", s.CreatedAt, err)
	}
	return t.UTC(), nil
}

// SearchMetadata is the pagination envelope of a search response.
type SearchMetadata struct {
	MaxID       int64  `json:"max_id"`
	SinceID     int64  `json:"since_id"`
	NextResults string `json:"next_results"`
	RefreshURL  string `json:"refresh_url"`
	Query       string `json:"query"`
	Count       int    `json:"count"`
}

// RateLimitHeaders carries the raw rate-limit signals of one API response.
// Values are kept as strings; parsing and fail-open behavior live with the
// backoff computation.
type RateLimitHeaders struct {
	Remaining string
	Reset     string
}

// Page is one search API page: the raw response body, the decoded fields the
// collector needs, and the rate-limit signals that came with it.
type Page struct {
	Raw       []byte
	Statuses  []Status
	Metadata  SearchMetadata
	RateLimit RateLimitHeaders
}

type searchEnvelope struct {
	Statuses       []Status       `json:"statuses"`
	SearchMetadata SearchMetadata `json:"search_metadata"`
}

// PageFromRaw decodes a stored response body back into a Page. Used to
// replay pages from disk without a network call; the replayed page carries
// no rate-limit signals.
func PageFromRaw(raw []byte) (*Page, error) {
	var envelope searchEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("failed to decode search results: %w", err)
	}
	return &Page{
		Raw:      raw,
		Statuses: envelope.Statuses,
		Metadata: envelope.SearchMetadata,
	}, nil
}

// NextMaxID extracts the continuation marker from the page's next_results
// query string. The second return is false when the page has no next page.
func (p *Page) NextMaxID() (int64, bool, error) {
	next := p.Metadata.NextResults
	if next == "" {
		return 0, false, nil
	}
	values, err := url.ParseQuery(strings.TrimPrefix(next, "?"))
	if err != nil {
		return 0, false, fmt.Errorf("malformed next_results %q: %w", next, err)
	}
	maxID := values.Get("max_id")
	if maxID == "" {
		return 0, false, fmt.Errorf("next_results %q carries no max_id", next)
	}
	var id int64
	if _, err := fmt.Sscan(maxID, &id); err != nil {
		return 0, false, fmt.Errorf("malformed max_id %q: %w", maxID, err)
	}
	return id, true, nil
}

// QueryFromRefreshURL recovers the query string a stored page was fetched
// for. Used by the raw importer to map files back to search terms.
func (p *Page) QueryFromRefreshURL() (string, error) {
	refresh := p.Metadata.RefreshURL
	if refresh == "" {
		return "", fmt.Errorf("page carries no refresh_url")
	}
	values, err := url.ParseQuery(strings.TrimPrefix(refresh, "?"))
	if err != nil {
		return "", fmt.Errorf("malformed refresh_url %q: %w", refresh, err)
	}
	q := values.Get("q")
	if q == "" {
		return "", fmt.Errorf("refresh_url %q carries no query", refresh)
	}
	return q, nil
}

// EarliestAndLatest returns the span of content timestamps in the page, or
// (nil, nil) for an empty page.
func (p *Page) EarliestAndLatest() (*time.Time, *time.Time, error) {
	if len(p.Statuses) == 0 {
		return nil, nil, nil
	}
	var earliest, latest time.Time
	for i, status := range p.Statuses {
		t, err := status.CreatedAtTime()
		if err != nil {
			return nil, nil, err
		}
		if i == 0 || t.Before(earliest) {
			earliest = t
		}
		if i == 0 || t.After(latest) {
			latest = t
		}
	}
	return &earliest, &latest, nil
}

// RateLimitError reports a rate-limited API call. It carries the response's
// limit headers so the caller can compute the backoff.
type RateLimitError struct {
	Headers RateLimitHeaders
	Message string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded: %s", e.Message)
}
