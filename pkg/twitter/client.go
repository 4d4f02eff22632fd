package twitter

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Client performs search calls against the API.
type Client struct {
	config  *Config
	auth    *Authenticator
	limiter *rate.Limiter
	logger  *logrus.Logger
}

// NewClient creates a search API client.
func NewClient(config *Config) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	auth, err := NewAuthenticator(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create authenticator: %w", err)
	}

	// Spread the window's quota evenly; burst of 1 keeps continuation
	// chains from front-loading calls.
	every := rate.Every(config.RateWindow / time.Duration(config.RateLimit))

	return &Client{
		config:  config,
		auth:    auth,
		limiter: rate.NewLimiter(every, 1),
		logger:  config.Logger,
	}, nil
}

// SearchParams are the parameters of one search call. Zero-valued ids and an
// empty Until are omitted from the request.
type SearchParams struct {
	Query      string
	ResultType string

	// SinceID restricts results to ids greater than the marker, so a run
	// only sees content newer than the previous run.
	SinceID int64

	// MaxID requests the continuation page at or below the marker.
	MaxID int64

	// Until bounds results to content before the date (YYYY-MM-DD).
	Until string
}

// Search performs one search call and returns the page together with the
// response's rate-limit signals. A rate-limited call returns a
// *RateLimitError carrying those signals; retry policy belongs to the
// caller.
func (c *Client) Search(ctx context.Context, params SearchParams) (*Page, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait canceled: %w", err)
	}

	resultType := params.ResultType
	if resultType == "" {
		resultType = c.config.ResultType
	}

	query := url.Values{}
	query.Set("q", params.Query)
	query.Set("result_type", resultType)
	query.Set("include_entities", "1")
	query.Set("count", strconv.Itoa(c.config.PageSize))
	if params.SinceID > 0 {
		query.Set("since_id", strconv.FormatInt(params.SinceID, 10))
	}
	if params.MaxID > 0 {
		query.Set("max_id", strconv.FormatInt(params.MaxID, 10))
	}
	if params.Until != "" {
		query.Set("until", params.Until)
	}

	fullURL := c.config.BaseURL + c.config.SearchEndpoint + "?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	c.logger.WithFields(logrus.Fields{
		"query":       params.Query,
		"result_type": resultType,
		"since_id":    params.SinceID,
		"max_id":      params.MaxID,
	}).Debug("search request")

	resp, err := c.auth.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	headers := RateLimitHeaders{
		Remaining: resp.Header.Get("x-rate-limit-remaining"),
		Reset:     resp.Header.Get("x-rate-limit-reset"),
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &RateLimitError{
			Headers: headers,
			Message: fmt.Sprintf("status=%d body=%s", resp.StatusCode, string(body)),
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("search api error: status=%d body=%s", resp.StatusCode, string(body))
	}

	page, err := PageFromRaw(body)
	if err != nil {
		return nil, err
	}
	page.RateLimit = headers

	c.logger.WithFields(logrus.Fields{
		"query":     params.Query,
		"statuses":  len(page.Statuses),
		"max_id":    page.Metadata.MaxID,
		"next_page": page.Metadata.NextResults != "",
		"remaining": headers.Remaining,
	}).Debug("search response")

	return page, nil
}
