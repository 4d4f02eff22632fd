package twitter

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/cramakri/smet-collect-go/pkg/bundle"
)

const (
	// DefaultPageSize is the number of results requested per search call.
	DefaultPageSize = 100

	// DefaultResultType asks the API for the most recent results.
	DefaultResultType = "recent"
)

// Config holds the client configuration. Credentials come from the bundle;
// endpoints and pacing can be overridden through the environment.
type Config struct {
	// API Authentication
	AppKey            string
	AppSecret         string
	AccessToken       string
	AccessTokenSecret string

	// API Endpoints
	BaseURL        string
	SearchEndpoint string

	// Request shape
	PageSize   int
	ResultType string
	Timeout    time.Duration

	// Client-side pacing: calls per window, conservatively spread out so a
	// long continuation chain does not burn the quota in a burst.
	RateLimit  int
	RateWindow time.Duration

	Logger *logrus.Logger
}

// NewConfig builds a client config from bundle credentials and environment
// overrides.
func NewConfig(creds *bundle.Credentials) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	rateLimit, _ := strconv.Atoi(getEnvOrDefault("SMET_RATE_LIMIT", "180"))
	rateWindowMin, _ := strconv.Atoi(getEnvOrDefault("SMET_RATE_WINDOW_MINUTES", "15"))

	config := &Config{
		AppKey:            creds.AppKey,
		AppSecret:         creds.AppSecret,
		AccessToken:       creds.AccessToken,
		AccessTokenSecret: creds.AccessTokenSecret,

		BaseURL:        getEnvOrDefault("SMET_API_BASE_URL", "https://api.twitter.com/1.1"),
		SearchEndpoint: "/search/tweets.json",

		PageSize:   DefaultPageSize,
		ResultType: DefaultResultType,
		Timeout:    30 * time.Second,

		RateLimit:  rateLimit,
		RateWindow: time.Duration(rateWindowMin) * time.Minute,

		Logger: logrus.StandardLogger(),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks that the config can authenticate.
func (c *Config) Validate() error {
	if c.Logger == nil {
		return fmt.Errorf("logger is required")
	}
	// Full OAuth 1.0a credentials or an app key with a bearer-style access
	// token; nothing else can sign a request.
	if c.AppKey == "" || c.AccessToken == "" {
		return fmt.Errorf("app key and access token must be provided")
	}
	if c.RateLimit <= 0 || c.RateWindow <= 0 {
		return fmt.Errorf("rate limit and window must be positive")
	}
	return nil
}

// UserAuth reports whether the config carries full OAuth 1.0a credentials.
func (c *Config) UserAuth() bool {
	return c.AppSecret != "" && c.AccessTokenSecret != ""
}

func getEnvOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
