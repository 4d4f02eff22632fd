package bundle

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// CandidateConfig describes one candidate and the terms searched for them.
type CandidateConfig struct {
	Name   string   `yaml:"name"`
	Party  string   `yaml:"party,omitempty"`
	Active *bool    `yaml:"active,omitempty"`
	Search []string `yaml:"search"`
}

// IsActive reports whether the candidate should be collected. Candidates are
// active unless the config says otherwise.
func (c CandidateConfig) IsActive() bool {
	return c.Active == nil || *c.Active
}

// RaceConfig describes one race in the bundle config.
type RaceConfig struct {
	Race       string            `yaml:"race"`
	Year       int               `yaml:"year"`
	Candidates []CandidateConfig `yaml:"candidates"`
}

// Config is the parsed bundle config.yaml: the races, candidates, and search
// terms the collector should cover.
type Config struct {
	Races []RaceConfig
}

// LoadConfig reads and parses the bundle configuration at path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	var races []RaceConfig
	if err := yaml.Unmarshal(data, &races); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	cfg := &Config{Races: races}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for structural problems.
func (c *Config) Validate() error {
	for _, race := range c.Races {
		if race.Race == "" {
			return fmt.Errorf("config contains a race with no name")
		}
		for _, candidate := range race.Candidates {
			if candidate.Name == "" {
				return fmt.Errorf("race %q contains a candidate with no name", race.Race)
			}
		}
	}
	return nil
}

// Credentials holds the search API credentials stored in credentials.yaml.
// AppKey plus AccessToken is sufficient for app-only access; the secrets are
// required only for OAuth 1.0a user auth.
type Credentials struct {
	AppKey            string `yaml:"app_key"`
	AppSecret         string `yaml:"app_secret,omitempty"`
	AccessToken       string `yaml:"access_token"`
	AccessTokenSecret string `yaml:"access_token_secret,omitempty"`
}

// LoadCredentials reads and parses the credentials file at path.
func LoadCredentials(path string) (*Credentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials: %w", err)
	}
	var creds Credentials
	if err := yaml.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("failed to parse credentials %s: %w", path, err)
	}
	return &creds, nil
}
