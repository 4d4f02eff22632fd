package twitter

import (
	"fmt"
	"net/http"
	"time"

	"github.com/mrjones/oauth"
)

const (
	requestTokenURL   = "https://api.twitter.com/oauth/request_token"
	authorizeTokenURL = "https://api.twitter.com/oauth/authorize"
	accessTokenURL    = "https://api.twitter.com/oauth/access_token"
)

// Authenticator produces an http.Client that signs API requests: OAuth 1.0a
// when full user credentials are available, bearer token otherwise.
type Authenticator struct {
	client      *http.Client
	bearerToken string
}

// NewAuthenticator picks the auth scheme the config supports.
func NewAuthenticator(config *Config) (*Authenticator, error) {
	if config.UserAuth() {
		return newUserAuthenticator(config)
	}
	if config.AccessToken != "" {
		return newAppAuthenticator(config.AccessToken, config.Timeout), nil
	}
	return nil, fmt.Errorf("either OAuth 1.0a credentials or an access token must be provided")
}

func newAppAuthenticator(bearerToken string, timeout time.Duration) *Authenticator {
	return &Authenticator{
		client:      &http.Client{Timeout: timeout},
		bearerToken: bearerToken,
	}
}

func newUserAuthenticator(config *Config) (*Authenticator, error) {
	consumer := oauth.NewConsumer(config.AppKey, config.AppSecret, oauth.ServiceProvider{
		RequestTokenUrl:   requestTokenURL,
		AuthorizeTokenUrl: authorizeTokenURL,
		AccessTokenUrl:    accessTokenURL,
	})

	token := &oauth.AccessToken{
		Token:  config.AccessToken,
		Secret: config.AccessTokenSecret,
	}

	client, err := consumer.MakeHttpClient(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create OAuth client: %w", err)
	}
	client.Timeout = config.Timeout

	return &Authenticator{client: client}, nil
}

// Do executes a request with the scheme's signing applied.
func (a *Authenticator) Do(req *http.Request) (*http.Response, error) {
	if a.bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+a.bearerToken)
	}
	return a.client.Do(req)
}
