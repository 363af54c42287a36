// Package github implements the identity provider adapter against the
// GitHub OAuth flow and REST API.
package github

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	githuboauth "golang.org/x/oauth2/github"

	"github.com/kpmdev/kpm-registry/auth"
	"github.com/kpmdev/kpm-registry/principal"
)

const (
	defaultAPIBaseURL = "https://api.github.com"
	defaultTimeout    = 10 * time.Second

	// One initial call plus two retries for transient transport failures.
	// Provider rejections are never retried; grants are single-use.
	maxAttempts  = 3
	retryBackoff = 250 * time.Millisecond
)

var _ auth.IdentityProvider = (*Client)(nil)

// Client talks to GitHub for the two upstream legs of a handshake: the
// authorization redirect and the grant exchange plus profile fetch.
type Client struct {
	oauth      *oauth2.Config
	apiBaseURL string
	timeout    time.Duration
}

type Option func(*Client)

// WithAPIBaseURL points profile fetches at a different host (testing).
func WithAPIBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.apiBaseURL = baseURL
	}
}

// WithEndpoint overrides the OAuth endpoint (testing).
func WithEndpoint(endpoint oauth2.Endpoint) Option {
	return func(c *Client) {
		c.oauth.Endpoint = endpoint
	}
}

// WithTimeout bounds each upstream call.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.timeout = timeout
	}
}

func New(clientID, clientSecret, callbackURL string, options ...Option) *Client {
	c := &Client{
		oauth: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  callbackURL,
			Endpoint:     githuboauth.Endpoint,
			Scopes:       []string{"read:user", "user:email"},
		},
		apiBaseURL: defaultAPIBaseURL,
		timeout:    defaultTimeout,
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// AuthCodeURL builds the provider authorization URL for the initiate leg.
func (c *Client) AuthCodeURL(state string) string {
	return c.oauth.AuthCodeURL(state)
}

// Exchange trades the authorization grant for the upstream access token and
// the profile it belongs to. Failures are reported through
// auth.ErrUpstreamExchangeFailed (provider rejected the grant) or
// auth.ErrUpstreamTimeout (unreachable or out of time).
func (c *Client) Exchange(ctx context.Context, grant string) (string, principal.Identity, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	tok, err := c.exchangeGrant(ctx, grant)
	if err != nil {
		return "", principal.Identity{}, err
	}

	httpClient := c.oauth.Client(ctx, tok)

	var user struct {
		ID    int64  `json:"id"`
		Login string `json:"login"`
	}
	if err := c.getJSON(ctx, httpClient, "/user", &user); err != nil {
		return "", principal.Identity{}, errors.Wrap(err, "[Client.Exchange] fetch profile")
	}

	var emails []struct {
		Email    string `json:"email"`
		Primary  bool   `json:"primary"`
		Verified bool   `json:"verified"`
	}
	if err := c.getJSON(ctx, httpClient, "/user/emails", &emails); err != nil {
		return "", principal.Identity{}, errors.Wrap(err, "[Client.Exchange] fetch emails")
	}

	identity := principal.Identity{
		ID:       strconv.FormatInt(user.ID, 10),
		Username: user.Login,
	}
	for _, e := range emails {
		identity.Emails = append(identity.Emails, principal.Email{
			Value:    e.Email,
			Primary:  e.Primary,
			Verified: e.Verified,
		})
	}
	return tok.AccessToken, identity, nil
}

func (c *Client) exchangeGrant(ctx context.Context, grant string) (*oauth2.Token, error) {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		tok, err := c.oauth.Exchange(ctx, grant)
		if err == nil {
			return tok, nil
		}
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			// GitHub answered and said no; retrying a single-use grant
			// cannot succeed.
			return nil, errors.Wrapf(auth.ErrUpstreamExchangeFailed, "[Client.exchangeGrant] provider rejected grant: %v", err)
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		log.Warn().Err(err).Int("attempt", attempt).Msg("transient error exchanging grant with GitHub")
		if attempt < maxAttempts {
			select {
			case <-time.After(retryBackoff):
			case <-ctx.Done():
			}
		}
	}
	return nil, errors.Wrapf(auth.ErrUpstreamTimeout, "[Client.exchangeGrant] %v", lastErr)
}

func (c *Client) getJSON(ctx context.Context, httpClient *http.Client, path string, out any) error {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiBaseURL+path, nil)
		if err != nil {
			return errors.Wrap(err, "[Client.getJSON] build request")
		}
		req.Header.Set("Accept", "application/vnd.github+json")

		resp, err := httpClient.Do(req)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			log.Warn().Err(err).Int("attempt", attempt).Str("path", path).Msg("transient error calling GitHub API")
			if attempt < maxAttempts {
				select {
				case <-time.After(retryBackoff):
				case <-ctx.Done():
				}
			}
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			continue
		}
		if resp.StatusCode != http.StatusOK {
			return errors.Wrapf(auth.ErrUpstreamExchangeFailed, "[Client.getJSON] GET %s: %s", path, resp.Status)
		}
		if err := json.Unmarshal(body, out); err != nil {
			return errors.Wrapf(auth.ErrUpstreamExchangeFailed, "[Client.getJSON] GET %s: %v", path, err)
		}
		return nil
	}
	return errors.Wrapf(auth.ErrUpstreamTimeout, "[Client.getJSON] GET %s: %v", path, lastErr)
}
