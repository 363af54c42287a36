// Package config loads the registry configuration from KPM_* environment
// variables and validates it once at process start. Components receive the
// parsed struct explicitly; nothing reads the environment after startup.
package config

import (
	"net/url"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/pkg/errors"
)

// Token deployment modes. In upstream mode the stored bearer value is the
// raw GitHub access token; in local mode a random secret is minted instead.
const (
	TokenModeUpstream = "upstream"
	TokenModeLocal    = "local"
)

type Config struct {
	AppName  string `env:"KPM_APP_NAME" envDefault:"kpm registry"`
	Env      string `env:"ENV" envDefault:"DEV"`
	HTTPPort string `env:"KPM_HTTP_PORT" envDefault:"5005"`
	LogLevel string `env:"KPM_LOG_LEVEL" envDefault:"info"`
	DBPath   string `env:"KPM_DB_PATH" envDefault:"./data/kpm.db"`

	// UIURL is the single allow-listed origin for post-login redirects.
	UIURL string `env:"KPM_UI_URL" envDefault:"http://localhost:3000"`

	GithubClientID     string `env:"KPM_GITHUB_CLIENT_ID"`
	GithubClientSecret string `env:"KPM_GITHUB_CLIENT_SECRET"`
	GithubCallbackURL  string `env:"KPM_GITHUB_CALLBACK_URL" envDefault:"http://localhost:5005/auth/callback"`

	TokenTTL        time.Duration `env:"KPM_TOKEN_TTL" envDefault:"1h"`
	TokenMode       string        `env:"KPM_TOKEN_MODE" envDefault:"upstream"`
	SessionTTL      time.Duration `env:"KPM_SESSION_TTL" envDefault:"8h"`
	ProviderTimeout time.Duration `env:"KPM_PROVIDER_TIMEOUT" envDefault:"10s"`
}

// Load parses the environment and validates the result. A zero or negative
// TTL is a configuration error and refuses to start the process.
func Load() (Config, error) {
	var c Config
	if err := env.Parse(&c); err != nil {
		return Config{}, errors.Wrap(err, "[config.Load] parse env")
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) Validate() error {
	if c.TokenTTL <= 0 {
		return errors.Errorf("[config.Validate] KPM_TOKEN_TTL must be a positive duration, got %s", c.TokenTTL)
	}
	if c.SessionTTL <= 0 {
		return errors.Errorf("[config.Validate] KPM_SESSION_TTL must be a positive duration, got %s", c.SessionTTL)
	}
	if c.ProviderTimeout <= 0 {
		return errors.Errorf("[config.Validate] KPM_PROVIDER_TIMEOUT must be a positive duration, got %s", c.ProviderTimeout)
	}
	if c.TokenMode != TokenModeUpstream && c.TokenMode != TokenModeLocal {
		return errors.Errorf("[config.Validate] KPM_TOKEN_MODE must be %q or %q, got %q", TokenModeUpstream, TokenModeLocal, c.TokenMode)
	}
	u, err := url.Parse(c.UIURL)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return errors.Errorf("[config.Validate] KPM_UI_URL must be an absolute URL, got %q", c.UIURL)
	}
	return nil
}

// Addr returns the listen address for the HTTP server.
func (c Config) Addr() string {
	return ":" + c.HTTPPort
}
