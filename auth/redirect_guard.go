package auth

import (
	"net/url"

	"github.com/pkg/errors"
)

// RedirectGuard confines caller-supplied continuation URLs to the single
// configured UI origin. It is a pure check with no network or storage
// access, called once when a continuation target is accepted and again
// when it comes back out of the state parameter.
type RedirectGuard struct {
	scheme string
	host   string
}

// NewRedirectGuard parses the allow-listed UI origin. The origin must be an
// absolute http(s) URL; only its scheme and host take part in validation.
func NewRedirectGuard(uiOrigin string) (*RedirectGuard, error) {
	u, err := url.Parse(uiOrigin)
	if err != nil {
		return nil, errors.Wrap(err, "[NewRedirectGuard] parse ui origin")
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, errors.Errorf("[NewRedirectGuard] ui origin must be an absolute http(s) URL, got %q", uiOrigin)
	}
	return &RedirectGuard{scheme: u.Scheme, host: u.Host}, nil
}

// Validate reports whether candidate is a syntactically valid absolute URL
// whose scheme, host and port exactly match the configured origin. Empty,
// relative and cross-origin values all fail.
func (g *RedirectGuard) Validate(candidate string) bool {
	if candidate == "" {
		return false
	}
	u, err := url.Parse(candidate)
	if err != nil {
		return false
	}
	return u.Scheme == g.scheme && u.Host == g.host
}
