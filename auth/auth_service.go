// Package auth orchestrates the GitHub OAuth handshake: guarded initiation,
// grant exchange, principal reconciliation, bearer-token issuance and the
// final guarded redirect back to the UI.
package auth

import (
	"context"
	"net/url"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/kpmdev/kpm-registry/principal"
	"github.com/kpmdev/kpm-registry/token"
)

// TokenMode selects what value gets stored as the bearer token.
type TokenMode string

const (
	// TokenModeUpstream stores the raw upstream access token.
	TokenModeUpstream TokenMode = "upstream"
	// TokenModeLocal mints a random local secret instead.
	TokenModeLocal TokenMode = "local"
)

// Service is the handshake controller. It holds no mutable state; all
// cross-request state lives in the token store and the session store, so
// concurrent handshakes need no in-process coordination.
type Service struct {
	guard     *RedirectGuard
	provider  IdentityProvider
	directory *principal.Directory
	tokens    *token.Store
	uiOrigin  string
	tokenTTL  time.Duration
	tokenMode TokenMode
}

// HandshakeResult is the outcome of a completed callback leg.
type HandshakeResult struct {
	Principal   *principal.Principal
	Token       *token.AccessToken
	RedirectURL string
}

func NewService(
	guard *RedirectGuard,
	provider IdentityProvider,
	directory *principal.Directory,
	tokens *token.Store,
	uiOrigin string,
	tokenTTL time.Duration,
	tokenMode TokenMode,
) (*Service, error) {
	if guard == nil {
		return nil, errors.New("[NewService] redirect guard is required")
	}
	if provider == nil {
		return nil, errors.New("[NewService] identity provider is required")
	}
	if directory == nil {
		return nil, errors.New("[NewService] principal directory is required")
	}
	if tokens == nil {
		return nil, errors.New("[NewService] token store is required")
	}
	if tokenTTL <= 0 {
		return nil, errors.Errorf("[NewService] token ttl must be positive, got %s", tokenTTL)
	}
	if tokenMode != TokenModeUpstream && tokenMode != TokenModeLocal {
		return nil, errors.Errorf("[NewService] unknown token mode %q", tokenMode)
	}
	return &Service{
		guard:     guard,
		provider:  provider,
		directory: directory,
		tokens:    tokens,
		uiOrigin:  uiOrigin,
		tokenTTL:  tokenTTL,
		tokenMode: tokenMode,
	}, nil
}

// Initiate validates the continuation target and returns the provider
// authorization URL to redirect the browser to. An omitted target defaults
// to the UI origin; an untrusted one fails with ErrRedirectRejected.
func (s *Service) Initiate(_ context.Context, continueURL string) (string, error) {
	if continueURL == "" {
		continueURL = s.uiOrigin
	}
	if !s.guard.Validate(continueURL) {
		return "", errors.Wrapf(ErrRedirectRejected, "[Service.Initiate] %q", continueURL)
	}
	return s.provider.AuthCodeURL(encodeState(continueURL)), nil
}

// Callback completes the handshake: it exchanges the grant, reconciles the
// principal, reuses or issues a bearer token, re-validates the state-carried
// continuation URL and builds the final redirect with the token attached.
// No step retries automatically; any failure rejects the whole handshake.
func (s *Service) Callback(ctx context.Context, grant, state string) (*HandshakeResult, error) {
	continueURL, err := decodeState(state)
	if err != nil {
		return nil, err
	}

	upstreamToken, identity, err := s.provider.Exchange(ctx, grant)
	if err != nil {
		return nil, errors.Wrap(err, "[Service.Callback] exchange")
	}

	p, err := s.directory.Reconcile(ctx, identity)
	if err != nil {
		return nil, errors.Wrap(err, "[Service.Callback] reconcile")
	}

	tok, err := s.resolveToken(ctx, p.ID, upstreamToken)
	if err != nil {
		return nil, err
	}

	// Defends against a state parameter tampered with in transit.
	if !s.guard.Validate(continueURL) {
		return nil, errors.Wrapf(ErrRedirectRejected, "[Service.Callback] %q", continueURL)
	}

	redirectURL, err := attachToken(continueURL, tok)
	if err != nil {
		return nil, err
	}
	log.Info().Str("username", p.Username).Str("redirect", continueURL).Msg("handshake complete")
	return &HandshakeResult{Principal: p, Token: tok, RedirectURL: redirectURL}, nil
}

// resolveToken reuses the principal's newest valid token when one exists,
// bounding churn to once per TTL window rather than once per login.
func (s *Service) resolveToken(ctx context.Context, principalID, upstreamToken string) (*token.AccessToken, error) {
	existing, err := s.tokens.LatestValid(ctx, principalID)
	if err != nil {
		return nil, errors.Wrap(err, "[Service.resolveToken] latest valid")
	}
	if existing != nil {
		return existing, nil
	}

	value, generator := upstreamToken, token.GeneratorGithub
	if s.tokenMode == TokenModeLocal {
		if value, err = token.NewSecret(); err != nil {
			return nil, errors.Wrap(err, "[Service.resolveToken] mint secret")
		}
		generator = token.GeneratorLocal
	} else if value == "" {
		// A provider can complete the exchange yet hand back an empty
		// access token; there is nothing to store or redirect with.
		return nil, errors.Wrap(ErrNoUsableToken, "[Service.resolveToken] empty upstream token")
	}

	issued, err := s.tokens.Issue(ctx, principalID, value, generator, s.tokenTTL)
	if errors.Is(err, token.ErrTokenCollision) {
		// A true collision should never repeat; one retry with a freshly
		// minted value before giving up.
		retryValue, mintErr := token.NewSecret()
		if mintErr != nil {
			return nil, errors.Wrap(mintErr, "[Service.resolveToken] mint retry secret")
		}
		issued, err = s.tokens.Issue(ctx, principalID, retryValue, token.GeneratorLocal, s.tokenTTL)
	}
	if err != nil {
		return nil, errors.Wrap(err, "[Service.resolveToken] issue")
	}
	return issued, nil
}

func attachToken(continueURL string, tok *token.AccessToken) (string, error) {
	u, err := url.Parse(continueURL)
	if err != nil {
		return "", errors.Wrap(ErrRedirectRejected, "[attachToken] parse continuation url")
	}
	q := u.Query()
	q.Set("token", tok.Token)
	q.Set("expiresAt", tok.ExpiresAt.UTC().Format(time.RFC3339))
	u.RawQuery = q.Encode()
	return u.String(), nil
}
