package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/kpmdev/kpm-registry/principal"
	"github.com/kpmdev/kpm-registry/session"
)

type contextKey string

// ContextKeyPrincipal carries the authenticated principal across handlers.
const ContextKeyPrincipal contextKey = "principal"

// SessionCookieName is the cookie holding the browser session id.
const SessionCookieName = "kpm_session"

// PrincipalFromContext returns the authenticated principal, if any.
func PrincipalFromContext(ctx context.Context) (principal.Principal, bool) {
	p, ok := ctx.Value(ContextKeyPrincipal).(principal.Principal)
	return p, ok
}

// WithSession resolves the session cookie into a principal and attaches it to
// the request context. Missing, expired or malformed sessions leave the
// request anonymous; RequireAuth decides whether that matters.
func (s *Server) WithSession() func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(SessionCookieName)
			if err != nil || cookie.Value == "" {
				next(w, r)
				return
			}

			record, err := s.sessions.Load(r.Context(), cookie.Value)
			if err != nil {
				if !errors.Is(err, session.ErrNotFound) {
					log.Debug().Err(err).Msg("[WithSession] session load failed")
				}
				next(w, r)
				return
			}

			p, err := session.Deserialize(record)
			if err != nil {
				log.Debug().Err(err).Msg("[WithSession] discarding malformed session")
				next(w, r)
				return
			}

			next(w, r.WithContext(context.WithValue(r.Context(), ContextKeyPrincipal, p)))
		}
	}
}

// RequireAuth admits requests that carry either an authenticated session
// (established by WithSession) or a valid bearer access token.
func (s *Server) RequireAuth() func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if _, ok := PrincipalFromContext(r.Context()); ok {
				next(w, r)
				return
			}

			tokenValue, ok := bearerToken(r)
			if !ok {
				http.Error(w, "missing credentials", http.StatusUnauthorized)
				return
			}

			accessToken, err := s.tokens.Resolve(r.Context(), tokenValue)
			if err != nil {
				log.Error().Err(err).Msg("[RequireAuth] token lookup failed")
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}
			if accessToken == nil {
				http.Error(w, "invalid or expired token", http.StatusForbidden)
				return
			}

			p, err := s.principals.GetByID(r.Context(), accessToken.PrincipalID)
			if err != nil {
				if errors.Is(err, principal.ErrNotFound) {
					http.Error(w, "invalid or expired token", http.StatusForbidden)
					return
				}
				log.Error().Err(err).Msg("[RequireAuth] principal lookup failed")
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}

			next(w, r.WithContext(context.WithValue(r.Context(), ContextKeyPrincipal, *p)))
		}
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}
