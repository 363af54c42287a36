package server

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/kpmdev/kpm-registry/auth"
	"github.com/kpmdev/kpm-registry/principal"
	"github.com/kpmdev/kpm-registry/session"
)

// LoginHandler starts the OAuth handshake. The optional continueUrl query
// parameter names where the browser should land after login; it is validated
// before being folded into the provider state.
func (s *Server) LoginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authURL, err := s.auth.Initiate(r.Context(), r.URL.Query().Get("continueUrl"))
		if err != nil {
			log.Warn().Err(err).Msg("[LoginHandler] initiate rejected")
			http.Error(w, "untrusted redirect target", http.StatusBadRequest)
			return
		}
		http.Redirect(w, r, authURL, http.StatusFound)
	}
}

// CallbackHandler completes the handshake: it exchanges the grant, establishes
// a browser session and redirects back to the UI with the token attached.
func (s *Server) CallbackHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		if upstreamErr := query.Get("error"); upstreamErr != "" {
			log.Warn().Str("error", upstreamErr).Msg("[CallbackHandler] provider denied authorization")
			http.Error(w, "authorization denied", http.StatusUnauthorized)
			return
		}

		grant := query.Get("code")
		if grant == "" {
			http.Error(w, "missing authorization code", http.StatusBadRequest)
			return
		}

		result, err := s.auth.Callback(r.Context(), grant, query.Get("state"))
		if err != nil {
			status := statusForError(err)
			log.Error().Err(err).Int("status", status).Msg("[CallbackHandler] handshake failed")
			http.Error(w, http.StatusText(status), status)
			return
		}

		sessionID, err := s.establishSession(r, result.Principal)
		if err != nil {
			// The handshake itself succeeded; the bearer token still reaches
			// the UI on the redirect, so only log the session failure.
			log.Error().Err(err).Msg("[CallbackHandler] session not established")
		} else {
			http.SetCookie(w, s.sessionCookie(r, sessionID))
		}

		http.Redirect(w, r, result.RedirectURL, http.StatusFound)
	}
}

// LogoutHandler destroys the browser session, expires its cookie and sends
// the browser back to the UI. Bearer tokens are unaffected; they run out
// their TTL.
func (s *Server) LogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cookie, err := r.Cookie(SessionCookieName); err == nil && cookie.Value != "" {
			if err := s.sessions.Destroy(r.Context(), cookie.Value); err != nil {
				log.Error().Err(err).Msg("[LogoutHandler] destroy session")
			}
		}
		http.SetCookie(w, &http.Cookie{
			Name:     SessionCookieName,
			Value:    "",
			Path:     "/",
			HttpOnly: true,
			MaxAge:   -1,
		})
		http.Redirect(w, r, s.config.UIURL, http.StatusFound)
	}
}

func (s *Server) establishSession(r *http.Request, p *principal.Principal) (string, error) {
	sessionID := uuid.New().String()
	if err := s.sessions.Save(r.Context(), sessionID, session.Serialize(*p)); err != nil {
		return "", errors.Wrap(err, "[Server.establishSession] save")
	}
	return sessionID, nil
}

func (s *Server) sessionCookie(r *http.Request, sessionID string) *http.Cookie {
	return &http.Cookie{
		Name:     SessionCookieName,
		Value:    sessionID,
		Path:     "/",
		HttpOnly: true,
		Secure:   getScheme(r) == "https",
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(s.config.SessionTTL.Seconds()),
	}
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, auth.ErrRedirectRejected):
		return http.StatusBadRequest
	case errors.Is(err, principal.ErrIdentityIncomplete):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrUpstreamExchangeFailed):
		return http.StatusUnauthorized
	case errors.Is(err, auth.ErrUpstreamTimeout):
		return http.StatusBadGateway
	case errors.Is(err, auth.ErrNoUsableToken):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
