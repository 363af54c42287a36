package server

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"
)

// userResponse is the public shape of a principal. Upstream identifiers and
// contact details stay server-side.
type userResponse struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// UserHandler returns the authenticated principal. RequireAuth guarantees a
// principal is on the context by the time this runs.
func (s *Server) UserHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := PrincipalFromContext(r.Context())
		if !ok {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(userResponse{ID: p.ID, Username: p.Username}); err != nil {
			log.Error().Err(err).Msg("[UserHandler] encode response")
		}
	}
}
