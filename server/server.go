// Package server wires the auth subsystem onto its HTTP surface.
package server

import (
	"net/http"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/kpmdev/kpm-registry/auth"
	"github.com/kpmdev/kpm-registry/internal/config"
	"github.com/kpmdev/kpm-registry/principal"
	"github.com/kpmdev/kpm-registry/session"
	"github.com/kpmdev/kpm-registry/token"
)

type Server struct {
	env        string
	mux        *http.ServeMux
	routes     []string
	config     config.Config
	auth       *auth.Service
	tokens     *token.Store
	principals principal.Repo
	sessions   session.Store
}

func New(cfg config.Config, authService *auth.Service, tokens *token.Store, principals principal.Repo, sessions session.Store) (*Server, error) {
	if authService == nil {
		return nil, errors.New("[server.New] auth service is required")
	}
	if tokens == nil {
		return nil, errors.New("[server.New] token store is required")
	}
	if principals == nil {
		return nil, errors.New("[server.New] principal repo is required")
	}
	if sessions == nil {
		return nil, errors.New("[server.New] session store is required")
	}

	s := &Server{
		env:        cfg.Env,
		mux:        http.NewServeMux(),
		config:     cfg,
		auth:       authService,
		tokens:     tokens,
		principals: principals,
		sessions:   sessions,
	}
	s.initRoutes()
	s.logRoutes()
	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) RegisterRouteFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	s.routes = append(s.routes, pattern)
	s.mux.HandleFunc(pattern, handler)
}

func (s *Server) logRoutes() {
	if s.env != "DEV" {
		return
	}
	for _, route := range s.routes {
		log.Debug().Str("route", route).Msg("registered")
	}
}

// getScheme determines http/https, honoring a forwarding proxy.
func getScheme(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	if scheme := r.Header.Get("X-Forwarded-Proto"); scheme != "" {
		return scheme
	}
	return "http"
}
