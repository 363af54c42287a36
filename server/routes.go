package server

import "net/http"

// Route path constants. All application routes are defined here to ensure
// consistency and prevent typos.
const (
	RouteAuth         = "/auth"
	RouteAuthCallback = "/auth/callback"
	RouteAuthLogout   = "/auth/logout"
	RouteUser         = "/user"
	RouteHealthz      = "/healthz"
)

func (s *Server) initRoutes() {
	s.RegisterRouteFunc("GET "+RouteAuth, ChainMiddleware(s.LoginHandler(), s.APIMiddleware()...))
	s.RegisterRouteFunc("GET "+RouteAuthCallback, ChainMiddleware(s.CallbackHandler(), s.APIMiddleware()...))
	s.RegisterRouteFunc("GET "+RouteAuthLogout, ChainMiddleware(s.LogoutHandler(), s.APIMiddleware()...))

	s.RegisterRouteFunc("GET "+RouteUser,
		ChainMiddleware(s.UserHandler(), append(s.APIMiddleware(), s.WithSession(), s.RequireAuth())...))

	// Browsers preflight cross-origin requests that carry an Authorization
	// header. The method-scoped registrations above never match OPTIONS, so
	// every CORS-exposed route gets an explicit OPTIONS registration that
	// CorsMiddleware answers.
	for _, route := range []string{RouteAuth, RouteAuthCallback, RouteAuthLogout, RouteUser} {
		s.RegisterRouteFunc("OPTIONS "+route, ChainMiddleware(s.PreflightHandler(), s.APIMiddleware()...))
	}

	s.RegisterRouteFunc("GET "+RouteHealthz, s.HealthzHandler())
}

// PreflightHandler terminates same-origin OPTIONS requests; cross-origin
// preflights are answered by CorsMiddleware before this runs.
func (s *Server) PreflightHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) HealthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}
