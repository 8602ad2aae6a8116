package api

import (
	"net/http"

	"chapel-auth/api/handlers"
	"chapel-auth/api/routegroups"
	"chapel-auth/core/rbac"
	"github.com/go-chi/chi/v5"
)

func (s *Server) registerRoutes() {
	s.router.Use(s.recoverMiddleware)
	s.router.Use(s.requestMetaMiddleware)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.securityHeadersMiddleware)

	s.registerObservabilityRoutes()

	apiRouter := chi.NewRouter()
	apiRouter.Use(s.jsonMiddleware)
	apiRouter.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "not found"})
	})

	if s.authn != nil {
		h := handlers.NewAuthHandler(s.cfg, s.authn, s.policy, s.logger)
		routegroups.RegisterAuth(apiRouter, s.guards(), h)
	}
	s.router.Mount("/api", apiRouter)
}

func (s *Server) guards() routegroups.Guards {
	return routegroups.Guards{
		WithSession:     s.withSession,
		OptionalSession: s.optionalSession,
		RequirePermission: func(perm string) func(http.HandlerFunc) http.HandlerFunc {
			return s.requirePermission(rbac.Permission(perm))
		},
		RequireRole: s.requireRole,
		LoginLimit:  s.rateLimitMiddleware,
	}
}
