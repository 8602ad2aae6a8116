package api

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"chapel-auth/config"
	"chapel-auth/core/auth"
	"chapel-auth/core/maintenance"
	"chapel-auth/core/rbac"
	"chapel-auth/core/utils"
	"github.com/go-chi/chi/v5"
)

type Server struct {
	cfg          *config.AppConfig
	router       chi.Router
	httpServer   *http.Server
	logger       *utils.Logger
	db           *sql.DB
	authn        *auth.Authenticator
	policy       *rbac.Policy
	maintenance  *maintenance.Worker
	loginLimiter *loginLimiter
}

func NewServer(cfg *config.AppConfig, logger *utils.Logger, deps ServerDeps) *Server {
	policy := deps.Policy
	if policy == nil {
		policy = rbac.NewPolicy(rbac.DefaultRoles(), cfg.Auth.AdminRole)
	}
	s := &Server{
		cfg:          cfg,
		router:       chi.NewRouter(),
		logger:       logger,
		db:           deps.DB,
		authn:        deps.Authenticator,
		policy:       policy,
		maintenance:  deps.Maintenance,
		loginLimiter: newLoginLimiter(cfg.Auth.LoginRatePerMinute),
	}
	s.registerRoutes()
	return s
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	s.logger.Printf("listening on %s (tls=%t)", s.cfg.ListenAddr, s.cfg.TLSEnabled)
	if s.cfg.TLSEnabled {
		return s.httpServer.ListenAndServeTLS(s.cfg.TLSCert, s.cfg.TLSKey)
	}
	return s.httpServer.ListenAndServe()
}

func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
