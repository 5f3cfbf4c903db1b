package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/car-platform/go-core/internal/audit"
	"github.com/car-platform/go-core/internal/auth"
	"github.com/car-platform/go-core/internal/auth/serviceaccount"
	"github.com/car-platform/go-core/internal/metrics"
	"github.com/car-platform/go-core/internal/tenant"
)

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Addr         string
	PathPrefix   string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// RequestTimeout bounds handler execution through the request
	// context, admission included.
	RequestTimeout time.Duration

	Version string

	Validator  *auth.Validator
	Resolver   *tenant.Resolver
	TokenStore serviceaccount.Store

	// Revocations may be nil; revokes then rely on the store alone.
	Revocations RevocationMarker

	// Audit may be nil; denials then go unaudited (tests only).
	Audit audit.Logger

	// Metrics may be nil.
	Metrics *metrics.Metrics
	Logger  *zap.Logger
}

// Server is the admission HTTP server. Health, readiness, and metrics
// live outside the API prefix and bypass admission.
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	guard      *Guard
	admission  *Admission
	prefix     string
	logger     *zap.Logger
}

// NewServer wires the middleware chain and the built-in routes.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Validator == nil {
		return nil, errors.New("validator is required")
	}
	if cfg.Resolver == nil {
		return nil, errors.New("resolver is required")
	}
	if cfg.TokenStore == nil {
		return nil, errors.New("token store is required")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.PathPrefix == "" {
		cfg.PathPrefix = "/api/"
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 15 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 15 * time.Second
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 60 * time.Second
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	admission, err := NewAdmission(AdmissionConfig{
		Validator:  cfg.Validator,
		Resolver:   cfg.Resolver,
		PathPrefix: cfg.PathPrefix,
		Metrics:    cfg.Metrics,
		Logger:     cfg.Logger,
	})
	if err != nil {
		return nil, err
	}

	s := &Server{
		router:    mux.NewRouter(),
		guard:     NewGuard(cfg.Audit, cfg.Metrics, cfg.Logger),
		admission: admission,
		prefix:    cfg.PathPrefix,
		logger:    cfg.Logger,
	}

	health := NewHealthHandler(cfg.Resolver, cfg.Version)
	s.router.HandleFunc("/healthz", health.Healthz).Methods(http.MethodGet)
	s.router.HandleFunc("/readyz", health.Readyz).Methods(http.MethodGet)
	if cfg.Metrics != nil {
		s.router.Handle("/metrics", cfg.Metrics.Handler()).Methods(http.MethodGet)
	}

	// Tenant-admin token management, behind the admin role.
	saHandler := NewServiceAccountHandler(cfg.TokenStore, cfg.Revocations, cfg.Logger)
	saRouter := s.APIRouter().PathPrefix("/v1/auth/service-accounts").Subrouter()
	saRouter.Use(s.guard.RequireRole("admin"))
	saHandler.Register(saRouter)

	handler := Recovery(cfg.Logger)(RequestTimeout(cfg.RequestTimeout)(admission.Handler(s.router)))
	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s, nil
}

// APIRouter returns the router scoped to the admission-protected
// prefix. Handlers mounted here can rely on the request context
// accessors.
func (s *Server) APIRouter() *mux.Router {
	return s.router.PathPrefix(strings.TrimSuffix(s.prefix, "/")).Subrouter()
}

// Guard returns the authorization guard for route registration.
func (s *Server) Guard() *Guard {
	return s.guard
}

// Handler returns the full middleware chain, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start serves until the listener fails or Shutdown runs.
func (s *Server) Start() error {
	s.logger.Info("HTTP server starting", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("HTTP server shutting down")
	return s.httpServer.Shutdown(ctx)
}
