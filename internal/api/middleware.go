package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/car-platform/go-core/internal/auth"
	"github.com/car-platform/go-core/internal/metrics"
	"github.com/car-platform/go-core/internal/tenant"
)

// Admission is the per-request pipeline: extract, validate, resolve,
// enrich. Paths outside the API prefix bypass it entirely.
type Admission struct {
	validator *auth.Validator
	resolver  *tenant.Resolver
	prefix    string
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// AdmissionConfig contains configuration for the admission middleware.
type AdmissionConfig struct {
	Validator *auth.Validator
	Resolver  *tenant.Resolver

	// PathPrefix guards which paths require admission (default /api/).
	PathPrefix string

	// Metrics is optional.
	Metrics *metrics.Metrics
	Logger  *zap.Logger
}

// NewAdmission creates the admission middleware.
func NewAdmission(cfg AdmissionConfig) (*Admission, error) {
	if cfg.Validator == nil {
		return nil, errors.New("validator is required")
	}
	if cfg.Resolver == nil {
		return nil, errors.New("resolver is required")
	}
	if cfg.PathPrefix == "" {
		cfg.PathPrefix = "/api/"
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &Admission{
		validator: cfg.Validator,
		resolver:  cfg.Resolver,
		prefix:    cfg.PathPrefix,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
	}, nil
}

// Handler wraps next with the admission chain.
func (a *Admission) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, a.prefix) {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()

		raw, err := auth.ExtractBearer(r.Header.Get("Authorization"))
		if err != nil {
			a.reject(w, r, classifyAuthError(auth.ErrMissingToken), start)
			return
		}

		claims, err := a.validator.Validate(r.Context(), raw)
		if err != nil {
			a.reject(w, r, classifyAuthError(err), start)
			return
		}

		lease, hit, err := a.resolver.Resolve(r.Context(), claims.TenantID)
		if err != nil {
			a.reject(w, r, classifyResolveError(err), start)
			return
		}
		defer lease.Release()

		st := &requestState{
			claims:   claims,
			tenantID: claims.TenantID,
			lease:    lease,
			memo:     make(map[string]bool),
		}
		next.ServeHTTP(w, withState(r, st))

		elapsed := time.Since(start)
		if a.metrics != nil {
			a.metrics.Admission("allowed", elapsed)
		}
		a.logger.Info("Request admitted",
			zap.String("tenant_id", claims.TenantID),
			zap.String("path", r.URL.Path),
			zap.Int64("elapsed_ms", elapsed.Milliseconds()),
			zap.Bool("cache_hit", hit),
		)
	})
}

func (a *Admission) reject(w http.ResponseWriter, r *http.Request, f authFailure, start time.Time) {
	if f.status == http.StatusUnauthorized {
		writeUnauthorized(w, f.detail, f.code)
	} else {
		writeError(w, f.status, f.detail, f.code)
	}

	elapsed := time.Since(start)
	if a.metrics != nil {
		outcome := "unauthorized"
		if f.status >= http.StatusInternalServerError {
			outcome = "error"
		}
		a.metrics.Admission(outcome, elapsed)
		a.metrics.ValidationFailure(f.reason)
	}

	// Reason only; never the token or any credential material.
	a.logger.Info("Request rejected",
		zap.String("path", r.URL.Path),
		zap.Int("status", f.status),
		zap.String("reason", f.reason),
		zap.Int64("elapsed_ms", elapsed.Milliseconds()),
	)
}

// Recovery converts panics into 500s without corrupting shared state.
func Recovery(logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("Handler panic",
						zap.Any("panic", rec),
						zap.String("path", r.URL.Path),
					)
					writeInternal(w)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// RequestTimeout bounds handler execution via the request context.
func RequestTimeout(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
