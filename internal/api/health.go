package api

import (
	"net/http"
	"time"

	"github.com/car-platform/go-core/internal/tenant"
)

// HealthHandler serves liveness and readiness outside the API prefix.
type HealthHandler struct {
	resolver  *tenant.Resolver
	startTime time.Time
	version   string
}

// NewHealthHandler creates the handler.
func NewHealthHandler(resolver *tenant.Resolver, version string) *HealthHandler {
	return &HealthHandler{
		resolver:  resolver,
		startTime: time.Now(),
		version:   version,
	}
}

// Healthz is liveness: the process is up.
func (h *HealthHandler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": h.version,
		"uptime":  time.Since(h.startTime).Round(time.Second).String(),
	})
}

// Readyz is readiness: reports tenant cache statistics alongside.
func (h *HealthHandler) Readyz(w http.ResponseWriter, _ *http.Request) {
	var stats tenant.Stats
	if h.resolver != nil {
		stats = h.resolver.Stats()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "ready",
		"tenant_cache": stats,
	})
}
