// Package metrics exposes Prometheus instrumentation for the admission
// chain.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the admission-chain instruments on a private registry.
type Metrics struct {
	admissionTotal     *prometheus.CounterVec
	admissionDuration  prometheus.Histogram
	validationFailures *prometheus.CounterVec
	denialsTotal       *prometheus.CounterVec
	cacheHits          prometheus.Counter
	cacheMisses        prometheus.Counter
	cacheEntries       prometheus.Gauge

	registry *prometheus.Registry
}

// New creates a metrics registry under the given namespace.
func New(namespace string) *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		admissionTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "admission",
				Name:      "requests_total",
				Help:      "Admission decisions by outcome",
			},
			[]string{"outcome"},
		),
		admissionDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "admission",
				Name:      "duration_seconds",
				Help:      "Admission chain latency",
				Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
			},
		),
		validationFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "token",
				Name:      "validation_failures_total",
				Help:      "Token validation failures by reason",
			},
			[]string{"reason"},
		),
		denialsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "authz",
				Name:      "denials_total",
				Help:      "Authorization denials by decision kind",
			},
			[]string{"kind"},
		),
		cacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "tenant_cache",
				Name:      "hits_total",
				Help:      "Tenant connection cache hits",
			},
		),
		cacheMisses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "tenant_cache",
				Name:      "misses_total",
				Help:      "Tenant connection cache misses",
			},
		),
		cacheEntries: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "tenant_cache",
				Name:      "entries",
				Help:      "Tenant connection cache entries",
			},
		),
		registry: registry,
	}

	registry.MustRegister(
		m.admissionTotal,
		m.admissionDuration,
		m.validationFailures,
		m.denialsTotal,
		m.cacheHits,
		m.cacheMisses,
		m.cacheEntries,
	)
	return m
}

// Admission records one admission decision and its latency.
func (m *Metrics) Admission(outcome string, elapsed time.Duration) {
	m.admissionTotal.WithLabelValues(outcome).Inc()
	m.admissionDuration.Observe(elapsed.Seconds())
}

// ValidationFailure records one token validation failure.
func (m *Metrics) ValidationFailure(reason string) {
	m.validationFailures.WithLabelValues(reason).Inc()
}

// Denial records one authorization denial.
func (m *Metrics) Denial(kind string) {
	m.denialsTotal.WithLabelValues(kind).Inc()
}

// CacheHit implements tenant.CacheMetrics.
func (m *Metrics) CacheHit() { m.cacheHits.Inc() }

// CacheMiss implements tenant.CacheMetrics.
func (m *Metrics) CacheMiss() { m.cacheMisses.Inc() }

// SetCacheEntries reports the current cache size.
func (m *Metrics) SetCacheEntries(n int) {
	m.cacheEntries.Set(float64(n))
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
