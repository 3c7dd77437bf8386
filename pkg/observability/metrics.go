package observability

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Access decisions
	PermissionChecksTotal *prometheus.CounterVec
	GuardDenialsTotal     *prometheus.CounterVec
	AccountChangesTotal   *prometheus.CounterVec

	// Audit
	AuditFailuresTotal prometheus.Counter

	// Seeding
	SeedItemsTotal   *prometheus.CounterVec
	SeedWarnings     prometheus.Counter
	UnmappedRoutes   prometheus.Gauge
	ValidationIssues prometheus.Gauge

	// Cache metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Events
	EventsDroppedTotal *prometheus.CounterVec

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rbacd_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rbacd_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		PermissionChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rbacd_permission_checks_total",
				Help: "Route permission checks by decision",
			},
			[]string{"decision"},
		),
		GuardDenialsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rbacd_guard_denials_total",
				Help: "Account mutations blocked by the hierarchy guard, by rule",
			},
			[]string{"rule"},
		),
		AccountChangesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rbacd_account_changes_total",
				Help: "Successful account mutations by operation",
			},
			[]string{"operation"},
		),

		AuditFailuresTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "rbacd_audit_failures_total",
				Help: "Audit entries that could not be written",
			},
		),

		SeedItemsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rbacd_seed_items_total",
				Help: "Items touched by seeding, by phase and outcome",
			},
			[]string{"phase", "outcome"},
		),
		SeedWarnings: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "rbacd_seed_warnings_total",
				Help: "Catalog inconsistencies reported while seeding",
			},
		),
		UnmappedRoutes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "rbacd_unmapped_routes",
				Help: "Non-public routes without a permission after the last seed",
			},
		),
		ValidationIssues: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "rbacd_route_validation_issues",
				Help: "Issues reported by the last route mapping validation",
			},
		),

		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rbacd_cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"cache"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rbacd_cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"cache"},
		),

		EventsDroppedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rbacd_events_dropped_total",
				Help: "Total number of events dropped because the outbox was full or closed",
			},
			[]string{"kind"},
		),

		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "rbacd_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "rbacd_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.PermissionChecksTotal,
		m.GuardDenialsTotal,
		m.AccountChangesTotal,
		m.AuditFailuresTotal,
		m.SeedItemsTotal,
		m.SeedWarnings,
		m.UnmappedRoutes,
		m.ValidationIssues,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.EventsDroppedTotal,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
	)

	return m
}

// The helpers below accept a nil receiver so that components can run
// without metrics in tests and tools.

// PermissionCheck counts an access decision
func (m *Metrics) PermissionCheck(decision string) {
	if m == nil {
		return
	}
	m.PermissionChecksTotal.WithLabelValues(decision).Inc()
}

// GuardDenied counts a hierarchy guard denial
func (m *Metrics) GuardDenied(rule string) {
	if m == nil {
		return
	}
	m.GuardDenialsTotal.WithLabelValues(rule).Inc()
}

// AccountChanged counts a successful account mutation
func (m *Metrics) AccountChanged(op string) {
	if m == nil {
		return
	}
	m.AccountChangesTotal.WithLabelValues(op).Inc()
}

// EventDropped counts an event the outbox could not enqueue
func (m *Metrics) EventDropped(kind string) {
	if m == nil {
		return
	}
	m.EventsDroppedTotal.WithLabelValues(kind).Inc()
}

// AuditFailures returns the audit failure counter, nil without metrics
func (m *Metrics) AuditFailures() prometheus.Counter {
	if m == nil {
		return nil
	}
	return m.AuditFailuresTotal
}

// SeedItems adds n to a seeding counter
func (m *Metrics) SeedItems(phase, outcome string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.SeedItemsTotal.WithLabelValues(phase, outcome).Add(float64(n))
}

// SeedWarning counts catalog warnings
func (m *Metrics) SeedWarning(n int) {
	if m == nil || n == 0 {
		return
	}
	m.SeedWarnings.Add(float64(n))
}

// SetUnmappedRoutes records the unmapped route count
func (m *Metrics) SetUnmappedRoutes(n int) {
	if m == nil {
		return
	}
	m.UnmappedRoutes.Set(float64(n))
}

// SetValidationIssues records the latest validation issue count
func (m *Metrics) SetValidationIssues(n int) {
	if m == nil {
		return
	}
	m.ValidationIssues.Set(float64(n))
}

// CacheHit counts a cache hit
func (m *Metrics) CacheHit(cache string) {
	if m == nil {
		return
	}
	m.CacheHitsTotal.WithLabelValues(cache).Inc()
}

// CacheMiss counts a cache miss
func (m *Metrics) CacheMiss(cache string) {
	if m == nil {
		return
	}
	m.CacheMissesTotal.WithLabelValues(cache).Inc()
}

// RecordDBStats copies connection pool stats into the gauges
func (m *Metrics) RecordDBStats(stats sql.DBStats) {
	if m == nil {
		return
	}
	m.DBConnectionsActive.Set(float64(stats.InUse))
	m.DBConnectionsIdle.Set(float64(stats.Idle))
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// routeLabel prefers the mux path template to keep label cardinality bounded
func routeLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(metrics *Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			route := routeLabel(r)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(router *mux.Router, gatherer prometheus.Gatherer) {
	router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
}
