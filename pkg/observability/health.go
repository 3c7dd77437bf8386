package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
)

// HealthChecker probes the service's dependencies
type HealthChecker struct {
	db      *sql.DB
	redis   *redis.Client
	version string
	probes  []probe
	now     func() time.Time
}

type probe struct {
	name     string
	critical bool
	fn       func(context.Context) error
}

// NewHealthChecker creates a health checker. Either dependency may be nil.
func NewHealthChecker(db *sql.DB, redis *redis.Client) *HealthChecker {
	return &HealthChecker{db: db, redis: redis, now: time.Now}
}

// WithVersion sets the version reported by Check
func (h *HealthChecker) WithVersion(version string) *HealthChecker {
	h.version = version
	return h
}

// AddCheck registers an extra probe. A failing critical probe makes the
// service unhealthy; a failing non-critical probe only degrades it.
func (h *HealthChecker) AddCheck(name string, critical bool, fn func(context.Context) error) {
	h.probes = append(h.probes, probe{name: name, critical: critical, fn: fn})
}

// HealthStatus represents the overall health status
type HealthStatus struct {
	Status       string                      `json:"status"`
	Timestamp    time.Time                   `json:"timestamp"`
	Version      string                      `json:"version,omitempty"`
	Dependencies map[string]DependencyStatus `json:"dependencies,omitempty"`
}

// DependencyStatus represents the health of a single dependency
type DependencyStatus struct {
	Status    string        `json:"status"`
	Message   string        `json:"message,omitempty"`
	Latency   time.Duration `json:"latency_ms,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// Liveness always answers 200 while the process serves requests
func (h *HealthChecker) Liveness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    StatusHealthy,
		"timestamp": h.now(),
	})
}

// Readiness answers 503 when a critical dependency is down
func (h *HealthChecker) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := h.Check(ctx)

	w.Header().Set("Content-Type", "application/json")
	if status.Status == StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	json.NewEncoder(w).Encode(status)
}

// Check runs every probe. The database is critical; Redis only backs the
// shared permission cache, so losing it degrades the service.
func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:       StatusHealthy,
		Timestamp:    h.now(),
		Version:      h.version,
		Dependencies: make(map[string]DependencyStatus),
	}

	probes := make([]probe, 0, len(h.probes)+2)
	if h.db != nil {
		probes = append(probes, probe{name: "database", critical: true, fn: h.checkDatabase})
	}
	if h.redis != nil {
		probes = append(probes, probe{name: "redis", fn: func(ctx context.Context) error {
			return h.redis.Ping(ctx).Err()
		}})
	}
	probes = append(probes, h.probes...)
	sort.SliceStable(probes, func(i, j int) bool { return probes[i].name < probes[j].name })

	for _, p := range probes {
		start := h.now()
		dep := DependencyStatus{Status: StatusHealthy, Timestamp: start}
		if err := p.fn(ctx); err != nil {
			dep.Status = StatusUnhealthy
			dep.Message = err.Error()
			switch {
			case p.critical:
				status.Status = StatusUnhealthy
			case status.Status != StatusUnhealthy:
				status.Status = StatusDegraded
			}
		}
		dep.Latency = h.now().Sub(start)
		status.Dependencies[p.name] = dep
	}
	return status
}

func (h *HealthChecker) checkDatabase(ctx context.Context) error {
	if err := h.db.PingContext(ctx); err != nil {
		return err
	}
	var one int
	return h.db.QueryRowContext(ctx, "SELECT 1").Scan(&one)
}

// RegisterHealthRoutes registers the health endpoints
func RegisterHealthRoutes(router *mux.Router, checker *HealthChecker) {
	router.HandleFunc("/health", checker.Readiness).Methods(http.MethodGet)
	router.HandleFunc("/health/live", checker.Liveness).Methods(http.MethodGet)
	router.HandleFunc("/health/ready", checker.Readiness).Methods(http.MethodGet)
}
