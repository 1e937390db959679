package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// Pinger is anything whose connectivity gates readiness (the session cache).
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthChecker serves liveness/readiness probes and the metrics endpoint on
// the health port.
type HealthChecker struct {
	cache Pinger
}

// NewHealthChecker creates a health checker over the given dependencies.
func NewHealthChecker(cache Pinger) *HealthChecker {
	return &HealthChecker{cache: cache}
}

// HealthStatus is the probe response body.
type HealthStatus struct {
	Status       string            `json:"status"`
	Timestamp    time.Time         `json:"timestamp"`
	Dependencies map[string]string `json:"dependencies,omitempty"`
}

// Liveness always reports healthy while the process serves requests.
func (h *HealthChecker) Liveness(w http.ResponseWriter, r *http.Request) {
	writeStatus(w, http.StatusOK, HealthStatus{
		Status:    StatusHealthy,
		Timestamp: time.Now(),
	})
}

// Readiness checks dependencies; an unreachable cache makes the gateway
// unready since every authentication decision needs it.
func (h *HealthChecker) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := HealthStatus{
		Status:       StatusHealthy,
		Timestamp:    time.Now(),
		Dependencies: map[string]string{},
	}
	code := http.StatusOK

	if h.cache != nil {
		if err := h.cache.Ping(ctx); err != nil {
			status.Status = StatusUnhealthy
			status.Dependencies["cache"] = err.Error()
			code = http.StatusServiceUnavailable
		} else {
			status.Dependencies["cache"] = StatusHealthy
		}
	}

	writeStatus(w, code, status)
}

// Handler builds the health mux: /healthz, /readyz and /metrics.
func (h *HealthChecker) Handler(registry *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.Liveness)
	mux.HandleFunc("/readyz", h.Readiness)
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	return mux
}

func writeStatus(w http.ResponseWriter, code int, status HealthStatus) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(status)
}
