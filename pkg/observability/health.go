package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// HealthStatus represents the health of a single component
type HealthStatus struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

// HealthCheck probes one component
type HealthCheck func(ctx context.Context) error

// HealthChecker aggregates component health checks
type HealthChecker struct {
	mu     sync.RWMutex
	checks map[string]HealthCheck
}

// NewHealthChecker creates an empty health checker
func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		checks: make(map[string]HealthCheck),
	}
}

// Register adds a named component check
func (h *HealthChecker) Register(name string, check HealthCheck) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check
}

// Check runs all registered checks and reports per-component status
func (h *HealthChecker) Check(ctx context.Context) (bool, []HealthStatus) {
	h.mu.RLock()
	checks := make(map[string]HealthCheck, len(h.checks))
	for name, check := range h.checks {
		checks[name] = check
	}
	h.mu.RUnlock()

	healthy := true
	statuses := make([]HealthStatus, 0, len(checks))
	for name, check := range checks {
		status := HealthStatus{Name: name, Healthy: true}
		checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := check(checkCtx); err != nil {
			status.Healthy = false
			status.Error = err.Error()
			healthy = false
		}
		cancel()
		statuses = append(statuses, status)
	}

	return healthy, statuses
}

// Handler returns an HTTP handler for health probes
func (h *HealthChecker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		healthy, statuses := h.Check(r.Context())

		w.Header().Set("Content-Type", "application/json")
		if !healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":     map[bool]string{true: "healthy", false: "unhealthy"}[healthy],
			"components": statuses,
			"checked_at": time.Now().UTC(),
		})
	})
}
