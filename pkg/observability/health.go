package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"sync"
	"time"
)

// HealthStatus represents the health status of the service.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// Check is a named probe against a collaborator.
type Check struct {
	Name     string
	Probe    func(context.Context) error
	Critical bool
}

// HealthChecker runs registered checks on demand.
type HealthChecker struct {
	mu     sync.RWMutex
	checks []Check
	start  time.Time
}

// NewHealthChecker creates a checker.
func NewHealthChecker() *HealthChecker {
	return &HealthChecker{start: time.Now()}
}

// RegisterCheck adds a probe.
func (h *HealthChecker) RegisterCheck(c Check) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, c)
}

// healthResponse is the /health body.
type healthResponse struct {
	Status     HealthStatus      `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Uptime     string            `json:"uptime"`
	Checks     map[string]string `json:"checks,omitempty"`
	Goroutines int               `json:"num_goroutines"`
}

// Handler serves the health report.
func (h *HealthChecker) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		h.mu.RLock()
		checks := append([]Check(nil), h.checks...)
		h.mu.RUnlock()

		resp := healthResponse{
			Status:     HealthStatusHealthy,
			Timestamp:  time.Now().UTC(),
			Uptime:     time.Since(h.start).Round(time.Second).String(),
			Checks:     make(map[string]string, len(checks)),
			Goroutines: runtime.NumGoroutine(),
		}

		for _, c := range checks {
			if err := c.Probe(ctx); err != nil {
				resp.Checks[c.Name] = err.Error()
				if c.Critical {
					resp.Status = HealthStatusUnhealthy
				} else if resp.Status == HealthStatusHealthy {
					resp.Status = HealthStatusDegraded
				}
			} else {
				resp.Checks[c.Name] = "ok"
			}
		}

		code := http.StatusOK
		if resp.Status == HealthStatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(resp)
	}
}
