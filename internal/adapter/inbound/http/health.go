package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/zapgate/zapgate/internal/domain/session"
)

// HealthResponse is the JSON response from the /health endpoint.
type HealthResponse struct {
	Status  string            `json:"status"`            // "healthy" or "unhealthy"
	Checks  map[string]string `json:"checks"`            // Component check results
	Version string            `json:"version,omitempty"` // Optional version info
}

// Pinger is anything with a liveness probe (the SQLite store).
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthChecker verifies component health. The health endpoint bypasses
// credential resolution entirely so liveness probes always succeed in
// reaching it.
type HealthChecker struct {
	authority *session.Authority
	store     Pinger
	version   string
}

// NewHealthChecker creates a HealthChecker with optional components.
// Pass nil for components that aren't available.
func NewHealthChecker(authority *session.Authority, store Pinger, version string) *HealthChecker {
	return &HealthChecker{
		authority: authority,
		store:     store,
		version:   version,
	}
}

// Check performs health checks on all components.
func (h *HealthChecker) Check(ctx context.Context) HealthResponse {
	checks := make(map[string]string)
	healthy := true

	if h.authority != nil {
		stats := h.authority.CacheStats()
		checks["identity_cache"] = fmt.Sprintf("ok: %d entries, %d hits, %d misses",
			stats.Entries, stats.Hits, stats.Misses)
	} else {
		checks["identity_cache"] = "not configured"
	}

	if h.store != nil {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := h.store.Ping(pingCtx); err != nil {
			checks["store"] = fmt.Sprintf("unreachable: %v", err)
			healthy = false
		} else {
			checks["store"] = "ok"
		}
	} else {
		checks["store"] = "not configured"
	}

	checks["goroutines"] = fmt.Sprintf("%d", runtime.NumGoroutine())

	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}

	return HealthResponse{
		Status:  status,
		Checks:  checks,
		Version: h.version,
	}
}

// Handler returns an HTTP handler for the health endpoint.
func (h *HealthChecker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		health := h.Check(r.Context())

		w.Header().Set("Content-Type", "application/json")
		if health.Status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}

		_ = json.NewEncoder(w).Encode(health)
	})
}
