package http

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/zapgate/zapgate/internal/adapter/outbound/memory"
	"github.com/zapgate/zapgate/internal/domain/session"
)

type fakePinger struct{ err error }

func (p fakePinger) Ping(ctx context.Context) error { return p.err }

func TestHealthCheckHealthy(t *testing.T) {
	t.Parallel()

	authority := session.NewAuthority(memory.NewSessionStore(), 8, time.Second, discardLogger())
	t.Cleanup(authority.Close)

	checker := NewHealthChecker(authority, fakePinger{}, "1.2.3")
	health := checker.Check(context.Background())

	if health.Status != "healthy" {
		t.Errorf("Status = %q", health.Status)
	}
	if health.Version != "1.2.3" {
		t.Errorf("Version = %q", health.Version)
	}
	if !strings.HasPrefix(health.Checks["identity_cache"], "ok") {
		t.Errorf("identity_cache = %q", health.Checks["identity_cache"])
	}
	if health.Checks["store"] != "ok" {
		t.Errorf("store = %q", health.Checks["store"])
	}
	if health.Checks["goroutines"] == "" {
		t.Error("goroutines check missing")
	}
}

func TestHealthCheckStoreDown(t *testing.T) {
	t.Parallel()

	checker := NewHealthChecker(nil, fakePinger{err: errors.New("db locked")}, "")
	health := checker.Check(context.Background())

	if health.Status != "unhealthy" {
		t.Errorf("Status = %q, want unhealthy", health.Status)
	}

	rec := httptest.NewRecorder()
	checker.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("handler status = %d, want 503", rec.Code)
	}
}

func TestHealthCheckNilComponents(t *testing.T) {
	t.Parallel()

	checker := NewHealthChecker(nil, nil, "")
	health := checker.Check(context.Background())

	if health.Status != "healthy" {
		t.Errorf("Status = %q, want healthy with nothing configured", health.Status)
	}
	if health.Checks["identity_cache"] != "not configured" {
		t.Errorf("identity_cache = %q", health.Checks["identity_cache"])
	}
	if health.Checks["store"] != "not configured" {
		t.Errorf("store = %q", health.Checks["store"])
	}
}
