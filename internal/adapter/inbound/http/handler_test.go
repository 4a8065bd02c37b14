package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/zapgate/zapgate/internal/adapter/outbound/memory"
	"github.com/zapgate/zapgate/internal/adapter/outbound/state"
	"github.com/zapgate/zapgate/internal/adapter/outbound/wuzapi"
	"github.com/zapgate/zapgate/internal/domain/impersonation"
	"github.com/zapgate/zapgate/internal/domain/session"
	"github.com/zapgate/zapgate/internal/service"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// upstreamCall records one request as seen by the fake upstream.
type upstreamCall struct {
	Method string
	Path   string
	Query  string
	Token  string
}

// gatewayFixture is a full gateway wired against a fake upstream, with
// seeded sessions u1 (user), a1 (admin), s1 (superadmin) and tenant t1.
type gatewayFixture struct {
	gateway  *httptest.Server
	calls    *[]upstreamCall
	sessions *memory.SessionStore
	tenants  *memory.TenantDirectory
	imps     *memory.ImpersonationStore
}

func newGateway(t *testing.T) *gatewayFixture {
	t.Helper()

	calls := &[]upstreamCall{}
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*calls = append(*calls, upstreamCall{
			Method: r.Method,
			Path:   r.URL.Path,
			Query:  r.URL.RawQuery,
			Token:  r.Header.Get(wuzapi.TokenHeader),
		})
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	t.Cleanup(upstream.Close)

	store := memory.NewSessionStore()
	now := time.Now().UTC()
	for _, sess := range []*session.Session{
		{ID: "u1", Role: session.RoleUser, UserToken: "user-tok", AccountID: "acct-u1", ExpiresAt: now.Add(time.Hour)},
		{ID: "a1", Role: session.RoleAdmin, UserToken: "admin-user-tok", AccountID: "acct-a1", ExpiresAt: now.Add(time.Hour)},
		{ID: "s1", Role: session.RoleSuperadmin, AccountID: "acct-s1", ExpiresAt: now.Add(time.Hour)},
	} {
		if err := store.Create(context.Background(), sess); err != nil {
			t.Fatalf("seed session: %v", err)
		}
	}

	authority := session.NewAuthority(store, 64, time.Millisecond, discardLogger())
	t.Cleanup(authority.Close)

	tenants := memory.NewTenantDirectory(&impersonation.Tenant{
		ID: "t1", Name: "Acme", Subdomain: "acme", Token: "tenant-tok",
	})
	mirror := state.NewFileMirror(t.TempDir()+"/mirror.json", discardLogger())
	imps := memory.NewImpersonationStore()
	overlay := impersonation.NewOverlay(imps, mirror, tenants,
		impersonation.Config{TenantCacheTTL: time.Millisecond, TenantCacheMax: 8}, discardLogger())
	t.Cleanup(overlay.Close)

	client := wuzapi.NewClient(upstream.URL, 5*time.Second, discardLogger())
	proxySvc := service.NewProxyService(authority, overlay, client, "admin-tok", discardLogger())

	health := NewHealthChecker(authority, nil, "test")
	handler := NewHandler(proxySvc, authority, store, overlay, nil, 30*time.Minute, discardLogger())

	gateway := httptest.NewServer(RequestIDMiddleware(discardLogger())(handler.Routes(health.Handler())))
	t.Cleanup(gateway.Close)

	return &gatewayFixture{gateway: gateway, calls: calls, sessions: store, tenants: tenants, imps: imps}
}

// do issues a request to the gateway with the session handle header.
func (f *gatewayFixture) do(t *testing.T, method, path, handle string, body io.Reader) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, f.gateway.URL+path, body)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if handle != "" {
		req.Header.Set(SessionHeader, handle)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Do %s %s: %v", method, path, err)
	}
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	var doc map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return doc
}

func TestHealthBypassesCredentials(t *testing.T) {
	t.Parallel()

	f := newGateway(t)
	resp := f.do(t, http.MethodGet, "/health", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d, want 200", resp.StatusCode)
	}
	doc := decodeJSON(t, resp)
	if doc["status"] != "healthy" {
		t.Errorf("status = %v", doc["status"])
	}
	if len(*f.calls) != 0 {
		t.Error("health check hit the upstream")
	}
}

func TestProxyStripsPrefixAndForwards(t *testing.T) {
	t.Parallel()

	f := newGateway(t)
	resp := f.do(t, http.MethodPost, "/user/messages/send/bulk?dry_run=1", "u1",
		bytes.NewReader([]byte(`{}`)))
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != `{"ok":true}` {
		t.Errorf("body = %q, want upstream body passed through", body)
	}

	calls := *f.calls
	if len(calls) != 1 {
		t.Fatalf("upstream calls = %d, want 1", len(calls))
	}
	if calls[0].Path != "/messages/send/bulk" {
		t.Errorf("upstream path = %q, want prefix stripped with nesting preserved", calls[0].Path)
	}
	if calls[0].Query != "dry_run=1" {
		t.Errorf("upstream query = %q", calls[0].Query)
	}
	if calls[0].Token != "user-tok" {
		t.Errorf("upstream token = %q, want the caller's own", calls[0].Token)
	}
}

func TestProxySessionCookieFallback(t *testing.T) {
	t.Parallel()

	f := newGateway(t)
	req, err := http.NewRequest(http.MethodGet, f.gateway.URL+"/user/session/status", nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: "u1"})
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200 via cookie handle", resp.StatusCode)
	}
}

func TestProxyErrorShape(t *testing.T) {
	t.Parallel()

	f := newGateway(t)
	resp := f.do(t, http.MethodGet, "/user/session/status", "ghost", nil)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", resp.StatusCode)
	}
	doc := decodeJSON(t, resp)
	if doc["code"] != "SESSION_ERROR" {
		t.Errorf("code = %v, want SESSION_ERROR", doc["code"])
	}
	if msg, ok := doc["error"].(string); !ok || msg == "" {
		t.Errorf("error = %v, want a user message", doc["error"])
	}
}

// TestImpersonationLifecycle walks the support-session flow end to end:
// the superadmin's admin calls use the configured admin credential, then
// the impersonated tenant's token, then the admin credential again.
func TestImpersonationLifecycle(t *testing.T) {
	t.Parallel()

	f := newGateway(t)
	adminCall := func() {
		t.Helper()
		resp := f.do(t, http.MethodGet, "/admin/users", "s1", nil)
		defer func() { _ = resp.Body.Close() }()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("admin call status = %d", resp.StatusCode)
		}
	}

	adminCall()

	resp := f.do(t, http.MethodPost, "/admin/impersonate/t1", "s1",
		bytes.NewReader([]byte(`{"reason":"ticket 42"}`)))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("impersonate status = %d", resp.StatusCode)
	}
	doc := decodeJSON(t, resp)
	if doc["success"] != true {
		t.Errorf("success = %v", doc["success"])
	}
	sess, ok := doc["session"].(map[string]any)
	if !ok || sess["tenant_id"] != "t1" {
		t.Errorf("session = %v", doc["session"])
	}

	resp = f.do(t, http.MethodGet, "/admin/impersonation/status", "s1", nil)
	status := decodeJSON(t, resp)
	if status["isImpersonating"] != true {
		t.Errorf("isImpersonating = %v, want true", status["isImpersonating"])
	}
	if status["provisional"] != false {
		t.Errorf("provisional = %v, want false", status["provisional"])
	}

	adminCall()

	resp = f.do(t, http.MethodPost, "/admin/end-impersonation", "s1", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("end status = %d", resp.StatusCode)
	}
	_ = resp.Body.Close()

	resp = f.do(t, http.MethodGet, "/admin/impersonation/status", "s1", nil)
	status = decodeJSON(t, resp)
	if status["isImpersonating"] != false {
		t.Errorf("isImpersonating after end = %v, want false", status["isImpersonating"])
	}

	adminCall()

	var tokens []string
	for _, c := range *f.calls {
		if c.Path == "/users" {
			tokens = append(tokens, c.Token)
		}
	}
	want := []string{"admin-tok", "tenant-tok", "admin-tok"}
	if len(tokens) != len(want) {
		t.Fatalf("admin upstream calls = %d, want %d", len(tokens), len(want))
	}
	for i := range want {
		if tokens[i] != want[i] {
			t.Errorf("call %d used token %q, want %q", i, tokens[i], want[i])
		}
	}
}

func TestImpersonateForbiddenForNonSuperadmin(t *testing.T) {
	t.Parallel()

	f := newGateway(t)
	for _, handle := range []string{"u1", "a1"} {
		resp := f.do(t, http.MethodPost, "/admin/impersonate/t1", handle, nil)
		if resp.StatusCode != http.StatusForbidden {
			t.Errorf("impersonate as %s: status = %d, want 403", handle, resp.StatusCode)
		}
		doc := decodeJSON(t, resp)
		if doc["code"] != "FORBIDDEN" {
			t.Errorf("code = %v", doc["code"])
		}
	}
}

func TestImpersonateErrorMapping(t *testing.T) {
	t.Parallel()

	f := newGateway(t)

	resp := f.do(t, http.MethodPost, "/admin/impersonate/ghost", "s1", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown tenant: status = %d, want 404", resp.StatusCode)
	}
	if doc := decodeJSON(t, resp); doc["code"] != "TENANT_NOT_FOUND" {
		t.Errorf("code = %v", doc["code"])
	}

	resp = f.do(t, http.MethodPost, "/admin/end-impersonation", "s1", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("end while idle: status = %d, want 400", resp.StatusCode)
	}
	if doc := decodeJSON(t, resp); doc["code"] != "NOT_IMPERSONATING" {
		t.Errorf("code = %v", doc["code"])
	}

	resp = f.do(t, http.MethodPost, "/admin/impersonate/t1", "s1", nil)
	_ = resp.Body.Close()
	resp = f.do(t, http.MethodPost, "/admin/impersonate/t1", "s1", nil)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("second start: status = %d, want 409", resp.StatusCode)
	}
	if doc := decodeJSON(t, resp); doc["code"] != "ALREADY_IMPERSONATING" {
		t.Errorf("code = %v", doc["code"])
	}
}

func TestImpersonationControlRequiresSession(t *testing.T) {
	t.Parallel()

	f := newGateway(t)
	resp := f.do(t, http.MethodPost, "/admin/impersonate/t1", "", nil)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want classified SESSION_ERROR status", resp.StatusCode)
	}
	if doc := decodeJSON(t, resp); doc["code"] != "SESSION_ERROR" {
		t.Errorf("code = %v", doc["code"])
	}
}

func TestLogoutEndsImpersonationAndSession(t *testing.T) {
	t.Parallel()

	f := newGateway(t)
	resp := f.do(t, http.MethodPost, "/admin/impersonate/t1", "s1", nil)
	_ = resp.Body.Close()

	resp = f.do(t, http.MethodPost, "/logout", "s1", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("logout status = %d", resp.StatusCode)
	}
	_ = resp.Body.Close()

	// The session is gone.
	resp = f.do(t, http.MethodGet, "/admin/users", "s1", nil)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("post-logout proxy status = %d, want SESSION_ERROR", resp.StatusCode)
	}
	if doc := decodeJSON(t, resp); doc["code"] != "SESSION_ERROR" {
		t.Errorf("code = %v", doc["code"])
	}
}

func TestLogoutIsIdempotent(t *testing.T) {
	t.Parallel()

	f := newGateway(t)
	for i := 0; i < 2; i++ {
		resp := f.do(t, http.MethodPost, "/logout", "nobody", nil)
		if resp.StatusCode != http.StatusOK {
			t.Errorf("logout #%d status = %d, want 200", i, resp.StatusCode)
		}
		_ = resp.Body.Close()
	}
}

func TestSessionRegistration(t *testing.T) {
	t.Parallel()

	f := newGateway(t)

	payload := `{"id":"fresh","role":"user","user_token":"fresh-tok","account_id":"acct-fresh"}`
	resp := f.do(t, http.MethodPost, "/internal/sessions", "",
		bytes.NewReader([]byte(payload)))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("register status = %d", resp.StatusCode)
	}
	_ = resp.Body.Close()

	resp = f.do(t, http.MethodGet, "/user/session/status", "fresh", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("proxy with registered session: status = %d", resp.StatusCode)
	}
	_ = resp.Body.Close()

	calls := *f.calls
	if calls[len(calls)-1].Token != "fresh-tok" {
		t.Errorf("upstream token = %q, want the registered credential", calls[len(calls)-1].Token)
	}

	resp = f.do(t, http.MethodDelete, "/internal/sessions/fresh", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}
	_ = resp.Body.Close()

	time.Sleep(5 * time.Millisecond) // memoization TTL
	resp = f.do(t, http.MethodGet, "/user/session/status", "fresh", nil)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("proxy after delete: status = %d, want SESSION_ERROR", resp.StatusCode)
	}
	_ = resp.Body.Close()
}

func TestSessionRegistrationValidation(t *testing.T) {
	t.Parallel()

	f := newGateway(t)
	tests := []struct {
		name    string
		payload string
	}{
		{"bad json", `{`},
		{"missing id", `{"role":"user","account_id":"a"}`},
		{"missing account", `{"id":"x","role":"user"}`},
		{"bad role", `{"id":"x","role":"root","account_id":"a"}`},
	}
	for _, tt := range tests {
		resp := f.do(t, http.MethodPost, "/internal/sessions", "",
			bytes.NewReader([]byte(tt.payload)))
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", tt.name, resp.StatusCode)
		}
		_ = resp.Body.Close()
	}
}

func TestResponsesNeverEchoTokens(t *testing.T) {
	t.Parallel()

	f := newGateway(t)
	resp := f.do(t, http.MethodPost, "/admin/impersonate/t1", "s1", nil)
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(resp.Body)
	if bytes.Contains(body, []byte("tenant-tok")) {
		t.Error("impersonation response leaks the tenant token")
	}

	resp2 := f.do(t, http.MethodGet, "/admin/impersonation/status", "s1", nil)
	defer func() { _ = resp2.Body.Close() }()
	body2, _ := io.ReadAll(resp2.Body)
	if bytes.Contains(body2, []byte("tenant-tok")) {
		t.Error("status response leaks the tenant token")
	}
}
