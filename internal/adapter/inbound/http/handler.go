package http

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/zapgate/zapgate/internal/domain/impersonation"
	"github.com/zapgate/zapgate/internal/domain/proxy"
	"github.com/zapgate/zapgate/internal/domain/session"
	"github.com/zapgate/zapgate/internal/service"
)

// SessionHeader carries the opaque session handle on inbound requests.
// The dashboard's cookie is accepted as a fallback for same-origin calls.
const (
	SessionHeader = "X-Session-Token"
	SessionCookie = "zapgate_session"
)

// Handler is the gateway's inbound HTTP surface: the two proxied routing
// prefixes, the health endpoint, and the impersonation control surface.
type Handler struct {
	proxy      *service.ProxyService
	authority  *session.Authority
	sessions   session.Store
	overlay    *impersonation.Overlay
	metrics    *Metrics
	sessionTTL time.Duration
	logger     *slog.Logger
}

// NewHandler creates a Handler. metrics may be nil (tests). sessionTTL
// is the default lifetime for sessions registered without an explicit
// expiry.
func NewHandler(proxySvc *service.ProxyService, authority *session.Authority, sessions session.Store, overlay *impersonation.Overlay, metrics *Metrics, sessionTTL time.Duration, logger *slog.Logger) *Handler {
	return &Handler{
		proxy:      proxySvc,
		authority:  authority,
		sessions:   sessions,
		overlay:    overlay,
		metrics:    metrics,
		sessionTTL: sessionTTL,
		logger:     logger.With("component", "http_handler"),
	}
}

// Routes builds the gateway mux. The health handler bypasses credential
// resolution entirely; the impersonation control paths are handled
// locally and win over the general admin proxy by pattern specificity.
func (h *Handler) Routes(health http.Handler) *http.ServeMux {
	mux := http.NewServeMux()

	mux.Handle("GET /health", health)

	mux.HandleFunc("POST /admin/impersonate/{tenant}", h.handleImpersonateStart)
	mux.HandleFunc("POST /admin/end-impersonation", h.handleImpersonateEnd)
	mux.HandleFunc("GET /admin/impersonation/status", h.handleImpersonationStatus)
	mux.HandleFunc("POST /logout", h.handleLogout)

	// Session registration for the dashboard backend. The listener
	// defaults to loopback; a fronting proxy must not route /internal/.
	mux.HandleFunc("POST /internal/sessions", h.handleSessionUpsert)
	mux.HandleFunc("DELETE /internal/sessions/{id}", h.handleSessionDelete)

	mux.Handle("/user/", h.instrument("user", h.proxyHandler(service.PrefixUser)))
	mux.Handle("/admin/", h.instrument("admin", h.proxyHandler(service.PrefixAdmin)))

	return mux
}

// instrument wraps a proxy handler with request metrics when configured.
func (h *Handler) instrument(route string, next http.Handler) http.Handler {
	if h.metrics == nil {
		return next
	}
	return MetricsMiddleware(h.metrics, route)(next)
}

// sessionHandle extracts the opaque session handle from the request.
func sessionHandle(r *http.Request) string {
	if token := r.Header.Get(SessionHeader); token != "" {
		return token
	}
	if c, err := r.Cookie(SessionCookie); err == nil {
		return c.Value
	}
	return ""
}

// proxyHandler forwards requests under one routing prefix.
func (h *Handler) proxyHandler(prefix service.RoutePrefix) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := LoggerFromContext(r.Context())

		resp, failure := h.proxy.Forward(r.Context(), service.InboundRequest{
			SessionHandle: sessionHandle(r),
			Prefix:        prefix,
			Path:          r.URL.Path,
			RawQuery:      r.URL.RawQuery,
			Method:        r.Method,
			Header:        r.Header,
			Body:          r.Body,
		})
		if failure != nil {
			h.countFailure(failure)
			writeClassified(w, failure)
			return
		}
		defer func() { _ = resp.Body.Close() }()

		for key, values := range resp.Header {
			for _, v := range values {
				w.Header().Add(key, v)
			}
		}
		w.WriteHeader(resp.StatusCode)
		if _, err := io.Copy(w, resp.Body); err != nil {
			logger.Debug("error copying upstream response body", "error", err)
		}
	}
}

// handleImpersonateStart begins impersonating the tenant in the path.
// Body is an optional JSON document with a free-text reason.
func (h *Handler) handleImpersonateStart(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.resolveCaller(w, r)
	if !ok {
		return
	}

	var body struct {
		Reason string `json:"reason"`
	}
	// Absent or malformed bodies just mean no reason was given.
	_ = json.NewDecoder(r.Body).Decode(&body)

	impSess, err := h.overlay.Start(r.Context(), sess.AccountID, sess.Role, r.PathValue("tenant"), body.Reason)
	if err != nil {
		h.writeImpersonationError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"session": impSess,
	})
}

// handleImpersonateEnd stops the caller's active impersonation.
func (h *Handler) handleImpersonateEnd(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.resolveCaller(w, r)
	if !ok {
		return
	}

	if err := h.overlay.End(r.Context(), sess.AccountID); err != nil {
		h.writeImpersonationError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// handleImpersonationStatus reports the caller's current state. The
// authority's answer wins; a provisional answer is flagged as such.
func (h *Handler) handleImpersonationStatus(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.resolveCaller(w, r)
	if !ok {
		return
	}

	state, err := h.overlay.Status(r.Context(), sess.AccountID)
	if err != nil {
		h.writeImpersonationError(w, err)
		return
	}

	if !state.Active {
		writeJSON(w, http.StatusOK, map[string]any{"isImpersonating": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"isImpersonating": true,
		"provisional":     state.Provisional,
		"session":         state.Session,
		"durationMinutes": state.Session.DurationMinutes(time.Now().UTC()),
	})
}

// handleLogout is called by the dashboard backend when a session ends.
// An impersonation must never outlive its operator's session, so any
// active impersonation is cleared before the memoized identity.
func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	handle := sessionHandle(r)
	sess, err := h.authority.Resolve(r.Context(), handle)
	if err != nil {
		// Already gone; logout is idempotent.
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
		return
	}

	if err := h.overlay.EndForOperatorLogout(r.Context(), sess.AccountID); err != nil {
		h.logger.Warn("failed to end impersonation on logout",
			"operator_id", sess.AccountID, "error", err)
	}
	if err := h.sessions.Delete(r.Context(), sess.ID); err != nil && !errors.Is(err, session.ErrSessionNotFound) {
		h.logger.Warn("failed to delete session on logout", "error", err)
	}
	h.authority.Invalidate(handle)

	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// resolveCaller resolves the session for a control-surface request,
// writing the classified SESSION_ERROR response on failure.
func (h *Handler) resolveCaller(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, err := h.authority.Resolve(r.Context(), sessionHandle(r))
	if err != nil {
		result := proxy.Classify(proxy.SignalFromKind(proxy.KindSessionError))
		writeClassified(w, &result)
		return nil, false
	}
	return sess, true
}

// writeImpersonationError maps overlay errors onto the control surface's
// response codes.
func (h *Handler) writeImpersonationError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, impersonation.ErrForbidden):
		writeJSONError(w, http.StatusForbidden, "FORBIDDEN", "only superadmins may impersonate tenants")
	case errors.Is(err, impersonation.ErrAlreadyImpersonating):
		writeJSONError(w, http.StatusConflict, "ALREADY_IMPERSONATING", "end the current impersonation before starting another")
	case errors.Is(err, impersonation.ErrNotImpersonating):
		writeJSONError(w, http.StatusBadRequest, "NOT_IMPERSONATING", "no active impersonation to end")
	case errors.Is(err, impersonation.ErrTenantNotFound):
		writeJSONError(w, http.StatusNotFound, "TENANT_NOT_FOUND", "tenant not found or disabled")
	case errors.Is(err, impersonation.ErrTenantGone):
		writeJSONError(w, http.StatusGone, "TENANT_GONE", "the impersonated tenant is no longer available")
	default:
		h.logger.Error("impersonation operation failed", "error", err)
		writeJSONError(w, http.StatusInternalServerError, string(proxy.KindUnknownError), "impersonation operation failed")
	}
}

func (h *Handler) countFailure(result *proxy.Result) {
	if h.metrics != nil {
		h.metrics.ProxyFailures.WithLabelValues(string(result.Kind)).Inc()
	}
}

// writeClassified writes the uniform proxy error shape at the
// classifier's status.
func writeClassified(w http.ResponseWriter, result *proxy.Result) {
	status := result.HTTPStatus
	if status == 0 {
		status = http.StatusInternalServerError
	}
	writeJSONError(w, status, string(result.Kind), result.UserMessage)
}

// writeJSONError writes the uniform error response shape
// {"error": message, "code": code}.
func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": message,
		"code":  code,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
