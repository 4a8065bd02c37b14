// Package service contains the core proxy service implementation.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/zapgate/zapgate/internal/adapter/outbound/wuzapi"
	"github.com/zapgate/zapgate/internal/domain/impersonation"
	"github.com/zapgate/zapgate/internal/domain/proxy"
	"github.com/zapgate/zapgate/internal/domain/session"
)

// RoutePrefix is the inbound routing prefix a request arrived under. It
// selects the credential policy and is stripped before forwarding.
type RoutePrefix string

const (
	// PrefixUser routes with the caller's own token.
	PrefixUser RoutePrefix = "/user"
	// PrefixAdmin routes with the admin credential, or the impersonated
	// tenant's token when impersonation is active.
	PrefixAdmin RoutePrefix = "/admin"
)

// maxErrorBodySize bounds how much of an upstream error body is read for
// classification.
const maxErrorBodySize = 64 * 1024

// InboundRequest is the service's view of one proxied request.
type InboundRequest struct {
	// SessionHandle is the opaque handle identifying the caller.
	SessionHandle string
	// Prefix is the routing prefix the request matched.
	Prefix RoutePrefix
	// Path is the inbound URL path, including the prefix.
	Path string
	// RawQuery passes through unmodified.
	RawQuery string
	Method   string
	Header   http.Header
	Body     io.Reader
}

// ProxyService turns an inbound, session-authenticated request into an
// upstream call: it picks the effective credential, rewrites the path,
// forwards, and funnels every failure through the classifier exactly once.
type ProxyService struct {
	authority  *session.Authority
	overlay    *impersonation.Overlay
	upstream   *wuzapi.Client
	adminToken string
	logger     *slog.Logger
}

// NewProxyService creates a ProxyService. adminToken is the configured
// admin-level upstream credential; empty means admin-prefix calls fail
// with SESSION_ERROR unless impersonation supplies a tenant token.
func NewProxyService(authority *session.Authority, overlay *impersonation.Overlay, upstream *wuzapi.Client, adminToken string, logger *slog.Logger) *ProxyService {
	return &ProxyService{
		authority:  authority,
		overlay:    overlay,
		upstream:   upstream,
		adminToken: adminToken,
		logger:     logger.With("component", "proxy_service"),
	}
}

// RewritePath strips the routing prefix, preserving nested paths:
// "/user/messages/send/bulk" becomes "/messages/send/bulk".
func RewritePath(prefix RoutePrefix, path string) string {
	rewritten := strings.TrimPrefix(path, string(prefix))
	if !strings.HasPrefix(rewritten, "/") {
		rewritten = "/" + rewritten
	}
	return rewritten
}

// Forward proxies the request. On success the raw upstream response is
// returned and the caller owns its body. On any failure the classified
// result is returned instead; no failure escapes unclassified.
func (s *ProxyService) Forward(ctx context.Context, req InboundRequest) (*http.Response, *proxy.Result) {
	token, failure := s.effectiveToken(ctx, req)
	if failure != nil {
		return nil, failure
	}

	resp, err := s.upstream.Do(ctx, wuzapi.Request{
		Method:   req.Method,
		Path:     RewritePath(req.Prefix, req.Path),
		RawQuery: req.RawQuery,
		Header:   req.Header,
		Body:     req.Body,
		Token:    token,
	})
	if err != nil {
		return nil, s.classifyTransport(err)
	}

	if resp.StatusCode >= 400 {
		message := readErrorMessage(resp.Body)
		_ = resp.Body.Close()
		result := proxy.Classify(proxy.SignalFromStatus(resp.StatusCode, message))
		s.logger.Debug("upstream error classified",
			"status", resp.StatusCode, "kind", result.Kind)
		return nil, &result
	}

	return resp, nil
}

// effectiveToken resolves the credential for the request per the routing
// prefix: the caller's own token on the user prefix, the admin credential
// on the admin prefix, and the impersonated tenant's token whenever the
// superadmin caller has an active impersonation.
func (s *ProxyService) effectiveToken(ctx context.Context, req InboundRequest) (string, *proxy.Result) {
	sess, err := s.authority.Resolve(ctx, req.SessionHandle)
	if err != nil {
		result := proxy.Classify(proxy.SignalFromKind(proxy.KindSessionError))
		return "", &result
	}

	switch req.Prefix {
	case PrefixUser:
		if sess.UserToken == "" {
			result := proxy.Classify(proxy.SignalFromKind(proxy.KindSessionError))
			return "", &result
		}
		return sess.UserToken, nil

	case PrefixAdmin:
		if !sess.Role.Privileged() {
			result := proxy.Classify(proxy.SignalFromKind(proxy.KindUnauthorized))
			return "", &result
		}

		// Impersonation always takes priority once active.
		if sess.Role == session.RoleSuperadmin {
			tenant, err := s.overlay.EffectiveTenant(ctx, sess.AccountID)
			if err != nil {
				if errors.Is(err, impersonation.ErrTenantGone) {
					result := proxy.Classify(proxy.SignalFromKind(proxy.KindSessionError))
					return "", &result
				}
				return "", s.classifyTransport(err)
			}
			if tenant != nil {
				s.logger.Debug("attributing call to impersonated tenant",
					"operator_id", sess.AccountID,
					"tenant_id", tenant.ID,
					"token_fp", session.TokenFingerprint(tenant.Token))
				return tenant.Token, nil
			}
		}

		if s.adminToken == "" {
			result := proxy.Classify(proxy.SignalFromKind(proxy.KindSessionError))
			return "", &result
		}
		return s.adminToken, nil

	default:
		result := proxy.Classify(proxy.SignalFromKind(proxy.KindValidationError))
		return "", &result
	}
}

// classifyTransport maps transport-level failures, distinguishing the
// bounded-timeout case from other network errors.
func (s *ProxyService) classifyTransport(err error) *proxy.Result {
	var result proxy.Result

	var urlErr *url.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		result = proxy.Classify(proxy.SignalFromKind(proxy.KindTimeout))
	case errors.As(err, &urlErr) && urlErr.Timeout():
		result = proxy.Classify(proxy.SignalFromKind(proxy.KindTimeout))
	default:
		result = proxy.Classify(proxy.SignalFromError(err))
	}

	s.logger.Debug("transport failure classified", "kind", result.Kind, "error", err)
	return &result
}

// readErrorMessage extracts a human-meaningful message from an upstream
// error body. JSON bodies with an "error" or "message" field yield that
// field; anything else yields the (bounded) raw text.
func readErrorMessage(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, maxErrorBodySize))
	if err != nil || len(data) == 0 {
		return ""
	}

	var parsed struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &parsed); err == nil {
		if parsed.Error != "" {
			return parsed.Error
		}
		if parsed.Message != "" {
			return parsed.Message
		}
	}
	return strings.TrimSpace(string(data))
}
