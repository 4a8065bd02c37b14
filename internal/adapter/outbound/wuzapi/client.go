// Package wuzapi is the outbound HTTP client for the upstream WhatsApp
// gateway. The upstream is opaque: it accepts a token header, speaks JSON,
// and returns JSON or an HTTP error. Everything beyond attaching the
// credential and enforcing the timeout is pass-through.
package wuzapi

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/zapgate/zapgate/internal/domain/session"
)

// TokenHeader is the upstream's credential header. Contract constant: the
// gateway accepts exactly this one header name.
const TokenHeader = "Token"

// hopByHopHeaders lists headers that must be removed when forwarding
// requests. These are meaningful only for a single transport-level
// connection (RFC 2616 Section 13.5.1).
var hopByHopHeaders = []string{
	"Connection",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Request describes one forwarded call. Path is the rewritten upstream
// path (routing prefix already stripped); RawQuery and Body pass through
// unmodified. Token is the effective credential chosen by the proxy.
type Request struct {
	Method   string
	Path     string
	RawQuery string
	Header   http.Header
	Body     io.Reader
	Token    string
}

// Client forwards requests to the upstream gateway with a hard timeout.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewClient creates a Client for the gateway at baseURL. The timeout
// bounds the whole outbound call; exceeding it cancels the request.
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: timeout,
			// Do not follow redirects -- pass them through to the caller.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger: logger.With("component", "wuzapi_client"),
	}
}

// Do forwards the request and returns the raw upstream response. The
// caller owns resp.Body. Transport failures and timeouts come back as
// errors; non-2xx responses are returned as-is for the boundary to
// classify.
func (c *Client) Do(ctx context.Context, req Request) (*http.Response, error) {
	url := c.baseURL + req.Path
	if req.RawQuery != "" {
		url += "?" + req.RawQuery
	}

	outReq, err := http.NewRequestWithContext(ctx, req.Method, url, req.Body)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}

	for key, values := range req.Header {
		for _, v := range values {
			outReq.Header.Add(key, v)
		}
	}
	for _, h := range hopByHopHeaders {
		outReq.Header.Del(h)
	}

	// The effective credential replaces whatever the caller sent; client
	// headers must never smuggle a different token upstream.
	outReq.Header.Set(TokenHeader, req.Token)
	if outReq.Header.Get("Content-Type") == "" {
		outReq.Header.Set("Content-Type", "application/json")
	}

	c.logger.Debug("forwarding to upstream",
		"method", req.Method,
		"path", req.Path,
		"token_fp", session.TokenFingerprint(req.Token))

	resp, err := c.client.Do(outReq)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// Timeout returns the configured hard timeout.
func (c *Client) Timeout() time.Duration {
	return c.client.Timeout
}
