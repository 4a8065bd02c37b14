package proxy

import (
	"net/http"
	"strings"
)

// ErrorKind is the closed taxonomy of proxy failure classifications.
// Classification happens exactly once, at the proxy boundary; nothing
// upstream of the boundary re-interprets the raw error.
type ErrorKind string

const (
	// KindInvalidNumber indicates the target phone number is malformed
	// or not registered. The request itself must change.
	KindInvalidNumber ErrorKind = "INVALID_NUMBER"
	// KindBlockedNumber indicates the target number blocked the sender.
	KindBlockedNumber ErrorKind = "BLOCKED_NUMBER"
	// KindDisconnected indicates the WhatsApp device session is not
	// connected. Requires the user to reconnect.
	KindDisconnected ErrorKind = "DISCONNECTED"
	// KindUnauthorized indicates the credential was rejected upstream.
	KindUnauthorized ErrorKind = "UNAUTHORIZED"
	// KindRateLimit indicates upstream throttling.
	KindRateLimit ErrorKind = "RATE_LIMIT"
	// KindServerBusy indicates a 5xx upstream failure.
	KindServerBusy ErrorKind = "SERVER_BUSY"
	// KindTimeout indicates the bounded upstream call exceeded its deadline.
	KindTimeout ErrorKind = "TIMEOUT"
	// KindNetworkError indicates a transport-level connection failure.
	KindNetworkError ErrorKind = "NETWORK_ERROR"
	// KindAPIError is the catch-all for unrecognized upstream failures.
	KindAPIError ErrorKind = "API_ERROR"
	// KindValidationError indicates the upstream rejected the request body.
	KindValidationError ErrorKind = "VALIDATION_ERROR"
	// KindNotFound indicates the upstream resource does not exist.
	KindNotFound ErrorKind = "NOT_FOUND"
	// KindSessionError indicates the caller's own session is missing,
	// expired, or lacks a usable credential. Requires re-login.
	KindSessionError ErrorKind = "SESSION_ERROR"
	// KindUnknownError is returned when no failure signal is available.
	KindUnknownError ErrorKind = "UNKNOWN_ERROR"
)

// IsValid returns true if the kind is a known taxonomy member.
func (k ErrorKind) IsValid() bool {
	_, ok := table[k]
	return ok
}

// Result is the classifier's output: a stable kind plus the retry and
// user-action metadata the caller responds with.
type Result struct {
	Kind ErrorKind
	// UserMessage is safe to show to an end user. Never contains tokens.
	UserMessage string
	// Retryable marks failures the caller may retry unchanged. The proxy
	// itself never retries; retry policy belongs to the caller.
	Retryable bool
	// Suggestion is an optional actionable hint.
	Suggestion string
	// HTTPStatus is the status the proxy returns for this kind.
	HTTPStatus int
}

// classEntry is the fixed metadata for one taxonomy member.
type classEntry struct {
	message    string
	retryable  bool
	suggestion string
	httpStatus int
}

var table = map[ErrorKind]classEntry{
	KindInvalidNumber:   {"The phone number is invalid or not registered on WhatsApp.", false, "Check the number format, including the country code.", http.StatusBadRequest},
	KindBlockedNumber:   {"This number has blocked you or cannot receive messages.", false, "", http.StatusForbidden},
	KindDisconnected:    {"Your WhatsApp session is disconnected.", false, "Reconnect your device by scanning the QR code.", http.StatusServiceUnavailable},
	KindUnauthorized:    {"Your credentials were rejected.", false, "Sign in again.", http.StatusUnauthorized},
	KindRateLimit:       {"Too many requests. Please slow down.", true, "Wait a moment before retrying.", http.StatusTooManyRequests},
	KindServerBusy:      {"The messaging service is temporarily unavailable.", true, "Try again in a few minutes.", http.StatusServiceUnavailable},
	KindTimeout:         {"The request took too long to complete.", true, "Try again; if it persists, check the service status.", http.StatusGatewayTimeout},
	KindNetworkError:    {"Could not reach the messaging service.", true, "Check your connection and try again.", http.StatusBadGateway},
	KindAPIError:        {"The messaging service returned an unexpected error.", true, "", http.StatusBadGateway},
	KindValidationError: {"The request was rejected as invalid.", false, "Review the request fields and try again.", http.StatusBadRequest},
	KindNotFound:        {"The requested resource was not found.", false, "", http.StatusNotFound},
	KindSessionError:    {"Your session is no longer valid.", false, "Sign in again.", http.StatusInternalServerError},
	KindUnknownError:    {"Something went wrong.", true, "Try again; contact support if it persists.", http.StatusInternalServerError},
}

// maxPassthroughLen is the length threshold under which an upstream
// message is preferred over the canned one. Short upstream messages carry
// useful detail; long ones tend to be stack traces or HTML.
const maxPassthroughLen = 120

// keywordRule maps message substrings to a kind. Rules are evaluated in
// slice order because upstream messages often contain several matching
// substrings ("network timeout while connecting"): transport failures
// outrank timeouts, which outrank auth, and so on.
type keywordRule struct {
	kind     ErrorKind
	keywords []string
}

var keywordRules = []keywordRule{
	{KindNetworkError, []string{"network", "econnrefused", "econnreset", "connection refused", "connection reset", "no such host", "fetch failed"}},
	{KindTimeout, []string{"timeout", "timed out", "deadline exceeded"}},
	{KindUnauthorized, []string{"unauthorized", "forbidden", "invalid token", "authentication"}},
	{KindDisconnected, []string{"disconnected", "not connected", "no session", "not logged in"}},
	{KindRateLimit, []string{"rate limit", "too many requests", "throttle"}},
	{KindBlockedNumber, []string{"blocked", "block list"}},
	{KindInvalidNumber, []string{"invalid number", "not a valid", "not on whatsapp", "invalid jid"}},
}

// Classify maps a failure signal to a Result. Priority order:
//
//  1. An explicit, already-known kind (no matching).
//  2. The HTTP status table.
//  3. Case-insensitive keyword matching on the message, in fixed
//     priority order.
//  4. No signal at all: UNKNOWN_ERROR.
//
// If the original message is short and differs from the canned message it
// is preferred as UserMessage, while Retryable, Suggestion, and HTTPStatus
// always come from the table.
func Classify(sig Signal) Result {
	switch sig.source {
	case sourceKind:
		if sig.kind.IsValid() {
			return resultFor(sig.kind, "")
		}
		return resultFor(KindUnknownError, "")
	case sourceStatus:
		return resultFor(kindForStatus(sig.status), sig.message)
	case sourceError:
		return resultFor(kindForMessage(sig.message), sig.message)
	default:
		return resultFor(KindUnknownError, "")
	}
}

// kindForStatus maps an HTTP status to a kind. Statuses outside the fixed
// table classify as API_ERROR; an upstream that set a status already told
// us more than its message text can.
func kindForStatus(status int) ErrorKind {
	switch {
	case status == http.StatusBadRequest:
		return KindValidationError
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindUnauthorized
	case status == http.StatusNotFound:
		return KindNotFound
	case status == http.StatusRequestTimeout:
		return KindTimeout
	case status == http.StatusTooManyRequests:
		return KindRateLimit
	case status >= 500:
		return KindServerBusy
	default:
		return KindAPIError
	}
}

// kindForMessage scans the message against the keyword rules in priority
// order. Unmatched messages classify as API_ERROR.
func kindForMessage(message string) ErrorKind {
	lower := strings.ToLower(message)
	for _, rule := range keywordRules {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				return rule.kind
			}
		}
	}
	return KindAPIError
}

func resultFor(kind ErrorKind, original string) Result {
	e := table[kind]
	msg := e.message
	trimmed := strings.TrimSpace(original)
	if trimmed != "" && trimmed != e.message && len(trimmed) < maxPassthroughLen {
		msg = trimmed
	}
	return Result{
		Kind:        kind,
		UserMessage: msg,
		Retryable:   e.retryable,
		Suggestion:  e.suggestion,
		HTTPStatus:  e.httpStatus,
	}
}
