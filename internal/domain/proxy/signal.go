// Package proxy contains the domain logic for the request proxy boundary:
// the failure signal type and the classifier that maps heterogeneous
// upstream failures onto a closed error taxonomy.
package proxy

// signalSource identifies which producer constructed a Signal. The
// classifier consumes sources exhaustively, in priority order.
type signalSource int

const (
	sourceNone signalSource = iota
	sourceKind
	sourceStatus
	sourceError
)

// Signal is a tagged union carrying whichever failure information is
// available at the proxy boundary: an already-known error kind, an HTTP
// status with optional message, or a plain error. Construct one with the
// SignalFrom* functions; the zero value means "no signal at all".
type Signal struct {
	source  signalSource
	kind    ErrorKind
	status  int
	message string
}

// SignalFromKind builds a Signal from an explicit, already-classified
// error kind. This is the classifier's fast path: no table or keyword
// matching is applied.
func SignalFromKind(kind ErrorKind) Signal {
	return Signal{source: sourceKind, kind: kind}
}

// SignalFromStatus builds a Signal from an upstream HTTP status code and
// the upstream's message body text (may be empty).
func SignalFromStatus(status int, message string) Signal {
	return Signal{source: sourceStatus, status: status, message: message}
}

// SignalFromError builds a Signal from a transport-level error. A nil err
// yields the zero Signal, which classifies as UNKNOWN_ERROR.
func SignalFromError(err error) Signal {
	if err == nil {
		return Signal{}
	}
	return Signal{source: sourceError, message: err.Error()}
}
