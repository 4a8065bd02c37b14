// Package impersonation implements the superadmin-acting-as-tenant state
// machine: at most one active impersonation per operator, an authoritative
// server-side record, and a best-effort durable mirror that survives
// process restarts until the authority can be re-read.
package impersonation

import (
	"errors"
	"time"
)

// Session represents a superadmin temporarily acting as a tenant.
type Session struct {
	// ID is the impersonation session identifier (UUID).
	ID string `json:"id"`
	// OperatorID is the superadmin performing the impersonation.
	OperatorID string `json:"operator_id"`
	// TenantID is the tenant being impersonated.
	TenantID string `json:"tenant_id"`
	// TenantName is the tenant's display name.
	TenantName string `json:"tenant_name"`
	// TenantSubdomain is the tenant's dashboard subdomain.
	TenantSubdomain string `json:"tenant_subdomain"`
	// StartedAt is when the impersonation began (UTC). Monotonically
	// non-decreasing across sessions for the same operator.
	StartedAt time.Time `json:"started_at"`
	// Reason is optional operator-supplied free text.
	Reason string `json:"reason,omitempty"`
}

// DurationMinutes is derived from StartedAt, never stored.
func (s *Session) DurationMinutes(now time.Time) int {
	d := now.Sub(s.StartedAt)
	if d < 0 {
		return 0
	}
	return int(d / time.Minute)
}

// Tenant is the directory's view of a tenant: the identity and credential
// an impersonating operator assumes.
type Tenant struct {
	// ID is the tenant identifier.
	ID string
	// Name is the tenant's display name.
	Name string
	// Subdomain is the tenant's dashboard subdomain.
	Subdomain string
	// Token is the tenant's upstream gateway credential. Server-side only.
	Token string
	// Disabled marks tenants that must not be impersonated or served.
	Disabled bool
}

// State is the overlay's answer to a status query.
//
// Provisional marks a state served from the durable mirror while the
// authoritative store was unreachable. Callers must treat a provisional
// state as display-only and re-query once the authority is back: the
// authority's answer always overwrites the mirror.
type State struct {
	Active      bool
	Session     *Session
	Provisional bool
}

// Idle is the state of an operator with no active impersonation.
var Idle = State{}

var (
	// ErrAlreadyImpersonating is returned by Start when the operator has an
	// active session. End it first.
	ErrAlreadyImpersonating = errors.New("operator is already impersonating a tenant")

	// ErrNotImpersonating is returned by End when the operator is idle.
	ErrNotImpersonating = errors.New("operator is not impersonating")

	// ErrForbidden is returned by Start for non-superadmin operators.
	ErrForbidden = errors.New("only superadmins may impersonate")

	// ErrTenantNotFound is returned when the tenant does not exist or is
	// disabled at start time.
	ErrTenantNotFound = errors.New("tenant not found")

	// ErrTenantGone is returned by Status when the impersonated tenant was
	// deleted or disabled after the session started.
	ErrTenantGone = errors.New("impersonated tenant no longer available")
)
