package impersonation

import (
	"context"
	"time"
)

// Store is the authoritative impersonation record, keyed by operator ID.
// The store serializes writes per key; the overlay relies on that for its
// at-most-one invariant. Implementations: SQLite (prod), in-memory (test).
type Store interface {
	// Get returns the active session for the operator.
	// Returns ErrNotImpersonating when the operator is idle.
	Get(ctx context.Context, operatorID string) (*Session, error)

	// Put stores the active session for its operator, replacing any
	// previous record.
	Put(ctx context.Context, session *Session) error

	// Delete removes the operator's active session, recording its
	// StartedAt so later starts stay monotonic. Deleting an idle operator
	// is not an error.
	Delete(ctx context.Context, operatorID string) error

	// LastStarted returns the StartedAt of the operator's most recent
	// session, active or ended. ok is false when the operator never
	// impersonated.
	LastStarted(ctx context.Context, operatorID string) (t time.Time, ok bool, err error)

	// ActiveCount returns the number of active sessions across all
	// operators. Read at metrics-scrape time, so every end path (explicit
	// end, operator logout, max-duration expiry) is reflected without the
	// ender having to report it.
	ActiveCount(ctx context.Context) (int, error)
}

// Mirror is the durable, best-effort copy of the impersonation record,
// held outside the authoritative store so state survives process restarts
// and cross-subdomain navigation before the authority can be re-read.
//
// Mirror contents are always provisional: the overlay overwrites them with
// the authority's answer on every reconcile and clears them whenever the
// authority reports idle.
type Mirror interface {
	// Load returns the mirrored session for the operator, ok=false when
	// none is mirrored.
	Load(operatorID string) (s *Session, ok bool, err error)

	// Store writes the mirrored session.
	Store(session *Session) error

	// Clear removes the operator's mirrored session. Clearing an absent
	// record is not an error.
	Clear(operatorID string) error
}

// TenantDirectory resolves tenants. An external collaborator: tenant CRUD
// happens elsewhere, the overlay only reads.
type TenantDirectory interface {
	// Lookup returns the tenant by ID.
	// Returns ErrTenantNotFound when no such tenant exists.
	Lookup(ctx context.Context, tenantID string) (*Tenant, error)
}
