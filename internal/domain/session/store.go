package session

import (
	"context"
	"errors"
)

// Store provides session persistence. The store is an external
// collaborator: login and logout mutate it elsewhere, this module only
// reads. Implementations: in-memory (dev/test).
type Store interface {
	// Create stores a new session.
	Create(ctx context.Context, session *Session) error

	// Get retrieves a session by handle.
	// Returns ErrSessionNotFound if the session doesn't exist or is expired.
	Get(ctx context.Context, id string) (*Session, error)

	// Update saves changes to an existing session.
	Update(ctx context.Context, session *Session) error

	// Delete removes a session.
	Delete(ctx context.Context, id string) error
}

// ErrSessionNotFound is returned when a session doesn't exist or is expired.
var ErrSessionNotFound = errors.New("session not found")
