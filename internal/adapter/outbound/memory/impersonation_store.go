package memory

import (
	"context"
	"sync"
	"time"

	"github.com/zapgate/zapgate/internal/domain/impersonation"
)

// ImpersonationStore implements impersonation.Store with in-memory maps.
// Thread-safe; writes are serialized per operator by the store mutex.
// For development and testing.
type ImpersonationStore struct {
	mu          sync.RWMutex
	active      map[string]*impersonation.Session
	lastStarted map[string]time.Time
}

// NewImpersonationStore creates an empty in-memory impersonation store.
func NewImpersonationStore() *ImpersonationStore {
	return &ImpersonationStore{
		active:      make(map[string]*impersonation.Session),
		lastStarted: make(map[string]time.Time),
	}
}

// Get returns the active session for the operator.
func (s *ImpersonationStore) Get(ctx context.Context, operatorID string) (*impersonation.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.active[operatorID]
	if !ok {
		return nil, impersonation.ErrNotImpersonating
	}
	cp := *sess
	return &cp, nil
}

// Put stores the active session for its operator.
func (s *ImpersonationStore) Put(ctx context.Context, sess *impersonation.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *sess
	s.active[sess.OperatorID] = &cp
	if sess.StartedAt.After(s.lastStarted[sess.OperatorID]) {
		s.lastStarted[sess.OperatorID] = sess.StartedAt
	}
	return nil
}

// Delete removes the operator's active session, keeping the StartedAt
// watermark for monotonicity.
func (s *ImpersonationStore) Delete(ctx context.Context, operatorID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.active, operatorID)
	return nil
}

// LastStarted returns the most recent StartedAt for the operator.
func (s *ImpersonationStore) LastStarted(ctx context.Context, operatorID string) (time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.lastStarted[operatorID]
	return t, ok, nil
}

// ActiveCount returns the number of active sessions across all operators.
func (s *ImpersonationStore) ActiveCount(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.active), nil
}

// Compile-time interface verification.
var _ impersonation.Store = (*ImpersonationStore)(nil)
