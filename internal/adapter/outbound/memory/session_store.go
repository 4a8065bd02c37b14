// Package memory provides in-memory implementations of outbound ports.
package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/zapgate/zapgate/internal/domain/session"
)

// DefaultCleanupInterval is how often expired sessions are removed.
const DefaultCleanupInterval = 1 * time.Minute

// SessionStore implements session.Store with an in-memory map.
// Thread-safe for concurrent access. For development and testing; the
// production dashboard owns its own session table.
// A background cleanup goroutine removes expired sessions periodically.
type SessionStore struct {
	sessions        map[string]*session.Session
	mu              sync.RWMutex
	stopChan        chan struct{}
	wg              sync.WaitGroup
	cleanupInterval time.Duration
	once            sync.Once // Prevent double-close panic on Stop()
}

// NewSessionStore creates an in-memory session store with the default
// cleanup interval.
func NewSessionStore() *SessionStore {
	return NewSessionStoreWithConfig(DefaultCleanupInterval)
}

// NewSessionStoreWithConfig creates an in-memory session store with a
// custom cleanup interval.
func NewSessionStoreWithConfig(cleanupInterval time.Duration) *SessionStore {
	return &SessionStore{
		sessions:        make(map[string]*session.Session),
		stopChan:        make(chan struct{}),
		cleanupInterval: cleanupInterval,
	}
}

// StartCleanup starts the background cleanup goroutine.
// Call Stop() to stop it gracefully.
func (s *SessionStore) StartCleanup(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopChan:
				return
			case <-ticker.C:
				s.cleanup()
			}
		}
	}()
}

// cleanup removes all expired sessions from the store.
func (s *SessionStore) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	cleaned := 0
	for id, sess := range s.sessions {
		if sess.IsExpired() {
			delete(s.sessions, id)
			cleaned++
		}
	}

	if cleaned > 0 {
		slog.Debug("cleaned expired sessions", "count", cleaned)
	}
}

// Stop stops the background cleanup goroutine and waits for it to exit.
// Safe to call multiple times.
func (s *SessionStore) Stop() {
	s.once.Do(func() {
		close(s.stopChan)
	})
	s.wg.Wait()
}

// Create stores a new session.
func (s *SessionStore) Create(ctx context.Context, sess *session.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Store a copy to prevent external mutation.
	cp := *sess
	s.sessions[sess.ID] = &cp
	return nil
}

// Get retrieves a session by handle.
// Returns session.ErrSessionNotFound if the session doesn't exist or is
// expired. Expired sessions are not deleted here; cleanup handles that.
func (s *SessionStore) Get(ctx context.Context, id string) (*session.Session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()

	if !ok || sess.IsExpired() {
		return nil, session.ErrSessionNotFound
	}

	cp := *sess
	return &cp, nil
}

// Update saves changes to an existing session.
func (s *SessionStore) Update(ctx context.Context, sess *session.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sess.ID]; !ok {
		return session.ErrSessionNotFound
	}

	cp := *sess
	s.sessions[sess.ID] = &cp
	return nil
}

// Delete removes a session.
func (s *SessionStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, id)
	return nil
}

// Size returns the number of sessions currently stored.
func (s *SessionStore) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Compile-time interface verification.
var _ session.Store = (*SessionStore)(nil)
