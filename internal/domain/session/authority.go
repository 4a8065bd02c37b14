package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/zapgate/zapgate/internal/cache"
)

// Authority translates an inbound request's session handle into the
// caller's identity: role, upstream credential, and account.
//
// Authority is read-only with respect to the session store; login and
// logout are an external collaborator's responsibility. Resolutions are
// memoized in a short-lived TTL cache so the hot proxy path doesn't hit
// the store on every request.
type Authority struct {
	store  Store
	cache  *cache.TTLCache[string, Session]
	logger *slog.Logger
}

// NewAuthority creates an Authority memoizing resolutions for cacheTTL.
// Call Close on shutdown to release the cache sweeper.
func NewAuthority(store Store, cacheSize int, cacheTTL time.Duration, logger *slog.Logger) *Authority {
	return &Authority{
		store:  store,
		cache:  cache.New[string, Session](cacheSize, cacheTTL),
		logger: logger.With("component", "session_authority"),
	}
}

// Resolve returns the session for the given handle.
// Returns ErrSessionNotFound when the handle is missing or the backing
// store has no live session for it.
//
// Superadmin sessions never carry an upstream token: whatever the store
// holds, the token is stripped here so that tenant data access can only
// happen through impersonation.
func (a *Authority) Resolve(ctx context.Context, handle string) (*Session, error) {
	if handle == "" {
		return nil, ErrSessionNotFound
	}

	sess, err := a.cache.GetOrSet(ctx, handle, func(ctx context.Context) (Session, error) {
		stored, err := a.store.Get(ctx, handle)
		if err != nil {
			return Session{}, err
		}
		resolved := *stored
		if resolved.Role == RoleSuperadmin && resolved.UserToken != "" {
			a.logger.Warn("stripping upstream token from superadmin session",
				"account_id", resolved.AccountID,
				"token_fp", TokenFingerprint(resolved.UserToken))
			resolved.UserToken = ""
		}
		return resolved, nil
	})
	if err != nil {
		return nil, err
	}

	// The memoized window can outlive the session itself.
	if sess.IsExpired() {
		a.cache.Delete(handle)
		return nil, ErrSessionNotFound
	}

	out := sess
	return &out, nil
}

// Invalidate drops any memoized resolution for the handle. Called when a
// logout is observed so a stale identity isn't served from cache.
func (a *Authority) Invalidate(handle string) {
	a.cache.Delete(handle)
}

// CacheStats exposes the resolution cache counters for health reporting.
func (a *Authority) CacheStats() cache.Stats {
	return a.cache.Stats()
}

// Close releases the resolution cache.
func (a *Authority) Close() {
	a.cache.Stop()
}
