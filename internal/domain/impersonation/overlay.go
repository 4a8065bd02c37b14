package impersonation

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/zapgate/zapgate/internal/cache"
	"github.com/zapgate/zapgate/internal/domain/session"
)

// Overlay is the impersonation state machine. Each operator is in one of
// two states, Idle or Impersonating; all state is scoped per operator,
// never global.
//
// Write ordering: the authoritative store is always written before the
// mirror, so a crash between the two can only leave the mirror behind the
// authority, never ahead of it. The mirror is reconciled (overwritten or
// cleared) on every Status call that reaches the authority.
type Overlay struct {
	store   Store
	mirror  Mirror
	tenants TenantDirectory

	// tenantCache memoizes directory lookups; Status re-validates the
	// tenant on every call and would otherwise hammer the directory.
	tenantCache *cache.TTLCache[string, Tenant]

	// settleDelay is how long Start blocks after a successful write before
	// reporting the impersonation fully active, giving asynchronous
	// consumers (route guards, header rewriters) a chance to observe the
	// new state. A convenience, not a correctness guarantee: callers that
	// need a hard guarantee re-read Status.
	settleDelay time.Duration

	// maxDuration caps a session's lifetime. Zero disables the cap.
	maxDuration time.Duration

	logger *slog.Logger
}

// Config carries the Overlay tuning knobs.
type Config struct {
	SettleDelay    time.Duration
	MaxDuration    time.Duration
	TenantCacheTTL time.Duration
	TenantCacheMax int
}

// NewOverlay creates an Overlay. Call Close on shutdown to release the
// tenant cache.
func NewOverlay(store Store, mirror Mirror, tenants TenantDirectory, cfg Config, logger *slog.Logger) *Overlay {
	if cfg.TenantCacheMax <= 0 {
		cfg.TenantCacheMax = 256
	}
	if cfg.TenantCacheTTL <= 0 {
		cfg.TenantCacheTTL = 30 * time.Second
	}
	return &Overlay{
		store:       store,
		mirror:      mirror,
		tenants:     tenants,
		tenantCache: cache.New[string, Tenant](cfg.TenantCacheMax, cfg.TenantCacheTTL),
		settleDelay: cfg.SettleDelay,
		maxDuration: cfg.MaxDuration,
		logger:      logger.With("component", "impersonation_overlay"),
	}
}

// Start begins impersonating tenantID as operatorID. Only valid from Idle:
// starting while already impersonating fails with ErrAlreadyImpersonating
// and leaves the existing session untouched. Non-superadmin operators fail
// with ErrForbidden; unknown or disabled tenants with ErrTenantNotFound.
//
// On success Start blocks for the settle delay (or until ctx is done)
// before returning, then reports the session.
func (o *Overlay) Start(ctx context.Context, operatorID string, role session.Role, tenantID, reason string) (*Session, error) {
	if role != session.RoleSuperadmin {
		return nil, ErrForbidden
	}

	if existing, err := o.activeSession(ctx, operatorID); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, ErrAlreadyImpersonating
	}

	tenant, err := o.lookupTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if tenant.Disabled {
		return nil, ErrTenantNotFound
	}

	startedAt := time.Now().UTC()
	if last, ok, err := o.store.LastStarted(ctx, operatorID); err != nil {
		return nil, err
	} else if ok && startedAt.Before(last) {
		// Clock went backwards relative to a prior session; clamp so
		// StartedAt stays non-decreasing per operator.
		startedAt = last
	}

	sess := &Session{
		ID:              uuid.NewString(),
		OperatorID:      operatorID,
		TenantID:        tenant.ID,
		TenantName:      tenant.Name,
		TenantSubdomain: tenant.Subdomain,
		StartedAt:       startedAt,
		Reason:          reason,
	}

	// Authority first, mirror second. A crash in between leaves the mirror
	// stale, which the next Status reconciles from the authority.
	if err := o.store.Put(ctx, sess); err != nil {
		return nil, err
	}
	if err := o.mirror.Store(sess); err != nil {
		o.logger.Warn("mirror write failed; continuing on authority alone",
			"operator_id", operatorID, "error", err)
	}

	o.logger.Info("impersonation started",
		"operator_id", operatorID,
		"tenant_id", tenant.ID,
		"impersonation_id", sess.ID)

	if o.settleDelay > 0 {
		select {
		case <-time.After(o.settleDelay):
		case <-ctx.Done():
			return sess, ctx.Err()
		}
	}
	return sess, nil
}

// End stops the operator's impersonation. Returns ErrNotImpersonating
// when the operator is idle.
func (o *Overlay) End(ctx context.Context, operatorID string) error {
	sess, err := o.activeSession(ctx, operatorID)
	if err != nil {
		return err
	}
	if sess == nil {
		return ErrNotImpersonating
	}

	if err := o.store.Delete(ctx, operatorID); err != nil {
		return err
	}
	if err := o.mirror.Clear(operatorID); err != nil {
		o.logger.Warn("mirror clear failed", "operator_id", operatorID, "error", err)
	}

	o.logger.Info("impersonation ended",
		"operator_id", operatorID,
		"tenant_id", sess.TenantID,
		"impersonation_id", sess.ID,
		"duration_minutes", sess.DurationMinutes(time.Now().UTC()))
	return nil
}

// EndForOperatorLogout clears any impersonation for an operator whose own
// session ended. An impersonation must never outlive its operator's
// session; unlike End, an idle operator is not an error here.
func (o *Overlay) EndForOperatorLogout(ctx context.Context, operatorID string) error {
	err := o.End(ctx, operatorID)
	if errors.Is(err, ErrNotImpersonating) {
		return nil
	}
	return err
}

// Status reports the operator's current state.
//
// The authority's answer always wins: an idle authority clears the mirror,
// an active authority refreshes it. The mirror is consulted only when the
// authority is unreachable, and then the returned state is marked
// Provisional.
//
// Status re-validates the impersonated tenant through the (cached)
// directory; a deleted or disabled tenant surfaces ErrTenantGone rather
// than silently serving stale identity.
func (o *Overlay) Status(ctx context.Context, operatorID string) (State, error) {
	sess, err := o.store.Get(ctx, operatorID)
	switch {
	case errors.Is(err, ErrNotImpersonating):
		if clearErr := o.mirror.Clear(operatorID); clearErr != nil {
			o.logger.Warn("mirror clear failed", "operator_id", operatorID, "error", clearErr)
		}
		return Idle, nil
	case err != nil:
		// Authority unreachable: fall back to the mirror, explicitly
		// provisional.
		if mirrored, ok, mirrorErr := o.mirror.Load(operatorID); mirrorErr == nil && ok {
			o.logger.Warn("authoritative store unreachable, serving provisional state",
				"operator_id", operatorID, "error", err)
			return State{Active: true, Session: mirrored, Provisional: true}, nil
		}
		return Idle, err
	}

	if o.expired(sess) {
		o.logger.Info("impersonation exceeded max duration, ending",
			"operator_id", operatorID, "impersonation_id", sess.ID)
		if err := o.store.Delete(ctx, operatorID); err != nil {
			return Idle, err
		}
		if err := o.mirror.Clear(operatorID); err != nil {
			o.logger.Warn("mirror clear failed", "operator_id", operatorID, "error", err)
		}
		return Idle, nil
	}

	tenant, err := o.lookupTenant(ctx, sess.TenantID)
	if err != nil || tenant.Disabled {
		if errors.Is(err, ErrTenantNotFound) || (err == nil && tenant.Disabled) {
			return Idle, ErrTenantGone
		}
		return Idle, err
	}

	if err := o.mirror.Store(sess); err != nil {
		o.logger.Warn("mirror refresh failed", "operator_id", operatorID, "error", err)
	}
	return State{Active: true, Session: sess}, nil
}

// EffectiveTenant returns the tenant an operator currently impersonates,
// or nil when idle. Used by the proxy to substitute the tenant's
// credential on admin-prefix requests.
func (o *Overlay) EffectiveTenant(ctx context.Context, operatorID string) (*Tenant, error) {
	state, err := o.Status(ctx, operatorID)
	if err != nil {
		return nil, err
	}
	if !state.Active || state.Provisional {
		// A provisional state is good enough for display, never for
		// attaching a credential.
		return nil, nil
	}
	tenant, err := o.lookupTenant(ctx, state.Session.TenantID)
	if err != nil {
		return nil, err
	}
	return tenant, nil
}

// activeSession returns the operator's live session, nil when idle or
// past the max duration.
func (o *Overlay) activeSession(ctx context.Context, operatorID string) (*Session, error) {
	sess, err := o.store.Get(ctx, operatorID)
	if errors.Is(err, ErrNotImpersonating) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if o.expired(sess) {
		return nil, nil
	}
	return sess, nil
}

func (o *Overlay) expired(sess *Session) bool {
	if o.maxDuration <= 0 {
		return false
	}
	return time.Now().UTC().Sub(sess.StartedAt) > o.maxDuration
}

func (o *Overlay) lookupTenant(ctx context.Context, tenantID string) (*Tenant, error) {
	t, err := o.tenantCache.GetOrSet(ctx, tenantID, func(ctx context.Context) (Tenant, error) {
		tenant, err := o.tenants.Lookup(ctx, tenantID)
		if err != nil {
			return Tenant{}, err
		}
		return *tenant, nil
	})
	if err != nil {
		return nil, err
	}
	out := t
	return &out, nil
}

// Close releases the tenant cache.
func (o *Overlay) Close() {
	o.tenantCache.Stop()
}
