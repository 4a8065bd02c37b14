package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/zapgate/zapgate/internal/domain/session"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testSession(id string, ttl time.Duration) *session.Session {
	now := time.Now().UTC()
	return &session.Session{
		ID:         id,
		Role:       session.RoleUser,
		UserToken:  "tok-" + id,
		AccountID:  "acct-" + id,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
		LastAccess: now,
	}
}

func TestSessionStoreCRUD(t *testing.T) {
	t.Parallel()

	store := NewSessionStore()
	ctx := context.Background()

	if _, err := store.Get(ctx, "s1"); !errors.Is(err, session.ErrSessionNotFound) {
		t.Errorf("Get missing: err = %v, want ErrSessionNotFound", err)
	}

	if err := store.Create(ctx, testSession("s1", time.Hour)); err != nil {
		t.Fatalf("Create: %v", err)
	}
	got, err := store.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.UserToken != "tok-s1" {
		t.Errorf("UserToken = %q", got.UserToken)
	}

	got.AccountID = "changed"
	if err := store.Update(ctx, got); err != nil {
		t.Fatalf("Update: %v", err)
	}
	again, err := store.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Get after Update: %v", err)
	}
	if again.AccountID != "changed" {
		t.Errorf("AccountID = %q, want changed", again.AccountID)
	}

	if err := store.Delete(ctx, "s1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Get(ctx, "s1"); !errors.Is(err, session.ErrSessionNotFound) {
		t.Errorf("Get after Delete: err = %v, want ErrSessionNotFound", err)
	}
}

func TestSessionStoreUpdateMissing(t *testing.T) {
	t.Parallel()

	store := NewSessionStore()
	if err := store.Update(context.Background(), testSession("ghost", time.Hour)); !errors.Is(err, session.ErrSessionNotFound) {
		t.Errorf("Update missing: err = %v, want ErrSessionNotFound", err)
	}
}

func TestSessionStoreGetExpired(t *testing.T) {
	t.Parallel()

	store := NewSessionStore()
	ctx := context.Background()
	if err := store.Create(ctx, testSession("s1", -time.Minute)); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := store.Get(ctx, "s1"); !errors.Is(err, session.ErrSessionNotFound) {
		t.Errorf("Get expired: err = %v, want ErrSessionNotFound", err)
	}
}

func TestSessionStoreCopyOnReturn(t *testing.T) {
	t.Parallel()

	store := NewSessionStore()
	ctx := context.Background()
	if err := store.Create(ctx, testSession("s1", time.Hour)); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, _ := store.Get(ctx, "s1")
	got.UserToken = "mutated"

	fresh, _ := store.Get(ctx, "s1")
	if fresh.UserToken != "tok-s1" {
		t.Errorf("store content mutated through returned copy: %q", fresh.UserToken)
	}
}

func TestSessionStoreCleanup(t *testing.T) {
	t.Parallel()

	store := NewSessionStoreWithConfig(10 * time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store.StartCleanup(ctx)
	defer store.Stop()

	if err := store.Create(ctx, testSession("live", time.Hour)); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := store.Create(ctx, testSession("dead", -time.Minute)); err != nil {
		t.Fatalf("Create: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for store.Size() != 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := store.Size(); got != 1 {
		t.Errorf("Size = %d after cleanup, want 1", got)
	}
}

func TestSessionStoreStopIdempotent(t *testing.T) {
	t.Parallel()

	store := NewSessionStore()
	store.StartCleanup(context.Background())
	store.Stop()
	store.Stop()
}
