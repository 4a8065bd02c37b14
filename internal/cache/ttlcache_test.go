package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestCache(t *testing.T, maxSize int, ttl time.Duration, opts ...Option[string, string]) *TTLCache[string, string] {
	t.Helper()
	c := New[string, string](maxSize, ttl, opts...)
	t.Cleanup(c.Stop)
	return c
}

func TestTTLCache_SetAndGet(t *testing.T) {
	t.Parallel()

	c := newTestCache(t, 10, time.Minute)
	c.Set("a", "1")

	got, ok := c.Get("a")
	if !ok {
		t.Fatal("Get() miss, want hit")
	}
	if got != "1" {
		t.Errorf("Get() = %q, want %q", got, "1")
	}
}

func TestTTLCache_GetMissingKey(t *testing.T) {
	t.Parallel()

	c := newTestCache(t, 10, time.Minute)

	if _, ok := c.Get("nope"); ok {
		t.Error("Get() hit for key never set")
	}
	if c.Has("nope") {
		t.Error("Has() true for key never set")
	}
}

func TestTTLCache_Expiry(t *testing.T) {
	t.Parallel()

	c := newTestCache(t, 10, time.Minute)
	c.SetTTL("k", "v", 10*time.Millisecond)

	time.Sleep(20 * time.Millisecond)

	if _, ok := c.Get("k"); ok {
		t.Error("Get() hit for expired entry")
	}
	if c.Has("k") {
		t.Error("Has() true for expired entry")
	}
	for _, key := range c.Keys() {
		if key == "k" {
			t.Error("Keys() still lists expired key")
		}
	}
}

func TestTTLCache_LazyExpiryDeletes(t *testing.T) {
	t.Parallel()

	var removed []RemovalReason
	var mu sync.Mutex
	c := newTestCache(t, 10, time.Minute, WithOnRemove[string, string](func(_ string, _ string, reason RemovalReason) {
		mu.Lock()
		removed = append(removed, reason)
		mu.Unlock()
	}))
	c.SetTTL("k", "v", 5*time.Millisecond)

	time.Sleep(10 * time.Millisecond)
	c.Get("k")

	mu.Lock()
	defer mu.Unlock()
	if len(removed) != 1 || removed[0] != ReasonExpired {
		t.Errorf("removal reasons = %v, want [%s]", removed, ReasonExpired)
	}
}

func TestTTLCache_LRUEviction(t *testing.T) {
	t.Parallel()

	var evicted []string
	var mu sync.Mutex
	c := newTestCache(t, 2, time.Minute, WithOnRemove[string, string](func(key string, _ string, reason RemovalReason) {
		if reason != ReasonEvicted {
			return
		}
		mu.Lock()
		evicted = append(evicted, key)
		mu.Unlock()
	}))

	c.Set("a", "1")
	time.Sleep(2 * time.Millisecond)
	c.Set("b", "2")
	time.Sleep(2 * time.Millisecond)

	// Refresh a so b becomes the LRU entry.
	if _, ok := c.Get("a"); !ok {
		t.Fatal("Get(a) miss")
	}
	time.Sleep(2 * time.Millisecond)
	c.Set("c", "3")

	if _, ok := c.Get("b"); ok {
		t.Error("b still present, want evicted")
	}
	if _, ok := c.Get("a"); !ok {
		t.Error("a evicted, want retained (recently accessed)")
	}
	if _, ok := c.Get("c"); !ok {
		t.Error("c missing after insert")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(evicted) != 1 || evicted[0] != "b" {
		t.Errorf("evicted = %v, want [b]", evicted)
	}
}

func TestTTLCache_OverwriteDoesNotEvict(t *testing.T) {
	t.Parallel()

	c := newTestCache(t, 2, time.Minute)
	c.Set("a", "1")
	c.Set("b", "2")
	c.Set("a", "updated")

	if _, ok := c.Get("b"); !ok {
		t.Error("overwrite of existing key evicted another entry")
	}
	if got, _ := c.Get("a"); got != "updated" {
		t.Errorf("Get(a) = %q, want %q", got, "updated")
	}
}

func TestTTLCache_Delete(t *testing.T) {
	t.Parallel()

	c := newTestCache(t, 10, time.Minute)
	c.Set("a", "1")

	if !c.Delete("a") {
		t.Error("Delete() = false for present key")
	}
	if c.Delete("a") {
		t.Error("Delete() = true for absent key")
	}
	if c.Has("a") {
		t.Error("Has() true after Delete")
	}
}

func TestTTLCache_Clear(t *testing.T) {
	t.Parallel()

	c := newTestCache(t, 10, time.Minute)
	c.Set("a", "1")
	c.Set("b", "2")
	c.Clear()

	if c.Len() != 0 {
		t.Errorf("Len() = %d after Clear, want 0", c.Len())
	}
}

func TestTTLCache_GetOrSet(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := newTestCache(t, 10, time.Minute)

	calls := 0
	factory := func(context.Context) (string, error) {
		calls++
		return "built", nil
	}

	v, err := c.GetOrSet(ctx, "k", factory)
	if err != nil {
		t.Fatalf("GetOrSet() error: %v", err)
	}
	if v != "built" {
		t.Errorf("GetOrSet() = %q, want %q", v, "built")
	}

	// Second call is served from cache.
	if _, err := c.GetOrSet(ctx, "k", factory); err != nil {
		t.Fatalf("GetOrSet() error: %v", err)
	}
	if calls != 1 {
		t.Errorf("factory calls = %d, want 1", calls)
	}
}

func TestTTLCache_GetOrSetTTL(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := newTestCache(t, 10, time.Minute)

	factory := func(context.Context) (string, error) { return "built", nil }

	// The per-call TTL overrides the default, so the entry expires on the
	// short TTL despite the minute-long default.
	if _, err := c.GetOrSetTTL(ctx, "k", factory, 10*time.Millisecond); err != nil {
		t.Fatalf("GetOrSetTTL() error: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if c.Has("k") {
		t.Error("entry outlived its per-call TTL")
	}

	// A live entry keeps its original expiry; the new TTL is ignored.
	calls := 0
	counted := func(context.Context) (string, error) {
		calls++
		return "built", nil
	}
	if _, err := c.GetOrSetTTL(ctx, "k2", counted, time.Minute); err != nil {
		t.Fatalf("GetOrSetTTL() error: %v", err)
	}
	if _, err := c.GetOrSetTTL(ctx, "k2", counted, time.Millisecond); err != nil {
		t.Fatalf("GetOrSetTTL() error: %v", err)
	}
	if calls != 1 {
		t.Errorf("factory calls = %d, want 1", calls)
	}
}

func TestTTLCache_GetOrSetFactoryError(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := newTestCache(t, 10, time.Minute)

	wantErr := errors.New("lookup failed")
	_, err := c.GetOrSet(ctx, "k", func(context.Context) (string, error) {
		return "", wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Errorf("GetOrSet() error = %v, want %v", err, wantErr)
	}
	if c.Has("k") {
		t.Error("failed factory result was cached")
	}
}

func TestTTLCache_BackgroundSweep(t *testing.T) {
	t.Parallel()

	c := New[string, string](10, time.Minute, WithSweepInterval[string, string](10*time.Millisecond))
	t.Cleanup(c.Stop)

	c.SetTTL("k", "v", 5*time.Millisecond)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if c.Stats().Entries == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Error("sweep did not remove expired entry")
}

func TestTTLCache_Stats(t *testing.T) {
	t.Parallel()

	c := newTestCache(t, 10, time.Minute, WithSizeFunc[string, string](func(v string) int { return len(v) }))
	c.Set("a", "1234")
	c.Get("a")
	c.Get("missing")

	stats := c.Stats()
	if stats.Hits != 1 {
		t.Errorf("Hits = %d, want 1", stats.Hits)
	}
	if stats.Misses != 1 {
		t.Errorf("Misses = %d, want 1", stats.Misses)
	}
	if stats.ApproxBytes != 4 {
		t.Errorf("ApproxBytes = %d, want 4", stats.ApproxBytes)
	}
}

func TestTTLCache_StopIdempotent(t *testing.T) {
	t.Parallel()

	c := New[string, string](10, time.Minute)
	c.Set("a", "1")
	c.Stop()
	c.Stop()

	if c.Len() != 0 {
		t.Errorf("Len() = %d after Stop, want 0", c.Len())
	}
}

func TestTTLCache_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	c := newTestCache(t, 100, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				key := string(rune('a' + j%26))
				c.Set(key, "v")
				c.Get(key)
				c.Has(key)
			}
		}()
	}
	wg.Wait()
}
