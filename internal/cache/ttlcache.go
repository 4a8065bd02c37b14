// Package cache provides a generic expiring, size-bounded key/value store
// with least-recently-used eviction. It backs the identity and tenant
// lookups on the proxy hot path.
package cache

import (
	"context"
	"sync"
	"time"
)

// RemovalReason explains why an entry left the cache. Passed to the
// optional eviction callback so callers can release associated resources.
type RemovalReason string

const (
	// ReasonEvicted means the entry was removed to make room for a new key.
	ReasonEvicted RemovalReason = "evicted"
	// ReasonExpired means the entry's TTL elapsed.
	ReasonExpired RemovalReason = "expired"
	// ReasonDeleted means the entry was removed by an explicit Delete.
	ReasonDeleted RemovalReason = "deleted"
	// ReasonCleared means the entry was removed by Clear or Stop.
	ReasonCleared RemovalReason = "cleared"
)

// entry is a single cache record. lastAccess drives LRU ordering and is
// refreshed on every successful read and on write. size is informational
// only and never drives eviction.
type entry[V any] struct {
	value      V
	expiresAt  time.Time
	lastAccess time.Time
	size       int
}

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	Entries     int
	Hits        uint64
	Misses      uint64
	Evictions   uint64
	Expirations uint64
	// ApproxBytes is the sum of per-entry size estimates. Zero unless a
	// size function was configured. Informational only.
	ApproxBytes int
}

// Option configures a TTLCache.
type Option[K comparable, V any] func(*TTLCache[K, V])

// WithOnRemove sets a callback invoked (outside the cache lock) whenever an
// entry is removed, regardless of reason.
func WithOnRemove[K comparable, V any](fn func(key K, value V, reason RemovalReason)) Option[K, V] {
	return func(c *TTLCache[K, V]) { c.onRemove = fn }
}

// WithSizeFunc sets an estimator used to populate the ApproxBytes stat.
func WithSizeFunc[K comparable, V any](fn func(V) int) Option[K, V] {
	return func(c *TTLCache[K, V]) { c.sizeFunc = fn }
}

// WithSweepInterval overrides the background sweep interval.
func WithSweepInterval[K comparable, V any](d time.Duration) Option[K, V] {
	return func(c *TTLCache[K, V]) { c.sweepInterval = d }
}

// DefaultSweepInterval is how often the background sweep removes expired
// entries that are never read again.
const DefaultSweepInterval = 1 * time.Minute

// TTLCache is a thread-safe expiring cache bounded by entry count.
//
// Entries are logically absent once past their expiry even if still
// physically present until the next sweep: reads past expiry miss and
// delete the entry (lazy expiry). When the cache is at capacity and a new
// key is inserted, the globally least-recently-accessed entry is evicted
// first. The eviction scan is O(n); capacities here are small (hundreds of
// sessions), so an ordered structure is not worth the bookkeeping.
//
// The RWMutex pattern follows certcache-style fast-path reads: read lock
// for hits, write lock on miss or mutation.
type TTLCache[K comparable, V any] struct {
	mu            sync.RWMutex
	entries       map[K]*entry[V]
	maxSize       int
	defaultTTL    time.Duration
	sweepInterval time.Duration
	onRemove      func(K, V, RemovalReason)
	sizeFunc      func(V) int

	hits        uint64
	misses      uint64
	evictions   uint64
	expirations uint64

	stopChan chan struct{}
	wg       sync.WaitGroup
	once     sync.Once
}

// New creates a TTLCache and starts its background sweep goroutine.
// maxSize bounds the number of entries (not bytes); defaultTTL applies to
// Set and GetOrSet. Stop must be called on shutdown to release the sweeper.
func New[K comparable, V any](maxSize int, defaultTTL time.Duration, opts ...Option[K, V]) *TTLCache[K, V] {
	c := &TTLCache[K, V]{
		entries:       make(map[K]*entry[V]),
		maxSize:       maxSize,
		defaultTTL:    defaultTTL,
		sweepInterval: DefaultSweepInterval,
		stopChan:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.wg.Add(1)
	go c.sweepLoop()
	return c
}

// sweepLoop proactively deletes expired entries on a fixed interval,
// bounding memory even for keys that are never read again.
func (c *TTLCache[K, V]) sweepLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopChan:
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

// sweep removes all expired entries.
func (c *TTLCache[K, V]) sweep() {
	now := time.Now()

	c.mu.Lock()
	var removed []removedEntry[K, V]
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
			c.expirations++
			removed = append(removed, removedEntry[K, V]{k, e.value, ReasonExpired})
		}
	}
	c.mu.Unlock()

	c.notify(removed)
}

// removedEntry pairs a removed key/value with its removal reason so the
// callback can run outside the lock.
type removedEntry[K comparable, V any] struct {
	key    K
	value  V
	reason RemovalReason
}

func (c *TTLCache[K, V]) notify(removed []removedEntry[K, V]) {
	if c.onRemove == nil {
		return
	}
	for _, r := range removed {
		c.onRemove(r.key, r.value, r.reason)
	}
}

// Set inserts or overwrites key with the default TTL.
func (c *TTLCache[K, V]) Set(key K, value V) {
	c.SetTTL(key, value, c.defaultTTL)
}

// SetTTL inserts or overwrites key with an explicit TTL. If the cache is at
// capacity and key is new, the least-recently-accessed entry is evicted
// first.
func (c *TTLCache[K, V]) SetTTL(key K, value V, ttl time.Duration) {
	now := time.Now()
	size := 0
	if c.sizeFunc != nil {
		size = c.sizeFunc(value)
	}

	c.mu.Lock()
	var removed []removedEntry[K, V]
	if _, exists := c.entries[key]; !exists && c.maxSize > 0 && len(c.entries) >= c.maxSize {
		if victim, ok := c.lruKeyLocked(); ok {
			removed = append(removed, removedEntry[K, V]{victim, c.entries[victim].value, ReasonEvicted})
			delete(c.entries, victim)
			c.evictions++
		}
	}
	c.entries[key] = &entry[V]{
		value:      value,
		expiresAt:  now.Add(ttl),
		lastAccess: now,
		size:       size,
	}
	c.mu.Unlock()

	c.notify(removed)
}

// lruKeyLocked returns the key with the oldest lastAccess. Caller holds the
// write lock.
func (c *TTLCache[K, V]) lruKeyLocked() (K, bool) {
	var victim K
	var oldest time.Time
	found := false
	for k, e := range c.entries {
		if !found || e.lastAccess.Before(oldest) {
			victim = k
			oldest = e.lastAccess
			found = true
		}
	}
	return victim, found
}

// Get returns the live value for key. A miss is reported for keys never
// set and for expired entries; an expired read also deletes the entry.
func (c *TTLCache[K, V]) Get(key K) (V, bool) {
	now := time.Now()

	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok {
		c.misses++
		c.mu.Unlock()
		var zero V
		return zero, false
	}
	if now.After(e.expiresAt) {
		delete(c.entries, key)
		c.expirations++
		c.misses++
		c.mu.Unlock()
		c.notify([]removedEntry[K, V]{{key, e.value, ReasonExpired}})
		var zero V
		return zero, false
	}
	e.lastAccess = now
	c.hits++
	value := e.value
	c.mu.Unlock()

	return value, true
}

// Has reports whether key holds a live value, with the same expiry
// semantics as Get.
func (c *TTLCache[K, V]) Has(key K) bool {
	_, ok := c.Get(key)
	return ok
}

// Delete removes key. Returns true if an entry was present.
func (c *TTLCache[K, V]) Delete(key K) bool {
	c.mu.Lock()
	e, ok := c.entries[key]
	if ok {
		delete(c.entries, key)
	}
	c.mu.Unlock()

	if ok {
		c.notify([]removedEntry[K, V]{{key, e.value, ReasonDeleted}})
	}
	return ok
}

// Clear removes all entries.
func (c *TTLCache[K, V]) Clear() {
	c.clear(ReasonCleared)
}

func (c *TTLCache[K, V]) clear(reason RemovalReason) {
	c.mu.Lock()
	removed := make([]removedEntry[K, V], 0, len(c.entries))
	for k, e := range c.entries {
		removed = append(removed, removedEntry[K, V]{k, e.value, reason})
	}
	c.entries = make(map[K]*entry[V])
	c.mu.Unlock()

	c.notify(removed)
}

// GetOrSet returns the cached value for key if live; otherwise it invokes
// factory, stores the result under the default TTL, and returns it.
//
// There is no single-flight guarantee: concurrent callers racing on the
// same missing key may each invoke factory, and the last write wins.
// Callers whose factories are expensive and contended should deduplicate
// upstream.
func (c *TTLCache[K, V]) GetOrSet(ctx context.Context, key K, factory func(context.Context) (V, error)) (V, error) {
	return c.GetOrSetTTL(ctx, key, factory, c.defaultTTL)
}

// GetOrSetTTL is GetOrSet with an explicit TTL for the stored value. The
// TTL only applies when the factory runs; a live entry keeps its original
// expiry.
func (c *TTLCache[K, V]) GetOrSetTTL(ctx context.Context, key K, factory func(context.Context) (V, error), ttl time.Duration) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	v, err := factory(ctx)
	if err != nil {
		var zero V
		return zero, err
	}
	c.SetTTL(key, v, ttl)
	return v, nil
}

// Keys returns the keys of all live entries.
func (c *TTLCache[K, V]) Keys() []K {
	now := time.Now()

	c.mu.RLock()
	defer c.mu.RUnlock()

	keys := make([]K, 0, len(c.entries))
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			continue
		}
		keys = append(keys, k)
	}
	return keys
}

// Len returns the number of live entries.
func (c *TTLCache[K, V]) Len() int {
	now := time.Now()

	c.mu.RLock()
	defer c.mu.RUnlock()

	n := 0
	for _, e := range c.entries {
		if !now.After(e.expiresAt) {
			n++
		}
	}
	return n
}

// Stats returns a snapshot of the cache counters.
func (c *TTLCache[K, V]) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	bytes := 0
	for _, e := range c.entries {
		bytes += e.size
	}
	return Stats{
		Entries:     len(c.entries),
		Hits:        c.hits,
		Misses:      c.misses,
		Evictions:   c.evictions,
		Expirations: c.expirations,
		ApproxBytes: bytes,
	}
}

// Stop halts the background sweep and clears all entries. Safe to call
// multiple times. Must be called on shutdown to avoid leaking the sweeper
// goroutine.
func (c *TTLCache[K, V]) Stop() {
	c.once.Do(func() {
		close(c.stopChan)
	})
	c.wg.Wait()
	c.clear(ReasonCleared)
}
