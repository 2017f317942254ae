// Package cache provides a small TTL-bound memoization cache used for
// vision/embed descriptions and lookup answers. Entries are idempotent for
// a given key, so concurrent fills are last-writer-wins by design.
package cache

import (
	"context"
	"sync"
	"time"
)

// TTL is a keyed cache whose entries expire after a fixed duration.
// Expired entries are dropped on read or by Sweep; there is no other
// eviction.
type TTL[V any] struct {
	ttl     time.Duration
	mu      sync.Mutex
	entries map[string]entry[V]

	// now is stubbed in tests.
	now func() time.Time
}

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// New creates a TTL cache. A non-positive ttl defaults to one hour.
func New[V any](ttl time.Duration) *TTL[V] {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &TTL[V]{
		ttl:     ttl,
		entries: make(map[string]entry[V]),
		now:     time.Now,
	}
}

// Get returns the cached value for key, if present and unexpired.
func (c *TTL[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	if c.now().After(e.expiresAt) {
		delete(c.entries, key)
		var zero V
		return zero, false
	}
	return e.value, true
}

// Set stores value under key with the cache's TTL.
func (c *TTL[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry[V]{value: value, expiresAt: c.now().Add(c.ttl)}
}

// GetOrFill returns the cached value for key, calling fill on a miss and
// caching its result. Fill errors are not cached.
func (c *TTL[V]) GetOrFill(ctx context.Context, key string, fill func(ctx context.Context) (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	v, err := fill(ctx)
	if err != nil {
		var zero V
		return zero, err
	}
	c.Set(key, v)
	return v, nil
}

// Sweep removes all expired entries and returns how many were dropped.
func (c *TTL[V]) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	dropped := 0
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
			dropped++
		}
	}
	return dropped
}

// Reset drops every entry.
func (c *TTL[V]) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry[V])
}

// Len returns the number of entries currently held, including any that
// expired but were not yet swept.
func (c *TTL[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
