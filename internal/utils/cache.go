package utils

import (
	"sync"
	"time"
)

// TTLCache is a small thread-safe in-memory cache whose entries expire after
// a fixed TTL. It backs per-patient lookups that are read on every alert tick.
type TTLCache[V any] struct {
	mu   sync.Mutex
	ttl  time.Duration
	now  func() time.Time
	data map[string]entry[V]
}

type entry[V any] struct {
	v  V
	at time.Time
}

// NewTTLCache creates a new cache with the given TTL. If ttl <= 0, it defaults to 1m.
func NewTTLCache[V any](ttl time.Duration) *TTLCache[V] {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &TTLCache[V]{ttl: ttl, now: time.Now, data: make(map[string]entry[V], 16)}
}

// Get returns the cached value if it exists and hasn't expired.
func (c *TTLCache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.data[key]
	if !ok {
		var zero V
		return zero, false
	}
	if c.now().Sub(e.at) > c.ttl {
		delete(c.data, key)
		var zero V
		return zero, false
	}
	return e.v, true
}

// Set stores v stamped with the current time.
func (c *TTLCache[V]) Set(key string, v V) {
	c.mu.Lock()
	c.data[key] = entry[V]{v: v, at: c.now()}
	c.mu.Unlock()
}

// Delete drops key if present.
func (c *TTLCache[V]) Delete(key string) {
	c.mu.Lock()
	delete(c.data, key)
	c.mu.Unlock()
}

// Len counts entries, expired ones included until they are next read.
func (c *TTLCache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}

// SetClock replaces the time source. Intended for tests.
func (c *TTLCache[V]) SetClock(now func() time.Time) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}
