package cache

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// TTL is a small in-memory cache whose entries expire after a fixed lifetime.
type TTL[V any] struct {
	mu    sync.Mutex
	data  map[string]item[V]
	ttl   time.Duration
	clock clock.Clock
}

type item[V any] struct {
	value     V
	expiresAt time.Time
}

// NewTTL creates a cache. A non-positive ttl disables expiry; a nil clock means the wall
// clock.
func NewTTL[V any](ttl time.Duration, clk clock.Clock) *TTL[V] {
	if clk == nil {
		clk = clock.New()
	}
	return &TTL[V]{data: make(map[string]item[V]), ttl: ttl, clock: clk}
}

// Get retrieves a cached value if present and not expired.
func (c *TTL[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	it, ok := c.data[key]
	if !ok {
		var zero V
		return zero, false
	}
	if !it.expiresAt.IsZero() && !c.clock.Now().Before(it.expiresAt) {
		delete(c.data, key)
		var zero V
		return zero, false
	}
	return it.value, true
}

// Set stores a value.
func (c *TTL[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expires time.Time
	if c.ttl > 0 {
		expires = c.clock.Now().Add(c.ttl)
	}
	c.data[key] = item[V]{value: value, expiresAt: expires}
}

// Delete removes an entry.
func (c *TTL[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
}

// Purge removes every entry.
func (c *TTL[V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = make(map[string]item[V])
}

// Len reports the number of stored entries, expired or not.
func (c *TTL[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}
