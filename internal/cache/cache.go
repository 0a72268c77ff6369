// Package cache provides process-wide, time-boxed memoization for expensive
// read operations (search, URL fetch). Entries are keyed by a stable
// fingerprint and expire lazily; there is no background sweep. The cache is
// an optimization only: callers must behave correctly on a permanent miss.
package cache

import (
	"sync"
	"time"
)

type entry struct {
	value     string
	expiresAt time.Time
}

type Cache struct {
	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time
}

func New() *Cache {
	return &Cache{
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

// Get returns the cached value for fingerprint, or ok=false on miss.
// Expired entries are deleted on access and reported as misses.
func (c *Cache) Get(fingerprint string) (string, bool) {
	if c == nil {
		return "", false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	e, exists := c.entries[fingerprint]
	if !exists {
		return "", false
	}
	if c.now().After(e.expiresAt) {
		delete(c.entries, fingerprint)
		return "", false
	}
	return e.value, true
}

// Set stores value under fingerprint for ttl. A non-positive ttl is a no-op.
func (c *Cache) Set(fingerprint, value string, ttl time.Duration) {
	if c == nil || ttl <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[fingerprint] = entry{
		value:     value,
		expiresAt: c.now().Add(ttl),
	}
}

// Len reports the number of entries including not-yet-collected expired ones.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
