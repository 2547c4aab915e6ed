// Package jwks caches token-verification keys fetched from a JWKS endpoint.
// Entries live for a fixed TTL; when the cache is full and a new kid
// arrives, the whole cache is cleared rather than evicting one entry. That
// wholesale clear is deliberate: signing-key sets are tiny and rotate
// rarely, so the simplicity beats LRU bookkeeping.
package jwks

import (
	"crypto"
	"sync"
	"time"
)

// Defaults for cache construction.
const (
	DefaultTTL     = 300 * time.Second
	DefaultMaxSize = 10
)

// defaultKid is the cache slot for tokens whose header carries no kid.
const defaultKid = "_default"

// Key is cached verification-key material.
type Key struct {
	Public    crypto.PublicKey
	Algorithm string
	FetchedAt time.Time
}

// Cache is a mutex-guarded kid-keyed TTL cache.
type Cache struct {
	ttl     time.Duration
	maxSize int

	mu      sync.Mutex
	entries map[string]Key

	now func() time.Time
}

// NewCache returns a Cache. Non-positive ttl or maxSize select the defaults.
func NewCache(ttl time.Duration, maxSize int) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Cache{ttl: ttl, maxSize: maxSize, entries: map[string]Key{}, now: time.Now}
}

func cacheKey(kid string) string {
	if kid == "" {
		return defaultKid
	}
	return kid
}

// Get returns the key for kid if present and younger than the TTL. Expired
// entries are evicted and reported as misses.
func (c *Cache) Get(kid string) (Key, bool) {
	k := cacheKey(kid)
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[k]
	if !ok {
		return Key{}, false
	}
	if c.now().Sub(entry.FetchedAt) >= c.ttl {
		delete(c.entries, k)
		return Key{}, false
	}
	return entry, true
}

// Set stores key under kid with the current fetch time. Inserting a new kid
// into a full cache clears every entry first.
func (c *Cache) Set(kid string, key Key) {
	k := cacheKey(kid)
	if key.FetchedAt.IsZero() {
		key.FetchedAt = c.now()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) >= c.maxSize {
		if _, exists := c.entries[k]; !exists {
			c.entries = map[string]Key{}
		}
	}
	c.entries[k] = key
}

// Remove deletes kid, reporting whether it was present.
func (c *Cache) Remove(kid string) bool {
	k := cacheKey(kid)
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[k]; !ok {
		return false
	}
	delete(c.entries, k)
	return true
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = map[string]Key{}
}

// CleanupExpired removes entries older than the TTL, returning how many
// were dropped.
func (c *Cache) CleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for k, entry := range c.entries {
		if c.now().Sub(entry.FetchedAt) >= c.ttl {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// KeyStat describes one cached entry's age.
type KeyStat struct {
	AgeSeconds float64 `json:"age_seconds"`
	Expired    bool    `json:"expired"`
}

// Stats is an aggregate snapshot for debugging and operational endpoints.
type Stats struct {
	Size       int                `json:"cache_size"`
	MaxSize    int                `json:"max_size"`
	TTLSeconds float64            `json:"ttl_seconds"`
	Expired    int                `json:"expired_entries"`
	Kids       []string           `json:"cached_keys"`
	Details    map[string]KeyStat `json:"cache_details"`
}

// Stats returns a point-in-time snapshot of the cache contents.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	snapshot := make(map[string]Key, len(c.entries))
	for k, v := range c.entries {
		snapshot[k] = v
	}
	c.mu.Unlock()

	now := c.now()
	stats := Stats{
		Size:       len(snapshot),
		MaxSize:    c.maxSize,
		TTLSeconds: c.ttl.Seconds(),
		Details:    make(map[string]KeyStat, len(snapshot)),
	}
	for k, entry := range snapshot {
		age := now.Sub(entry.FetchedAt)
		expired := age >= c.ttl
		if expired {
			stats.Expired++
		}
		stats.Kids = append(stats.Kids, k)
		stats.Details[k] = KeyStat{AgeSeconds: age.Seconds(), Expired: expired}
	}
	return stats
}

// Size reports the current entry count.
func (c *Cache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
