// Package tokencache caches derived access tokens between exchanges.
// Entries are keyed by a stable identifier (typically the source token's
// jti claim) and evicted ahead of true expiry by a configurable leeway so
// consumers refresh proactively instead of presenting a nearly dead token.
package tokencache

import (
	"sync"
	"time"
)

// DefaultLeeway is how long before a token's true expiry it is treated as
// expired (5 minutes, matching typical clock-skew allowances).
const DefaultLeeway = 300 * time.Second

// Entry is a cached derived token with its absolute expiry.
type Entry struct {
	Token string
	// ExpiresAt is the epoch second after which the token is invalid,
	// normally the token's exp claim.
	ExpiresAt int64
}

// Cache stores derived tokens. Get must miss (and may evict) once
// now >= ExpiresAt - leeway for the implementation's configured leeway.
// Implementations must be safe for concurrent use.
type Cache interface {
	Get(key string) (Entry, bool)
	Set(key string, e Entry)
}

// Memory is a mutex-guarded in-process Cache.
type Memory struct {
	leeway time.Duration

	mu      sync.Mutex
	entries map[string]Entry

	// now is stubbed in tests.
	now func() time.Time
}

var _ Cache = (*Memory)(nil)

// NewMemory returns a Memory cache. A leeway <= 0 selects DefaultLeeway.
func NewMemory(leeway time.Duration) *Memory {
	if leeway <= 0 {
		leeway = DefaultLeeway
	}
	return &Memory{
		leeway:  leeway,
		entries: map[string]Entry{},
		now:     time.Now,
	}
}

// Get returns the entry for key if its expiry (minus leeway) has not been
// reached. Entries inside the leeway window are evicted and reported as
// misses to force a refresh.
func (m *Memory) Get(key string) (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return Entry{}, false
	}
	if m.now().Unix() >= e.ExpiresAt-int64(m.leeway/time.Second) {
		delete(m.entries, key)
		return Entry{}, false
	}
	return e, true
}

// Set stores e under key, replacing any previous entry.
func (m *Memory) Set(key string, e Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = e
}

// Len reports the number of stored entries, counting expired ones that have
// not yet been evicted by a Get.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
