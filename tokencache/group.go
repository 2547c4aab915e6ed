package tokencache

import (
	"context"

	"github.com/ggoodman/delegate-go/internal/flightcache"
)

// Group fronts a Cache with single-flight refresh: for any one key, at most
// one fetch is in flight regardless of how many callers miss concurrently,
// and all of them receive the entry that fetch produced.
type Group struct {
	fc *flightcache.Group[Entry]
}

// NewGroup returns a Group over cache. A nil cache selects an in-memory
// cache with the default leeway.
func NewGroup(cache Cache) *Group {
	if cache == nil {
		cache = NewMemory(0)
	}
	return &Group{fc: flightcache.New[Entry](storeAdapter{cache})}
}

// GetOrExchange returns the cached entry for key or runs fetch to obtain
// and cache one.
func (g *Group) GetOrExchange(ctx context.Context, key string, fetch func(ctx context.Context) (Entry, error)) (Entry, error) {
	return g.fc.Do(ctx, key, fetch)
}

// Cache returns the backing cache.
func (g *Group) Cache() Cache { return g.fc.Store().(storeAdapter).c }

// storeAdapter bridges Cache to the flightcache Store contract.
type storeAdapter struct{ c Cache }

func (s storeAdapter) Get(key string) (Entry, bool) { return s.c.Get(key) }
func (s storeAdapter) Set(key string, e Entry)      { s.c.Set(key, e) }
