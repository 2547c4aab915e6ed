// Package flightcache combines a keyed cache with single-flight fetch
// collapsing. Concurrent callers that miss the cache for the same key are
// folded into one backend fetch; every waiter observes the identical value.
// The token cache and the JWKS fetch path share this primitive.
package flightcache

import (
	"context"

	"golang.org/x/sync/singleflight"
)

// Store is the cache a Group fronts. Implementations own their expiry
// policy: Get must report a miss for entries the caller should refresh.
// Store implementations must be safe for concurrent use.
type Store[V any] interface {
	Get(key string) (V, bool)
	Set(key string, value V)
}

// Group deduplicates fetches per key over a Store.
type Group[V any] struct {
	store Store[V]
	sf    singleflight.Group
}

// New returns a Group fronting store.
func New[V any](store Store[V]) *Group[V] {
	return &Group[V]{store: store}
}

// Store returns the underlying store.
func (g *Group[V]) Store() Store[V] { return g.store }

// Do returns the cached value for key, or runs fetch to populate it. While
// one fetch for a key is in flight, further callers for that key block and
// share its outcome instead of issuing their own fetch. The cache is
// re-checked after lock acquisition so late waiters hit the entry the
// winner stored.
func (g *Group[V]) Do(ctx context.Context, key string, fetch func(ctx context.Context) (V, error)) (V, error) {
	if v, ok := g.store.Get(key); ok {
		return v, nil
	}
	res, err, _ := g.sf.Do(key, func() (any, error) {
		// Double check: another caller may have completed while we queued.
		if v, ok := g.store.Get(key); ok {
			return v, nil
		}
		v, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		g.store.Set(key, v)
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return res.(V), nil
}

// Forget drops any in-flight dedup state for key so the next Do issues a
// fresh fetch if the store misses.
func (g *Group[V]) Forget(key string) { g.sf.Forget(key) }
