package tokencache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/ggoodman/delegate-go/storage"
)

// StorageCache adapts a storage.Storage backend (typically Redis) to the
// Cache contract so derived tokens can be shared across service replicas.
// Backend failures degrade to cache misses: the caller re-exchanges rather
// than failing the request.
type StorageCache struct {
	store  storage.Storage
	leeway time.Duration
	log    *slog.Logger

	now func() time.Time
}

var _ Cache = (*StorageCache)(nil)

// FromStorage wraps store as a Cache. A leeway <= 0 selects DefaultLeeway.
func FromStorage(store storage.Storage, leeway time.Duration, log *slog.Logger) *StorageCache {
	if leeway <= 0 {
		leeway = DefaultLeeway
	}
	if log == nil {
		log = slog.Default()
	}
	return &StorageCache{store: store, leeway: leeway, log: log, now: time.Now}
}

// Get returns the entry for key unless its expiry minus leeway has passed.
func (c *StorageCache) Get(key string) (Entry, bool) {
	ctx := context.Background()
	item, err := c.store.Get(ctx, key)
	if err != nil {
		c.log.Warn("token cache read failed, treating as miss", slog.String("key", key), slog.Any("error", err))
		return Entry{}, false
	}
	if item == nil {
		return Entry{}, false
	}
	var e Entry
	if err := json.Unmarshal(item.Data, &e); err != nil {
		c.log.Warn("token cache entry corrupt, evicting", slog.String("key", key), slog.Any("error", err))
		_ = c.store.Delete(ctx, key)
		return Entry{}, false
	}
	if c.now().Unix() >= e.ExpiresAt-int64(c.leeway/time.Second) {
		_ = c.store.Delete(ctx, key)
		return Entry{}, false
	}
	return e, true
}

// Set stores e with a backend TTL ending at the leeway boundary, so the
// backend expires entries at the same moment Get would start missing.
func (c *StorageCache) Set(key string, e Entry) {
	ttl := time.Until(time.Unix(e.ExpiresAt-int64(c.leeway/time.Second), 0))
	if ttl <= 0 {
		return
	}
	b, err := json.Marshal(e)
	if err != nil {
		c.log.Warn("token cache entry marshal failed", slog.String("key", key), slog.Any("error", err))
		return
	}
	if err := c.store.Set(context.Background(), key, b, storage.WithTTL(ttl)); err != nil {
		c.log.Warn("token cache write failed", slog.String("key", key), slog.Any("error", err))
	}
}
