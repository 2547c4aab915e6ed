// Package storage provides a small TTL-aware blob store used for state the
// engine must keep outside a single process lifetime: WebIdentity private
// key material and, optionally, derived-token cache entries. Backends are
// provided for memory (tests), local files (key persistence across
// restarts) and Redis (shared caches).
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrClosed is returned by operations on a closed storage backend.
var ErrClosed = errors.New("storage: backend closed")

// Storage is the blob store contract.
type Storage interface {
	// Get retrieves the item stored under key. A missing or expired key
	// yields (nil, nil); errors are reserved for backend failures.
	Get(ctx context.Context, key string, opts ...Option) (*Item, error)

	// Set stores data under key, replacing any previous value.
	Set(ctx context.Context, key string, data []byte, opts ...Option) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string, opts ...Option) error

	// Close releases backend resources.
	Close() error
}

// Item is a stored blob with metadata.
type Item struct {
	Data      []byte
	CreatedAt time.Time
	ExpiresAt *time.Time // nil means no expiry
}

// IsExpired reports whether the item's TTL has elapsed.
func (it *Item) IsExpired() bool {
	return it.ExpiresAt != nil && time.Now().After(*it.ExpiresAt)
}

// Option configures a single storage operation.
type Option func(*Options)

// Options carries per-operation settings.
type Options struct {
	TTL *time.Duration
}

// WithTTL sets a time-to-live for the stored data. Backends with native
// expiry (Redis) use it directly; others enforce it on read.
func WithTTL(ttl time.Duration) Option {
	return func(opts *Options) {
		opts.TTL = &ttl
	}
}

// ApplyOptions folds opts into an Options value for backend use.
func ApplyOptions(opts []Option) *Options {
	o := &Options{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}
