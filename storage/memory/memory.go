// Package memory provides an in-process implementation of storage.Storage.
// It exists for tests and single-node deployments; anything that must
// survive a restart belongs in the file or redis backends.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/ggoodman/delegate-go/storage"
)

// Storage implements storage.Storage over a mutex-guarded map.
type Storage struct {
	mu     sync.RWMutex
	items  map[string]*storage.Item
	closed bool
}

var _ storage.Storage = (*Storage)(nil)

// New creates an empty in-memory store.
func New() *Storage {
	return &Storage{items: map[string]*storage.Item{}}
}

// Get retrieves the item stored under key, evicting it if expired.
func (s *Storage) Get(ctx context.Context, key string, opts ...storage.Option) (*storage.Item, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, storage.ErrClosed
	}
	item, ok := s.items[key]
	s.mu.RUnlock()

	if !ok {
		return nil, nil
	}
	if item.IsExpired() {
		s.mu.Lock()
		delete(s.items, key)
		s.mu.Unlock()
		return nil, nil
	}
	return item, nil
}

// Set stores a copy of data under key.
func (s *Storage) Set(ctx context.Context, key string, data []byte, opts ...storage.Option) error {
	options := storage.ApplyOptions(opts)

	now := time.Now()
	item := &storage.Item{
		Data:      append([]byte(nil), data...),
		CreatedAt: now,
	}
	if options.TTL != nil {
		expiresAt := now.Add(*options.TTL)
		item.ExpiresAt = &expiresAt
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return storage.ErrClosed
	}
	s.items[key] = item
	return nil
}

// Delete removes key if present.
func (s *Storage) Delete(ctx context.Context, key string, opts ...storage.Option) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return storage.ErrClosed
	}
	delete(s.items, key)
	return nil
}

// Close drops all items and rejects further operations.
func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = map[string]*storage.Item{}
	s.closed = true
	return nil
}
