// Package file provides a filesystem implementation of storage.Storage.
// Values are written raw (one file per key, 0600) so persisted key material
// reloads byte-identically across restarts and stays inspectable with
// ordinary tooling. TTLs, when requested, are tracked in a sidecar
// metadata file and enforced on read.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ggoodman/delegate-go/storage"
)

const metaSuffix = ".meta.json"

// Storage implements storage.Storage over a directory.
type Storage struct {
	dir string

	mu     sync.Mutex
	closed bool
}

var _ storage.Storage = (*Storage)(nil)

type metadata struct {
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// New creates the directory (0700) if needed and returns a Storage over it.
func New(dir string) (*Storage, error) {
	if dir == "" {
		return nil, fmt.Errorf("file: directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("file: create storage dir: %w", err)
	}
	return &Storage{dir: dir}, nil
}

// Get returns the bytes stored under key, or (nil, nil) when absent or
// expired. Expired entries are removed.
func (s *Storage) Get(ctx context.Context, key string, opts ...storage.Option) (*storage.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, storage.ErrClosed
	}

	path := s.path(key)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("file: read %s: %w", path, err)
	}

	meta, err := s.readMeta(path)
	if err != nil {
		return nil, err
	}

	item := &storage.Item{Data: data}
	if meta != nil {
		item.CreatedAt = meta.CreatedAt
		item.ExpiresAt = meta.ExpiresAt
	}
	if item.IsExpired() {
		_ = os.Remove(path)
		_ = os.Remove(path + metaSuffix)
		return nil, nil
	}
	return item, nil
}

// Set writes data to the key's file with 0600 permissions. The write goes
// through a temp file and rename so readers never observe a partial value.
func (s *Storage) Set(ctx context.Context, key string, data []byte, opts ...storage.Option) error {
	options := storage.ApplyOptions(opts)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return storage.ErrClosed
	}

	path := s.path(key)
	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("file: create temp: %w", err)
	}
	tmpName := tmp.Name()
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("file: chmod temp: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("file: write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("file: close temp: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("file: rename into place: %w", err)
	}

	if options.TTL != nil {
		now := time.Now()
		expiresAt := now.Add(*options.TTL)
		meta := metadata{CreatedAt: now, ExpiresAt: &expiresAt}
		b, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("file: marshal metadata: %w", err)
		}
		if err := os.WriteFile(path+metaSuffix, b, 0o600); err != nil {
			return fmt.Errorf("file: write metadata: %w", err)
		}
	} else {
		// A previous TTL'd write must not constrain this one.
		_ = os.Remove(path + metaSuffix)
	}
	return nil
}

// Delete removes the key's file and any sidecar metadata.
func (s *Storage) Delete(ctx context.Context, key string, opts ...storage.Option) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return storage.ErrClosed
	}
	path := s.path(key)
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("file: remove %s: %w", path, err)
	}
	_ = os.Remove(path + metaSuffix)
	return nil
}

// Close rejects further operations. Files already on disk are left intact.
func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Path returns the on-disk location backing key. Exposed so callers (the
// WebIdentity rotation watcher) can observe external replacement.
func (s *Storage) Path(key string) string { return s.path(key) }

func (s *Storage) path(key string) string {
	// Percent-encoding keeps arbitrary key ids to a single flat file name.
	return filepath.Join(s.dir, url.PathEscape(key))
}

func (s *Storage) readMeta(path string) (*metadata, error) {
	b, err := os.ReadFile(path + metaSuffix)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("file: read metadata: %w", err)
	}
	var meta metadata
	if err := json.Unmarshal(b, &meta); err != nil {
		return nil, fmt.Errorf("file: parse metadata: %w", err)
	}
	return &meta, nil
}
