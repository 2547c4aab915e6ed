// Package redis provides a Redis implementation of storage.Storage, used
// when derived-token cache entries should be shared across replicas of a
// service. TTLs map to native Redis key expiry.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"

	"github.com/ggoodman/delegate-go/storage"
)

// Config contains configuration options for the Redis storage.
type Config struct {
	// Client is the Redis client instance. Required by New; NewFromEnv
	// constructs one from RedisAddr.
	Client *redis.Client `env:"-"`

	// RedisAddr like "localhost:6379". ENV: REDIS_ADDR
	RedisAddr string `env:"REDIS_ADDR,default=localhost:6379"`

	// KeyPrefix for all Redis keys. ENV: DELEGATE_STORAGE_KEY_PREFIX
	KeyPrefix string `env:"DELEGATE_STORAGE_KEY_PREFIX,default=delegate:storage:"`
}

// Storage implements storage.Storage using Redis.
type Storage struct {
	client    *redis.Client
	keyPrefix string
}

var _ storage.Storage = (*Storage)(nil)

// storedItem is the JSON envelope kept in Redis.
type storedItem struct {
	Data      []byte     `json:"data"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// New creates a Redis-backed storage instance.
func New(cfg Config) (*Storage, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("redis: client is required")
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "delegate:storage:"
	}
	return &Storage{client: cfg.Client, keyPrefix: prefix}, nil
}

// NewFromEnv builds a Storage using envdecode-populated Config and verifies
// connectivity with a ping.
func NewFromEnv(ctx context.Context) (*Storage, error) {
	var cfg Config
	_ = envdecode.Decode(&cfg)
	cl := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := cl.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	cfg.Client = cl
	return New(cfg)
}

// Get retrieves the item stored under key.
func (s *Storage) Get(ctx context.Context, key string, opts ...storage.Option) (*storage.Item, error) {
	res := s.client.Get(ctx, s.keyPrefix+key)
	if err := res.Err(); err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("redis: get %s: %w", key, err)
	}

	var stored storedItem
	if err := json.Unmarshal([]byte(res.Val()), &stored); err != nil {
		return nil, fmt.Errorf("redis: unmarshal stored item: %w", err)
	}

	item := &storage.Item{
		Data:      stored.Data,
		CreatedAt: stored.CreatedAt,
		ExpiresAt: stored.ExpiresAt,
	}
	if item.IsExpired() {
		// Native expiry should already have removed it; clean up when
		// clocks disagree.
		s.client.Del(ctx, s.keyPrefix+key)
		return nil, nil
	}
	return item, nil
}

// Set stores data under key, applying the TTL as native Redis expiry.
func (s *Storage) Set(ctx context.Context, key string, data []byte, opts ...storage.Option) error {
	options := storage.ApplyOptions(opts)

	now := time.Now()
	stored := storedItem{Data: data, CreatedAt: now}
	var ttl time.Duration
	if options.TTL != nil {
		ttl = *options.TTL
		expiresAt := now.Add(ttl)
		stored.ExpiresAt = &expiresAt
	}

	b, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("redis: marshal item: %w", err)
	}
	if err := s.client.Set(ctx, s.keyPrefix+key, b, ttl).Err(); err != nil {
		return fmt.Errorf("redis: set %s: %w", key, err)
	}
	return nil
}

// Delete removes key.
func (s *Storage) Delete(ctx context.Context, key string, opts ...storage.Option) error {
	if err := s.client.Del(ctx, s.keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("redis: delete %s: %w", key, err)
	}
	return nil
}

// Close closes the Redis client.
func (s *Storage) Close() error { return s.client.Close() }
