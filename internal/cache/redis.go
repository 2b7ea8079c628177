package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// DefaultRedisPrefix namespaces cache keys.
const DefaultRedisPrefix = "conductor:cache:"

// RedisStore is a durable tier backed by Redis. Expiry is delegated to
// Redis key TTLs, so Cleanup has nothing to do.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects to the Redis URL (redis://host:port/db) and pings it.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewRedisStoreFromClient(client, DefaultRedisPrefix), nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, key string) (Entry, bool, error) {
	raw, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return Entry{}, false, fmt.Errorf("decode cache entry %s: %w", key, err)
	}
	return e, true, nil
}

// Put implements Store.
func (s *RedisStore) Put(ctx context.Context, e Entry) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	if err := s.client.Set(ctx, s.prefix+e.Fingerprint, raw, e.TTL).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", e.Fingerprint, err)
	}
	return nil
}

// Cleanup implements Store. Redis expires keys on its own.
func (s *RedisStore) Cleanup(ctx context.Context, now time.Time) (int, error) {
	return 0, nil
}

// Close implements Store.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
