// Package cache keeps derived, rebuildable data in Redis. Every operation
// degrades to a no-op or ErrCacheNotAvailable when no client is configured,
// so the service runs without Redis.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrCacheNotAvailable = errors.New("cache not available")
	ErrCacheNotFound     = errors.New("cache entry not found")
)

// Helper wraps a Redis client with a key prefix and JSON encoding.
type Helper struct {
	client *redis.Client
	prefix string
}

// NewHelper creates a helper. client may be nil.
func NewHelper(client *redis.Client, prefix string) *Helper {
	return &Helper{client: client, prefix: prefix}
}

// Available reports whether a Redis client is configured.
func (h *Helper) Available() bool {
	return h != nil && h.client != nil
}

func (h *Helper) key(k string) string {
	return h.prefix + k
}

// Get loads and decodes a JSON value.
func (h *Helper) Get(ctx context.Context, key string, dest any) error {
	if !h.Available() {
		return ErrCacheNotAvailable
	}
	data, err := h.client.Get(ctx, h.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrCacheNotFound
		}
		return fmt.Errorf("cache get: %w", err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("cache unmarshal: %w", err)
	}
	return nil
}

// Set encodes value as JSON and stores it with a TTL.
func (h *Helper) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if !h.Available() {
		return nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache marshal: %w", err)
	}
	return h.client.Set(ctx, h.key(key), data, ttl).Err()
}

// Incr increments an integer counter and returns its new value.
func (h *Helper) Incr(ctx context.Context, key string) (int64, error) {
	if !h.Available() {
		return 0, ErrCacheNotAvailable
	}
	return h.client.Incr(ctx, h.key(key)).Result()
}

// GetInt reads an integer counter. A missing key reads as zero.
func (h *Helper) GetInt(ctx context.Context, key string) (int64, error) {
	if !h.Available() {
		return 0, ErrCacheNotAvailable
	}
	n, err := h.client.Get(ctx, h.key(key)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}
