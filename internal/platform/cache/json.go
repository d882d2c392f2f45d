package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// JSONCache is a namespaced read-through cache storing JSON values in Redis.
type JSONCache struct {
	client    redis.Cmdable
	namespace string
	ttl       time.Duration
	logger    *slog.Logger
}

// NewJSONCache builds a cache. A nil client disables caching.
func NewJSONCache(client redis.Cmdable, namespace string, ttl time.Duration, logger *slog.Logger) *JSONCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &JSONCache{client: client, namespace: namespace, ttl: ttl, logger: logger}
}

// Key composes a namespaced key.
func (c *JSONCache) Key(parts ...string) string {
	return c.namespace + ":" + strings.Join(parts, ":")
}

// Fetch returns the cached value for key or populates it using loader. Redis failures
// degrade to calling loader directly.
func Fetch[T any](ctx context.Context, c *JSONCache, key string, loader func(context.Context) (T, error)) (T, error) {
	var zero T
	if loader == nil {
		return zero, errors.New("cache: loader required")
	}
	if c == nil || c.client == nil || c.ttl <= 0 {
		return loader(ctx)
	}
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var cached T
		if err := json.Unmarshal(payload, &cached); err == nil {
			return cached, nil
		}
		c.logger.Warn("cache: discard undecodable entry", slog.String("key", key))
	} else if !errors.Is(err, redis.Nil) {
		c.logger.Warn("cache: read failed", slog.String("key", key), slog.Any("error", err))
	}
	value, err := loader(ctx)
	if err != nil {
		return zero, err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return zero, err
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		c.logger.Warn("cache: write failed", slog.String("key", key), slog.Any("error", err))
	}
	return value, nil
}

// Invalidate drops keys.
func (c *JSONCache) Invalidate(ctx context.Context, keys ...string) error {
	if c == nil || c.client == nil || len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}
