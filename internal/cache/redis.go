package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis backs the cache with a shared Redis instance so multiple kiroku
// replicas see the same invalidations. Selected when KIROKU_REDIS_URL is set.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedis connects to Redis and verifies connectivity.
func NewRedis(ctx context.Context, url string, ttl time.Duration, logger *slog.Logger) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("cache: parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("cache: ping redis: %w", err)
	}
	return &Redis{client: client, ttl: ttl, logger: logger}, nil
}

// Get returns the cached value and true on a hit. Backend errors degrade to
// a miss.
func (c *Redis) Get(ctx context.Context, key string) ([]byte, bool) {
	val, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("cache: redis get failed", "key", key, "error", err)
		}
		return nil, false
	}
	return val, true
}

// Set stores a value with the configured TTL. Best-effort.
func (c *Redis) Set(ctx context.Context, key string, value []byte) {
	if err := c.client.Set(ctx, key, value, c.ttl).Err(); err != nil {
		c.logger.Warn("cache: redis set failed", "key", key, "error", err)
	}
}

// Invalidate drops every key matching prefix*. SCAN-based so it never blocks
// the Redis server the way KEYS would.
func (c *Redis) Invalidate(ctx context.Context, prefix string) {
	iter := c.client.Scan(ctx, 0, prefix+"*", 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		c.logger.Warn("cache: redis scan failed", "prefix", prefix, "error", err)
		return
	}
	if len(keys) == 0 {
		return
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.logger.Warn("cache: redis del failed", "prefix", prefix, "error", err)
	}
}

// Close releases the client connection.
func (c *Redis) Close() error {
	return c.client.Close()
}
