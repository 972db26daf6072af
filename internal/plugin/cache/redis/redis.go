// Package redis backs the shared cross-replica cache with a
// Redis-compatible server.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/memforge/memforge/internal/config"
	registrycache "github.com/memforge/memforge/internal/registry/cache"
	goredis "github.com/redis/go-redis/v9"
)

const defaultTTL = 10 * time.Minute

func init() {
	registrycache.Register(registrycache.Plugin{
		Name:   "redis",
		Loader: load,
	})
}

func load(ctx context.Context) (registrycache.SharedCache, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.RedisURL == "" {
		return nil, fmt.Errorf("redis cache: MEMFORGE_REDIS_URL is required")
	}
	return LoadFromURL(ctx, cfg.RedisURL)
}

// LoadFromURL creates a SharedCache from a Redis-compatible URL. Exported so
// other plugins (e.g. Infinispan RESP) can reuse the implementation.
func LoadFromURL(ctx context.Context, redisURL string) (registrycache.SharedCache, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis cache: invalid URL: %w", err)
	}
	return LoadFromOptions(ctx, opts)
}

// LoadFromOptions creates a SharedCache from go-redis Options, letting
// callers customize them (e.g. Protocol for RESP2).
func LoadFromOptions(ctx context.Context, opts *goredis.Options) (registrycache.SharedCache, error) {
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis cache: ping failed: %w", err)
	}
	return &redisSharedCache{client: client}, nil
}

type redisSharedCache struct {
	client *goredis.Client
}

func cacheKey(key string) string {
	return "memforge:" + key
}

func (c *redisSharedCache) Available() bool {
	return true
}

func (c *redisSharedCache) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := c.client.Get(ctx, cacheKey(key)).Result()
	if err == goredis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (c *redisSharedCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return c.client.Set(ctx, cacheKey(key), value, ttl).Err()
}

func (c *redisSharedCache) Del(ctx context.Context, key string) error {
	return c.client.Del(ctx, cacheKey(key)).Err()
}

var _ registrycache.SharedCache = (*redisSharedCache)(nil)
