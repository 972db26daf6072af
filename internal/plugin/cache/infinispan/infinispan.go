// Package infinispan backs the shared cache with Infinispan's RESP
// endpoint, reusing the Redis implementation over RESP2.
package infinispan

import (
	"context"
	"fmt"

	"github.com/memforge/memforge/internal/config"
	"github.com/memforge/memforge/internal/plugin/cache/redis"
	registrycache "github.com/memforge/memforge/internal/registry/cache"
	goredis "github.com/redis/go-redis/v9"
)

func init() {
	registrycache.Register(registrycache.Plugin{
		Name:   "infinispan",
		Loader: load,
	})
}

func load(ctx context.Context) (registrycache.SharedCache, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.InfinispanHost == "" {
		return nil, fmt.Errorf("infinispan cache: MEMFORGE_INFINISPAN_HOST is required")
	}
	return redis.LoadFromOptions(ctx, &goredis.Options{
		Addr:     cfg.InfinispanHost,
		Username: cfg.InfinispanUsername,
		Password: cfg.InfinispanPassword,
		// Infinispan's RESP endpoint speaks RESP2 only.
		Protocol: 2,
	})
}
