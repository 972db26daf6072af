// Package configcache is a TTL-cached read-through view over Config nodes
// stored in the graph (spec's ConfigCache component): a write invalidates
// the cached entry immediately, while reads within the TTL window may
// observe a stale value.
package configcache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	registrygraphstore "github.com/memforge/memforge/internal/registry/graphstore"
	"github.com/memforge/memforge/internal/security"
)

// Cache reads Config{key,value} nodes through an in-process ristretto cache.
type Cache struct {
	store registrygraphstore.Store
	ttl   time.Duration
	ring  *ristretto.Cache[string, string]
}

func New(store registrygraphstore.Store, ttl time.Duration) (*Cache, error) {
	ring, err := ristretto.NewCache(&ristretto.Config[string, string]{
		NumCounters: 1e4,
		MaxCost:     1 << 20,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("configcache: failed to create ristretto cache: %w", err)
	}
	return &Cache{store: store, ttl: ttl, ring: ring}, nil
}

// Get returns the raw JSON value for key, reading through to the store on a
// cache miss or after the TTL expires.
func (c *Cache) Get(ctx context.Context, key string) (string, error) {
	if v, ok := c.ring.Get(key); ok {
		if security.CacheHitsTotal != nil {
			security.CacheHitsTotal.Inc()
		}
		return v, nil
	}
	if security.CacheMissesTotal != nil {
		security.CacheMissesTotal.Inc()
	}
	rows, err := c.store.Read(ctx, "MATCH (c:Config {key:$key}) RETURN c.value AS value", registrygraphstore.Params{"key": key})
	if err != nil {
		return "", fmt.Errorf("configcache: read %q: %w", key, err)
	}
	if len(rows) == 0 {
		return "", nil
	}
	value, _ := rows[0]["value"].(string)
	c.ring.SetWithTTL(key, value, 1, c.ttl)
	return value, nil
}

// GetJSON decodes the cached value into dst.
func (c *Cache) GetJSON(ctx context.Context, key string, dst interface{}) error {
	raw, err := c.Get(ctx, key)
	if err != nil {
		return err
	}
	if raw == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw), dst)
}

// Set writes a Config node and invalidates the local cache entry so the next
// Get re-reads from the store.
func (c *Cache) Set(ctx context.Context, key string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("configcache: marshal %q: %w", key, err)
	}
	_, err = c.store.Write(ctx, "MERGE (c:Config {key:$key}) SET c.value=$value", registrygraphstore.Params{
		"key": key, "value": string(raw),
	})
	if err != nil {
		return fmt.Errorf("configcache: write %q: %w", key, err)
	}
	c.ring.Del(key)
	return nil
}
