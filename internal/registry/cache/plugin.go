// Package cache defines the shared cross-replica cache contract and its
// plugin registry. The dedup engine stores pairwise LLM verdicts here so a
// re-seen (content, content) pair skips the LLM on every replica, not just
// the one that classified it first.
package cache

import (
	"context"
	"fmt"
	"time"
)

type sharedCacheKey struct{}

// WithContext returns a new context carrying the given SharedCache.
func WithContext(ctx context.Context, c SharedCache) context.Context {
	return context.WithValue(ctx, sharedCacheKey{}, c)
}

// FromContext retrieves the SharedCache from the context. Returns nil if
// none was set.
func FromContext(ctx context.Context) SharedCache {
	c, _ := ctx.Value(sharedCacheKey{}).(SharedCache)
	return c
}

// SharedCache is a small cross-replica string cache with per-entry TTL.
type SharedCache interface {
	Available() bool
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

// Loader creates a cache from config.
type Loader func(ctx context.Context) (SharedCache, error)

// Plugin represents a cache plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a cache plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered cache plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named cache plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown cache %q; valid: %v", name, Names())
}
