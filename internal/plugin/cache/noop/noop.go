package noop

import (
	"context"
	"time"

	"github.com/memforge/memforge/internal/registry/cache"
)

func init() {
	cache.Register(cache.Plugin{
		Name: "none",
		Loader: func(ctx context.Context) (cache.SharedCache, error) {
			return &noopSharedCache{}, nil
		},
	})
}

type noopSharedCache struct{}

func (n *noopSharedCache) Available() bool { return false }
func (n *noopSharedCache) Get(_ context.Context, _ string) (string, bool, error) {
	return "", false, nil
}
func (n *noopSharedCache) Set(_ context.Context, _, _ string, _ time.Duration) error { return nil }
func (n *noopSharedCache) Del(_ context.Context, _ string) error                     { return nil }

var _ cache.SharedCache = (*noopSharedCache)(nil)
