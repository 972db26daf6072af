// Package nomic registers the Nomic Atlas EmbeddingRouter backend (D=768).
package nomic

import (
	"context"
	"fmt"

	"github.com/memforge/memforge/internal/config"
	"github.com/memforge/memforge/internal/plugin/embed/restembed"
	registryembed "github.com/memforge/memforge/internal/registry/embed"
)

func init() {
	registryembed.Register(registryembed.Plugin{
		Name:   "nomic",
		Loader: load,
	})
}

func load(ctx context.Context) (registryembed.Embedder, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil {
		return nil, fmt.Errorf("nomic embedder: config not found in context")
	}
	return &restembed.Client{
		Name:       "nomic",
		BaseURL:    "https://api-atlas.nomic.ai/v1/embedding/text",
		Model:      "nomic-embed-text-v1.5",
		Dim:        cfg.EmbeddingDimension(),
		AuthHeader: "Authorization",
		AuthValue:  "Bearer " + cfg.NomicAPIKey,
	}, nil
}
