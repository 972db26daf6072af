// Package intelli registers the default EmbeddingRouter backend (D=1024).
package intelli

import (
	"context"
	"fmt"

	"github.com/memforge/memforge/internal/config"
	"github.com/memforge/memforge/internal/plugin/embed/restembed"
	registryembed "github.com/memforge/memforge/internal/registry/embed"
)

func init() {
	registryembed.Register(registryembed.Plugin{
		Name:   "intelli",
		Loader: load,
	})
}

func load(ctx context.Context) (registryembed.Embedder, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil {
		return nil, fmt.Errorf("intelli embedder: config not found in context")
	}
	dim := cfg.EmbeddingDimension()
	return &restembed.Client{
		Name:       "intelli",
		BaseURL:    "https://api.intelli.sh/v1/embeddings",
		Model:      "intelli-embed-v1",
		Dim:        dim,
		AuthHeader: "Authorization",
		AuthValue:  "Bearer " + cfg.IntelliAPIKey,
	}, nil
}
