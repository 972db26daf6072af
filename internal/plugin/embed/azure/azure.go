// Package azure registers the Azure OpenAI EmbeddingRouter backend (D=1536).
package azure

import (
	"context"
	"fmt"

	"github.com/memforge/memforge/internal/config"
	"github.com/memforge/memforge/internal/plugin/embed/restembed"
	registryembed "github.com/memforge/memforge/internal/registry/embed"
)

func init() {
	registryembed.Register(registryembed.Plugin{
		Name:   "azure",
		Loader: load,
	})
}

func load(ctx context.Context) (registryembed.Embedder, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.AzureOpenAIAPIKey == "" || cfg.AzureEndpoint == "" {
		return nil, fmt.Errorf("azure embedder: AZURE_OPENAI_API_KEY and AZURE_ENDPOINT are required")
	}
	deployment := cfg.AzureEmbeddingDeploy
	if deployment == "" {
		deployment = cfg.AzureDeployment
	}
	url := fmt.Sprintf("%s/openai/deployments/%s/embeddings?api-version=%s",
		trimRight(cfg.AzureEndpoint), deployment, cfg.AzureAPIVersion)
	return &restembed.Client{
		Name:       "azure",
		BaseURL:    url,
		Model:      deployment,
		Dim:        cfg.EmbeddingDimension(),
		AuthHeader: "api-key",
		AuthValue:  cfg.AzureOpenAIAPIKey,
	}, nil
}

func trimRight(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}
