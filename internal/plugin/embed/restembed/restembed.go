// Package restembed is the shared REST embedding client used by the intelli,
// azure, and nomic backends. Each backend differs only in base URL, auth
// header, default model, and dimension; the request/response shape is the
// OpenAI-compatible embeddings contract.
package restembed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	registryembed "github.com/memforge/memforge/internal/registry/embed"
)

// Client is a minimal OpenAI-compatible embeddings REST client.
type Client struct {
	Name       string
	BaseURL    string
	Model      string
	Dim        int
	AuthHeader string // e.g. "Authorization" or "api-key"
	AuthValue  string // e.g. "Bearer sk-..." or the raw key
	HTTPClient *http.Client
}

type embeddingRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) ModelName() string { return c.Model }
func (c *Client) Dimension() int    { return c.Dim }

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

// Embed returns the embedding for a single text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedTexts returns one embedding per input text, order preserved.
func (c *Client) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	reqBody, err := json.Marshal(embeddingRequest{Input: texts, Model: c.Model})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL, bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(c.AuthHeader, c.AuthValue)

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s embed request failed: %w", c.Name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s embed: read response: %w", c.Name, err)
	}

	var result embeddingResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("%s embed: parse response: %w", c.Name, err)
	}
	if result.Error != nil {
		return nil, fmt.Errorf("%s embed error: %s", c.Name, result.Error.Message)
	}
	if len(result.Data) != len(texts) {
		return nil, fmt.Errorf("%s embed: expected %d embeddings, got %d", c.Name, len(texts), len(result.Data))
	}

	embeddings := make([][]float32, len(texts))
	for _, d := range result.Data {
		embeddings[d.Index] = d.Embedding
	}
	return embeddings, nil
}

// HealthCheck probes the backend with a one-word embedding call.
func (c *Client) HealthCheck(ctx context.Context) registryembed.HealthStatus {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	_, err := c.Embed(ctx, "ping")
	status := registryembed.HealthStatus{
		LatencyMs: time.Since(start).Milliseconds(),
		Model:     c.Model,
		Dim:       c.Dim,
	}
	if err != nil {
		status.Error = err.Error()
		return status
	}
	status.OK = true
	return status
}

var _ registryembed.Embedder = (*Client)(nil)
