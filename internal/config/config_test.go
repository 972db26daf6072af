package config

import (
	"context"
	"testing"
)

func TestEmbeddingDimensionDefaults(t *testing.T) {
	cases := []struct {
		provider string
		want     int
	}{
		{"intelli", 1024},
		{"azure", 1536},
		{"nomic", 768},
		{"", 1024},
	}
	for _, tc := range cases {
		c := DefaultConfig()
		c.EmbeddingProvider = tc.provider
		if got := c.EmbeddingDimension(); got != tc.want {
			t.Fatalf("provider %q: expected dim %d, got %d", tc.provider, tc.want, got)
		}
	}
}

func TestEmbeddingDimensionOverride(t *testing.T) {
	c := DefaultConfig()
	c.EmbeddingProvider = "azure"
	c.EmbeddingDims = 512
	if got := c.EmbeddingDimension(); got != 512 {
		t.Fatalf("expected override 512, got %d", got)
	}
}

func TestDedupThresholdForProvider(t *testing.T) {
	c := DefaultConfig()
	if got := c.DedupThresholdFor("intelli"); got != 0.55 {
		t.Fatalf("expected 0.55, got %v", got)
	}
	if got := c.DedupThresholdFor("azure"); got != 0.55 {
		t.Fatalf("expected 0.55, got %v", got)
	}
	if got := c.DedupThresholdFor("unknown"); got != 0.75 {
		t.Fatalf("expected default 0.75, got %v", got)
	}
}

func TestBulkConcurrencyDefault(t *testing.T) {
	c := DefaultConfig()
	c.OpenAIRequestsPerMinute = 200
	if got := c.BulkConcurrencyDefault(); got != 5 {
		t.Fatalf("expected capped at 5, got %d", got)
	}
	c.OpenAIRequestsPerMinute = 20
	if got := c.BulkConcurrencyDefault(); got != 1 {
		t.Fatalf("expected 1, got %d", got)
	}
}

func TestContextRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	ctx := WithContext(context.Background(), &cfg)
	got := FromContext(ctx)
	if got != &cfg {
		t.Fatalf("expected FromContext to return the same pointer")
	}
}
