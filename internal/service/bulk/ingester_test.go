package bulk

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memforge/memforge/internal/config"
	registryembed "github.com/memforge/memforge/internal/registry/embed"
	registrygraphstore "github.com/memforge/memforge/internal/registry/graphstore"
)

type countingStore struct {
	writes []string
}

func (s *countingStore) Read(ctx context.Context, cypher string, params registrygraphstore.Params) ([]registrygraphstore.Row, error) {
	return nil, nil
}
func (s *countingStore) Write(ctx context.Context, cypher string, params registrygraphstore.Params) ([]registrygraphstore.Row, error) {
	s.writes = append(s.writes, cypher)
	return nil, nil
}
func (s *countingStore) Transaction(ctx context.Context, steps []registrygraphstore.Step) ([][]registrygraphstore.Row, error) {
	return nil, nil
}
func (s *countingStore) EnsureVectorIndexes(ctx context.Context, specs []registrygraphstore.VectorIndexSpec) error {
	return nil
}
func (s *countingStore) ApplySchema(ctx context.Context) error { return nil }
func (s *countingStore) Close() error                          { return nil }

type countingEmbedder struct {
	batchCalls int
	batchSizes []int
}

func (e *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1}, nil
}
func (e *countingEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	e.batchCalls++
	e.batchSizes = append(e.batchSizes, len(texts))
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1}
	}
	return out, nil
}
func (e *countingEmbedder) ModelName() string { return "counting" }
func (e *countingEmbedder) Dimension() int    { return 1 }
func (e *countingEmbedder) HealthCheck(ctx context.Context) registryembed.HealthStatus {
	return registryembed.HealthStatus{OK: true}
}

func TestIngestCaseInsensitiveIntraBatchDedup(t *testing.T) {
	store := &countingStore{}
	embedder := &countingEmbedder{}
	cfg := config.DefaultConfig()
	b := New(store, embedder, nil, nil, &cfg)

	results := b.Ingest(context.Background(), "u1",
		[]Item{{Text: "A"}, {Text: "a"}, {Text: "B"}},
		Options{})

	require.Len(t, results, 3)
	assert.Equal(t, StatusAdded, results[0].Status)
	assert.Equal(t, StatusSkippedDuplicate, results[1].Status)
	assert.Equal(t, StatusAdded, results[2].Status)
	assert.NotEmpty(t, results[0].ID)
	assert.NotEmpty(t, results[2].ID)

	// Exactly one embed batch of the two survivors.
	assert.Equal(t, 1, embedder.batchCalls)
	assert.Equal(t, []int{2}, embedder.batchSizes)

	// One MERGE round-trip, one UNWIND create.
	require.Len(t, store.writes, 2)
	assert.Contains(t, store.writes[0], "MERGE (u:User")
	assert.Contains(t, store.writes[1], "UNWIND $memories AS mem")
}

func TestIngestEmptyTextFails(t *testing.T) {
	cfg := config.DefaultConfig()
	b := New(&countingStore{}, &countingEmbedder{}, nil, nil, &cfg)

	results := b.Ingest(context.Background(), "u1", []Item{{Text: "  "}}, Options{})
	require.Len(t, results, 1)
	assert.Equal(t, StatusFailed, results[0].Status)
}

func TestIngestAppEdgesWhenNamed(t *testing.T) {
	store := &countingStore{}
	cfg := config.DefaultConfig()
	b := New(store, &countingEmbedder{}, nil, nil, &cfg)

	results := b.Ingest(context.Background(), "u1", []Item{{Text: "fact"}}, Options{AppName: "importer"})
	require.Equal(t, StatusAdded, results[0].Status)
	assert.Contains(t, store.writes[0], "MERGE (a:App")
	assert.Contains(t, store.writes[1], "CREATE (m)-[:CREATED_BY]->(a)")
	if !strings.Contains(store.writes[1], "MATCH (a:App") {
		t.Fatalf("expected app match in create statement:\n%s", store.writes[1])
	}
}
