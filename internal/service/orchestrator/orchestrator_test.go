package orchestrator

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memforge/memforge/internal/config"
	registryembed "github.com/memforge/memforge/internal/registry/embed"
	registrygraphstore "github.com/memforge/memforge/internal/registry/graphstore"
	"github.com/memforge/memforge/internal/service/dedup"
	"github.com/memforge/memforge/internal/service/intent"
	"github.com/memforge/memforge/internal/service/search"
	"github.com/memforge/memforge/internal/service/writer"
)

// routedStore answers reads/writes by cypher substring so one fake covers
// the dedup, search, and writer paths at once.
type routedStore struct {
	textRows []registrygraphstore.Row
	writes   []string
	deleted  []string
}

func (s *routedStore) Read(ctx context.Context, cypher string, params registrygraphstore.Params) ([]registrygraphstore.Row, error) {
	if strings.Contains(cypher, "db.index.fulltext.queryNodes") {
		return s.textRows, nil
	}
	return nil, nil
}

func (s *routedStore) Write(ctx context.Context, cypher string, params registrygraphstore.Params) ([]registrygraphstore.Row, error) {
	s.writes = append(s.writes, cypher)
	if strings.Contains(cypher, "SET m.state='deleted'") {
		if id, ok := params["id"].(string); ok {
			s.deleted = append(s.deleted, id)
		}
		return []registrygraphstore.Row{{"content": "old"}}, nil
	}
	return nil, nil
}

func (s *routedStore) Transaction(ctx context.Context, steps []registrygraphstore.Step) ([][]registrygraphstore.Row, error) {
	return nil, nil
}
func (s *routedStore) EnsureVectorIndexes(ctx context.Context, specs []registrygraphstore.VectorIndexSpec) error {
	return nil
}
func (s *routedStore) ApplySchema(ctx context.Context) error { return nil }
func (s *routedStore) Close() error                          { return nil }

type unitEmbedder struct{}

func (unitEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1}, nil
}
func (unitEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1}
	}
	return out, nil
}
func (unitEmbedder) ModelName() string { return "unit" }
func (unitEmbedder) Dimension() int    { return 1 }
func (unitEmbedder) HealthCheck(ctx context.Context) registryembed.HealthStatus {
	return registryembed.HealthStatus{OK: true}
}

func newTestOrchestrator(store *routedStore) *Orchestrator {
	cfg := config.DefaultConfig()
	w := writer.New(store, unitEmbedder{}, nil, &cfg)
	s := search.New(store, unitEmbedder{}, nil, &cfg)
	d := dedup.New(store, unitEmbedder{}, nil, &cfg)
	return New(intent.New(nil), d, w, s, nil, store, &cfg)
}

func TestAddMemoriesIntraBatchIdempotence(t *testing.T) {
	store := &routedStore{}
	o := newTestOrchestrator(store)

	resp := o.AddMemories(context.Background(), "u1", AddRequest{
		Contents: []string{"My blood type is O positive.", "my blood type is o positive.", "My blood type is O positive."},
	})

	assert.Equal(t, 1, resp.Stored)
	assert.Equal(t, 2, resp.Skipped)
	assert.Len(t, resp.IDs, 1)
	assert.Empty(t, resp.Errors)
}

func TestAddMemoriesInvalidateIntent(t *testing.T) {
	store := &routedStore{
		textRows: []registrygraphstore.Row{
			{"id": "PHONE12345678", "content": "My phone is 555-1234"},
		},
	}
	o := newTestOrchestrator(store)

	resp := o.AddMemories(context.Background(), "u1", AddRequest{
		Contents: []string{"forget about my old phone number"},
	})

	// Text rank 1 fuses to 1/61 ≈ 0.0164, above the invalidate floor.
	assert.Equal(t, 1, resp.Invalidated)
	assert.Equal(t, []string{"PHONE12345678"}, store.deleted)
	assert.Zero(t, resp.Stored)
}

func TestAddMemoriesEmptyContentIsError(t *testing.T) {
	o := newTestOrchestrator(&routedStore{})

	resp := o.AddMemories(context.Background(), "u1", AddRequest{Contents: []string{"   "}})
	require.Len(t, resp.Errors, 1)
	assert.Equal(t, 0, resp.Errors[0].Index)
}

func TestSearchMemoryTagFilterWarning(t *testing.T) {
	rows := make([]registrygraphstore.Row, 0, 10)
	for _, id := range []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j"} {
		rows = append(rows, registrygraphstore.Row{"id": id, "content": id, "tags": []interface{}{"other"}})
	}
	rows[0]["tags"] = []interface{}{"urgent"}
	store := &routedStore{textRows: rows}
	o := newTestOrchestrator(store)

	resp, err := o.SearchMemory(context.Background(), "u1", SearchRequest{Query: "anything", Tag: "urgent"})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.NotEmpty(t, resp.TagFilterWarning)
}

func TestSearchMemoryScoreNormalized(t *testing.T) {
	store := &routedStore{textRows: []registrygraphstore.Row{{"id": "m1", "content": "x"}}}
	o := newTestOrchestrator(store)

	resp, err := o.SearchMemory(context.Background(), "u1", SearchRequest{Query: "x"})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.True(t, resp.Confident)
	assert.Greater(t, resp.Results[0].Score, 0.0)
	assert.LessOrEqual(t, resp.Results[0].Score, 1.0)
}
