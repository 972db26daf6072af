package search

import (
	"context"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memforge/memforge/internal/config"
	registryembed "github.com/memforge/memforge/internal/registry/embed"
	registrygraphstore "github.com/memforge/memforge/internal/registry/graphstore"
)

func intPtr(v int) *int { return &v }

func TestFuseSingleArm(t *testing.T) {
	// A memory only in the text arm at rank r scores exactly 1/(60+r).
	for r := 1; r <= 10; r++ {
		assert.InDelta(t, 1.0/float64(60+r), Fuse(intPtr(r), nil), 1e-12)
		assert.InDelta(t, 1.0/float64(60+r), Fuse(nil, intPtr(r)), 1e-12)
	}
}

func TestFuseBothArms(t *testing.T) {
	got := Fuse(intPtr(2), intPtr(5))
	assert.InDelta(t, 1.0/62+1.0/65, got, 1e-12)
}

func TestFusedOrderingScenario(t *testing.T) {
	// Text-rank-1 only, vector-rank-1 only, and a both-arm match at
	// (2,2): the both-arm match must fuse ahead of the single-arm ones.
	both := Fuse(intPtr(2), intPtr(2))
	textOnly := Fuse(intPtr(1), nil)
	vectorOnly := Fuse(nil, intPtr(1))

	assert.InDelta(t, 2.0/62, both, 1e-12)
	assert.InDelta(t, 1.0/61, textOnly, 1e-12)
	assert.Equal(t, textOnly, vectorOnly)
	assert.Greater(t, both, textOnly)
}

func TestConfident(t *testing.T) {
	assert.True(t, Confident([]Result{{TextRank: intPtr(3), RRFScore: 0.001}}))
	assert.True(t, Confident([]Result{{VectorRank: intPtr(1), RRFScore: 1.0 / 61}}))
	assert.False(t, Confident([]Result{{VectorRank: intPtr(80), RRFScore: 1.0 / 140}}))
	assert.False(t, Confident(nil))
}

func TestDisplayScoreCapsAtOne(t *testing.T) {
	assert.Equal(t, 1.0, DisplayScore(1.0))
	got := DisplayScore(1.0 / 61)
	assert.Greater(t, got, 0.0)
	assert.Less(t, got, 1.0)
	assert.False(t, math.IsNaN(got))
}

func TestFiltersOversample(t *testing.T) {
	assert.Equal(t, 10, Filters{}.Oversample(10))
	assert.Equal(t, 200, Filters{Category: "work"}.Oversample(10))
	assert.Equal(t, 250, Filters{Category: "work"}.Oversample(50))
	assert.Equal(t, 500, Filters{Tag: "urgent"}.Oversample(50))
}

func TestFiltersApply(t *testing.T) {
	cutoff := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	results := []Result{
		{ID: "a", Categories: []string{"Work"}, Tags: []string{"urgent"}, CreatedAt: cutoff.Add(time.Hour)},
		{ID: "b", Categories: []string{"travel"}, Tags: []string{}, CreatedAt: cutoff.Add(-time.Hour)},
		{ID: "c", Categories: []string{"work"}, Tags: []string{"later"}, CreatedAt: cutoff.Add(time.Minute)},
	}

	kept, dropped := Filters{Category: "WORK"}.Apply(append([]Result(nil), results...))
	assert.Len(t, kept, 2)
	assert.Equal(t, 1, dropped)

	kept, dropped = Filters{Category: "work", Tag: "URGENT"}.Apply(append([]Result(nil), results...))
	require.Len(t, kept, 1)
	assert.Equal(t, "a", kept[0].ID)
	assert.Equal(t, 2, dropped)

	kept, _ = Filters{CreatedAfter: &cutoff}.Apply(append([]Result(nil), results...))
	assert.Len(t, kept, 2)
}

type armStore struct {
	textRows   []registrygraphstore.Row
	vectorRows []registrygraphstore.Row
}

func (s *armStore) Read(ctx context.Context, cypher string, params registrygraphstore.Params) ([]registrygraphstore.Row, error) {
	if strings.Contains(cypher, "db.index.fulltext.queryNodes") {
		return s.textRows, nil
	}
	if strings.Contains(cypher, "vector_search.search") {
		return s.vectorRows, nil
	}
	return nil, nil
}
func (s *armStore) Write(ctx context.Context, cypher string, params registrygraphstore.Params) ([]registrygraphstore.Row, error) {
	return nil, nil
}
func (s *armStore) Transaction(ctx context.Context, steps []registrygraphstore.Step) ([][]registrygraphstore.Row, error) {
	return nil, nil
}
func (s *armStore) EnsureVectorIndexes(ctx context.Context, specs []registrygraphstore.VectorIndexSpec) error {
	return nil
}
func (s *armStore) ApplySchema(ctx context.Context) error { return nil }
func (s *armStore) Close() error                          { return nil }

type noopEmbedder struct{}

func (noopEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1}, nil
}
func (noopEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	return [][]float32{{1}}, nil
}
func (noopEmbedder) ModelName() string { return "noop" }
func (noopEmbedder) Dimension() int    { return 1 }
func (noopEmbedder) HealthCheck(ctx context.Context) registryembed.HealthStatus {
	return registryembed.HealthStatus{OK: true}
}

func TestSearchFusesArms(t *testing.T) {
	store := &armStore{
		textRows: []registrygraphstore.Row{
			{"id": "keyword-only", "content": "alpha"},
			{"id": "both", "content": "bravo"},
		},
		vectorRows: []registrygraphstore.Row{
			{"id": "vector-only", "content": "charlie"},
			{"id": "both", "content": "bravo"},
		},
	}
	cfg := config.DefaultConfig()
	e := New(store, noopEmbedder{}, nil, &cfg)

	results, err := e.Search(context.Background(), "q", "u1", Options{TopK: 10})
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, "both", results[0].ID)
	assert.InDelta(t, 2.0/62, results[0].RRFScore, 1e-12)
	require.NotNil(t, results[0].TextRank)
	require.NotNil(t, results[0].VectorRank)
	assert.Equal(t, 2, *results[0].TextRank)
	assert.Equal(t, 2, *results[0].VectorRank)

	// Single-arm matches at rank 1 tie at 1/61; stable order puts the
	// text-arm hit first.
	assert.Equal(t, "keyword-only", results[1].ID)
	assert.Nil(t, results[1].VectorRank)
	assert.Equal(t, "vector-only", results[2].ID)
	assert.Nil(t, results[2].TextRank)
}

func TestSearchTextModeSkipsVectorArm(t *testing.T) {
	store := &armStore{
		textRows:   []registrygraphstore.Row{{"id": "t1", "content": "x"}},
		vectorRows: []registrygraphstore.Row{{"id": "v1", "content": "y"}},
	}
	cfg := config.DefaultConfig()
	e := New(store, noopEmbedder{}, nil, &cfg)

	results, err := e.Search(context.Background(), "q", "u1", Options{TopK: 10, Mode: ModeText})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "t1", results[0].ID)
}
