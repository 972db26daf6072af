package dedup

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/memforge/memforge/internal/config"
	registryembed "github.com/memforge/memforge/internal/registry/embed"
	registrygraphstore "github.com/memforge/memforge/internal/registry/graphstore"
	registryllm "github.com/memforge/memforge/internal/registry/llm"
)

type annStore struct {
	rows []registrygraphstore.Row
	err  error
}

func (s *annStore) Read(ctx context.Context, cypher string, params registrygraphstore.Params) ([]registrygraphstore.Row, error) {
	return s.rows, s.err
}
func (s *annStore) Write(ctx context.Context, cypher string, params registrygraphstore.Params) ([]registrygraphstore.Row, error) {
	return nil, nil
}
func (s *annStore) Transaction(ctx context.Context, steps []registrygraphstore.Step) ([][]registrygraphstore.Row, error) {
	return nil, nil
}
func (s *annStore) EnsureVectorIndexes(ctx context.Context, specs []registrygraphstore.VectorIndexSpec) error {
	return nil
}
func (s *annStore) ApplySchema(ctx context.Context) error { return nil }
func (s *annStore) Close() error                          { return nil }

type fixedEmbedder struct{ err error }

func (f *fixedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1}, f.err
}
func (f *fixedEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	return [][]float32{{1}}, f.err
}
func (f *fixedEmbedder) ModelName() string { return "fixed" }
func (f *fixedEmbedder) Dimension() int    { return 1 }
func (f *fixedEmbedder) HealthCheck(ctx context.Context) registryembed.HealthStatus {
	return registryembed.HealthStatus{OK: true}
}

type countingLLM struct {
	text  string
	err   error
	calls int
}

func (s *countingLLM) Chat(ctx context.Context, req registryllm.ChatRequest) (registryllm.ChatResponse, error) {
	s.calls++
	return registryllm.ChatResponse{Text: s.text}, s.err
}
func (s *countingLLM) ModelName() string { return "counting" }

func newEngine(store *annStore, llm *countingLLM) *Engine {
	cfg := config.DefaultConfig()
	return New(store, &fixedEmbedder{}, llm, &cfg)
}

func TestCheckInsertsWhenTopHitBelowThreshold(t *testing.T) {
	store := &annStore{rows: []registrygraphstore.Row{
		{"id": "m1", "content": "something else", "similarity": 0.2},
	}}
	llm := &countingLLM{}
	e := newEngine(store, llm)

	got := e.Check(context.Background(), "u1", "new fact")
	assert.Equal(t, Insert, got.Decision)
	assert.Zero(t, llm.calls)
}

func TestCheckSkipOnDuplicateVerdict(t *testing.T) {
	store := &annStore{rows: []registrygraphstore.Row{
		{"id": "m1", "content": "I live in NYC", "similarity": 0.9},
	}}
	llm := &countingLLM{text: `{"verdict":"DUPLICATE"}`}
	e := newEngine(store, llm)

	got := e.Check(context.Background(), "u1", "I live in New York City")
	assert.Equal(t, Skip, got.Decision)
	assert.Equal(t, "m1", got.ExistingID)
}

func TestCheckSupersedeVerdict(t *testing.T) {
	store := &annStore{rows: []registrygraphstore.Row{
		{"id": "m1", "content": "I live in NYC", "similarity": 0.9},
	}}
	llm := &countingLLM{text: `{"verdict":"SUPERSEDES"}`}
	e := newEngine(store, llm)

	got := e.Check(context.Background(), "u1", "I moved to London")
	assert.Equal(t, Supersede, got.Decision)
	assert.Equal(t, "m1", got.ExistingID)
}

func TestCheckFailsOpenOnStoreError(t *testing.T) {
	store := &annStore{err: errors.New("boom")}
	e := newEngine(store, &countingLLM{})

	got := e.Check(context.Background(), "u1", "fact")
	assert.Equal(t, Insert, got.Decision)
}

func TestCheckFailsOpenOnLLMError(t *testing.T) {
	store := &annStore{rows: []registrygraphstore.Row{
		{"id": "m1", "content": "x", "similarity": 0.9},
	}}
	e := newEngine(store, &countingLLM{err: errors.New("llm down")})

	got := e.Check(context.Background(), "u1", "fact")
	assert.Equal(t, Insert, got.Decision)
}

func TestPairVerdictIsCached(t *testing.T) {
	store := &annStore{rows: []registrygraphstore.Row{
		{"id": "m1", "content": "I live in NYC", "similarity": 0.9},
	}}
	llm := &countingLLM{text: `{"verdict":"DUPLICATE"}`}
	e := newEngine(store, llm)

	e.Check(context.Background(), "u1", "I live in New York City")
	e.Check(context.Background(), "u1", "I live in New York City")
	assert.Equal(t, 1, llm.calls)
}

func TestCheckDisabledShortCircuits(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.DedupEnabled = false
	store := &annStore{err: errors.New("must not be called")}
	e := New(store, &fixedEmbedder{}, &countingLLM{}, &cfg)

	got := e.Check(context.Background(), "u1", "fact")
	assert.Equal(t, Insert, got.Decision)
}
