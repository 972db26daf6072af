package categorizer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	registrygraphstore "github.com/memforge/memforge/internal/registry/graphstore"
	registryllm "github.com/memforge/memforge/internal/registry/llm"
)

type stubLLM struct {
	text string
	err  error
}

func (s *stubLLM) Chat(ctx context.Context, req registryllm.ChatRequest) (registryllm.ChatResponse, error) {
	return registryllm.ChatResponse{Text: s.text}, s.err
}
func (s *stubLLM) ModelName() string { return "stub" }

type captureStore struct {
	cypher string
	params registrygraphstore.Params
}

func (c *captureStore) Read(ctx context.Context, cypher string, params registrygraphstore.Params) ([]registrygraphstore.Row, error) {
	return nil, nil
}
func (c *captureStore) Write(ctx context.Context, cypher string, params registrygraphstore.Params) ([]registrygraphstore.Row, error) {
	c.cypher, c.params = cypher, params
	return nil, nil
}
func (c *captureStore) Transaction(ctx context.Context, steps []registrygraphstore.Step) ([][]registrygraphstore.Row, error) {
	return nil, nil
}
func (c *captureStore) EnsureVectorIndexes(ctx context.Context, specs []registrygraphstore.VectorIndexSpec) error {
	return nil
}
func (c *captureStore) ApplySchema(ctx context.Context) error { return nil }
func (c *captureStore) Close() error                          { return nil }

func TestCategorizeFiltersToVocabulary(t *testing.T) {
	store := &captureStore{}
	c := New(store, &stubLLM{text: `{"categories":["Health","made-up","FOOD","health"]}`})

	require.NoError(t, c.Categorize(context.Background(), "MEM1", "I eat oatmeal for breakfast"))
	assert.Equal(t, []string{"health", "food"}, store.params["categories"])
	assert.Contains(t, store.cypher, "MERGE (m)-[:HAS_CATEGORY]->(c)")
}

func TestCategorizeSkipsWriteWhenNothingValid(t *testing.T) {
	store := &captureStore{}
	c := New(store, &stubLLM{text: `{"categories":["nonsense"]}`})

	require.NoError(t, c.Categorize(context.Background(), "MEM1", "text"))
	assert.Empty(t, store.cypher)
}

func TestCategorizeSurfacesParseError(t *testing.T) {
	c := New(&captureStore{}, &stubLLM{text: "garbage"})
	assert.Error(t, c.Categorize(context.Background(), "MEM1", "text"))
}
