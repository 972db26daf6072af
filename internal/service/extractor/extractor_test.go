package extractor

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memforge/memforge/internal/config"
	registryembed "github.com/memforge/memforge/internal/registry/embed"
	registrygraphstore "github.com/memforge/memforge/internal/registry/graphstore"
	registryllm "github.com/memforge/memforge/internal/registry/llm"
)

type scriptedStore struct {
	// responses matched by a substring of the cypher text, in call order.
	script []struct {
		contains string
		rows     []registrygraphstore.Row
	}
	writes []string
}

func (s *scriptedStore) lookup(cypher string) []registrygraphstore.Row {
	for i, entry := range s.script {
		if strings.Contains(cypher, entry.contains) {
			s.script = append(s.script[:i], s.script[i+1:]...)
			return entry.rows
		}
	}
	return nil
}

func (s *scriptedStore) Read(ctx context.Context, cypher string, params registrygraphstore.Params) ([]registrygraphstore.Row, error) {
	return s.lookup(cypher), nil
}

func (s *scriptedStore) Write(ctx context.Context, cypher string, params registrygraphstore.Params) ([]registrygraphstore.Row, error) {
	s.writes = append(s.writes, cypher)
	return s.lookup(cypher), nil
}

func (s *scriptedStore) Transaction(ctx context.Context, steps []registrygraphstore.Step) ([][]registrygraphstore.Row, error) {
	return nil, nil
}
func (s *scriptedStore) EnsureVectorIndexes(ctx context.Context, specs []registrygraphstore.VectorIndexSpec) error {
	return nil
}
func (s *scriptedStore) ApplySchema(ctx context.Context) error { return nil }
func (s *scriptedStore) Close() error                          { return nil }

type stubLLM struct{ text string }

func (s *stubLLM) Chat(ctx context.Context, req registryllm.ChatRequest) (registryllm.ChatResponse, error) {
	return registryllm.ChatResponse{Text: s.text}, nil
}
func (s *stubLLM) ModelName() string { return "stub" }

type stubEmbedder struct{}

func (s *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0}, nil
}
func (s *stubEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}
func (s *stubEmbedder) ModelName() string { return "stub" }
func (s *stubEmbedder) Dimension() int    { return 2 }
func (s *stubEmbedder) HealthCheck(ctx context.Context) registryembed.HealthStatus {
	return registryembed.HealthStatus{OK: true}
}

func TestProcessEntityExtractionIsIdempotentWhenDone(t *testing.T) {
	store := &scriptedStore{}
	store.script = append(store.script, struct {
		contains string
		rows     []registrygraphstore.Row
	}{"RETURN m.content AS content", []registrygraphstore.Row{
		{"content": "x", "extractionStatus": "done", "userId": "u1"},
	}})

	e := New(store, &stubLLM{}, &stubEmbedder{}, nil, nil)
	require.NoError(t, e.ProcessEntityExtraction(context.Background(), "MEM1"))
	assert.Empty(t, store.writes)
}

func TestExtractCreatesEntityAndMention(t *testing.T) {
	llm := &stubLLM{text: `{"entities":[{"name":"Bob","type":"person","description":"a colleague"}],"relationships":[]}`}
	store := &scriptedStore{}
	add := func(contains string, rows []registrygraphstore.Row) {
		store.script = append(store.script, struct {
			contains string
			rows     []registrygraphstore.Row
		}{contains, rows})
	}
	add("RETURN m.content AS content", []registrygraphstore.Row{
		{"content": "Bob joined the team", "extractionStatus": "pending", "userId": "u1"},
	})
	// co-reference context: empty
	add("ORDER BY m.createdAt DESC", nil)
	// tier-1 batch: no hit
	add("UNWIND $names AS norm", nil)
	// tier-1 repeat: no hit
	add("Entity {normalizedName:$norm})\n\t\tRETURN ent.id AS id, ent.type", nil)
	// tier-2: no hit
	add("vector_search.search('entity_vectors'", nil)
	// read-back after create
	add("RETURN ent.id AS id", []registrygraphstore.Row{{"id": "ENT1"}})

	cfg := config.DefaultConfig()
	e := New(store, llm, &stubEmbedder{}, nil, &cfg)
	require.NoError(t, e.ProcessEntityExtraction(context.Background(), "MEM1"))

	var createdEntity, linkedMention, markedDone bool
	for _, w := range store.writes {
		if strings.Contains(w, "MERGE (u)-[:HAS_ENTITY]->(ent:Entity") {
			createdEntity = true
		}
		if strings.Contains(w, "MERGE (m)-[:MENTIONS]->(ent)") {
			linkedMention = true
		}
		if strings.Contains(w, "m.extractionStatus='done'") {
			markedDone = true
		}
	}
	assert.True(t, createdEntity, "expected entity creation")
	assert.True(t, linkedMention, "expected MENTIONS edge")
	assert.True(t, markedDone, "expected done status")
}

func TestExtractMarksFailedOnBadLLMResponse(t *testing.T) {
	llm := &stubLLM{text: "not json"}
	store := &scriptedStore{}
	store.script = append(store.script, struct {
		contains string
		rows     []registrygraphstore.Row
	}{"RETURN m.content AS content", []registrygraphstore.Row{
		{"content": "x", "extractionStatus": "pending", "userId": "u1"},
	}})

	e := New(store, llm, &stubEmbedder{}, nil, nil)
	err := e.ProcessEntityExtraction(context.Background(), "MEM1")
	require.Error(t, err)

	var markedFailed bool
	for _, w := range store.writes {
		if strings.Contains(w, "m.extractionStatus='failed'") {
			markedFailed = true
		}
	}
	assert.True(t, markedFailed)
}

func TestAsObjectRejectsNonObjects(t *testing.T) {
	assert.Nil(t, asObject("a string"))
	assert.Nil(t, asObject([]interface{}{"array"}))
	assert.Nil(t, asObject(3.14))
	obj := map[string]interface{}{"k": "v"}
	assert.Equal(t, obj, asObject(obj))
}

func TestShallowMerge(t *testing.T) {
	merged := shallowMerge(`{"a":1,"b":"old"}`, map[string]interface{}{"b": "new", "c": true})
	var got map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(merged), &got))
	assert.Equal(t, float64(1), got["a"])
	assert.Equal(t, "new", got["b"])
	assert.Equal(t, true, got["c"])

	// Malformed stored value is replaced, not propagated.
	merged = shallowMerge("not json", map[string]interface{}{"k": "v"})
	require.NoError(t, json.Unmarshal([]byte(merged), &got))
	assert.Equal(t, "v", got["k"])
}
