package clustering

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	registrygraphstore "github.com/memforge/memforge/internal/registry/graphstore"
)

type detectStore struct {
	detectRows []registrygraphstore.Row
	writes     []string
	params     []registrygraphstore.Params
}

func (s *detectStore) Read(ctx context.Context, cypher string, params registrygraphstore.Params) ([]registrygraphstore.Row, error) {
	if strings.Contains(cypher, "community_detection.get()") {
		return s.detectRows, nil
	}
	return nil, nil
}
func (s *detectStore) Write(ctx context.Context, cypher string, params registrygraphstore.Params) ([]registrygraphstore.Row, error) {
	s.writes = append(s.writes, cypher)
	s.params = append(s.params, params)
	return nil, nil
}
func (s *detectStore) Transaction(ctx context.Context, steps []registrygraphstore.Step) ([][]registrygraphstore.Row, error) {
	return nil, nil
}
func (s *detectStore) EnsureVectorIndexes(ctx context.Context, specs []registrygraphstore.VectorIndexSpec) error {
	return nil
}
func (s *detectStore) ApplySchema(ctx context.Context) error { return nil }
func (s *detectStore) Close() error                          { return nil }

func TestRebuildCreatesCommunitiesPerDetectedGroup(t *testing.T) {
	store := &detectStore{detectRows: []registrygraphstore.Row{
		{"id": "m1", "content": "I like hiking trails", "communityId": int64(0)},
		{"id": "m2", "content": "I like hiking boots", "communityId": int64(0)},
		{"id": "m3", "content": "work deadline friday", "communityId": int64(1)},
	}}
	c := New(store, nil)

	created, err := c.Rebuild(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, created)

	// First write clears the old communities, then one create per group.
	require.NotEmpty(t, store.writes)
	assert.Contains(t, store.writes[0], "DETACH DELETE com")
	var creates int
	for _, w := range store.writes[1:] {
		if strings.Contains(w, "CREATE (com:Community") {
			creates = creates + 1
			assert.Contains(t, w, "CREATE (m)-[:IN_COMMUNITY]->(com)")
		}
	}
	assert.GreaterOrEqual(t, creates, 2)
}

func TestRebuildNoMembersIsNoop(t *testing.T) {
	store := &detectStore{}
	c := New(store, nil)

	created, err := c.Rebuild(context.Background(), "u1")
	require.NoError(t, err)
	assert.Zero(t, created)
	assert.Empty(t, store.writes)
}

func TestFirstWords(t *testing.T) {
	assert.Equal(t, "i like hiking", firstWords("I like hiking trails a lot", 3))
	assert.Equal(t, "short", firstWords("Short", 3))
}

func TestSubclustersSkipDegenerateGroups(t *testing.T) {
	store := &detectStore{}
	c := New(store, nil)

	// All members share the same prefix: the subcluster equals the parent
	// and must not be created.
	c.buildSubclusters(context.Background(), "u1", "PARENT", []member{
		{id: "a", content: "i like hiking trails"},
		{id: "b", content: "i like hiking boots"},
	})
	assert.Empty(t, store.writes)
}
