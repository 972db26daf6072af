package configcache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	registrygraphstore "github.com/memforge/memforge/internal/registry/graphstore"
)

type configStore struct {
	values map[string]string
	reads  int
	writes []registrygraphstore.Params
}

func (s *configStore) Read(ctx context.Context, cypher string, params registrygraphstore.Params) ([]registrygraphstore.Row, error) {
	s.reads++
	key, _ := params["key"].(string)
	value, ok := s.values[key]
	if !ok {
		return nil, nil
	}
	return []registrygraphstore.Row{{"value": value}}, nil
}

func (s *configStore) Write(ctx context.Context, cypher string, params registrygraphstore.Params) ([]registrygraphstore.Row, error) {
	s.writes = append(s.writes, params)
	if s.values == nil {
		s.values = map[string]string{}
	}
	key, _ := params["key"].(string)
	value, _ := params["value"].(string)
	s.values[key] = value
	return nil, nil
}

func (s *configStore) Transaction(ctx context.Context, steps []registrygraphstore.Step) ([][]registrygraphstore.Row, error) {
	return nil, nil
}
func (s *configStore) EnsureVectorIndexes(ctx context.Context, specs []registrygraphstore.VectorIndexSpec) error {
	return nil
}
func (s *configStore) ApplySchema(ctx context.Context) error { return nil }
func (s *configStore) Close() error                          { return nil }

func TestGetReadsThroughToStore(t *testing.T) {
	store := &configStore{values: map[string]string{"dedup": `{"enabled":true}`}}
	c, err := New(store, 30*time.Second)
	require.NoError(t, err)

	got, err := c.Get(context.Background(), "dedup")
	require.NoError(t, err)
	assert.Equal(t, `{"enabled":true}`, got)
	assert.Equal(t, 1, store.reads)
}

func TestGetMissingKeyIsEmpty(t *testing.T) {
	c, err := New(&configStore{}, 30*time.Second)
	require.NoError(t, err)

	got, err := c.Get(context.Background(), "absent")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestGetJSONDecodes(t *testing.T) {
	store := &configStore{values: map[string]string{"dedup": `{"threshold":0.6}`}}
	c, err := New(store, 30*time.Second)
	require.NoError(t, err)

	var settings struct {
		Threshold float64 `json:"threshold"`
	}
	require.NoError(t, c.GetJSON(context.Background(), "dedup", &settings))
	assert.Equal(t, 0.6, settings.Threshold)
}

func TestSetPersistsJSONAndIsReadable(t *testing.T) {
	store := &configStore{}
	c, err := New(store, 30*time.Second)
	require.NoError(t, err)

	require.NoError(t, c.Set(context.Background(), "dedup", map[string]interface{}{"enabled": false}))
	require.Len(t, store.writes, 1)
	assert.Equal(t, "dedup", store.writes[0]["key"])
	assert.JSONEq(t, `{"enabled":false}`, store.writes[0]["value"].(string))

	got, err := c.Get(context.Background(), "dedup")
	require.NoError(t, err)
	assert.JSONEq(t, `{"enabled":false}`, got)
}
