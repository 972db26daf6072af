package memories

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memforge/memforge/internal/config"
	registryembed "github.com/memforge/memforge/internal/registry/embed"
	registrygraphstore "github.com/memforge/memforge/internal/registry/graphstore"
	"github.com/memforge/memforge/internal/service/dedup"
	"github.com/memforge/memforge/internal/service/search"
	"github.com/memforge/memforge/internal/service/writer"
)

type routeStore struct {
	rowsFor func(cypher string, params registrygraphstore.Params) []registrygraphstore.Row
}

func (s *routeStore) Read(ctx context.Context, cypher string, params registrygraphstore.Params) ([]registrygraphstore.Row, error) {
	if s.rowsFor == nil {
		return nil, nil
	}
	return s.rowsFor(cypher, params), nil
}
func (s *routeStore) Write(ctx context.Context, cypher string, params registrygraphstore.Params) ([]registrygraphstore.Row, error) {
	if s.rowsFor == nil {
		return nil, nil
	}
	return s.rowsFor(cypher, params), nil
}
func (s *routeStore) Transaction(ctx context.Context, steps []registrygraphstore.Step) ([][]registrygraphstore.Row, error) {
	return nil, nil
}
func (s *routeStore) EnsureVectorIndexes(ctx context.Context, specs []registrygraphstore.VectorIndexSpec) error {
	return nil
}
func (s *routeStore) ApplySchema(ctx context.Context) error { return nil }
func (s *routeStore) Close() error                          { return nil }

type testEmbedder struct{}

func (testEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1}, nil
}
func (testEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1}
	}
	return out, nil
}
func (testEmbedder) ModelName() string { return "test" }
func (testEmbedder) Dimension() int    { return 1 }
func (testEmbedder) HealthCheck(ctx context.Context) registryembed.HealthStatus {
	return registryembed.HealthStatus{OK: true}
}

func newRouter(store *routeStore) *gin.Engine {
	gin.SetMode(gin.TestMode)
	cfg := config.DefaultConfig()
	cfg.DedupEnabled = false
	r := gin.New()
	MountRoutes(r, Deps{
		Store:  store,
		Writer: writer.New(store, testEmbedder{}, nil, &cfg),
		Search: search.New(store, testEmbedder{}, nil, &cfg),
		Dedup:  dedup.New(store, testEmbedder{}, nil, &cfg),
		Config: &cfg,
	})
	return r
}

func TestCreateMemoryReturnsAddEvent(t *testing.T) {
	router := newRouter(&routeStore{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/memories",
		strings.NewReader(`{"user_id":"u","text":"My blood type is O positive.","app":"e2e"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"event":"ADD"`)
	assert.Contains(t, rec.Body.String(), `"id"`)
}

func TestCreateMemoryRequiresUserID(t *testing.T) {
	router := newRouter(&routeStore{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/memories",
		strings.NewReader(`{"text":"no user"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "detail")
}

func TestCreateMemoryRejectsPausedApp(t *testing.T) {
	store := &routeStore{rowsFor: func(cypher string, params registrygraphstore.Params) []registrygraphstore.Row {
		if strings.Contains(cypher, "a.isActive AS isActive") {
			return []registrygraphstore.Row{{"isActive": false}}
		}
		return nil
	}}
	router := newRouter(store)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/memories",
		strings.NewReader(`{"user_id":"u","text":"fact","app":"paused-app"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestGetMemoryForeignUserIs404(t *testing.T) {
	// The store returns no row for the user-anchored match, which is
	// indistinguishable from nonexistence by design.
	router := newRouter(&routeStore{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/memories/0ABCDEFGHIJKL?user_id=someone-else", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "not found")
}

func TestBulkDeleteValidatesBody(t *testing.T) {
	router := newRouter(&routeStore{})

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/memories",
		strings.NewReader(`{"user_id":"u","memory_ids":[]}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSearchRejectsOversizedTopK(t *testing.T) {
	router := newRouter(&routeStore{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/memories/search",
		strings.NewReader(`{"user_id":"u","query":"q","top_k":51}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}
