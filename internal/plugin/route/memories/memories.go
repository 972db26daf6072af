// Package memories mounts the /api/v1/memories REST endpoints: bi-temporal
// listing, create-with-dedup, bulk soft-delete, fetch, supersede-via-PUT,
// hybrid search, and re-extraction.
package memories

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/memforge/memforge/internal/config"
	"github.com/memforge/memforge/internal/model"
	registrygraphstore "github.com/memforge/memforge/internal/registry/graphstore"
	"github.com/memforge/memforge/internal/plugin/route/respond"
	"github.com/memforge/memforge/internal/service/bulk"
	"github.com/memforge/memforge/internal/service/dedup"
	"github.com/memforge/memforge/internal/service/orchestrator"
	"github.com/memforge/memforge/internal/service/search"
	"github.com/memforge/memforge/internal/service/writer"
)

// Deps carries the services the memory routes dispatch into.
type Deps struct {
	Store        registrygraphstore.Store
	Writer       *writer.Writer
	Search       *search.Engine
	Dedup        *dedup.Engine
	Orchestrator *orchestrator.Orchestrator
	Bulk         *bulk.Ingester
	Config       *config.Config
}

// MountRoutes mounts the memory endpoints on the given router.
func MountRoutes(r *gin.Engine, deps Deps) {
	g := r.Group("/api/v1/memories")

	g.GET("", func(c *gin.Context) { listMemories(c, deps) })
	g.POST("", func(c *gin.Context) { createMemory(c, deps) })
	g.DELETE("", func(c *gin.Context) { bulkDelete(c, deps) })
	g.GET("/:id", func(c *gin.Context) { getMemory(c, deps) })
	g.PUT("/:id", func(c *gin.Context) { putMemory(c, deps) })
	g.POST("/search", func(c *gin.Context) { searchMemories(c, deps) })
	g.POST("/reextract", func(c *gin.Context) { reextract(c, deps) })
	g.POST("/bulk", func(c *gin.Context) { bulkAdd(c, deps) })
}

func bulkAdd(c *gin.Context, deps Deps) {
	var req struct {
		UserID      string      `json:"user_id"`
		App         string      `json:"app"`
		Items       []bulk.Item `json:"items"`
		Concurrency int         `json:"concurrency"`
		Dedup       *bool       `json:"dedup"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.BadRequest(c, err.Error())
		return
	}
	userID := resolveUserID(c, req.UserID)
	if userID == "" {
		respond.BadRequest(c, "user_id is required")
		return
	}
	if len(req.Items) == 0 {
		respond.BadRequest(c, "items must not be empty")
		return
	}
	dedupEnabled := req.Dedup == nil || *req.Dedup
	results := deps.Bulk.Ingest(c.Request.Context(), userID, req.Items, bulk.Options{
		AppName:      req.App,
		Concurrency:  req.Concurrency,
		DedupEnabled: dedupEnabled,
	})
	c.JSON(http.StatusOK, gin.H{"results": results})
}

// resolveUserID reads user_id from the query string, the x-user-id header,
// or a body-supplied fallback, in that order.
func resolveUserID(c *gin.Context, bodyUserID string) string {
	if v := c.Query("user_id"); v != "" {
		return v
	}
	if v := c.GetHeader("x-user-id"); v != "" {
		return v
	}
	return bodyUserID
}

type memoryJSON struct {
	ID         string   `json:"id"`
	Content    string   `json:"content"`
	State      string   `json:"state"`
	Metadata   string   `json:"metadata"`
	Tags       []string `json:"tags"`
	Categories []string `json:"categories,omitempty"`
	AppName    string   `json:"app_name,omitempty"`
	CreatedAt  int64    `json:"created_at"`
	UpdatedAt  int64    `json:"updated_at,omitempty"`
	ValidAt    string   `json:"validAt"`
	InvalidAt  *string  `json:"invalidAt"`
	IsCurrent  bool     `json:"is_current"`
}

func memoryToJSON(m model.Memory) memoryJSON {
	out := memoryJSON{
		ID:        m.ID,
		Content:   m.Content,
		State:     string(m.State),
		Metadata:  m.Metadata,
		Tags:      m.Tags,
		CreatedAt: m.CreatedAt.Unix(),
		ValidAt:   m.ValidAt.UTC().Format(time.RFC3339Nano),
		IsCurrent: m.IsCurrent(),
	}
	if !m.UpdatedAt.IsZero() {
		out.UpdatedAt = m.UpdatedAt.Unix()
	}
	if m.InvalidAt != nil {
		iso := m.InvalidAt.UTC().Format(time.RFC3339Nano)
		out.InvalidAt = &iso
	}
	return out
}

func listMemories(c *gin.Context, deps Deps) {
	userID := resolveUserID(c, "")
	if userID == "" {
		respond.BadRequest(c, "user_id is required")
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	if page < 1 {
		respond.BadRequest(c, "page must be >= 1")
		return
	}
	size, _ := strconv.Atoi(c.DefaultQuery("size", "10"))
	if size < 1 || size > 100 {
		respond.BadRequest(c, "size must be in [1, 100]")
		return
	}

	if query := c.Query("search_query"); query != "" {
		results, err := deps.Search.Search(c.Request.Context(), query, userID, search.Options{TopK: page * size})
		if err != nil {
			respond.Error(c, err)
			return
		}
		start := (page - 1) * size
		if start > len(results) {
			start = len(results)
		}
		end := start + size
		if end > len(results) {
			end = len(results)
		}
		c.JSON(http.StatusOK, gin.H{
			"items": results[start:end],
			"total": len(results),
			"page":  page,
			"size":  size,
			"pages": pages(len(results), size),
		})
		return
	}

	where := []string{"m.state <> 'deleted'"}
	params := registrygraphstore.Params{
		"userId": userID,
		"skip":   (page - 1) * size,
		"limit":  size,
	}
	if asOf := c.Query("as_of"); asOf != "" {
		t, err := time.Parse(time.RFC3339, asOf)
		if err != nil {
			respond.BadRequest(c, "as_of must be an ISO-8601 timestamp")
			return
		}
		params["asOf"] = t.UTC().Format(time.RFC3339Nano)
		where = append(where, "m.validAt <= $asOf AND (m.invalidAt IS NULL OR m.invalidAt > $asOf)")
	} else if c.DefaultQuery("include_superseded", "false") != "true" {
		where = append(where, "m.invalidAt IS NULL")
	}
	if appID := c.Query("app_id"); appID != "" {
		params["appId"] = appID
		where = append(where, "EXISTS { MATCH (m)-[:CREATED_BY]->(:App {id:$appId}) }")
	}
	if csv := c.Query("categories"); csv != "" {
		names := []string{}
		for _, name := range strings.Split(csv, ",") {
			if name = strings.ToLower(strings.TrimSpace(name)); name != "" {
				names = append(names, name)
			}
		}
		if len(names) > 0 {
			params["categoryNames"] = names
			where = append(where, "EXISTS { MATCH (m)-[:HAS_CATEGORY]->(cat:Category) WHERE toLower(cat.name) IN $categoryNames }")
		}
	}

	rows, err := deps.Store.Read(c.Request.Context(), `
		MATCH (u:User {userId:$userId})-[:HAS_MEMORY]->(m:Memory)
		WHERE `+strings.Join(where, " AND ")+`
		OPTIONAL MATCH (m)-[:HAS_CATEGORY]->(cat:Category)
		OPTIONAL MATCH (m)-[:CREATED_BY]->(a:App)
		WITH m, collect(DISTINCT cat.name) AS categories, a.appName AS appName
		ORDER BY m.createdAt DESC
		RETURN m.id AS id, m.content AS content, m.state AS state,
			m.metadata AS metadata, m.tags AS tags,
			m.validAt AS validAt, m.invalidAt AS invalidAt,
			m.createdAt AS createdAt, m.updatedAt AS updatedAt,
			categories, appName
		SKIP $skip LIMIT $limit`, params)
	if err != nil {
		respond.Error(c, err)
		return
	}
	countRows, err := deps.Store.Read(c.Request.Context(), `
		MATCH (u:User {userId:$userId})-[:HAS_MEMORY]->(m:Memory)
		WHERE `+strings.Join(where, " AND ")+`
		RETURN count(m) AS total`, params)
	if err != nil {
		respond.Error(c, err)
		return
	}
	total := 0
	if len(countRows) > 0 {
		total = model.RowInt(countRows[0], "total")
	}

	items := make([]memoryJSON, 0, len(rows))
	for _, row := range rows {
		item := memoryToJSON(model.MemoryFromRow(row))
		item.Categories = model.RowStrings(row, "categories")
		item.AppName = model.RowString(row, "appName")
		items = append(items, item)
	}
	c.JSON(http.StatusOK, gin.H{
		"items": items,
		"total": total,
		"page":  page,
		"size":  size,
		"pages": pages(total, size),
	})
}

func pages(total, size int) int {
	if size <= 0 {
		return 0
	}
	return (total + size - 1) / size
}

func createMemory(c *gin.Context, deps Deps) {
	var req struct {
		UserID   string `json:"user_id"`
		Text     string `json:"text"`
		Metadata string `json:"metadata"`
		Infer    *bool  `json:"infer"`
		App      string `json:"app"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.BadRequest(c, err.Error())
		return
	}
	userID := resolveUserID(c, req.UserID)
	if userID == "" {
		respond.BadRequest(c, "user_id is required")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		respond.BadRequest(c, "text is required")
		return
	}
	if req.App != "" {
		if paused, err := appPaused(c, deps, userID, req.App); err != nil {
			respond.Error(c, err)
			return
		} else if paused {
			c.JSON(http.StatusForbidden, gin.H{"error": "app is paused"})
			return
		}
	}

	infer := req.Infer == nil || *req.Infer
	if infer {
		verdict := deps.Dedup.Check(c.Request.Context(), userID, req.Text)
		switch verdict.Decision {
		case dedup.Skip:
			mem, _, err := deps.Writer.Get(c.Request.Context(), userID, verdict.ExistingID)
			if err != nil {
				respond.Error(c, err)
				return
			}
			out := memoryToJSON(*mem)
			c.JSON(http.StatusOK, gin.H{"id": out.ID, "content": out.Content, "created_at": out.CreatedAt, "event": "SKIP_DUPLICATE"})
			return
		case dedup.Supersede:
			mem, _, err := deps.Writer.Supersede(c.Request.Context(), userID, verdict.ExistingID, req.Text, req.App, nil)
			if err != nil {
				respond.Error(c, err)
				return
			}
			out := memoryToJSON(*mem)
			c.JSON(http.StatusOK, gin.H{"id": out.ID, "content": out.Content, "created_at": out.CreatedAt, "event": "SUPERSEDE", "superseded_id": verdict.ExistingID})
			return
		}
	}

	mem, _, err := deps.Writer.Add(c.Request.Context(), userID, req.Text, writer.AddOptions{
		AppName:            req.App,
		Metadata:           req.Metadata,
		SkipAutoCategorize: !infer,
		SkipExtraction:     !infer,
	})
	if err != nil {
		respond.Error(c, err)
		return
	}
	out := memoryToJSON(*mem)
	c.JSON(http.StatusOK, gin.H{"id": out.ID, "content": out.Content, "created_at": out.CreatedAt, "event": "ADD"})
}

func appPaused(c *gin.Context, deps Deps, userID, appName string) (bool, error) {
	rows, err := deps.Store.Read(c.Request.Context(), `
		MATCH (a:App {appName:$appName, userId:$userId})
		RETURN a.isActive AS isActive`,
		registrygraphstore.Params{"appName": appName, "userId": userID})
	if err != nil {
		return false, err
	}
	if len(rows) == 0 {
		return false, nil
	}
	active, ok := rows[0]["isActive"].(bool)
	return ok && !active, nil
}

func bulkDelete(c *gin.Context, deps Deps) {
	var req struct {
		MemoryIDs []string `json:"memory_ids"`
		UserID    string   `json:"user_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.BadRequest(c, err.Error())
		return
	}
	userID := resolveUserID(c, req.UserID)
	if userID == "" {
		respond.BadRequest(c, "user_id is required")
		return
	}
	if len(req.MemoryIDs) == 0 {
		respond.BadRequest(c, "memory_ids must not be empty")
		return
	}
	deleted, err := deps.Writer.DeleteMany(c.Request.Context(), userID, req.MemoryIDs)
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}

func getMemory(c *gin.Context, deps Deps) {
	userID := resolveUserID(c, "")
	if userID == "" {
		respond.BadRequest(c, "user_id is required")
		return
	}
	mem, supersededBy, err := deps.Writer.Get(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		respond.Error(c, err)
		return
	}
	out := memoryToJSON(*mem)
	c.JSON(http.StatusOK, gin.H{
		"memory":        out,
		"superseded_by": nullable(supersededBy),
		"is_current":    mem.IsCurrent(),
	})
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func putMemory(c *gin.Context, deps Deps) {
	var req struct {
		Text          string `json:"text"`
		MemoryContent string `json:"memory_content"`
		UserID        string `json:"user_id"`
		AppName       string `json:"app_name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.BadRequest(c, err.Error())
		return
	}
	userID := resolveUserID(c, req.UserID)
	if userID == "" {
		respond.BadRequest(c, "user_id is required")
		return
	}
	text := req.Text
	if text == "" {
		text = req.MemoryContent
	}
	if strings.TrimSpace(text) == "" {
		respond.BadRequest(c, "text is required")
		return
	}

	// Ownership verification doubles as the 404 for foreign ids.
	if _, _, err := deps.Writer.Get(c.Request.Context(), userID, c.Param("id")); err != nil {
		respond.Error(c, err)
		return
	}
	mem, _, err := deps.Writer.Supersede(c.Request.Context(), userID, c.Param("id"), text, req.AppName, nil)
	if err != nil {
		respond.Error(c, err)
		return
	}
	out := memoryToJSON(*mem)
	c.JSON(http.StatusOK, gin.H{"id": out.ID, "content": out.Content, "created_at": out.CreatedAt, "superseded_id": c.Param("id")})
}

func searchMemories(c *gin.Context, deps Deps) {
	var req struct {
		Query   string `json:"query"`
		UserID  string `json:"user_id"`
		AppName string `json:"app_name"`
		TopK    int    `json:"top_k"`
		Mode    string `json:"mode"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.BadRequest(c, err.Error())
		return
	}
	userID := resolveUserID(c, req.UserID)
	if userID == "" {
		respond.BadRequest(c, "user_id is required")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		respond.BadRequest(c, "query is required")
		return
	}
	if req.TopK <= 0 {
		req.TopK = 10
	}
	if req.TopK > 50 {
		respond.BadRequest(c, "top_k must be <= 50")
		return
	}
	results, err := deps.Search.Search(c.Request.Context(), req.Query, userID, search.Options{
		TopK: req.TopK,
		Mode: search.Mode(req.Mode),
	})
	if err != nil {
		respond.Error(c, err)
		return
	}
	deps.Search.LogAccess(userID, req.AppName, req.Query, results)
	c.JSON(http.StatusOK, gin.H{"results": results})
}

func reextract(c *gin.Context, deps Deps) {
	userID := resolveUserID(c, "")
	if userID == "" {
		respond.BadRequest(c, "user_id is required")
		return
	}
	queued, err := deps.Orchestrator.Reextract(c.Request.Context(), userID)
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"queued": queued, "user_id": userID})
}
