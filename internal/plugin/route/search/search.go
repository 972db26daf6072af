// Package search mounts the secondary recall endpoints: the category
// vocabulary, entity lookup, and community listing/rebuild.
package search

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/memforge/memforge/internal/model"
	"github.com/memforge/memforge/internal/plugin/route/respond"
	registrygraphstore "github.com/memforge/memforge/internal/registry/graphstore"
	"github.com/memforge/memforge/internal/security"
	"github.com/memforge/memforge/internal/service/clustering"
	searchservice "github.com/memforge/memforge/internal/service/search"
)

// MountRoutes mounts the category, entity, and community endpoints.
func MountRoutes(r *gin.Engine, store registrygraphstore.Store, engine *searchservice.Engine, clusterer *clustering.Clusterer) {
	g := r.Group("/api/v1", security.UserIDMiddleware())

	g.GET("/categories", func(c *gin.Context) { listCategories(c, store) })
	g.GET("/entities", func(c *gin.Context) { searchEntities(c, engine) })
	g.GET("/communities", func(c *gin.Context) { listCommunities(c, store) })
	g.POST("/communities/rebuild", func(c *gin.Context) { rebuildCommunities(c, clusterer) })
}

func listCommunities(c *gin.Context, store registrygraphstore.Store) {
	userID := security.GetUserID(c)
	rows, err := store.Read(c.Request.Context(), `
		MATCH (u:User {userId:$userId})-[:HAS_COMMUNITY]->(com:Community)
		RETURN com.id AS id, com.name AS name, com.summary AS summary,
			com.level AS level, com.parentId AS parentId,
			com.memberCount AS memberCount
		ORDER BY com.level ASC, com.memberCount DESC`,
		registrygraphstore.Params{"userId": userID})
	if err != nil {
		respond.Error(c, err)
		return
	}
	communities := make([]gin.H, 0, len(rows))
	for _, row := range rows {
		communities = append(communities, gin.H{
			"id":           model.RowString(row, "id"),
			"name":         model.RowString(row, "name"),
			"summary":      model.RowString(row, "summary"),
			"level":        model.RowInt(row, "level"),
			"parent_id":    model.RowString(row, "parentId"),
			"member_count": model.RowInt(row, "memberCount"),
		})
	}
	c.JSON(http.StatusOK, gin.H{"communities": communities})
}

func rebuildCommunities(c *gin.Context, clusterer *clustering.Clusterer) {
	userID := security.GetUserID(c)
	created, err := clusterer.Rebuild(c.Request.Context(), userID)
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"communities": created, "user_id": userID})
}

func listCategories(c *gin.Context, store registrygraphstore.Store) {
	userID := security.GetUserID(c)
	rows, err := store.Read(c.Request.Context(), `
		MATCH (u:User {userId:$userId})-[:HAS_MEMORY]->(m:Memory)-[:HAS_CATEGORY]->(cat:Category)
		WHERE m.invalidAt IS NULL AND m.state <> 'deleted'
		RETURN cat.name AS name, count(m) AS count
		ORDER BY count DESC`,
		registrygraphstore.Params{"userId": userID})
	if err != nil {
		respond.Error(c, err)
		return
	}
	categories := make([]gin.H, 0, len(rows))
	for _, row := range rows {
		categories = append(categories, gin.H{
			"name":  model.RowString(row, "name"),
			"count": model.RowInt(row, "count"),
		})
	}
	c.JSON(http.StatusOK, gin.H{"categories": categories})
}

func searchEntities(c *gin.Context, engine *searchservice.Engine) {
	userID := security.GetUserID(c)
	query := c.Query("query")
	if query == "" {
		respond.BadRequest(c, "query is required")
		return
	}
	hits, err := engine.SearchEntities(c.Request.Context(), query, userID, 5)
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entities": hits})
}
