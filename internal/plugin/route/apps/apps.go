// Package apps mounts the /api/v1/apps endpoints: listing with per-app
// memory counts and the is_active toggle that pauses an app's write access.
package apps

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/memforge/memforge/internal/model"
	registrygraphstore "github.com/memforge/memforge/internal/registry/graphstore"
	"github.com/memforge/memforge/internal/plugin/route/respond"
	"github.com/memforge/memforge/internal/security"
)

// MountRoutes mounts the app endpoints.
func MountRoutes(r *gin.Engine, store registrygraphstore.Store) {
	g := r.Group("/api/v1/apps", security.UserIDMiddleware())

	g.GET("", func(c *gin.Context) { listApps(c, store) })
	g.GET("/:appId", func(c *gin.Context) { getApp(c, store) })
	g.PUT("/:appId", func(c *gin.Context) { updateApp(c, store) })
}

func listApps(c *gin.Context, store registrygraphstore.Store) {
	userID := security.GetUserID(c)
	where := []string{"a.userId = $userId"}
	params := registrygraphstore.Params{"userId": userID}
	if name := c.Query("name"); name != "" {
		params["name"] = name
		where = append(where, "toLower(a.appName) CONTAINS toLower($name)")
	}
	if active := c.Query("is_active"); active != "" {
		params["isActive"] = active == "true"
		where = append(where, "a.isActive = $isActive")
	}
	rows, err := store.Read(c.Request.Context(), `
		MATCH (a:App)
		WHERE `+strings.Join(where, " AND ")+`
		OPTIONAL MATCH (m:Memory)-[:CREATED_BY]->(a)
		WHERE m.state <> 'deleted'
		RETURN a.id AS id, a.appName AS appName, a.isActive AS isActive,
			a.createdAt AS createdAt, count(m) AS memoryCount
		ORDER BY a.createdAt DESC`, params)
	if err != nil {
		respond.Error(c, err)
		return
	}
	apps := make([]gin.H, 0, len(rows))
	for _, row := range rows {
		active, _ := row["isActive"].(bool)
		apps = append(apps, gin.H{
			"id":           model.RowString(row, "id"),
			"name":         model.RowString(row, "appName"),
			"is_active":    active,
			"created_at":   model.RowTime(row, "createdAt").Unix(),
			"memory_count": model.RowInt(row, "memoryCount"),
		})
	}
	c.JSON(http.StatusOK, gin.H{"apps": apps, "total": len(apps)})
}

func getApp(c *gin.Context, store registrygraphstore.Store) {
	userID := security.GetUserID(c)
	rows, err := store.Read(c.Request.Context(), `
		MATCH (a:App {id:$appId, userId:$userId})
		RETURN a.id AS id, a.appName AS appName, a.isActive AS isActive, a.createdAt AS createdAt`,
		registrygraphstore.Params{"appId": c.Param("appId"), "userId": userID})
	if err != nil {
		respond.Error(c, err)
		return
	}
	if len(rows) == 0 {
		respond.NotFound(c)
		return
	}
	active, _ := rows[0]["isActive"].(bool)
	c.JSON(http.StatusOK, gin.H{
		"id":         model.RowString(rows[0], "id"),
		"name":       model.RowString(rows[0], "appName"),
		"is_active":  active,
		"created_at": model.RowTime(rows[0], "createdAt").Unix(),
	})
}

func updateApp(c *gin.Context, store registrygraphstore.Store) {
	userID := security.GetUserID(c)
	var req struct {
		IsActive *bool `json:"is_active"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.BadRequest(c, err.Error())
		return
	}
	if req.IsActive == nil {
		respond.BadRequest(c, "is_active is required")
		return
	}
	rows, err := store.Write(c.Request.Context(), `
		MATCH (a:App {id:$appId, userId:$userId})
		SET a.isActive = $isActive
		RETURN a.id AS id`,
		registrygraphstore.Params{"appId": c.Param("appId"), "userId": userID, "isActive": *req.IsActive})
	if err != nil {
		respond.Error(c, err)
		return
	}
	if len(rows) == 0 {
		respond.NotFound(c)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": c.Param("appId"), "is_active": *req.IsActive})
}
