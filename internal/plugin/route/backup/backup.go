// Package backup mounts the export/import endpoints. Export streams a ZIP
// holding memories.json plus a gzipped memories.jsonl; import accepts the
// same ZIP (or a bare jsonl) and re-creates the memories, re-embedding each
// so the vectors match the current provider.
package backup

import (
	"archive/zip"
	"bufio"
	"bytes"
	"compress/gzip"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/memforge/memforge/internal/model"
	registrygraphstore "github.com/memforge/memforge/internal/registry/graphstore"
	"github.com/memforge/memforge/internal/plugin/route/respond"
	"github.com/memforge/memforge/internal/security"
	"github.com/memforge/memforge/internal/service/writer"
)

// Deps carries the backup routes' collaborators.
type Deps struct {
	Store  registrygraphstore.Store
	Writer *writer.Writer
}

// MountRoutes mounts the backup endpoints.
func MountRoutes(r *gin.Engine, deps Deps) {
	g := r.Group("/api/v1/backup", security.UserIDMiddleware())

	g.POST("/export", func(c *gin.Context) { exportBackup(c, deps) })
	g.POST("/import", func(c *gin.Context) { importBackup(c, deps) })
}

type exportedMemory struct {
	ID        string   `json:"id"`
	Content   string   `json:"content"`
	State     string   `json:"state"`
	Metadata  string   `json:"metadata"`
	Tags      []string `json:"tags"`
	ValidAt   string   `json:"validAt"`
	InvalidAt *string  `json:"invalidAt,omitempty"`
	CreatedAt string   `json:"createdAt"`
}

func exportBackup(c *gin.Context, deps Deps) {
	userID := security.GetUserID(c)
	rows, err := deps.Store.Read(c.Request.Context(), `
		MATCH (u:User {userId:$userId})-[:HAS_MEMORY]->(m:Memory)
		WHERE m.state <> 'deleted'
		RETURN m.id AS id, m.content AS content, m.state AS state,
			m.metadata AS metadata, m.tags AS tags,
			m.validAt AS validAt, m.invalidAt AS invalidAt,
			m.createdAt AS createdAt
		ORDER BY m.createdAt ASC`,
		registrygraphstore.Params{"userId": userID})
	if err != nil {
		respond.Error(c, err)
		return
	}

	memories := make([]exportedMemory, 0, len(rows))
	for _, row := range rows {
		m := exportedMemory{
			ID:        model.RowString(row, "id"),
			Content:   model.RowString(row, "content"),
			State:     model.RowString(row, "state"),
			Metadata:  model.RowString(row, "metadata"),
			Tags:      model.RowStrings(row, "tags"),
			ValidAt:   model.RowString(row, "validAt"),
			CreatedAt: model.RowString(row, "createdAt"),
		}
		if inv := model.RowString(row, "invalidAt"); inv != "" {
			m.InvalidAt = &inv
		}
		memories = append(memories, m)
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	jsonFile, err := zw.Create("memories.json")
	if err == nil {
		err = json.NewEncoder(jsonFile).Encode(memories)
	}
	if err == nil {
		var jsonlFile io.Writer
		jsonlFile, err = zw.Create("memories.jsonl.gz")
		if err == nil {
			gz := gzip.NewWriter(jsonlFile)
			enc := json.NewEncoder(gz)
			for _, m := range memories {
				if err = enc.Encode(m); err != nil {
					break
				}
			}
			if closeErr := gz.Close(); err == nil {
				err = closeErr
			}
		}
	}
	if closeErr := zw.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		respond.Error(c, err)
		return
	}

	c.Header("Content-Disposition", `attachment; filename="memforge-backup.zip"`)
	c.Data(http.StatusOK, "application/zip", buf.Bytes())
}

func importBackup(c *gin.Context, deps Deps) {
	userID := security.GetUserID(c)
	mode := c.DefaultQuery("mode", "skip")
	if mode != "skip" && mode != "overwrite" {
		respond.BadRequest(c, "mode must be skip or overwrite")
		return
	}

	file, _, err := c.Request.FormFile("file")
	if err != nil {
		respond.BadRequest(c, "file upload is required")
		return
	}
	defer file.Close()

	payload, err := io.ReadAll(file)
	if err != nil {
		respond.Error(c, err)
		return
	}
	memories, err := decodeArchive(payload)
	if err != nil {
		respond.BadRequest(c, err.Error())
		return
	}

	imported, skipped := 0, 0
	for _, m := range memories {
		if m.Content == "" {
			continue
		}
		if mode == "skip" {
			rows, err := deps.Store.Read(c.Request.Context(), `
				MATCH (u:User {userId:$userId})-[:HAS_MEMORY]->(m:Memory {id:$id})
				RETURN m.id AS id`,
				registrygraphstore.Params{"userId": userID, "id": m.ID})
			if err != nil {
				respond.Error(c, err)
				return
			}
			if len(rows) > 0 {
				skipped++
				continue
			}
		}
		opts := writer.AddOptions{Metadata: m.Metadata, Tags: m.Tags}
		if t, err := time.Parse(time.RFC3339Nano, m.ValidAt); err == nil {
			opts.ValidAt = &t
		}
		if _, _, err := deps.Writer.Add(c.Request.Context(), userID, m.Content, opts); err != nil {
			respond.Error(c, err)
			return
		}
		imported++
	}
	c.JSON(http.StatusOK, gin.H{"imported": imported, "skipped": skipped, "mode": mode})
}

// decodeArchive accepts the export ZIP (read through its memories.json) or a
// bare JSONL payload with one memory object per line.
func decodeArchive(payload []byte) ([]exportedMemory, error) {
	if zr, err := zip.NewReader(bytes.NewReader(payload), int64(len(payload))); err == nil {
		for _, f := range zr.File {
			if f.Name != "memories.json" {
				continue
			}
			rc, err := f.Open()
			if err != nil {
				return nil, err
			}
			defer rc.Close()
			var memories []exportedMemory
			if err := json.NewDecoder(rc).Decode(&memories); err != nil {
				return nil, err
			}
			return memories, nil
		}
	}
	// Fall back to line-delimited JSON.
	var memories []exportedMemory
	scanner := bufio.NewScanner(bytes.NewReader(payload))
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var m exportedMemory
		if err := json.Unmarshal(line, &m); err != nil {
			return nil, err
		}
		memories = append(memories, m)
	}
	return memories, scanner.Err()
}
