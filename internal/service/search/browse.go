package search

import (
	"context"
	"fmt"

	"github.com/memforge/memforge/internal/model"
	registrygraphstore "github.com/memforge/memforge/internal/registry/graphstore"
)

// BrowsePage is the no-query listing: one chronological page plus the
// distinct categories and tags across the user's current memories.
type BrowsePage struct {
	Items      []Result `json:"items"`
	Total      int      `json:"total"`
	Categories []string `json:"categories"`
	Tags       []string `json:"tags"`
}

// Browse lists current memories newest-first in one store round-trip
// combining the total count, the requested page, and the category/tag
// vocabulary.
func (e *Engine) Browse(ctx context.Context, userID string, limit, offset int, filters Filters) (*BrowsePage, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := e.store.Read(ctx, `
		MATCH (u:User {userId:$userId})-[:HAS_MEMORY]->(m:Memory)
		WHERE m.invalidAt IS NULL AND m.state <> 'deleted'
		OPTIONAL MATCH (m)-[:HAS_CATEGORY]->(c:Category)
		OPTIONAL MATCH (m)-[:CREATED_BY]->(a:App)
		WITH m, collect(DISTINCT c.name) AS categories, a.appName AS appName
		ORDER BY m.createdAt DESC
		WITH collect({id:m.id, content:m.content, createdAt:m.createdAt,
			updatedAt:m.updatedAt, tags:m.tags, categories:categories,
			appName:appName}) AS all
		RETURN size(all) AS total,
			all[toInteger($offset)..toInteger($offset)+toInteger($limit)] AS page,
			reduce(cats=[], item IN all | cats + [x IN item.categories WHERE NOT x IN cats]) AS categories,
			reduce(ts=[], item IN all | ts + [x IN item.tags WHERE NOT x IN ts]) AS tags`,
		registrygraphstore.Params{"userId": userID, "offset": offset, "limit": limit})
	if err != nil {
		return nil, fmt.Errorf("search: browse: %w", err)
	}
	page := &BrowsePage{Items: []Result{}, Categories: []string{}, Tags: []string{}}
	if len(rows) == 0 {
		return page, nil
	}
	row := rows[0]
	page.Total = model.RowInt(row, "total")
	page.Categories = model.RowStrings(row, "categories")
	page.Tags = model.RowStrings(row, "tags")

	rawPage, _ := row["page"].([]interface{})
	for _, item := range rawPage {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		r := Result{
			ID:         model.RowString(m, "id"),
			Content:    model.RowString(m, "content"),
			CreatedAt:  model.RowTime(m, "createdAt"),
			UpdatedAt:  model.RowTime(m, "updatedAt"),
			AppName:    model.RowString(m, "appName"),
			Categories: model.RowStrings(m, "categories"),
			Tags:       model.RowStrings(m, "tags"),
		}
		if r.Categories == nil {
			r.Categories = []string{}
		}
		if r.Tags == nil {
			r.Tags = []string{}
		}
		if filtered, _ := filters.Apply([]Result{r}); len(filtered) == 0 {
			continue
		}
		page.Items = append(page.Items, r)
	}
	return page, nil
}
