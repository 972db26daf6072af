package search

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/memforge/memforge/internal/model"
	registrygraphstore "github.com/memforge/memforge/internal/registry/graphstore"
)

// EntityRelation is one RELATED_TO edge adjacent to a matched entity.
type EntityRelation struct {
	Direction   string `json:"direction"` // "out" or "in"
	OtherName   string `json:"otherName"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// EntityHit is one matched entity with its adjacent relationships.
type EntityHit struct {
	ID            string           `json:"id"`
	Name          string           `json:"name"`
	Type          string           `json:"type"`
	Description   string           `json:"description,omitempty"`
	Relationships []EntityRelation `json:"relationships"`
}

// SearchEntities combines a case-insensitive substring match on entity names
// with a semantic ANN pass over description embeddings, deduplicated by id.
// Relationships for all hits are fetched in a single UNWIND over both edge
// directions.
func (e *Engine) SearchEntities(ctx context.Context, query, userID string, limit int) ([]EntityHit, error) {
	if limit <= 0 {
		limit = 5
	}

	byID := make(map[string]*EntityHit)
	order := make([]string, 0, limit*2)

	rows, err := e.store.Read(ctx, `
		MATCH (u:User {userId:$userId})-[:HAS_ENTITY]->(ent:Entity)
		WHERE toLower(ent.name) CONTAINS toLower($query)
		RETURN ent.id AS id, ent.name AS name, ent.type AS type, ent.description AS description
		LIMIT toInteger($limit)`,
		registrygraphstore.Params{"userId": userID, "query": query, "limit": limit})
	if err != nil {
		return nil, fmt.Errorf("search: entity substring: %w", err)
	}
	for _, row := range rows {
		hit := entityFromRow(row)
		if _, ok := byID[hit.ID]; !ok {
			byID[hit.ID] = &hit
			order = append(order, hit.ID)
		}
	}

	if err := e.store.EnsureVectorIndexes(ctx, e.vectorIndexSpecs()); err != nil {
		log.Warn("search: entity semantic arm skipped", "err", err)
	} else if vec, err := e.embedder.Embed(ctx, query); err != nil {
		log.Warn("search: entity semantic arm skipped", "err", err)
	} else {
		// The procedure's top-K is store-wide, so fetch well past the page
		// size to leave candidates standing after the per-user anchor.
		fetchLimit := limit * 10
		if fetchLimit < 50 {
			fetchLimit = 50
		}
		rows, err := e.store.Read(ctx, `
			CALL vector_search.search('entity_vectors', $fetchLimit, $vec) YIELD node, similarity
			MATCH (u:User {userId:$userId})-[:HAS_ENTITY]->(node)
			RETURN node.id AS id, node.name AS name, node.type AS type, node.description AS description
			ORDER BY similarity DESC
			LIMIT toInteger($limit)`,
			registrygraphstore.Params{"userId": userID, "vec": vec, "fetchLimit": fetchLimit, "limit": limit})
		if err != nil {
			log.Warn("search: entity semantic arm failed", "err", err)
		} else {
			for _, row := range rows {
				hit := entityFromRow(row)
				if _, ok := byID[hit.ID]; !ok {
					byID[hit.ID] = &hit
					order = append(order, hit.ID)
				}
			}
		}
	}

	if len(order) == 0 {
		return []EntityHit{}, nil
	}
	if len(order) > limit {
		order = order[:limit]
	}

	relRows, err := e.store.Read(ctx, `
		UNWIND $ids AS entId
		MATCH (u:User {userId:$userId})-[:HAS_ENTITY]->(ent:Entity {id:entId})
		OPTIONAL MATCH (ent)-[outRel:RELATED_TO]->(other:Entity)
		OPTIONAL MATCH (src:Entity)-[incRel:RELATED_TO]->(ent)
		RETURN entId,
			collect(DISTINCT {direction:'out', otherName:other.name, type:outRel.type, description:outRel.description}) AS outgoing,
			collect(DISTINCT {direction:'in', otherName:src.name, type:incRel.type, description:incRel.description}) AS incoming`,
		registrygraphstore.Params{"ids": order, "userId": userID})
	if err != nil {
		return nil, fmt.Errorf("search: entity relationships: %w", err)
	}
	for _, row := range relRows {
		hit, ok := byID[model.RowString(row, "entId")]
		if !ok {
			continue
		}
		hit.Relationships = append(relationsFromColumn(row, "outgoing"), relationsFromColumn(row, "incoming")...)
	}

	out := make([]EntityHit, 0, len(order))
	for _, id := range order {
		hit := byID[id]
		if hit.Relationships == nil {
			hit.Relationships = []EntityRelation{}
		}
		out = append(out, *hit)
	}
	return out, nil
}

func entityFromRow(row registrygraphstore.Row) EntityHit {
	return EntityHit{
		ID:          model.RowString(row, "id"),
		Name:        model.RowString(row, "name"),
		Type:        model.RowString(row, "type"),
		Description: model.RowString(row, "description"),
	}
}

func relationsFromColumn(row registrygraphstore.Row, key string) []EntityRelation {
	raw, ok := row[key].([]interface{})
	if !ok {
		return nil
	}
	var out []EntityRelation
	for _, item := range raw {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		rel := EntityRelation{
			Direction:   model.RowString(m, "direction"),
			OtherName:   model.RowString(m, "otherName"),
			Type:        model.RowString(m, "type"),
			Description: model.RowString(m, "description"),
		}
		if rel.OtherName == "" && rel.Type == "" {
			continue
		}
		out = append(out, rel)
	}
	return out
}
