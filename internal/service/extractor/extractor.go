// Package extractor is the asynchronous entity-extraction worker. For each
// memory it pulls entities and typed relationships out of the content via
// the LLM, resolves them against the user's existing entity graph (Tier 1
// exact normalized-name match, Tier 2 semantic match over description
// embeddings), and links everything back to the memory.
package extractor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/memforge/memforge/internal/config"
	"github.com/memforge/memforge/internal/identity"
	"github.com/memforge/memforge/internal/model"
	registryembed "github.com/memforge/memforge/internal/registry/embed"
	registrygraphstore "github.com/memforge/memforge/internal/registry/graphstore"
	registryllm "github.com/memforge/memforge/internal/registry/llm"
	"github.com/memforge/memforge/internal/taskqueue"
)

// entityMatchThreshold is the Tier-2 semantic similarity floor for treating
// an extracted entity as the same as an existing one.
const entityMatchThreshold = 0.8

// entityAnnFetchLimit is how many store-wide vector_search hits Tier-2
// fetches before the per-user anchor filters them; the procedure's top-K
// spans every user's entities, so a small raw K would return nothing once
// the store holds more than a few tenants.
const entityAnnFetchLimit = 50

const maxErrorLen = 500

type Extractor struct {
	store    registrygraphstore.Store
	llm      registryllm.Provider
	embedder registryembed.Embedder
	tasks    *taskqueue.Supervisor
	cfg      *config.Config
}

func New(store registrygraphstore.Store, llm registryllm.Provider, embedder registryembed.Embedder, tasks *taskqueue.Supervisor, cfg *config.Config) *Extractor {
	return &Extractor{store: store, llm: llm, embedder: embedder, tasks: tasks, cfg: cfg}
}

// extractedEntity is one entity as returned by the LLM, post-normalization.
type extractedEntity struct {
	Name        string
	Type        string
	Description string
	Metadata    map[string]interface{}
}

type extractedRelationship struct {
	Source      string
	Target      string
	Type        string
	Description string
	Metadata    map[string]interface{}
}

// ProcessEntityExtraction runs the full extraction pipeline for one memory.
// Idempotent: a memory already marked done returns immediately. On failure
// the memory is marked failed with a truncated error; there is no automatic
// retry (reextract re-enqueues).
func (e *Extractor) ProcessEntityExtraction(ctx context.Context, memoryID string) error {
	rows, err := e.store.Read(ctx, `
		MATCH (u:User)-[:HAS_MEMORY]->(m:Memory {id:$id})
		RETURN m.content AS content, m.extractionStatus AS extractionStatus, u.userId AS userId`,
		registrygraphstore.Params{"id": memoryID})
	if err != nil {
		return fmt.Errorf("extractor: read memory: %w", err)
	}
	if len(rows) == 0 {
		return fmt.Errorf("extractor: memory %s not found", memoryID)
	}
	if model.ExtractionStatus(model.RowString(rows[0], "extractionStatus")) == model.ExtractionStatusDone {
		return nil
	}
	content := model.RowString(rows[0], "content")
	userID := model.RowString(rows[0], "userId")

	if err := e.extract(ctx, memoryID, userID, content); err != nil {
		e.markFailed(ctx, memoryID, err)
		return err
	}
	_, err = e.store.Write(ctx, `
		MATCH (m:Memory {id:$id}) SET m.extractionStatus='done'`,
		registrygraphstore.Params{"id": memoryID})
	return err
}

func (e *Extractor) markFailed(ctx context.Context, memoryID string, cause error) {
	msg := cause.Error()
	if len(msg) > maxErrorLen {
		msg = msg[:maxErrorLen]
	}
	if _, err := e.store.Write(ctx, `
		MATCH (m:Memory {id:$id})
		SET m.extractionStatus='failed', m.extractionError=$err,
			m.extractionAttempts=coalesce(m.extractionAttempts,0)+1`,
		registrygraphstore.Params{"id": memoryID, "err": msg}); err != nil {
		log.Error("extractor: failed to mark extraction failed", "memoryId", memoryID, "err", err)
	}
}

func (e *Extractor) extract(ctx context.Context, memoryID, userID, content string) error {
	contextWindow, err := e.recentMemories(ctx, userID, memoryID)
	if err != nil {
		log.Warn("extractor: co-reference context unavailable", "err", err)
	}

	entities, relationships, err := e.callLLM(ctx, content, contextWindow)
	if err != nil {
		return err
	}
	if len(entities) == 0 {
		return nil
	}

	// Tier 1 — one UNWIND lookup for every extracted name.
	existing, err := e.batchLookup(ctx, userID, entities)
	if err != nil {
		return err
	}

	resolved := make(map[string]string, len(entities)) // normalizedName -> entityId
	for _, ent := range entities {
		norm := model.NormalizeName(ent.Name)
		if id, ok := existing[norm]; ok {
			if err := e.linkMention(ctx, memoryID, id); err != nil {
				return err
			}
			e.reconcileExisting(ctx, id, ent)
			resolved[norm] = id
			continue
		}
		id, err := e.resolveEntity(ctx, userID, ent)
		if err != nil {
			return err
		}
		if err := e.linkMention(ctx, memoryID, id); err != nil {
			return err
		}
		resolved[norm] = id
	}

	for _, rel := range relationships {
		srcID, okSrc := resolved[model.NormalizeName(rel.Source)]
		tgtID, okTgt := resolved[model.NormalizeName(rel.Target)]
		if !okSrc || !okTgt || srcID == tgtID {
			continue
		}
		if err := e.linkEntities(ctx, srcID, tgtID, rel); err != nil {
			log.Warn("extractor: relationship link failed", "type", rel.Type, "err", err)
		}
	}

	e.scheduleSummaries(ctx, userID, resolved)
	return nil
}

// recentMemories returns up to ContextWindowSize prior memories for
// co-reference resolution (so "she" or "the company" can bind to names the
// user mentioned recently).
func (e *Extractor) recentMemories(ctx context.Context, userID, excludeID string) ([]string, error) {
	n := 5
	if e.cfg != nil && e.cfg.ContextWindowSize > 0 {
		n = e.cfg.ContextWindowSize
	}
	rows, err := e.store.Read(ctx, `
		MATCH (u:User {userId:$userId})-[:HAS_MEMORY]->(m:Memory)
		WHERE m.id <> $excludeId AND m.invalidAt IS NULL AND m.state <> 'deleted'
		RETURN m.content AS content
		ORDER BY m.createdAt DESC
		LIMIT toInteger($n)`,
		registrygraphstore.Params{"userId": userID, "excludeId": excludeID, "n": n})
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(rows))
	for _, row := range rows {
		out = append(out, model.RowString(row, "content"))
	}
	return out, nil
}

const extractPrompt = `Extract named entities and their relationships from the memory below.
Return a single JSON object:
{"entities": [{"name": "...", "type": "...", "description": "...", "metadata": {}}],
 "relationships": [{"source": "...", "target": "...", "type": "...", "description": "...", "metadata": {}}]}
Entity types are short canonical categories (person, place, organization, product, event, concept).
Relationship source/target must be entity names from the entities list.
Use the recent memories only to resolve pronouns and references; extract entities only from the current memory.

Recent memories:
%s

Current memory: %s`

type rawEntity struct {
	Name        interface{} `json:"name"`
	Type        interface{} `json:"type"`
	Description string      `json:"description"`
	Metadata    interface{} `json:"metadata"`
}

type rawRelationship struct {
	Source      string      `json:"source"`
	Target      string      `json:"target"`
	Type        string      `json:"type"`
	Description string      `json:"description"`
	Metadata    interface{} `json:"metadata"`
}

type rawExtraction struct {
	Entities      []rawEntity       `json:"entities"`
	Relationships []rawRelationship `json:"relationships"`
}

func (e *Extractor) callLLM(ctx context.Context, content string, contextWindow []string) ([]extractedEntity, []extractedRelationship, error) {
	resp, err := e.llm.Chat(ctx, registryllm.ChatRequest{
		Prompt:      fmt.Sprintf(extractPrompt, strings.Join(contextWindow, "\n"), content),
		Temperature: 0,
		MaxTokens:   1000,
		JSONMode:    true,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("extractor: llm: %w", err)
	}
	var raw rawExtraction
	if err := json.Unmarshal([]byte(resp.Text), &raw); err != nil {
		return nil, nil, fmt.Errorf("extractor: parse llm response: %w", err)
	}

	var entities []extractedEntity
	for _, r := range raw.Entities {
		name, okName := r.Name.(string)
		typ, okType := r.Type.(string)
		if !okName || !okType || strings.TrimSpace(name) == "" {
			continue
		}
		entities = append(entities, extractedEntity{
			Name:        strings.TrimSpace(name),
			Type:        strings.TrimSpace(typ),
			Description: strings.TrimSpace(r.Description),
			Metadata:    asObject(r.Metadata),
		})
	}
	var relationships []extractedRelationship
	for _, r := range raw.Relationships {
		if r.Source == "" || r.Target == "" || r.Type == "" {
			continue
		}
		relationships = append(relationships, extractedRelationship{
			Source:      r.Source,
			Target:      r.Target,
			Type:        r.Type,
			Description: r.Description,
			Metadata:    asObject(r.Metadata),
		})
	}
	return entities, relationships, nil
}

// asObject rejects metadata unless it is a JSON object; arrays and
// primitives become nil.
func asObject(v interface{}) map[string]interface{} {
	obj, _ := v.(map[string]interface{})
	return obj
}

// batchLookup resolves every extracted entity's normalized name against the
// user's existing entities in one UNWIND round-trip.
func (e *Extractor) batchLookup(ctx context.Context, userID string, entities []extractedEntity) (map[string]string, error) {
	names := make([]string, 0, len(entities))
	for _, ent := range entities {
		names = append(names, model.NormalizeName(ent.Name))
	}
	rows, err := e.store.Read(ctx, `
		UNWIND $names AS norm
		MATCH (u:User {userId:$userId})-[:HAS_ENTITY]->(ent:Entity {normalizedName:norm})
		RETURN ent.normalizedName AS norm, ent.id AS id`,
		registrygraphstore.Params{"userId": userID, "names": names})
	if err != nil {
		return nil, fmt.Errorf("extractor: batch lookup: %w", err)
	}
	out := make(map[string]string, len(rows))
	for _, row := range rows {
		out[model.RowString(row, "norm")] = model.RowString(row, "id")
	}
	return out, nil
}

func (e *Extractor) linkMention(ctx context.Context, memoryID, entityID string) error {
	_, err := e.store.Write(ctx, `
		MATCH (m:Memory {id:$memoryId}), (ent:Entity {id:$entityId})
		MERGE (m)-[:MENTIONS]->(ent)`,
		registrygraphstore.Params{"memoryId": memoryID, "entityId": entityID})
	if err != nil {
		return fmt.Errorf("extractor: link mention: %w", err)
	}
	return nil
}

// reconcileExisting updates a Tier-1 hit with the incoming extraction:
// descriptions that differ are consolidated asynchronously via one LLM call,
// and non-empty incoming metadata is shallow-merged into the stored object.
func (e *Extractor) reconcileExisting(ctx context.Context, entityID string, incoming extractedEntity) {
	rows, err := e.store.Read(ctx, `
		MATCH (ent:Entity {id:$id})
		RETURN ent.description AS description, ent.metadata AS metadata`,
		registrygraphstore.Params{"id": entityID})
	if err != nil || len(rows) == 0 {
		return
	}
	stored := model.RowString(rows[0], "description")
	if incoming.Description != "" && incoming.Description != stored {
		e.consolidateAsync(entityID, stored, incoming.Description)
	}
	if len(incoming.Metadata) > 0 {
		merged := shallowMerge(model.RowString(rows[0], "metadata"), incoming.Metadata)
		if _, err := e.store.Write(ctx, `
			MATCH (ent:Entity {id:$id}) SET ent.metadata=$metadata`,
			registrygraphstore.Params{"id": entityID, "metadata": merged}); err != nil {
			log.Warn("extractor: metadata merge failed", "entityId", entityID, "err", err)
		}
	}
}

const consolidatePrompt = `Two descriptions of the same entity follow. Merge them into one
concise description keeping every distinct fact. Return a single JSON object: {"description": "..."}.

A: %s
B: %s`

func (e *Extractor) consolidateAsync(entityID, oldDesc, newDesc string) {
	if e.tasks == nil {
		return
	}
	e.tasks.Submit(func(ctx context.Context) error {
		resp, err := e.llm.Chat(ctx, registryllm.ChatRequest{
			Prompt:      fmt.Sprintf(consolidatePrompt, oldDesc, newDesc),
			Temperature: 0,
			MaxTokens:   300,
			JSONMode:    true,
		})
		if err != nil {
			return fmt.Errorf("extractor: consolidate: %w", err)
		}
		var parsed struct {
			Description string `json:"description"`
		}
		if err := json.Unmarshal([]byte(resp.Text), &parsed); err != nil || parsed.Description == "" {
			return fmt.Errorf("extractor: consolidate: unusable response")
		}
		embedding, err := e.embedder.Embed(ctx, parsed.Description)
		if err != nil {
			return fmt.Errorf("extractor: consolidate embed: %w", err)
		}
		_, err = e.store.Write(ctx, `
			MATCH (ent:Entity {id:$id})
			SET ent.description=$description, ent.descriptionEmbedding=$embedding`,
			registrygraphstore.Params{"id": entityID, "description": parsed.Description, "embedding": embedding})
		return err
	})
}

// resolveEntity is the Tier-1-repeat / Tier-2 / create fallthrough for an
// entity the batch lookup did not find.
func (e *Extractor) resolveEntity(ctx context.Context, userID string, ent extractedEntity) (string, error) {
	norm := model.NormalizeName(ent.Name)

	// Tier 1 repeat (single entity): a concurrent extraction may have
	// created it since the batch lookup.
	rows, err := e.store.Read(ctx, `
		MATCH (u:User {userId:$userId})-[:HAS_ENTITY]->(ent:Entity {normalizedName:$norm})
		RETURN ent.id AS id, ent.type AS type, ent.description AS description, ent.metadata AS metadata`,
		registrygraphstore.Params{"userId": userID, "norm": norm})
	if err != nil {
		return "", fmt.Errorf("extractor: resolve lookup: %w", err)
	}
	if len(rows) > 0 {
		id := model.RowString(rows[0], "id")
		e.upgradeEntity(ctx, id, rows[0], ent)
		return id, nil
	}

	// Tier 2 — semantic match over description embeddings.
	if ent.Description != "" {
		if id := e.semanticMatch(ctx, userID, ent.Description); id != "" {
			rows, err := e.store.Read(ctx, `
				MATCH (ent:Entity {id:$id})
				RETURN ent.id AS id, ent.type AS type, ent.description AS description, ent.metadata AS metadata`,
				registrygraphstore.Params{"id": id})
			if err == nil && len(rows) > 0 {
				e.upgradeEntity(ctx, id, rows[0], ent)
			}
			return id, nil
		}
	}

	return e.createEntity(ctx, userID, ent, norm)
}

func (e *Extractor) semanticMatch(ctx context.Context, userID, description string) string {
	dim := 1024
	if e.cfg != nil {
		dim = e.cfg.EmbeddingDimension()
	}
	if err := e.store.EnsureVectorIndexes(ctx, registrygraphstore.DefaultVectorIndexes(dim)); err != nil {
		log.Warn("extractor: tier-2 ensure vector indexes failed", "err", err)
		return ""
	}
	vec, err := e.embedder.Embed(ctx, description)
	if err != nil {
		log.Warn("extractor: tier-2 embed failed", "err", err)
		return ""
	}
	rows, err := e.store.Read(ctx, `
		CALL vector_search.search('entity_vectors', $fetchLimit, $vec) YIELD node, similarity
		MATCH (u:User {userId:$userId})-[:HAS_ENTITY]->(node)
		WHERE similarity >= $threshold
		RETURN node.id AS id, similarity
		ORDER BY similarity DESC
		LIMIT 1`,
		registrygraphstore.Params{
			"userId": userID, "vec": vec,
			"fetchLimit": entityAnnFetchLimit, "threshold": entityMatchThreshold,
		})
	if err != nil {
		log.Warn("extractor: tier-2 search failed", "err", err)
		return ""
	}
	if len(rows) == 0 {
		return ""
	}
	return model.RowString(rows[0], "id")
}

// upgradeEntity applies the match-found update rules: type upgrades only if
// longer, description upgrades only if longer, metadata always shallow-merges
// when the incoming object is non-empty.
func (e *Extractor) upgradeEntity(ctx context.Context, entityID string, stored registrygraphstore.Row, incoming extractedEntity) {
	params := registrygraphstore.Params{"id": entityID}
	var sets []string
	if len(incoming.Type) > len(model.RowString(stored, "type")) {
		sets = append(sets, "ent.type=$type")
		params["type"] = incoming.Type
	}
	if len(incoming.Description) > len(model.RowString(stored, "description")) {
		sets = append(sets, "ent.description=$description, ent.descriptionEmbedding=$embedding")
		params["description"] = incoming.Description
		embedding, err := e.embedder.Embed(ctx, incoming.Description)
		if err != nil {
			log.Warn("extractor: upgrade embed failed", "err", err)
			return
		}
		params["embedding"] = embedding
	}
	if len(incoming.Metadata) > 0 {
		sets = append(sets, "ent.metadata=$metadata")
		params["metadata"] = shallowMerge(model.RowString(stored, "metadata"), incoming.Metadata)
	}
	if len(sets) == 0 {
		return
	}
	if _, err := e.store.Write(ctx,
		"MATCH (ent:Entity {id:$id}) SET "+strings.Join(sets, ", "),
		params); err != nil {
		log.Warn("extractor: entity upgrade failed", "entityId", entityID, "err", err)
	}
}

func (e *Extractor) createEntity(ctx context.Context, userID string, ent extractedEntity, norm string) (string, error) {
	var embedding []float32
	if ent.Description != "" {
		vec, err := e.embedder.Embed(ctx, ent.Description)
		if err != nil {
			return "", fmt.Errorf("extractor: entity embed: %w", err)
		}
		embedding = vec
	}
	id := identity.GenerateID()
	metadata := "{}"
	if len(ent.Metadata) > 0 {
		if raw, err := json.Marshal(ent.Metadata); err == nil {
			metadata = string(raw)
		}
	}
	_, err := e.store.Write(ctx, `
		MATCH (u:User {userId:$userId})
		MERGE (u)-[:HAS_ENTITY]->(ent:Entity {normalizedName:$norm, userId:$userId})
		ON CREATE SET ent.id=$id, ent.name=$name, ent.type=$type,
			ent.description=$description, ent.descriptionEmbedding=$embedding,
			ent.metadata=$metadata`,
		registrygraphstore.Params{
			"userId": userID, "norm": norm, "id": id,
			"name": ent.Name, "type": ent.Type,
			"description": ent.Description, "embedding": embedding,
			"metadata": metadata,
		})
	if err != nil {
		return "", fmt.Errorf("extractor: create entity: %w", err)
	}
	// The MERGE may have matched a row created by a concurrent extraction;
	// read back the winning id so the (userId, normalizedName) invariant holds.
	rows, err := e.store.Read(ctx, `
		MATCH (u:User {userId:$userId})-[:HAS_ENTITY]->(ent:Entity {normalizedName:$norm})
		RETURN ent.id AS id`,
		registrygraphstore.Params{"userId": userID, "norm": norm})
	if err != nil || len(rows) == 0 {
		return id, nil
	}
	return model.RowString(rows[0], "id"), nil
}

const relationshipPrompt = `An existing relationship and a newly extracted version of it follow.
Decide whether the new version meaningfully updates the old one.
Return a single JSON object: {"verdict": "UPDATE"|"KEEP"}.

Existing: type=%s description=%s metadata=%s
New: type=%s description=%s metadata=%s`

// linkEntities creates or refreshes a RELATED_TO edge. When an edge of the
// same type already exists with a different description or metadata, the LLM
// arbitrates UPDATE (new edge with merged metadata) vs KEEP.
func (e *Extractor) linkEntities(ctx context.Context, srcID, tgtID string, rel extractedRelationship) error {
	incomingMeta := "{}"
	if len(rel.Metadata) > 0 {
		if raw, err := json.Marshal(rel.Metadata); err == nil {
			incomingMeta = string(raw)
		}
	}
	rows, err := e.store.Read(ctx, `
		MATCH (src:Entity {id:$srcId})-[r:RELATED_TO {type:$type}]->(tgt:Entity {id:$tgtId})
		RETURN r.description AS description, r.metadata AS metadata`,
		registrygraphstore.Params{"srcId": srcID, "tgtId": tgtID, "type": rel.Type})
	if err != nil {
		return err
	}

	if len(rows) > 0 {
		oldDesc := model.RowString(rows[0], "description")
		oldMeta := model.RowString(rows[0], "metadata")
		if oldDesc == rel.Description && oldMeta == incomingMeta {
			return nil
		}
		verdict, err := e.classifyRelationship(ctx, rel, oldDesc, oldMeta, incomingMeta)
		if err != nil || verdict != "UPDATE" {
			return err
		}
		incomingMeta = shallowMerge(oldMeta, rel.Metadata)
	}

	_, err = e.store.Write(ctx, `
		MATCH (src:Entity {id:$srcId}), (tgt:Entity {id:$tgtId})
		CREATE (src)-[:RELATED_TO {type:$type, description:$description, metadata:$metadata, at:$now}]->(tgt)`,
		registrygraphstore.Params{
			"srcId": srcID, "tgtId": tgtID,
			"type": rel.Type, "description": rel.Description,
			"metadata": incomingMeta,
			"now":      time.Now().UTC().Format(time.RFC3339Nano),
		})
	return err
}

func (e *Extractor) classifyRelationship(ctx context.Context, rel extractedRelationship, oldDesc, oldMeta, newMeta string) (string, error) {
	resp, err := e.llm.Chat(ctx, registryllm.ChatRequest{
		Prompt: fmt.Sprintf(relationshipPrompt,
			rel.Type, oldDesc, oldMeta,
			rel.Type, rel.Description, newMeta),
		Temperature: 0,
		MaxTokens:   20,
		JSONMode:    true,
	})
	if err != nil {
		return "", fmt.Errorf("extractor: relationship classify: %w", err)
	}
	var parsed struct {
		Verdict string `json:"verdict"`
	}
	if err := json.Unmarshal([]byte(resp.Text), &parsed); err != nil {
		return "", fmt.Errorf("extractor: relationship classify parse: %w", err)
	}
	return strings.ToUpper(strings.TrimSpace(parsed.Verdict)), nil
}

// scheduleSummaries regenerates the summary of every entity whose mention
// count crossed the configured threshold.
func (e *Extractor) scheduleSummaries(ctx context.Context, userID string, resolved map[string]string) {
	if e.tasks == nil {
		return
	}
	threshold := 3
	if e.cfg != nil && e.cfg.EntitySummaryThreshold > 0 {
		threshold = e.cfg.EntitySummaryThreshold
	}
	for _, entityID := range resolved {
		id := entityID
		e.tasks.Submit(func(ctx context.Context) error {
			return e.regenerateSummary(ctx, userID, id, threshold)
		})
	}
}

const summaryPrompt = `Summarize what is known about the entity %q from the memories below.
Return a single JSON object: {"description": "..."}.

Memories:
%s`

func (e *Extractor) regenerateSummary(ctx context.Context, userID, entityID string, threshold int) error {
	rows, err := e.store.Read(ctx, `
		MATCH (u:User {userId:$userId})-[:HAS_MEMORY]->(m:Memory)-[:MENTIONS]->(ent:Entity {id:$entityId})
		WHERE m.invalidAt IS NULL AND m.state <> 'deleted'
		RETURN ent.name AS name, m.content AS content`,
		registrygraphstore.Params{"userId": userID, "entityId": entityID})
	if err != nil {
		return err
	}
	if len(rows) < threshold {
		return nil
	}
	name := model.RowString(rows[0], "name")
	contents := make([]string, 0, len(rows))
	for _, row := range rows {
		contents = append(contents, "- "+model.RowString(row, "content"))
	}
	resp, err := e.llm.Chat(ctx, registryllm.ChatRequest{
		Prompt:      fmt.Sprintf(summaryPrompt, name, strings.Join(contents, "\n")),
		Temperature: 0,
		MaxTokens:   300,
		JSONMode:    true,
	})
	if err != nil {
		return fmt.Errorf("extractor: summary: %w", err)
	}
	var parsed struct {
		Description string `json:"description"`
	}
	if err := json.Unmarshal([]byte(resp.Text), &parsed); err != nil || parsed.Description == "" {
		return fmt.Errorf("extractor: summary: unusable response")
	}
	embedding, err := e.embedder.Embed(ctx, parsed.Description)
	if err != nil {
		return fmt.Errorf("extractor: summary embed: %w", err)
	}
	_, err = e.store.Write(ctx, `
		MATCH (ent:Entity {id:$id})
		SET ent.description=$description, ent.descriptionEmbedding=$embedding`,
		registrygraphstore.Params{"id": entityID, "description": parsed.Description, "embedding": embedding})
	return err
}

// Reextract enqueues extraction for every memory of a user through the
// bounded worker pool and returns how many were queued.
func (e *Extractor) Reextract(ctx context.Context, userID string) (int, error) {
	rows, err := e.store.Read(ctx, `
		MATCH (u:User {userId:$userId})-[:HAS_MEMORY]->(m:Memory)
		WHERE m.state <> 'deleted'
		RETURN m.id AS id`,
		registrygraphstore.Params{"userId": userID})
	if err != nil {
		return 0, fmt.Errorf("extractor: reextract list: %w", err)
	}
	if e.tasks == nil {
		return 0, nil
	}
	queued := 0
	for _, row := range rows {
		memoryID := model.RowString(row, "id")
		if _, err := e.store.Write(ctx, `
			MATCH (m:Memory {id:$id}) SET m.extractionStatus='pending'`,
			registrygraphstore.Params{"id": memoryID}); err != nil {
			continue
		}
		e.tasks.Submit(func(ctx context.Context) error {
			return e.ProcessEntityExtraction(ctx, memoryID)
		})
		queued++
	}
	return queued, nil
}

// shallowMerge merges incoming keys over a stored JSON object string,
// returning the merged JSON string. A malformed stored value is replaced.
func shallowMerge(storedJSON string, incoming map[string]interface{}) string {
	base := map[string]interface{}{}
	if storedJSON != "" {
		_ = json.Unmarshal([]byte(storedJSON), &base)
	}
	for k, v := range incoming {
		base[k] = v
	}
	raw, err := json.Marshal(base)
	if err != nil {
		return storedJSON
	}
	return string(raw)
}
