// Package writer is the bi-temporal write path for Memory nodes: add,
// supersede, archive, pause, soft-delete, plus the deprecated in-place
// update. Every statement is anchored on the owning User node — a bare
// MATCH (m:Memory {id:$id}) is a namespace-isolation bug.
package writer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/memforge/memforge/internal/config"
	"github.com/memforge/memforge/internal/identity"
	"github.com/memforge/memforge/internal/model"
	registryembed "github.com/memforge/memforge/internal/registry/embed"
	registrygraphstore "github.com/memforge/memforge/internal/registry/graphstore"
	"github.com/memforge/memforge/internal/taskqueue"
)

// AddOptions carries the optional fields of an Add call.
type AddOptions struct {
	AppName  string
	Tags     []string
	Metadata string     // JSON object; "" means "{}"
	ValidAt  *time.Time // truth-time onset; nil means now
	// SkipExtraction suppresses the fire-and-forget entity extraction
	// (the bulk ingester schedules its own per-batch).
	SkipExtraction bool
	// SkipAutoCategorize suppresses the LLM categorization pass, used when
	// the caller supplied explicit categories.
	SkipAutoCategorize bool
}

// Writer owns the Memory write path. Categorize and Extract are wired at
// startup; both run as fire-and-forget background tasks whose errors are
// logged and never surfaced to the caller.
type Writer struct {
	store    registrygraphstore.Store
	embedder registryembed.Embedder
	tasks    *taskqueue.Supervisor
	cfg      *config.Config

	// Categorize assigns category labels to a memory. Optional.
	Categorize func(ctx context.Context, memoryID, content string) error
	// Extract runs entity extraction for a memory. Optional.
	Extract func(ctx context.Context, memoryID string) error
}

func New(store registrygraphstore.Store, embedder registryembed.Embedder, tasks *taskqueue.Supervisor, cfg *config.Config) *Writer {
	return &Writer{store: store, embedder: embedder, tasks: tasks, cfg: cfg}
}

func iso(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// Add creates a new active Memory under userID and returns it together with
// the extraction future (nil when extraction was skipped), so batch callers
// can drain the previous item's extraction within their budget.
func (w *Writer) Add(ctx context.Context, userID, text string, opts AddOptions) (*model.Memory, *taskqueue.Future, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil, &registrygraphstore.ValidationError{Field: "text", Message: "must not be empty"}
	}
	embedding, err := w.embedder.Embed(ctx, w.embeddingText(ctx, userID, text))
	if err != nil {
		return nil, nil, fmt.Errorf("writer: embed: %w", err)
	}

	now := time.Now()
	validAt := now
	if opts.ValidAt != nil {
		validAt = *opts.ValidAt
	}
	metadata := opts.Metadata
	if metadata == "" {
		metadata = "{}"
	}
	tags := opts.Tags
	if tags == nil {
		tags = []string{}
	}
	mem := model.Memory{
		ID:               identity.GenerateID(),
		Content:          text,
		State:            model.MemoryStateActive,
		Metadata:         metadata,
		Tags:             tags,
		ValidAt:          validAt,
		CreatedAt:        now,
		UpdatedAt:        now,
		ExtractionStatus: model.ExtractionStatusPending,
	}

	cypher := `
		MERGE (u:User {userId:$userId})
		ON CREATE SET u.id=$userNodeId, u.createdAt=$now
		CREATE (m:Memory {id:$id, content:$content, embedding:$embedding,
			state:'active', metadata:$metadata, tags:$tags,
			validAt:$validAt, invalidAt:null,
			createdAt:$now, updatedAt:$now,
			extractionStatus:'pending', extractionAttempts:0})
		CREATE (u)-[:HAS_MEMORY]->(m)`
	params := registrygraphstore.Params{
		"userId":     userID,
		"userNodeId": identity.GenerateIDFromString(userID),
		"now":        iso(now),
		"id":         mem.ID,
		"content":    text,
		"embedding":  embedding,
		"metadata":   metadata,
		"tags":       tags,
		"validAt":    iso(validAt),
	}
	if opts.AppName != "" {
		cypher += `
		MERGE (a:App {appName:$appName, userId:$userId})
		ON CREATE SET a.id=$appId, a.isActive=true, a.createdAt=$now
		CREATE (m)-[:CREATED_BY]->(a)`
		params["appName"] = opts.AppName
		params["appId"] = identity.GenerateIDFromString(userID + "/" + opts.AppName)
	}
	if _, err := w.store.Write(ctx, cypher, params); err != nil {
		return nil, nil, fmt.Errorf("writer: add: %w", err)
	}

	w.recordHistory(mem.ID, "", text, model.HistoryActionAdd)
	if !opts.SkipAutoCategorize {
		w.categorizeAsync(mem.ID, text)
	}
	var future *taskqueue.Future
	if !opts.SkipExtraction {
		future = w.extractAsync(mem.ID)
	}
	return &mem, future, nil
}

// Supersede atomically ends oldID's validity and creates its replacement,
// linked newer-to-older by a SUPERSEDES edge. When tags is nil the new
// memory inherits the old one's tags.
func (w *Writer) Supersede(ctx context.Context, userID, oldID, newText, appName string, tags []string) (*model.Memory, *taskqueue.Future, error) {
	embedding, err := w.embedder.Embed(ctx, w.embeddingText(ctx, userID, newText))
	if err != nil {
		return nil, nil, fmt.Errorf("writer: embed: %w", err)
	}

	now := time.Now()
	newID := identity.GenerateID()
	cypher := `
		MATCH (u:User {userId:$userId})-[:HAS_MEMORY]->(old:Memory {id:$oldId})
		SET old.invalidAt=$now, old.updatedAt=$now
		CREATE (m:Memory {id:$newId, content:$content, embedding:$embedding,
			state:'active', metadata:'{}',
			tags:CASE WHEN $inheritTags THEN old.tags ELSE $tags END,
			validAt:$now, invalidAt:null,
			createdAt:$now, updatedAt:$now,
			extractionStatus:'pending', extractionAttempts:0})
		CREATE (u)-[:HAS_MEMORY]->(m)
		CREATE (m)-[:SUPERSEDES {at:$now}]->(old)`
	params := registrygraphstore.Params{
		"userId":      userID,
		"oldId":       oldID,
		"newId":       newID,
		"content":     newText,
		"embedding":   embedding,
		"now":         iso(now),
		"inheritTags": tags == nil,
		"tags":        orEmpty(tags),
	}
	if appName != "" {
		cypher += `
		MERGE (a:App {appName:$appName, userId:$userId})
		ON CREATE SET a.id=$appId, a.isActive=true, a.createdAt=$now
		CREATE (m)-[:CREATED_BY]->(a)`
		params["appName"] = appName
		params["appId"] = identity.GenerateIDFromString(userID + "/" + appName)
	}
	cypher += `
		RETURN old.content AS previous, m.tags AS tags`

	rows, err := w.store.Write(ctx, cypher, params)
	if err != nil {
		return nil, nil, fmt.Errorf("writer: supersede: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil, &registrygraphstore.NotFoundError{Resource: "memory", ID: oldID}
	}

	mem := &model.Memory{
		ID:               newID,
		Content:          newText,
		State:            model.MemoryStateActive,
		Metadata:         "{}",
		Tags:             model.RowStrings(rows[0], "tags"),
		ValidAt:          now,
		CreatedAt:        now,
		UpdatedAt:        now,
		ExtractionStatus: model.ExtractionStatusPending,
	}
	w.recordHistory(newID, model.RowString(rows[0], "previous"), newText, model.HistoryActionSupersede)
	w.categorizeAsync(newID, newText)
	future := w.extractAsync(newID)
	return mem, future, nil
}

// Delete soft-deletes a memory: state='deleted', invalidAt=deletedAt=now.
// Returns whether a row matched (false means not found or not owned).
func (w *Writer) Delete(ctx context.Context, userID, memoryID string) (bool, error) {
	now := iso(time.Now())
	rows, err := w.store.Write(ctx, `
		MATCH (u:User {userId:$userId})-[:HAS_MEMORY]->(m:Memory {id:$id})
		WHERE m.state <> 'deleted'
		SET m.state='deleted', m.invalidAt=$now, m.deletedAt=$now, m.updatedAt=$now
		RETURN m.content AS content`,
		registrygraphstore.Params{"userId": userID, "id": memoryID, "now": now})
	if err != nil {
		return false, fmt.Errorf("writer: delete: %w", err)
	}
	if len(rows) == 0 {
		return false, nil
	}
	w.recordHistory(memoryID, model.RowString(rows[0], "content"), "", model.HistoryActionDelete)
	return true, nil
}

// DeleteMany soft-deletes a batch of memories in one UNWIND round-trip and
// returns how many matched.
func (w *Writer) DeleteMany(ctx context.Context, userID string, memoryIDs []string) (int, error) {
	if len(memoryIDs) == 0 {
		return 0, nil
	}
	now := iso(time.Now())
	rows, err := w.store.Write(ctx, `
		UNWIND $ids AS memId
		MATCH (u:User {userId:$userId})-[:HAS_MEMORY]->(m:Memory {id:memId})
		WHERE m.state <> 'deleted'
		SET m.state='deleted', m.invalidAt=$now, m.deletedAt=$now, m.updatedAt=$now
		RETURN m.id AS id, m.content AS content`,
		registrygraphstore.Params{"userId": userID, "ids": memoryIDs, "now": now})
	if err != nil {
		return 0, fmt.Errorf("writer: delete many: %w", err)
	}
	for _, row := range rows {
		w.recordHistory(model.RowString(row, "id"), model.RowString(row, "content"), "", model.HistoryActionDelete)
	}
	return len(rows), nil
}

// Archive requires the memory to be active; archived memories leave the
// current-time window (invalidAt set) but are not deleted.
func (w *Writer) Archive(ctx context.Context, userID, memoryID string) (bool, error) {
	now := iso(time.Now())
	rows, err := w.store.Write(ctx, `
		MATCH (u:User {userId:$userId})-[:HAS_MEMORY]->(m:Memory {id:$id})
		WHERE m.state = 'active'
		SET m.state='archived', m.archivedAt=$now, m.invalidAt=$now, m.updatedAt=$now
		RETURN m.content AS content`,
		registrygraphstore.Params{"userId": userID, "id": memoryID, "now": now})
	if err != nil {
		return false, fmt.Errorf("writer: archive: %w", err)
	}
	if len(rows) == 0 {
		return false, nil
	}
	w.recordHistory(memoryID, model.RowString(rows[0], "content"), "", model.HistoryActionArchive)
	return true, nil
}

// Pause requires the memory to be active; a paused memory stays valid and
// keeps appearing in current-time queries.
func (w *Writer) Pause(ctx context.Context, userID, memoryID string) (bool, error) {
	rows, err := w.store.Write(ctx, `
		MATCH (u:User {userId:$userId})-[:HAS_MEMORY]->(m:Memory {id:$id})
		WHERE m.state = 'active'
		SET m.state='paused', m.updatedAt=$now
		RETURN m.content AS content`,
		registrygraphstore.Params{"userId": userID, "id": memoryID, "now": iso(time.Now())})
	if err != nil {
		return false, fmt.Errorf("writer: pause: %w", err)
	}
	if len(rows) == 0 {
		return false, nil
	}
	w.recordHistory(memoryID, model.RowString(rows[0], "content"), "", model.HistoryActionPause)
	return true, nil
}

// Touch refreshes updatedAt without changing content (the TOUCH intent).
func (w *Writer) Touch(ctx context.Context, userID, memoryID string) (bool, error) {
	rows, err := w.store.Write(ctx, `
		MATCH (u:User {userId:$userId})-[:HAS_MEMORY]->(m:Memory {id:$id})
		WHERE m.invalidAt IS NULL AND m.state <> 'deleted'
		SET m.updatedAt=$now
		RETURN m.id AS id`,
		registrygraphstore.Params{"userId": userID, "id": memoryID, "now": iso(time.Now())})
	if err != nil {
		return false, fmt.Errorf("writer: touch: %w", err)
	}
	return len(rows) > 0, nil
}

// Update is the deprecated in-place mutation retained for back-compat: it
// re-embeds and overwrites content without creating a supersession edge.
// Prefer Supersede.
func (w *Writer) Update(ctx context.Context, userID, memoryID, newText string) (bool, error) {
	embedding, err := w.embedder.Embed(ctx, newText)
	if err != nil {
		return false, fmt.Errorf("writer: embed: %w", err)
	}
	rows, err := w.store.Write(ctx, `
		MATCH (u:User {userId:$userId})-[:HAS_MEMORY]->(m:Memory {id:$id})
		SET m.content=$content, m.embedding=$embedding, m.updatedAt=$now
		RETURN m.id AS id`,
		registrygraphstore.Params{
			"userId": userID, "id": memoryID,
			"content": newText, "embedding": embedding, "now": iso(time.Now()),
		})
	if err != nil {
		return false, fmt.Errorf("writer: update: %w", err)
	}
	return len(rows) > 0, nil
}

// Get fetches a user-anchored memory together with the id of the memory
// superseding it, if any.
func (w *Writer) Get(ctx context.Context, userID, memoryID string) (*model.Memory, string, error) {
	rows, err := w.store.Read(ctx, `
		MATCH (u:User {userId:$userId})-[:HAS_MEMORY]->(m:Memory {id:$id})
		OPTIONAL MATCH (newer:Memory)-[:SUPERSEDES]->(m)
		RETURN m.id AS id, m.content AS content, m.state AS state,
			m.metadata AS metadata, m.tags AS tags,
			m.validAt AS validAt, m.invalidAt AS invalidAt,
			m.createdAt AS createdAt, m.updatedAt AS updatedAt,
			m.extractionStatus AS extractionStatus,
			m.extractionAttempts AS extractionAttempts,
			newer.id AS supersededBy`,
		registrygraphstore.Params{"userId": userID, "id": memoryID})
	if err != nil {
		return nil, "", fmt.Errorf("writer: get: %w", err)
	}
	if len(rows) == 0 {
		return nil, "", &registrygraphstore.NotFoundError{Resource: "memory", ID: memoryID}
	}
	mem := model.MemoryFromRow(rows[0])
	return &mem, model.RowString(rows[0], "supersededBy"), nil
}

// AttachCategories attaches explicit category names in one UNWIND.
func (w *Writer) AttachCategories(ctx context.Context, userID, memoryID string, categories []string) error {
	if len(categories) == 0 {
		return nil
	}
	_, err := w.store.Write(ctx, `
		MATCH (u:User {userId:$userId})-[:HAS_MEMORY]->(m:Memory {id:$id})
		UNWIND $categories AS catName
		MERGE (c:Category {name:catName})
		MERGE (m)-[:HAS_CATEGORY]->(c)`,
		registrygraphstore.Params{"userId": userID, "id": memoryID, "categories": categories})
	if err != nil {
		return fmt.Errorf("writer: attach categories: %w", err)
	}
	return nil
}

// embeddingText optionally prefixes the embedding input with the user's most
// recent memories for co-reference; the stored content is always the
// original text.
func (w *Writer) embeddingText(ctx context.Context, userID, text string) string {
	if w.cfg == nil || !w.cfg.ContextWindowEnabled || w.cfg.ContextWindowSize <= 0 {
		return text
	}
	rows, err := w.store.Read(ctx, `
		MATCH (u:User {userId:$userId})-[:HAS_MEMORY]->(m:Memory)
		WHERE m.invalidAt IS NULL AND m.state <> 'deleted'
		RETURN m.content AS content
		ORDER BY m.createdAt DESC
		LIMIT toInteger($n)`,
		registrygraphstore.Params{"userId": userID, "n": w.cfg.ContextWindowSize})
	if err != nil || len(rows) == 0 {
		return text
	}
	var sb strings.Builder
	for i := len(rows) - 1; i >= 0; i-- {
		sb.WriteString(model.RowString(rows[i], "content"))
		sb.WriteString("\n")
	}
	sb.WriteString(text)
	return sb.String()
}

func (w *Writer) recordHistory(memoryID, previous, next string, action model.HistoryAction) {
	if w.tasks == nil {
		return
	}
	w.tasks.Submit(func(ctx context.Context) error {
		_, err := w.store.Write(ctx, `
			CREATE (h:MemoryHistory {id:$id, memoryId:$memoryId,
				previousValue:$previous, newValue:$next,
				action:$action, createdAt:$now})`,
			registrygraphstore.Params{
				"id":       identity.GenerateID(),
				"memoryId": memoryID,
				"previous": previous,
				"next":     next,
				"action":   string(action),
				"now":      iso(time.Now()),
			})
		return err
	})
}

func (w *Writer) categorizeAsync(memoryID, content string) {
	if w.tasks == nil || w.Categorize == nil {
		return
	}
	categorize := w.Categorize
	if _, ok := w.tasks.TrySubmit(func(ctx context.Context) error {
		return categorize(ctx, memoryID, content)
	}); !ok {
		log.Warn("writer: categorization queue full, skipping", "memoryId", memoryID)
	}
}

func (w *Writer) extractAsync(memoryID string) *taskqueue.Future {
	if w.tasks == nil || w.Extract == nil {
		return nil
	}
	extract := w.Extract
	return w.tasks.Submit(func(ctx context.Context) error {
		return extract(ctx, memoryID)
	})
}

func orEmpty(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}
