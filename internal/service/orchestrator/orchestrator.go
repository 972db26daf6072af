// Package orchestrator hosts the two MCP tool entry points, add_memories and
// search_memory. Within one add_memories batch items run strictly
// sequentially: shared User/App MERGE targets would deadlock under MVCC, and
// the dedup check is only TOCTOU-safe when the previous item's write has
// landed.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/memforge/memforge/internal/config"
	"github.com/memforge/memforge/internal/identity"
	"github.com/memforge/memforge/internal/model"
	registrygraphstore "github.com/memforge/memforge/internal/registry/graphstore"
	"github.com/memforge/memforge/internal/service/dedup"
	"github.com/memforge/memforge/internal/service/extractor"
	"github.com/memforge/memforge/internal/service/intent"
	"github.com/memforge/memforge/internal/service/search"
	"github.com/memforge/memforge/internal/service/writer"
	"github.com/memforge/memforge/internal/taskqueue"
)

// invalidateFloor is the minimum fused score for an INVALIDATE target hit to
// be soft-deleted.
const invalidateFloor = 0.015

// tagFilterWarnRatio triggers the browse-mode hint when the tag post-filter
// drops more than this share of raw hits.
const tagFilterWarnRatio = 0.7

type Orchestrator struct {
	classifier *intent.Classifier
	dedup      *dedup.Engine
	writer     *writer.Writer
	search     *search.Engine
	extractor  *extractor.Extractor
	store      registrygraphstore.Store
	cfg        *config.Config
}

func New(classifier *intent.Classifier, dedupEngine *dedup.Engine, w *writer.Writer, s *search.Engine, ex *extractor.Extractor, store registrygraphstore.Store, cfg *config.Config) *Orchestrator {
	return &Orchestrator{
		classifier: classifier,
		dedup:      dedupEngine,
		writer:     w,
		search:     s,
		extractor:  ex,
		store:      store,
		cfg:        cfg,
	}
}

// AddRequest is the add_memories tool input.
type AddRequest struct {
	Contents               []string
	Categories             []string
	Tags                   []string
	SuppressAutoCategories *bool
	AppName                string
}

// ItemError correlates a failure back to its batch index.
type ItemError struct {
	Index   int    `json:"index"`
	Message string `json:"message"`
}

// AddResponse is the minimal, index-correlated add_memories result.
type AddResponse struct {
	IDs         []string    `json:"ids,omitempty"`
	Stored      int         `json:"stored,omitempty"`
	Superseded  int         `json:"superseded,omitempty"`
	Skipped     int         `json:"skipped,omitempty"`
	Errors      []ItemError `json:"errors,omitempty"`
	Invalidated int         `json:"invalidated,omitempty"`
	Deleted     string      `json:"deleted,omitempty"`
	Touched     int         `json:"touched,omitempty"`
	Resolved    int         `json:"resolved,omitempty"`
}

// AddMemories processes the batch sequentially, draining the previous item's
// entity extraction for at most PerItemDrainMax per item and BatchDrainBudget
// across the whole batch.
func (o *Orchestrator) AddMemories(ctx context.Context, userID string, req AddRequest) AddResponse {
	var resp AddResponse

	suppressAuto := false
	if req.SuppressAutoCategories != nil {
		suppressAuto = *req.SuppressAutoCategories
	} else if len(req.Categories) > 0 {
		// Caller-supplied categories default to suppressing the LLM pass.
		suppressAuto = true
	}

	batchDeadline := time.Now().Add(o.cfg.BatchDrainBudget)
	var prevExtraction *taskqueue.Future
	seen := make(map[string]bool, len(req.Contents))

	for i, content := range req.Contents {
		norm := strings.TrimSpace(strings.ToLower(content))
		if norm == "" {
			resp.Errors = append(resp.Errors, ItemError{Index: i, Message: "empty content"})
			continue
		}
		if seen[norm] {
			resp.Skipped++
			continue
		}
		seen[norm] = true

		o.drainPrevious(ctx, prevExtraction, batchDeadline)
		prevExtraction = nil

		verdict := o.classifier.Classify(ctx, content)
		switch verdict.Kind {
		case intent.Store:
			future, err := o.handleStore(ctx, userID, content, req, suppressAuto, &resp)
			if err != nil {
				resp.Errors = append(resp.Errors, ItemError{Index: i, Message: err.Error()})
				continue
			}
			prevExtraction = future
		case intent.Invalidate:
			n, err := o.handleInvalidate(ctx, userID, verdict.Target)
			if err != nil {
				resp.Errors = append(resp.Errors, ItemError{Index: i, Message: err.Error()})
				continue
			}
			resp.Invalidated += n
		case intent.DeleteEntity:
			name, err := o.handleDeleteEntity(ctx, userID, verdict.EntityName)
			if err != nil {
				resp.Errors = append(resp.Errors, ItemError{Index: i, Message: err.Error()})
				continue
			}
			resp.Deleted = name
		case intent.Touch:
			ok, err := o.handleBestMatch(ctx, userID, verdict.Target, o.writer.Touch)
			if err != nil {
				resp.Errors = append(resp.Errors, ItemError{Index: i, Message: err.Error()})
				continue
			}
			if ok {
				resp.Touched++
			}
		case intent.Resolve:
			ok, err := o.handleBestMatch(ctx, userID, verdict.Target, o.writer.Archive)
			if err != nil {
				resp.Errors = append(resp.Errors, ItemError{Index: i, Message: err.Error()})
				continue
			}
			if ok {
				resp.Resolved++
			}
		}
	}
	return resp
}

// drainPrevious awaits the previous item's extraction, bounded by both the
// per-item budget and the remaining batch budget.
func (o *Orchestrator) drainPrevious(ctx context.Context, prev *taskqueue.Future, batchDeadline time.Time) {
	if prev == nil {
		return
	}
	budget := o.cfg.PerItemDrainMax
	if remaining := time.Until(batchDeadline); remaining < budget {
		budget = remaining
	}
	if budget <= 0 {
		return
	}
	if _, done := prev.Wait(ctx, budget); !done {
		log.Debug("orchestrator: extraction drain budget exhausted, proceeding")
	}
}

func (o *Orchestrator) handleStore(ctx context.Context, userID, content string, req AddRequest, suppressAuto bool, resp *AddResponse) (*taskqueue.Future, error) {
	verdict := o.dedup.Check(ctx, userID, content)
	switch verdict.Decision {
	case dedup.Skip:
		resp.Skipped++
		resp.IDs = append(resp.IDs, verdict.ExistingID)
		return nil, nil
	case dedup.Supersede:
		mem, future, err := o.writer.Supersede(ctx, userID, verdict.ExistingID, content, req.AppName, req.Tags)
		if err != nil {
			return nil, err
		}
		resp.Superseded++
		resp.IDs = append(resp.IDs, mem.ID)
		o.attachExplicitCategories(ctx, userID, mem.ID, req.Categories)
		return future, nil
	default:
		mem, future, err := o.writer.Add(ctx, userID, content, writer.AddOptions{
			AppName:            req.AppName,
			Tags:               req.Tags,
			SkipAutoCategorize: suppressAuto,
		})
		if err != nil {
			return nil, err
		}
		resp.Stored++
		resp.IDs = append(resp.IDs, mem.ID)
		o.attachExplicitCategories(ctx, userID, mem.ID, req.Categories)
		return future, nil
	}
}

func (o *Orchestrator) attachExplicitCategories(ctx context.Context, userID, memoryID string, categories []string) {
	if len(categories) == 0 {
		return
	}
	if err := o.writer.AttachCategories(ctx, userID, memoryID, categories); err != nil {
		log.Warn("orchestrator: explicit category attach failed", "memoryId", memoryID, "err", err)
	}
}

func (o *Orchestrator) handleInvalidate(ctx context.Context, userID, target string) (int, error) {
	results, err := o.search.Search(ctx, target, userID, search.Options{TopK: 10})
	if err != nil {
		return 0, fmt.Errorf("invalidate: search: %w", err)
	}
	invalidated := 0
	for _, r := range results {
		if r.RRFScore < invalidateFloor {
			continue
		}
		ok, err := o.writer.Delete(ctx, userID, r.ID)
		if err != nil {
			return invalidated, err
		}
		if ok {
			invalidated++
		}
	}
	return invalidated, nil
}

// handleDeleteEntity resolves by id first, then by case-insensitive name,
// and detaches + removes the entity, leaving its memories intact.
func (o *Orchestrator) handleDeleteEntity(ctx context.Context, userID, entityName string) (string, error) {
	if entityName == "" {
		return "", fmt.Errorf("delete entity: no entity name given")
	}
	var match string
	if identity.Validate(entityName) {
		match = "ent.id = $ref"
	} else {
		match = "ent.normalizedName = toLower($ref)"
	}
	rows, err := o.store.Write(ctx, fmt.Sprintf(`
		MATCH (u:User {userId:$userId})-[:HAS_ENTITY]->(ent:Entity)
		WHERE %s
		OPTIONAL MATCH (ent)<-[mention:MENTIONS]-()
		OPTIONAL MATCH (ent)-[rel:RELATED_TO]-()
		WITH ent, count(DISTINCT mention) AS mentions, count(DISTINCT rel) AS relationships, ent.name AS name
		DETACH DELETE ent
		RETURN name, mentions, relationships`, match),
		registrygraphstore.Params{"userId": userID, "ref": strings.TrimSpace(entityName)})
	if err != nil {
		return "", fmt.Errorf("delete entity: %w", err)
	}
	if len(rows) == 0 {
		return "", &registrygraphstore.NotFoundError{Resource: "entity", ID: entityName}
	}
	log.Info("orchestrator: entity deleted",
		"entity", model.RowString(rows[0], "name"),
		"mentions", model.RowInt(rows[0], "mentions"),
		"relationships", model.RowInt(rows[0], "relationships"))
	return model.RowString(rows[0], "name"), nil
}

// handleBestMatch finds the strongest hit for the target description and
// applies op to it (TOUCH refreshes, RESOLVE archives).
func (o *Orchestrator) handleBestMatch(ctx context.Context, userID, target string, op func(context.Context, string, string) (bool, error)) (bool, error) {
	results, err := o.search.Search(ctx, target, userID, search.Options{TopK: 1})
	if err != nil {
		return false, err
	}
	if len(results) == 0 {
		return false, nil
	}
	return op(ctx, userID, results[0].ID)
}

// SearchRequest is the search_memory tool input.
type SearchRequest struct {
	Query           string
	Limit           int
	Offset          int
	Category        string
	CreatedAfter    *time.Time
	IncludeEntities bool
	Tag             string
	AppName         string
}

// SearchResult is one search-mode hit with its normalized display score.
type SearchResult struct {
	search.Result
	Score float64 `json:"score"`
}

// SearchResponse is the search_memory tool output for either mode.
type SearchResponse struct {
	Results          []SearchResult     `json:"results,omitempty"`
	Items            []search.Result    `json:"items,omitempty"`
	Total            int                `json:"total,omitempty"`
	Categories       []string           `json:"categories,omitempty"`
	Tags             []string           `json:"tags,omitempty"`
	Entities         []search.EntityHit `json:"entities,omitempty"`
	Confident        bool               `json:"confident"`
	TagFilterWarning string             `json:"tag_filter_warning,omitempty"`
}

// SearchMemory serves both modes: browse (no query) lists chronologically,
// search runs the hybrid engine with boundary post-filters.
func (o *Orchestrator) SearchMemory(ctx context.Context, userID string, req SearchRequest) (*SearchResponse, error) {
	filters := search.Filters{Category: req.Category, CreatedAfter: req.CreatedAfter, Tag: req.Tag}

	if strings.TrimSpace(req.Query) == "" {
		limit := req.Limit
		if limit <= 0 {
			limit = 50
		}
		if limit > 200 {
			limit = 200
		}
		page, err := o.search.Browse(ctx, userID, limit, req.Offset, filters)
		if err != nil {
			return nil, err
		}
		return &SearchResponse{
			Items:      page.Items,
			Total:      page.Total,
			Categories: page.Categories,
			Tags:       page.Tags,
			Confident:  true,
		}, nil
	}

	limit := req.Limit
	if limit <= 0 {
		limit = 10
	}
	raw, err := o.search.Search(ctx, req.Query, userID, search.Options{TopK: filters.Oversample(limit)})
	if err != nil {
		return nil, err
	}
	filtered, dropped := filters.Apply(raw)
	resp := &SearchResponse{Confident: search.Confident(filtered)}
	if req.Tag != "" && len(raw) > 0 && float64(dropped)/float64(len(raw)) > tagFilterWarnRatio {
		resp.TagFilterWarning = fmt.Sprintf(
			"tag filter %q dropped %d of %d hits; browse mode (no query) may serve tag listing better",
			req.Tag, dropped, len(raw))
	}
	if len(filtered) > limit {
		filtered = filtered[:limit]
	}
	for _, r := range filtered {
		resp.Results = append(resp.Results, SearchResult{Result: r, Score: search.DisplayScore(r.RRFScore)})
	}

	o.search.LogAccess(userID, req.AppName, req.Query, filtered)

	if req.IncludeEntities {
		entities, err := o.search.SearchEntities(ctx, req.Query, userID, 5)
		if err != nil {
			log.Warn("orchestrator: entity enrichment failed", "err", err)
		} else {
			resp.Entities = entities
		}
	}
	return resp, nil
}

// Reextract re-enqueues extraction for all of a user's memories.
func (o *Orchestrator) Reextract(ctx context.Context, userID string) (int, error) {
	return o.extractor.Reextract(ctx, userID)
}
