// Package bulk is the high-throughput ingestion path: intra-batch exact
// dedup, bounded-concurrency near-dedup against the store, one batched
// embedding call, and one UNWIND write for all survivors.
package bulk

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/memforge/memforge/internal/config"
	"github.com/memforge/memforge/internal/identity"
	registryembed "github.com/memforge/memforge/internal/registry/embed"
	registrygraphstore "github.com/memforge/memforge/internal/registry/graphstore"
	"github.com/memforge/memforge/internal/service/dedup"
	"github.com/memforge/memforge/internal/taskqueue"
)

// Item is one memory to ingest.
type Item struct {
	Text     string     `json:"text"`
	Metadata string     `json:"metadata,omitempty"`
	ValidAt  *time.Time `json:"valid_at,omitempty"`
}

// Status values per input position.
const (
	StatusAdded            = "added"
	StatusSkippedDuplicate = "skipped_duplicate"
	StatusFailed           = "failed"
)

// ItemResult reports the outcome for one input position.
type ItemResult struct {
	Status string `json:"status"`
	ID     string `json:"id,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Options tunes a single bulk call.
type Options struct {
	AppName      string
	Concurrency  int  // 0 derives min(5, RPM/20) from config
	DedupEnabled bool // cross-store near-dedup stage
}

type Ingester struct {
	store    registrygraphstore.Store
	embedder registryembed.Embedder
	dedup    *dedup.Engine
	tasks    *taskqueue.Supervisor
	cfg      *config.Config

	// Categorize and Extract are the fire-and-forget hooks scheduled per
	// created memory, wired at startup.
	Categorize func(ctx context.Context, memoryID, content string) error
	Extract    func(ctx context.Context, memoryID string) error
}

func New(store registrygraphstore.Store, embedder registryembed.Embedder, dedupEngine *dedup.Engine, tasks *taskqueue.Supervisor, cfg *config.Config) *Ingester {
	return &Ingester{store: store, embedder: embedder, dedup: dedupEngine, tasks: tasks, cfg: cfg}
}

// Ingest processes items and returns one result per input position.
func (b *Ingester) Ingest(ctx context.Context, userID string, items []Item, opts Options) []ItemResult {
	results := make([]ItemResult, len(items))

	// Stage 1 — intra-batch exact dedup on the normalized text.
	seen := make(map[string]bool, len(items))
	survivors := make([]int, 0, len(items))
	for i, item := range items {
		norm := strings.TrimSpace(strings.ToLower(item.Text))
		if norm == "" {
			results[i] = ItemResult{Status: StatusFailed, Error: "empty text"}
			continue
		}
		if seen[norm] {
			results[i] = ItemResult{Status: StatusSkippedDuplicate}
			continue
		}
		seen[norm] = true
		survivors = append(survivors, i)
	}

	// Stage 2 — cross-store near-dedup, bounded by a semaphore. A dedup
	// failure lets the item fall through as unique (fail open).
	if opts.DedupEnabled && b.dedup != nil {
		concurrency := opts.Concurrency
		if concurrency <= 0 {
			concurrency = b.cfg.BulkConcurrencyDefault()
		}
		sem := make(chan struct{}, concurrency)
		var wg sync.WaitGroup
		var mu sync.Mutex
		unique := make([]int, 0, len(survivors))
		for _, idx := range survivors {
			idx := idx
			wg.Add(1)
			sem <- struct{}{}
			go func() {
				defer wg.Done()
				defer func() { <-sem }()
				verdict := b.dedup.Check(ctx, userID, items[idx].Text)
				mu.Lock()
				defer mu.Unlock()
				if verdict.Decision == dedup.Skip || verdict.Decision == dedup.Supersede {
					results[idx] = ItemResult{Status: StatusSkippedDuplicate, ID: verdict.ExistingID}
					return
				}
				unique = append(unique, idx)
			}()
		}
		wg.Wait()
		sort.Ints(unique)
		survivors = unique
	}
	if len(survivors) == 0 {
		return results
	}

	// Stage 3 — one embedding batch for all survivors.
	texts := make([]string, len(survivors))
	for i, idx := range survivors {
		texts[i] = items[idx].Text
	}
	embeddings, err := b.embedder.EmbedTexts(ctx, texts)
	if err != nil || len(embeddings) != len(survivors) {
		for _, idx := range survivors {
			results[idx] = ItemResult{Status: StatusFailed, Error: fmt.Sprintf("embed batch: %v", err)}
		}
		return results
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)

	// Stage 4 — one MERGE round-trip for the shared User and App nodes.
	mergeParams := registrygraphstore.Params{
		"userId":     userID,
		"userNodeId": identity.GenerateIDFromString(userID),
		"now":        now,
	}
	mergeCypher := `MERGE (u:User {userId:$userId}) ON CREATE SET u.id=$userNodeId, u.createdAt=$now`
	if opts.AppName != "" {
		mergeCypher += `
		MERGE (a:App {appName:$appName, userId:$userId})
		ON CREATE SET a.id=$appId, a.isActive=true, a.createdAt=$now`
		mergeParams["appName"] = opts.AppName
		mergeParams["appId"] = identity.GenerateIDFromString(userID + "/" + opts.AppName)
	}
	if _, err := b.store.Write(ctx, mergeCypher, mergeParams); err != nil {
		for _, idx := range survivors {
			results[idx] = ItemResult{Status: StatusFailed, Error: fmt.Sprintf("merge user/app: %v", err)}
		}
		return results
	}

	// Stage 5 — one UNWIND write creating every surviving memory.
	memories := make([]map[string]interface{}, len(survivors))
	ids := make([]string, len(survivors))
	for i, idx := range survivors {
		id := identity.GenerateID()
		ids[i] = id
		metadata := items[idx].Metadata
		if metadata == "" {
			metadata = "{}"
		}
		validAt := now
		if items[idx].ValidAt != nil {
			validAt = items[idx].ValidAt.UTC().Format(time.RFC3339Nano)
		}
		memories[i] = map[string]interface{}{
			"id":        id,
			"content":   items[idx].Text,
			"embedding": embeddings[i],
			"metadata":  metadata,
			"validAt":   validAt,
		}
	}
	createCypher := `
		MATCH (u:User {userId:$userId})
		UNWIND $memories AS mem
		CREATE (m:Memory {id:mem.id, content:mem.content, embedding:mem.embedding,
			state:'active', metadata:mem.metadata, tags:[],
			validAt:mem.validAt, invalidAt:null,
			createdAt:$now, updatedAt:$now,
			extractionStatus:'pending', extractionAttempts:0})
		CREATE (u)-[:HAS_MEMORY]->(m)`
	createParams := registrygraphstore.Params{"userId": userID, "memories": memories, "now": now}
	if opts.AppName != "" {
		createCypher = strings.Replace(createCypher,
			"MATCH (u:User {userId:$userId})",
			"MATCH (u:User {userId:$userId})\n\t\tMATCH (a:App {appName:$appName, userId:$userId})", 1)
		createCypher += `
		CREATE (m)-[:CREATED_BY]->(a)`
		createParams["appName"] = opts.AppName
	}
	if _, err := b.store.Write(ctx, createCypher, createParams); err != nil {
		for _, idx := range survivors {
			results[idx] = ItemResult{Status: StatusFailed, Error: fmt.Sprintf("unwind create: %v", err)}
		}
		return results
	}

	// Stage 6 — fire-and-forget extraction and categorization per id.
	for i, idx := range survivors {
		results[idx] = ItemResult{Status: StatusAdded, ID: ids[i]}
		b.scheduleFollowups(ids[i], items[idx].Text)
	}
	return results
}

func (b *Ingester) scheduleFollowups(memoryID, content string) {
	if b.tasks == nil {
		return
	}
	if b.Extract != nil {
		extract := b.Extract
		b.tasks.Submit(func(ctx context.Context) error {
			return extract(ctx, memoryID)
		})
	}
	if b.Categorize != nil {
		categorize := b.Categorize
		if _, ok := b.tasks.TrySubmit(func(ctx context.Context) error {
			return categorize(ctx, memoryID, content)
		}); !ok {
			log.Warn("bulk: categorization queue full, skipping", "memoryId", memoryID)
		}
	}
}
