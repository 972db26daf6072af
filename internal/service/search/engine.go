// Package search implements the hybrid recall engine: a BM25-style
// full-text arm and a vector-ANN arm fused by Reciprocal Rank Fusion, with
// post-filters and fire-and-forget access logging.
package search

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/memforge/memforge/internal/config"
	"github.com/memforge/memforge/internal/identity"
	"github.com/memforge/memforge/internal/model"
	registryembed "github.com/memforge/memforge/internal/registry/embed"
	registrygraphstore "github.com/memforge/memforge/internal/registry/graphstore"
	"github.com/memforge/memforge/internal/security"
	"github.com/memforge/memforge/internal/taskqueue"
)

// Mode selects which arms run.
type Mode string

const (
	ModeHybrid Mode = "hybrid"
	ModeText   Mode = "text"
	ModeVector Mode = "vector"
)

const (
	// rrfK is the Reciprocal Rank Fusion constant: score = Σ 1/(K + rank).
	rrfK = 60
	// confidenceFloor is the RRF heuristic below which a vector-only result
	// set is reported as low-confidence.
	confidenceFloor = 0.012
	// displayNorm maps the best possible two-arm score (2/(K+1)) onto 1.0.
	displayNorm = 0.032786
)

// Result is one fused search hit. TextRank/VectorRank are 1-based and nil
// for the arm the memory did not appear in.
type Result struct {
	ID         string    `json:"id"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
	AppName    string    `json:"appName,omitempty"`
	Categories []string  `json:"categories"`
	Tags       []string  `json:"tags"`
	TextRank   *int      `json:"textRank"`
	VectorRank *int      `json:"vectorRank"`
	RRFScore   float64   `json:"rrfScore"`
}

// Options controls a single search invocation.
type Options struct {
	TopK int
	Mode Mode
}

// Engine fuses the two retrieval arms. All store access goes through the
// gateway and therefore inherits its retry policy.
type Engine struct {
	store    registrygraphstore.Store
	embedder registryembed.Embedder
	tasks    *taskqueue.Supervisor
	cfg      *config.Config
}

func New(store registrygraphstore.Store, embedder registryembed.Embedder, tasks *taskqueue.Supervisor, cfg *config.Config) *Engine {
	return &Engine{store: store, embedder: embedder, tasks: tasks, cfg: cfg}
}

// Search runs the configured arms and returns the fused, descending-score
// result list capped to opts.TopK.
func (e *Engine) Search(ctx context.Context, query, userID string, opts Options) ([]Result, error) {
	if opts.TopK <= 0 {
		opts.TopK = 10
	}
	if opts.Mode == "" {
		opts.Mode = ModeHybrid
	}
	start := time.Now()
	defer func() {
		if security.SearchFusionLatency != nil {
			security.SearchFusionLatency.Observe(time.Since(start).Seconds())
		}
	}()

	byID := make(map[string]*Result)

	if opts.Mode == ModeHybrid || opts.Mode == ModeText {
		textHits, err := e.textArm(ctx, query, userID, opts.TopK)
		if err != nil {
			if opts.Mode == ModeText {
				return nil, err
			}
			log.Warn("search: text arm failed, continuing with vector arm", "err", err)
		}
		for i := range textHits {
			rank := i + 1
			hit := textHits[i]
			hit.TextRank = &rank
			byID[hit.ID] = &hit
		}
	}

	if opts.Mode == ModeHybrid || opts.Mode == ModeVector {
		vectorHits, err := e.vectorArm(ctx, query, userID, opts.TopK)
		if err != nil {
			if opts.Mode == ModeVector {
				return nil, err
			}
			log.Warn("search: vector arm failed, continuing with text results", "err", err)
		}
		for i := range vectorHits {
			rank := i + 1
			if existing, ok := byID[vectorHits[i].ID]; ok {
				existing.VectorRank = &rank
				continue
			}
			hit := vectorHits[i]
			hit.VectorRank = &rank
			byID[hit.ID] = &hit
		}
	}

	fused := make([]Result, 0, len(byID))
	for _, r := range byID {
		r.RRFScore = Fuse(r.TextRank, r.VectorRank)
		fused = append(fused, *r)
	}
	sort.SliceStable(fused, func(i, j int) bool {
		if fused[i].RRFScore != fused[j].RRFScore {
			return fused[i].RRFScore > fused[j].RRFScore
		}
		// Stable tie-break: text rank, then vector rank.
		return rankOrZero(fused[i].TextRank) < rankOrZero(fused[j].TextRank)
	})
	if len(fused) > opts.TopK {
		fused = fused[:opts.TopK]
	}
	return fused, nil
}

// Fuse computes the sum of 1/(K + rank) over the arms a memory appeared in.
func Fuse(textRank, vectorRank *int) float64 {
	score := 0.0
	if textRank != nil {
		score += 1.0 / float64(rrfK+*textRank)
	}
	if vectorRank != nil {
		score += 1.0 / float64(rrfK+*vectorRank)
	}
	return score
}

func rankOrZero(r *int) int {
	if r == nil {
		return 1 << 30
	}
	return *r
}

// Confident reports whether the result set clears the RRF floor heuristic:
// any text-ranked hit, or a top score above the vector-only floor.
func Confident(results []Result) bool {
	for _, r := range results {
		if r.TextRank != nil {
			return true
		}
		if r.RRFScore > confidenceFloor {
			return true
		}
	}
	return false
}

// DisplayScore normalizes an RRF score into [0, 1] for presentation.
func DisplayScore(rrf float64) float64 {
	s := rrf / displayNorm
	if s > 1.0 {
		return 1.0
	}
	return s
}

func (e *Engine) textArm(ctx context.Context, query, userID string, topK int) ([]Result, error) {
	rows, err := e.store.Read(ctx, `
		CALL db.index.fulltext.queryNodes('memory_fulltext', $query) YIELD node, score
		MATCH (u:User {userId:$userId})-[:HAS_MEMORY]->(node)
		WHERE node.invalidAt IS NULL AND node.state <> 'deleted'
		OPTIONAL MATCH (node)-[:CREATED_BY]->(a:App)
		OPTIONAL MATCH (node)-[:HAS_CATEGORY]->(c:Category)
		RETURN node.id AS id, node.content AS content,
			node.createdAt AS createdAt, node.updatedAt AS updatedAt,
			node.tags AS tags, a.appName AS appName,
			collect(DISTINCT c.name) AS categories, score
		ORDER BY score DESC
		LIMIT toInteger($k)`,
		registrygraphstore.Params{"query": query, "userId": userID, "k": topK})
	if err != nil {
		return nil, fmt.Errorf("search: text arm: %w", err)
	}
	return resultsFromRows(rows), nil
}

func (e *Engine) vectorArm(ctx context.Context, query, userID string, topK int) ([]Result, error) {
	if err := e.store.EnsureVectorIndexes(ctx, e.vectorIndexSpecs()); err != nil {
		return nil, fmt.Errorf("search: ensure vector indexes: %w", err)
	}
	vec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("search: embed query: %w", err)
	}
	fetchLimit := topK * 2
	rows, err := e.store.Read(ctx, `
		CALL vector_search.search('memory_vectors', $fetchLimit, $vec) YIELD node, similarity
		MATCH (u:User {userId:$userId})-[:HAS_MEMORY]->(node)
		WHERE node.invalidAt IS NULL AND node.state <> 'deleted'
		OPTIONAL MATCH (node)-[:CREATED_BY]->(a:App)
		OPTIONAL MATCH (node)-[:HAS_CATEGORY]->(c:Category)
		RETURN node.id AS id, node.content AS content,
			node.createdAt AS createdAt, node.updatedAt AS updatedAt,
			node.tags AS tags, a.appName AS appName,
			collect(DISTINCT c.name) AS categories, similarity
		ORDER BY similarity DESC
		LIMIT toInteger($k)`,
		registrygraphstore.Params{"fetchLimit": fetchLimit, "vec": vec, "userId": userID, "k": topK})
	if err != nil {
		return nil, fmt.Errorf("search: vector arm: %w", err)
	}
	return resultsFromRows(rows), nil
}

func (e *Engine) vectorIndexSpecs() []registrygraphstore.VectorIndexSpec {
	dim := 1024
	if e.cfg != nil {
		dim = e.cfg.EmbeddingDimension()
	}
	return registrygraphstore.DefaultVectorIndexes(dim)
}

func resultsFromRows(rows []registrygraphstore.Row) []Result {
	out := make([]Result, 0, len(rows))
	for _, row := range rows {
		r := Result{
			ID:         model.RowString(row, "id"),
			Content:    model.RowString(row, "content"),
			CreatedAt:  model.RowTime(row, "createdAt"),
			UpdatedAt:  model.RowTime(row, "updatedAt"),
			AppName:    model.RowString(row, "appName"),
			Categories: model.RowStrings(row, "categories"),
			Tags:       model.RowStrings(row, "tags"),
		}
		if r.Categories == nil {
			r.Categories = []string{}
		}
		if r.Tags == nil {
			r.Tags = []string{}
		}
		out = append(out, r)
	}
	return out
}

// Filters are the boundary-level post-filters. Category matches are
// case-insensitive against HAS_CATEGORY names; Tag is a case-insensitive
// exact match against any of the memory's tags.
type Filters struct {
	Category     string
	CreatedAfter *time.Time
	Tag          string
}

func (f Filters) empty() bool {
	return f.Category == "" && f.CreatedAfter == nil && f.Tag == ""
}

// Oversample returns how many raw hits to fetch so post-filtering does not
// starve the requested page (≥5×, ≥10× with a tag filter, minimum 200).
func (f Filters) Oversample(topK int) int {
	if f.empty() {
		return topK
	}
	mult := 5
	if f.Tag != "" {
		mult = 10
	}
	n := topK * mult
	if n < 200 {
		n = 200
	}
	return n
}

// Apply filters results in place and reports how many raw hits were dropped.
func (f Filters) Apply(results []Result) ([]Result, int) {
	if f.empty() {
		return results, 0
	}
	out := results[:0]
	for _, r := range results {
		if f.Category != "" && !containsFold(r.Categories, f.Category) {
			continue
		}
		if f.CreatedAfter != nil && !r.CreatedAt.After(*f.CreatedAfter) {
			continue
		}
		if f.Tag != "" && !containsFold(r.Tags, f.Tag) {
			continue
		}
		out = append(out, r)
	}
	return out, len(results) - len(out)
}

func containsFold(haystack []string, needle string) bool {
	for _, h := range haystack {
		if strings.EqualFold(h, needle) {
			return true
		}
	}
	return false
}

// LogAccess records an ACCESSED edge per surviving result, fire-and-forget
// so it never blocks the response path.
func (e *Engine) LogAccess(userID, appName, query string, results []Result) {
	if e.tasks == nil || appName == "" || len(results) == 0 {
		return
	}
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.ID
	}
	e.tasks.Submit(func(ctx context.Context) error {
		_, err := e.store.Write(ctx, `
			MATCH (u:User {userId:$userId})
			MERGE (a:App {appName:$appName, userId:$userId})
			ON CREATE SET a.id=$appId, a.isActive=true, a.createdAt=$now
			WITH u, a
			UNWIND $ids AS memId
			MATCH (u)-[:HAS_MEMORY]->(m:Memory {id:memId})
			MERGE (a)-[r:ACCESSED]->(m)
			ON CREATE SET r.accessCount=0
			SET r.accessedAt=$now, r.queryUsed=$query,
				r.accessCount=r.accessCount+1`,
			registrygraphstore.Params{
				"userId": userID, "appName": appName, "query": query,
				"appId": appIDFor(userID, appName),
				"ids":   ids,
				"now":   time.Now().UTC().Format(time.RFC3339Nano),
			})
		return err
	})
}

func appIDFor(userID, appName string) string {
	return identity.GenerateIDFromString(userID + "/" + appName)
}
