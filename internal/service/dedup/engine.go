// Package dedup implements the two-stage pre-write deduplication check: a
// vector ANN pre-filter followed by an LLM pairwise classifier.
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/memforge/memforge/internal/config"
	"github.com/memforge/memforge/internal/configcache"
	registrycache "github.com/memforge/memforge/internal/registry/cache"
	registryembed "github.com/memforge/memforge/internal/registry/embed"
	registrygraphstore "github.com/memforge/memforge/internal/registry/graphstore"
	registryllm "github.com/memforge/memforge/internal/registry/llm"
)

// sharedVerdictTTL bounds how long a pair verdict lives in the cross-replica
// cache.
const sharedVerdictTTL = 24 * time.Hour

type Decision string

const (
	Insert    Decision = "INSERT"
	Skip      Decision = "SKIP"
	Supersede Decision = "SUPERSEDE"
)

type Result struct {
	Decision   Decision
	ExistingID string
}

const topK = 10

// annOversample widens the store-wide vector_search fetch. The procedure's
// top-K runs over every user's memories, so the per-user anchor below would
// starve on the raw K once the store holds more than a handful of tenants.
const annOversample = 10

// Engine runs the two-stage dedup check. Any failure in either stage fails
// open to Insert — losing a potential fact is worse than a false duplicate.
type Engine struct {
	store    registrygraphstore.Store
	embedder registryembed.Embedder
	llm      registryllm.Provider
	cfg      *config.Config

	pairMu    sync.Mutex
	pairCache map[string]string // hash(contentA,contentB) -> LLM verdict

	shared registrycache.SharedCache
	cfgttl *configcache.Cache
}

// dedupSettings is the store-persisted override for the dedup knobs, read
// through the TTL cache under the "dedup" config key.
type dedupSettings struct {
	Enabled          *bool    `json:"enabled"`
	Threshold        *float64 `json:"threshold"`
	AzureThreshold   *float64 `json:"azureThreshold"`
	IntelliThreshold *float64 `json:"intelliThreshold"`
}

// SetSharedCache installs the cross-replica verdict cache; without one the
// engine falls back to its in-process map.
func (e *Engine) SetSharedCache(c registrycache.SharedCache) {
	e.shared = c
}

// SetConfigCache installs the TTL-cached store config; when set, the
// persisted "dedup" key overrides the boot-time settings.
func (e *Engine) SetConfigCache(c *configcache.Cache) {
	e.cfgttl = c
}

func (e *Engine) settings(ctx context.Context) dedupSettings {
	var s dedupSettings
	if e.cfgttl != nil {
		if err := e.cfgttl.GetJSON(ctx, "dedup", &s); err != nil {
			log.Debug("dedup: config read failed, using boot settings", "err", err)
		}
	}
	return s
}

func New(store registrygraphstore.Store, embedder registryembed.Embedder, llm registryllm.Provider, cfg *config.Config) *Engine {
	return &Engine{
		store:     store,
		embedder:  embedder,
		llm:       llm,
		cfg:       cfg,
		pairCache: make(map[string]string),
	}
}

type candidate struct {
	ID         string
	Content    string
	Similarity float64
}

// Check runs the dedup pipeline for candidateText against userID's active
// memories and returns the decision MemoryWriter should act on.
func (e *Engine) Check(ctx context.Context, userID, candidateText string) Result {
	enabled := e.cfg == nil || e.cfg.DedupEnabled
	if s := e.settings(ctx); s.Enabled != nil {
		enabled = *s.Enabled
	}
	if !enabled {
		return Result{Decision: Insert}
	}

	hits, err := e.stage1(ctx, userID, candidateText)
	if err != nil {
		log.Warn("dedup: stage1 failed, failing open to INSERT", "err", err)
		return Result{Decision: Insert}
	}
	if len(hits) == 0 {
		return Result{Decision: Insert}
	}

	result, err := e.stage2(ctx, candidateText, hits)
	if err != nil {
		log.Warn("dedup: stage2 failed, failing open to INSERT", "err", err)
		return Result{Decision: Insert}
	}
	return result
}

func (e *Engine) threshold(ctx context.Context) float64 {
	provider := ""
	if e.cfg != nil {
		provider = e.cfg.EmbeddingProvider
	}
	s := e.settings(ctx)
	switch provider {
	case "azure":
		if s.AzureThreshold != nil {
			return *s.AzureThreshold
		}
	case "intelli":
		if s.IntelliThreshold != nil {
			return *s.IntelliThreshold
		}
	default:
		if s.Threshold != nil {
			return *s.Threshold
		}
	}
	if e.cfg == nil {
		return 0.75
	}
	return e.cfg.DedupThresholdFor(provider)
}

func (e *Engine) stage1(ctx context.Context, userID, candidateText string) ([]candidate, error) {
	dim := 1024
	if e.cfg != nil {
		dim = e.cfg.EmbeddingDimension()
	}
	if err := e.store.EnsureVectorIndexes(ctx, registrygraphstore.DefaultVectorIndexes(dim)); err != nil {
		return nil, fmt.Errorf("ensure vector indexes: %w", err)
	}
	vec, err := e.embedder.Embed(ctx, candidateText)
	if err != nil {
		return nil, fmt.Errorf("embed candidate: %w", err)
	}

	rows, err := e.store.Read(ctx, `
		CALL vector_search.search('memory_vectors', $fetchLimit, $vec) YIELD node, similarity
		MATCH (u:User {userId:$userId})-[:HAS_MEMORY]->(node)
		WHERE node.invalidAt IS NULL AND node.state <> 'deleted'
		RETURN node.id AS id, node.content AS content, similarity
		ORDER BY similarity DESC
		LIMIT toInteger($k)
	`, registrygraphstore.Params{
		"userId": userID, "vec": vec,
		"fetchLimit": topK * annOversample, "k": topK,
	})
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	threshold := e.threshold(ctx)
	var hits []candidate
	for i, row := range rows {
		sim, _ := row["similarity"].(float64)
		if i == 0 && sim < threshold {
			return nil, nil
		}
		if sim < threshold {
			continue
		}
		id, _ := row["id"].(string)
		content, _ := row["content"].(string)
		hits = append(hits, candidate{ID: id, Content: content, Similarity: sim})
	}
	return hits, nil
}

const pairwisePrompt = `You compare two memory statements and classify their relationship.
Respond with a single JSON object: {"verdict": "DUPLICATE"|"SUPERSEDES"|"DIFFERENT"}.
DUPLICATE: the new statement restates the same fact as the old one, possibly in different words.
SUPERSEDES: the new statement updates or contradicts the old one (the old fact is no longer true).
DIFFERENT: the two statements are unrelated facts.

Old: %s
New: %s`

type pairVerdict struct {
	Verdict string `json:"verdict"`
}

func (e *Engine) stage2(ctx context.Context, candidateText string, hits []candidate) (Result, error) {
	for _, hit := range hits {
		verdict, err := e.classifyPair(ctx, hit.Content, candidateText)
		if err != nil {
			return Result{}, err
		}
		switch verdict {
		case "DUPLICATE":
			return Result{Decision: Skip, ExistingID: hit.ID}, nil
		case "SUPERSEDES":
			return Result{Decision: Supersede, ExistingID: hit.ID}, nil
		}
	}
	return Result{Decision: Insert}, nil
}

func (e *Engine) classifyPair(ctx context.Context, oldText, newText string) (string, error) {
	key := pairKey(oldText, newText)

	e.pairMu.Lock()
	if cached, ok := e.pairCache[key]; ok {
		e.pairMu.Unlock()
		return cached, nil
	}
	e.pairMu.Unlock()

	if e.shared != nil && e.shared.Available() {
		if cached, ok, err := e.shared.Get(ctx, "dedup:"+key); err == nil && ok {
			e.pairMu.Lock()
			e.pairCache[key] = cached
			e.pairMu.Unlock()
			return cached, nil
		}
	}

	resp, err := e.llm.Chat(ctx, registryllm.ChatRequest{
		Prompt:      fmt.Sprintf(pairwisePrompt, oldText, newText),
		Temperature: 0,
		MaxTokens:   50,
		JSONMode:    true,
	})
	if err != nil {
		return "", fmt.Errorf("pairwise classify: %w", err)
	}
	var parsed pairVerdict
	if err := json.Unmarshal([]byte(resp.Text), &parsed); err != nil {
		return "", fmt.Errorf("pairwise classify: parse response: %w", err)
	}
	verdict := strings.ToUpper(strings.TrimSpace(parsed.Verdict))
	if verdict != "DUPLICATE" && verdict != "SUPERSEDES" && verdict != "DIFFERENT" {
		verdict = "DIFFERENT"
	}

	e.pairMu.Lock()
	e.pairCache[key] = verdict
	e.pairMu.Unlock()
	if e.shared != nil && e.shared.Available() {
		if err := e.shared.Set(ctx, "dedup:"+key, verdict, sharedVerdictTTL); err != nil {
			log.Debug("dedup: shared verdict cache write failed", "err", err)
		}
	}
	return verdict, nil
}

func pairKey(a, b string) string {
	h := sha256.New()
	h.Write([]byte(canonical(a)))
	h.Write([]byte{0})
	h.Write([]byte(canonical(b)))
	return hex.EncodeToString(h.Sum(nil))
}

func canonical(s string) string {
	return strings.TrimSpace(strings.ToLower(s))
}
