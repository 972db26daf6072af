// Package clustering runs hierarchical community detection over a user's
// memory graph and materializes the result as Community nodes with
// LLM-written summaries.
package clustering

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/memforge/memforge/internal/identity"
	"github.com/memforge/memforge/internal/model"
	registrygraphstore "github.com/memforge/memforge/internal/registry/graphstore"
	registryllm "github.com/memforge/memforge/internal/registry/llm"
)

// minSubclusterSize is the smallest shared-prefix group worth promoting to
// a level-1 subcommunity.
const minSubclusterSize = 2

type Clusterer struct {
	store registrygraphstore.Store
	llm   registryllm.Provider
}

func New(store registrygraphstore.Store, llm registryllm.Provider) *Clusterer {
	return &Clusterer{store: store, llm: llm}
}

type member struct {
	id      string
	content string
}

// Rebuild drops the user's existing communities and recomputes them from the
// store's community-detection procedure, returning the number of level-0
// communities created.
func (c *Clusterer) Rebuild(ctx context.Context, userID string) (int, error) {
	rows, err := c.store.Read(ctx, `
		CALL community_detection.get() YIELD node, community_id
		MATCH (u:User {userId:$userId})-[:HAS_MEMORY]->(node)
		WHERE node.invalidAt IS NULL AND node.state <> 'deleted'
		RETURN node.id AS id, node.content AS content, community_id AS communityId`,
		registrygraphstore.Params{"userId": userID})
	if err != nil {
		return 0, fmt.Errorf("clustering: detect: %w", err)
	}

	groups := make(map[int][]member)
	for _, row := range rows {
		cid := model.RowInt(row, "communityId")
		groups[cid] = append(groups[cid], member{
			id:      model.RowString(row, "id"),
			content: model.RowString(row, "content"),
		})
	}
	if len(groups) == 0 {
		return 0, nil
	}

	if _, err := c.store.Write(ctx, `
		MATCH (u:User {userId:$userId})-[:HAS_COMMUNITY]->(com:Community)
		DETACH DELETE com`,
		registrygraphstore.Params{"userId": userID}); err != nil {
		return 0, fmt.Errorf("clustering: clear previous: %w", err)
	}

	// Deterministic iteration order keeps reruns comparable.
	cids := make([]int, 0, len(groups))
	for cid := range groups {
		cids = append(cids, cid)
	}
	sort.Ints(cids)

	created := 0
	for _, cid := range cids {
		members := groups[cid]
		parentID, err := c.createCommunity(ctx, userID, members, 0, "")
		if err != nil {
			log.Warn("clustering: community creation failed", "communityId", cid, "err", err)
			continue
		}
		created++
		c.buildSubclusters(ctx, userID, parentID, members)
	}
	return created, nil
}

const summaryPrompt = `Name and summarize the common theme of the memories below.
Return a single JSON object: {"name": "...", "summary": "..."}.

Memories:
%s`

func (c *Clusterer) summarize(ctx context.Context, members []member) (string, string) {
	lines := make([]string, 0, len(members))
	for _, m := range members {
		lines = append(lines, "- "+m.content)
	}
	fallbackName := firstWords(members[0].content, 3)
	if c.llm == nil {
		return fallbackName, ""
	}
	resp, err := c.llm.Chat(ctx, registryllm.ChatRequest{
		Prompt:      fmt.Sprintf(summaryPrompt, strings.Join(lines, "\n")),
		Temperature: 0,
		MaxTokens:   200,
		JSONMode:    true,
	})
	if err != nil {
		log.Warn("clustering: summary llm failed", "err", err)
		return fallbackName, ""
	}
	var parsed struct {
		Name    string `json:"name"`
		Summary string `json:"summary"`
	}
	if err := json.Unmarshal([]byte(resp.Text), &parsed); err != nil || parsed.Name == "" {
		return fallbackName, ""
	}
	return parsed.Name, parsed.Summary
}

func (c *Clusterer) createCommunity(ctx context.Context, userID string, members []member, level int, parentID string) (string, error) {
	name, summary := c.summarize(ctx, members)
	id := identity.GenerateID()
	now := time.Now().UTC().Format(time.RFC3339Nano)

	ids := make([]string, len(members))
	for i, m := range members {
		ids[i] = m.id
	}
	cypher := `
		MATCH (u:User {userId:$userId})
		CREATE (com:Community {id:$id, name:$name, summary:$summary,
			level:$level, parentId:$parentId, memberCount:$memberCount,
			createdAt:$now, updatedAt:$now})
		CREATE (u)-[:HAS_COMMUNITY]->(com)
		WITH u, com
		UNWIND $memberIds AS memId
		MATCH (u)-[:HAS_MEMORY]->(m:Memory {id:memId})
		CREATE (m)-[:IN_COMMUNITY]->(com)`
	params := registrygraphstore.Params{
		"userId": userID, "id": id, "name": name, "summary": summary,
		"level": level, "parentId": parentID, "memberCount": len(members),
		"now": now, "memberIds": ids,
	}
	if parentID != "" {
		cypher += `
		WITH DISTINCT com
		MATCH (parent:Community {id:$parentId})
		CREATE (com)-[:SUBCOMMUNITY_OF]->(parent)`
	}
	if _, err := c.store.Write(ctx, cypher, params); err != nil {
		return "", err
	}
	return id, nil
}

// buildSubclusters groups a community's members by the first three words of
// their content — a lightweight alternative to re-running community
// detection on the subgraph — and promotes groups of two or more to level-1
// subcommunities.
func (c *Clusterer) buildSubclusters(ctx context.Context, userID, parentID string, members []member) {
	byPrefix := make(map[string][]member)
	for _, m := range members {
		prefix := firstWords(m.content, 3)
		byPrefix[prefix] = append(byPrefix[prefix], m)
	}
	prefixes := make([]string, 0, len(byPrefix))
	for p := range byPrefix {
		prefixes = append(prefixes, p)
	}
	sort.Strings(prefixes)
	for _, prefix := range prefixes {
		group := byPrefix[prefix]
		if len(group) < minSubclusterSize || len(group) == len(members) {
			continue
		}
		if _, err := c.createCommunity(ctx, userID, group, 1, parentID); err != nil {
			log.Warn("clustering: subcommunity creation failed", "prefix", prefix, "err", err)
		}
	}
}

func firstWords(s string, n int) string {
	words := strings.Fields(strings.ToLower(s))
	if len(words) > n {
		words = words[:n]
	}
	return strings.Join(words, " ")
}
