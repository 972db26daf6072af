// Package categorizer assigns category labels from a fixed vocabulary to a
// memory. It runs fire-and-forget after every write; failures are logged and
// the memory simply stays uncategorized.
package categorizer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	registrygraphstore "github.com/memforge/memforge/internal/registry/graphstore"
	registryllm "github.com/memforge/memforge/internal/registry/llm"
)

// Vocabulary is the closed set of category names the LLM may assign.
var Vocabulary = []string{
	"personal", "relationship", "preference", "health", "finance",
	"work", "travel", "education", "hobby", "food", "technology",
	"sports", "music", "entertainment", "goal", "task", "misc",
}

type Categorizer struct {
	store registrygraphstore.Store
	llm   registryllm.Provider
}

func New(store registrygraphstore.Store, llm registryllm.Provider) *Categorizer {
	return &Categorizer{store: store, llm: llm}
}

const categorizePrompt = `Assign one or more categories to the memory below.
Only use categories from this list: %s.
Return a single JSON object: {"categories": ["..."]}.

Memory: %s`

type categoriesResponse struct {
	Categories []string `json:"categories"`
}

// Categorize asks the LLM for labels and attaches the valid ones in one
// UNWIND. Unknown labels are dropped, not stored.
func (c *Categorizer) Categorize(ctx context.Context, memoryID, content string) error {
	if c.llm == nil {
		return nil
	}
	resp, err := c.llm.Chat(ctx, registryllm.ChatRequest{
		Prompt:      fmt.Sprintf(categorizePrompt, strings.Join(Vocabulary, ", "), content),
		Temperature: 0,
		MaxTokens:   100,
		JSONMode:    true,
	})
	if err != nil {
		return fmt.Errorf("categorizer: llm: %w", err)
	}
	var parsed categoriesResponse
	if err := json.Unmarshal([]byte(resp.Text), &parsed); err != nil {
		return fmt.Errorf("categorizer: parse response: %w", err)
	}

	valid := filterToVocabulary(parsed.Categories)
	if len(valid) == 0 {
		return nil
	}
	_, err = c.store.Write(ctx, `
		MATCH (:User)-[:HAS_MEMORY]->(m:Memory {id:$id})
		UNWIND $categories AS catName
		MERGE (c:Category {name:catName})
		MERGE (m)-[:HAS_CATEGORY]->(c)`,
		registrygraphstore.Params{"id": memoryID, "categories": valid})
	if err != nil {
		return fmt.Errorf("categorizer: attach: %w", err)
	}
	return nil
}

func filterToVocabulary(names []string) []string {
	allowed := make(map[string]string, len(Vocabulary))
	for _, v := range Vocabulary {
		allowed[v] = v
	}
	var out []string
	seen := make(map[string]bool)
	for _, name := range names {
		canonical, ok := allowed[strings.ToLower(strings.TrimSpace(name))]
		if ok && !seen[canonical] {
			seen[canonical] = true
			out = append(out, canonical)
		}
	}
	return out
}
