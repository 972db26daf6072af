// Package intent classifies a caller's input text into one of five memory
// operations before it reaches the writer or deduplication stage.
package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/charmbracelet/log"
	registryllm "github.com/memforge/memforge/internal/registry/llm"
)

type Kind string

const (
	Store        Kind = "STORE"
	Invalidate   Kind = "INVALIDATE"
	DeleteEntity Kind = "DELETE_ENTITY"
	Touch        Kind = "TOUCH"
	Resolve      Kind = "RESOLVE"
)

// Intent is the classification result. Target/EntityName are populated for
// the variants that carry a companion field; both are empty for Store.
type Intent struct {
	Kind       Kind
	Target     string
	EntityName string
}

// fast-path regexes, checked in order; the first match wins. Patterns are
// grounded directly in the variant descriptions: command verbs for
// invalidation, explicit entity-removal phrasing, resolution language, and
// reconfirmation language.
var (
	deleteEntityRe = regexp.MustCompile(`(?i)\b(remove|delete)\s+entity\b|\buntrack\b|\bstop\s+tracking\b`)
	resolveRe      = regexp.MustCompile(`(?i)\bresolved\b|\bmark(ed)?\s+as\s+(resolved|fixed|done|complete|closed)\b|\bhas\s+been\s+(fixed|resolved|addressed|completed)\b`)
	touchRe        = regexp.MustCompile(`(?i)\bstill\s+(relevant|unfixed|open|valid|pending|applies|true)\b|\bconfirmed\b|\breconfirm\b|\brefresh\s+memor\w*\b|\btouch\s+memor\w*\b`)
	invalidateRe   = regexp.MustCompile(`(?i)\b(forget|remove|delete|erase|drop|purge|clear)\b.*\b(memor\w*|about|that)\b|\bdon'?t\s+remember\b|\bno\s+longer\s+relevant\b|\bmark(ed)?\s+as\s+(outdated|irrelevant|deleted|removed)\b|\binvalidate\b`)
)

var entityNameRe = regexp.MustCompile(`(?i)\b(?:(?:remove|delete)\s+entity|stop\s+tracking|untrack)\s+(.+)$`)

// Classifier resolves Intent for incoming text, falling back to the LLM
// only when no fast-path pattern matches, and failing open to Store on
// any slow-path error so a potential fact is never silently dropped.
type Classifier struct {
	llm registryllm.Provider
}

func New(llm registryllm.Provider) *Classifier {
	return &Classifier{llm: llm}
}

func (c *Classifier) Classify(ctx context.Context, text string) Intent {
	if fast, ok := classifyFast(text); ok {
		return fast
	}
	if c.llm == nil {
		return Intent{Kind: Store}
	}
	return c.classifySlow(ctx, text)
}

func classifyFast(text string) (Intent, bool) {
	if m := deleteEntityRe.FindStringSubmatch(text); m != nil {
		name := ""
		if em := entityNameRe.FindStringSubmatch(text); em != nil {
			name = strings.TrimSpace(em[1])
		}
		return Intent{Kind: DeleteEntity, EntityName: name}, true
	}
	if resolveRe.MatchString(text) {
		return Intent{Kind: Resolve, Target: text}, true
	}
	if touchRe.MatchString(text) {
		return Intent{Kind: Touch, Target: text}, true
	}
	if invalidateRe.MatchString(text) {
		return Intent{Kind: Invalidate, Target: text}, true
	}
	return Intent{}, false
}

const classifyPrompt = `Classify the user's message into exactly one intent.
Return a single JSON object: {"intent": "STORE"|"INVALIDATE"|"DELETE_ENTITY"|"TOUCH"|"RESOLVE", "target": "...", "entityName": "..."}.
Use "target" for INVALIDATE/TOUCH/RESOLVE, "entityName" for DELETE_ENTITY, and omit both for STORE.

Message: %s`

type llmIntent struct {
	Intent     string `json:"intent"`
	Target     string `json:"target"`
	EntityName string `json:"entityName"`
}

func (c *Classifier) classifySlow(ctx context.Context, text string) Intent {
	resp, err := c.llm.Chat(ctx, registryllm.ChatRequest{
		Prompt:      fmt.Sprintf(classifyPrompt, text),
		Temperature: 0,
		MaxTokens:   100,
		JSONMode:    true,
	})
	if err != nil {
		log.Warn("intent: LLM classification failed, defaulting to STORE", "err", err)
		return Intent{Kind: Store}
	}

	var parsed llmIntent
	if err := json.Unmarshal([]byte(resp.Text), &parsed); err != nil {
		log.Warn("intent: failed to parse LLM response, defaulting to STORE", "err", err)
		return Intent{Kind: Store}
	}

	switch Kind(parsed.Intent) {
	case Invalidate:
		if parsed.Target == "" {
			break
		}
		return Intent{Kind: Invalidate, Target: parsed.Target}
	case Touch:
		if parsed.Target == "" {
			break
		}
		return Intent{Kind: Touch, Target: parsed.Target}
	case Resolve:
		if parsed.Target == "" {
			break
		}
		return Intent{Kind: Resolve, Target: parsed.Target}
	case DeleteEntity:
		if parsed.EntityName == "" {
			break
		}
		return Intent{Kind: DeleteEntity, EntityName: parsed.EntityName}
	}
	return Intent{Kind: Store}
}
