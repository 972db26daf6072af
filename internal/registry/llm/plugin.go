// Package llm defines the LLMProvider contract (chat completion with JSON
// response formatting) and its plugin registry, mirroring the shape of
// internal/registry/embed and internal/registry/graphstore.
package llm

import (
	"context"
	"fmt"
)

// ChatRequest is a single deterministic chat-completion call.
type ChatRequest struct {
	// SystemPrompt, if non-empty, is sent as the system message.
	SystemPrompt string
	// Prompt is the user message.
	Prompt string
	// Temperature is always 0 for MemForge's classification/extraction calls.
	Temperature float64
	// MaxTokens bounds the response length; 0 means provider default.
	MaxTokens int
	// JSONMode requests a single JSON object response when true.
	JSONMode bool
}

// ChatResponse is the provider's reply.
type ChatResponse struct {
	Text string
}

// Provider performs chat completions for classification, extraction,
// deduplication, and categorization.
type Provider interface {
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
	ModelName() string
}

// Loader creates a Provider from config.
type Loader func(ctx context.Context) (Provider, error)

// Plugin represents an LLM provider plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds an LLM provider plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered provider plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named provider plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown llm provider %q; valid: %v", name, Names())
}
