// Package groq registers an optional fast chat-completion override,
// selected only when GROQ_API_KEY is set (spec's "optional fast graph-LLM
// override").
package groq

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/memforge/memforge/internal/config"
	registryllm "github.com/memforge/memforge/internal/registry/llm"
)

const defaultModel = "llama-3.1-8b-instant"

func init() {
	registryllm.Register(registryllm.Plugin{
		Name:   "groq",
		Loader: load,
	})
}

func load(ctx context.Context) (registryllm.Provider, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.GroqAPIKey == "" {
		return nil, fmt.Errorf("groq llm: GROQ_API_KEY is required")
	}
	return &Provider{
		apiKey:  cfg.GroqAPIKey,
		model:   defaultModel,
		timeout: cfg.LLMCallTimeout,
	}, nil
}

// Provider calls Groq's OpenAI-compatible chat completions endpoint.
type Provider struct {
	apiKey  string
	model   string
	timeout time.Duration
}

func (p *Provider) ModelName() string { return p.model }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (p *Provider) Chat(ctx context.Context, req registryllm.ChatRequest) (registryllm.ChatResponse, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	var messages []chatMessage
	if req.SystemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.SystemPrompt})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.Prompt})

	body := chatCompletionRequest{
		Model:       p.model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if req.JSONMode {
		body.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return registryllm.ChatResponse{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		"https://api.groq.com/openai/v1/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return registryllm.ChatResponse{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		return registryllm.ChatResponse{}, fmt.Errorf("groq llm request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return registryllm.ChatResponse{}, fmt.Errorf("groq llm: read response: %w", err)
	}

	var result chatCompletionResponse
	if err := json.Unmarshal(raw, &result); err != nil {
		return registryllm.ChatResponse{}, fmt.Errorf("groq llm: parse response: %w", err)
	}
	if result.Error != nil {
		return registryllm.ChatResponse{}, fmt.Errorf("groq llm error: %s", result.Error.Message)
	}
	if len(result.Choices) == 0 {
		return registryllm.ChatResponse{}, fmt.Errorf("groq llm: empty response")
	}
	return registryllm.ChatResponse{Text: result.Choices[0].Message.Content}, nil
}

var _ registryllm.Provider = (*Provider)(nil)
