// Package azure registers the Azure OpenAI chat-completion LLM provider —
// MemForge's default LLMProvider for intent classification, deduplication,
// entity extraction, and categorization.
package azure

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/memforge/memforge/internal/config"
	registryllm "github.com/memforge/memforge/internal/registry/llm"
)

func init() {
	registryllm.Register(registryllm.Plugin{
		Name:   "azure",
		Loader: load,
	})
}

func load(ctx context.Context) (registryllm.Provider, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.AzureOpenAIAPIKey == "" || cfg.AzureEndpoint == "" {
		return nil, fmt.Errorf("azure llm: AZURE_OPENAI_API_KEY and AZURE_ENDPOINT are required")
	}
	return &Provider{
		apiKey:     cfg.AzureOpenAIAPIKey,
		endpoint:   strings.TrimRight(cfg.AzureEndpoint, "/"),
		deployment: cfg.AzureDeployment,
		apiVersion: cfg.AzureAPIVersion,
		timeout:    cfg.LLMCallTimeout,
	}, nil
}

// Provider calls the Azure OpenAI chat completions endpoint.
type Provider struct {
	apiKey     string
	endpoint   string
	deployment string
	apiVersion string
	timeout    time.Duration
}

func (p *Provider) ModelName() string { return p.deployment }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
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

	url := fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
		p.endpoint, p.deployment, p.apiVersion)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return registryllm.ChatResponse{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("api-key", p.apiKey)

	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		return registryllm.ChatResponse{}, fmt.Errorf("azure llm request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return registryllm.ChatResponse{}, fmt.Errorf("azure llm: read response: %w", err)
	}

	var result chatCompletionResponse
	if err := json.Unmarshal(raw, &result); err != nil {
		return registryllm.ChatResponse{}, fmt.Errorf("azure llm: parse response: %w", err)
	}
	if result.Error != nil {
		return registryllm.ChatResponse{}, fmt.Errorf("azure llm error: %s", result.Error.Message)
	}
	if len(result.Choices) == 0 {
		return registryllm.ChatResponse{}, fmt.Errorf("azure llm: empty response")
	}
	return registryllm.ChatResponse{Text: result.Choices[0].Message.Content}, nil
}

var _ registryllm.Provider = (*Provider)(nil)
