// Package extractor turns free-form warehouse messages into structured
// candidate transactions via an external language-model collaborator.
package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Completer is the narrow contract to the language-model collaborator. The
// extractor owns validation and retry of whatever comes back.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// Default configuration values for the OpenAI-compatible completer.
const (
	DefaultBaseURL = "https://api.openai.com/v1"
	DefaultModel   = "gpt-4o-mini"
	DefaultTimeout = 30 * time.Second

	// Low temperature for deterministic parsing; enough tokens for
	// multi-item arrays.
	completionTemperature = 0.1
	completionMaxTokens   = 4096
)

// OpenAIConfig holds configuration for the OpenAI-compatible completer.
type OpenAIConfig struct {
	// APIKey is required.
	APIKey string

	// BaseURL can point at Azure OpenAI or a compatible API.
	BaseURL string

	// Model defaults to gpt-4o-mini.
	Model string

	// Timeout is the per-request timeout (default 30s).
	Timeout time.Duration
}

// OpenAICompleter implements Completer against an OpenAI-compatible
// /chat/completions endpoint.
type OpenAICompleter struct {
	client  *http.Client
	baseURL string
	apiKey  string
	model   string
}

type chatCompletionRequest struct {
	Model       string              `json:"model"`
	Messages    []chatCompletionMsg `json:"messages"`
	MaxTokens   int                 `json:"max_tokens,omitempty"`
	Temperature float64             `json:"temperature,omitempty"`
}

type chatCompletionMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// NewOpenAICompleter creates a completer for the extraction collaborator.
func NewOpenAICompleter(cfg OpenAIConfig) (*OpenAICompleter, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: API key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}

	return &OpenAICompleter{
		client:  &http.Client{Timeout: cfg.Timeout},
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
	}, nil
}

// Complete sends one system+user exchange and returns the raw assistant text.
func (c *OpenAICompleter) Complete(ctx context.Context, system, user string) (string, error) {
	reqBody := chatCompletionRequest{
		Model: c.model,
		Messages: []chatCompletionMsg{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		MaxTokens:   completionMaxTokens,
		Temperature: completionTemperature,
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.baseURL+"/chat/completions",
		bytes.NewReader(jsonBody),
	)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var chatResp chatCompletionResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	if chatResp.Error != nil {
		return "", fmt.Errorf("openai error: %s", chatResp.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("openai error (status %d): %s", resp.StatusCode, string(body))
	}
	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("openai: no response choices returned")
	}

	return chatResp.Choices[0].Message.Content, nil
}

// ModelName returns the configured model.
func (c *OpenAICompleter) ModelName() string {
	return c.model
}
