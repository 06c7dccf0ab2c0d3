// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package llm wraps OpenAI-compatible chat-completion providers (DeepSeek
// and friends) behind a small client the pipeline stages share.
// See docs/ARCHITECTURE § Providers.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pdiddy/novel-engine/internal/httputil"
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatOptions adjusts a single chat call.
type ChatOptions struct {
	// JSONMode requests a JSON object response from the provider.
	JSONMode bool

	// Temperature overrides the provider default when non-nil.
	Temperature *float64

	// MaxTokens overrides the provider default when > 0.
	MaxTokens int
}

// Backend abstracts the chat API so stages and tests can supply mocks.
type Backend interface {
	Chat(ctx context.Context, messages []Message, opts ChatOptions) (string, error)
}

// Client calls one provider's chat-completions and embeddings endpoints.
type Client struct {
	config     ProviderConfig
	httpClient *http.Client
	maxRetries int
}

// NewClient builds a client for a provider. A zero timeout defaults to
// five minutes; chapter drafts are slow completions.
func NewClient(config ProviderConfig) *Client {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Provider returns the provider name the client was built for.
func (c *Client) Provider() string {
	return c.config.Name
}

// Model returns the model identifier the client sends.
func (c *Client) Model() string {
	return c.config.Model
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
	EnableThinking *bool           `json:"enable_thinking,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *apiError `json:"error,omitempty"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// Chat sends messages to the provider and returns the assistant content.
// Rate-limited responses are retried with backoff. Providers that reject
// the enable_thinking field get one retry without it.
func (c *Client) Chat(ctx context.Context, messages []Message, opts ChatOptions) (string, error) {
	req := chatRequest{
		Model:       c.config.Model,
		Messages:    messages,
		Temperature: c.config.Temperature,
		MaxTokens:   c.config.MaxTokens,
	}
	if opts.Temperature != nil {
		req.Temperature = *opts.Temperature
	}
	if opts.MaxTokens > 0 {
		req.MaxTokens = opts.MaxTokens
	}
	if opts.JSONMode {
		req.ResponseFormat = &responseFormat{Type: "json_object"}
	}
	if c.config.ThinkingMode {
		enabled := true
		req.EnableThinking = &enabled
	}

	content, err := c.chatOnce(ctx, req)
	if err != nil && req.EnableThinking != nil {
		// Not every provider accepts the thinking flag; retry bare.
		req.EnableThinking = nil
		content, err = c.chatOnce(ctx, req)
	}
	return content, err
}

func (c *Client) chatOnce(ctx context.Context, req chatRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("encoding chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("chat/completions"), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("building chat request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := httputil.DoWithRetry(ctx, c.httpClient, httpReq, c.maxRetries)
	if err != nil {
		return "", fmt.Errorf("calling %s: %w", c.config.Name, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading %s response: %w", c.config.Name, err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%s returned HTTP %d: %s", c.config.Name, resp.StatusCode, truncate(string(data), 200))
	}

	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("parsing %s response: %w", c.config.Name, err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("%s API error: %s", c.config.Name, parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("%s returned no choices", c.config.Name)
	}

	return strings.TrimSpace(parsed.Choices[0].Message.Content), nil
}

type embeddingsRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingsResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Error *apiError `json:"error,omitempty"`
}

// Embeddings returns one vector per input string, in input order. The model
// comes from the provider's embedding model setting.
func (c *Client) Embeddings(ctx context.Context, model string, input []string) ([][]float32, error) {
	if model == "" {
		return nil, fmt.Errorf("embedding model not configured for %s", c.config.Name)
	}

	body, err := json.Marshal(embeddingsRequest{Model: model, Input: input})
	if err != nil {
		return nil, fmt.Errorf("encoding embeddings request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("embeddings"), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building embeddings request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := httputil.DoWithRetry(ctx, c.httpClient, httpReq, c.maxRetries)
	if err != nil {
		return nil, fmt.Errorf("calling %s embeddings: %w", c.config.Name, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %s embeddings response: %w", c.config.Name, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s embeddings returned HTTP %d: %s", c.config.Name, resp.StatusCode, truncate(string(data), 200))
	}

	var parsed embeddingsResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("parsing %s embeddings response: %w", c.config.Name, err)
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("%s embeddings API error: %s", c.config.Name, parsed.Error.Message)
	}
	if len(parsed.Data) != len(input) {
		return nil, fmt.Errorf("%s returned %d embeddings for %d inputs", c.config.Name, len(parsed.Data), len(input))
	}

	vectors := make([][]float32, len(input))
	for _, item := range parsed.Data {
		if item.Index < 0 || item.Index >= len(vectors) {
			return nil, fmt.Errorf("%s returned out-of-range embedding index %d", c.config.Name, item.Index)
		}
		vectors[item.Index] = item.Embedding
	}
	return vectors, nil
}

func (c *Client) endpoint(path string) string {
	return strings.TrimSuffix(c.config.BaseURL, "/") + "/" + path
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	if c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
