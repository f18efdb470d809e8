// Package clients holds the thin adapters for every external
// collaborator the control plane consumes: the language model, the
// vector index, the wisdom store, the log gateway, and the identity
// verifier. The core depends only on the interfaces; the HTTP-backed
// implementations here are the defaults wired at startup.
package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"unideploy/internal/config"
)

// ChatMessage is one turn of a model conversation.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// AIClient generates text from a conversation.
type AIClient interface {
	ChatCompletion(ctx context.Context, messages []ChatMessage) (string, error)
}

// HTTPAIClient speaks the OpenAI-compatible chat completions protocol.
type HTTPAIClient struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

// NewHTTPAIClient builds the default model client from configuration.
func NewHTTPAIClient(cfg *config.Config) *HTTPAIClient {
	return &HTTPAIClient{
		baseURL: cfg.AIBaseURL,
		apiKey:  cfg.AIAPIKey,
		model:   cfg.AIModel,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

// Model returns the configured model identifier.
func (c *HTTPAIClient) Model() string { return c.model }

// ChatCompletion submits the conversation and returns the first choice.
func (c *HTTPAIClient) ChatCompletion(ctx context.Context, messages []ChatMessage) (string, error) {
	if c.baseURL == "" || c.apiKey == "" {
		return "", fmt.Errorf("ai client not configured")
	}

	body, err := json.Marshal(map[string]interface{}{
		"model":    c.model,
		"messages": messages,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("ai request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ai request returned status %d", resp.StatusCode)
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("ai response decode failed: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("ai response contained no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}
