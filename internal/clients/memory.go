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

// CodeSnippet is one retrieved match from the vector index.
type CodeSnippet struct {
	Path    string  `json:"path"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// VectorIndex stores and retrieves code embeddings per project.
type VectorIndex interface {
	IndexProject(ctx context.Context, projectID uint, workspace string) error
	Query(ctx context.Context, query string, projectID uint, topK int) ([]CodeSnippet, error)
}

// WisdomStore keeps prose context about past decisions.
type WisdomStore interface {
	Add(ctx context.Context, content, source string) error
	Query(ctx context.Context, query string) (string, error)
}

// HTTPVectorIndex talks to the vector index service.
type HTTPVectorIndex struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPVectorIndex builds the default vector index client.
func NewHTTPVectorIndex(cfg *config.Config) *HTTPVectorIndex {
	return &HTTPVectorIndex{
		baseURL: cfg.VectorIndexURL,
		apiKey:  cfg.VectorIndexKey,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// IndexProject submits a workspace for indexing.
func (v *HTTPVectorIndex) IndexProject(ctx context.Context, projectID uint, workspace string) error {
	return v.post(ctx, "/index", map[string]interface{}{
		"project_id": projectID,
		"workspace":  workspace,
	}, nil)
}

// Query returns the top-K snippets for a query scoped to a project.
func (v *HTTPVectorIndex) Query(ctx context.Context, query string, projectID uint, topK int) ([]CodeSnippet, error) {
	var out struct {
		Matches []CodeSnippet `json:"matches"`
	}
	err := v.post(ctx, "/query", map[string]interface{}{
		"project_id": projectID,
		"query":      query,
		"top_k":      topK,
	}, &out)
	if err != nil {
		return nil, err
	}
	return out.Matches, nil
}

func (v *HTTPVectorIndex) post(ctx context.Context, path string, payload interface{}, out interface{}) error {
	if v.baseURL == "" {
		return fmt.Errorf("vector index not configured")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+v.apiKey)

	resp, err := v.client.Do(req)
	if err != nil {
		return fmt.Errorf("vector index request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("vector index returned status %d", resp.StatusCode)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

// HTTPWisdomStore talks to the external memory service.
type HTTPWisdomStore struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPWisdomStore builds the default wisdom client.
func NewHTTPWisdomStore(cfg *config.Config) *HTTPWisdomStore {
	return &HTTPWisdomStore{
		baseURL: cfg.WisdomURL,
		apiKey:  cfg.WisdomKey,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

// Add persists a piece of wisdom.
func (w *HTTPWisdomStore) Add(ctx context.Context, content, source string) error {
	if w.baseURL == "" {
		return fmt.Errorf("wisdom store not configured")
	}
	body, _ := json.Marshal(map[string]string{"content": content, "source": source})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.baseURL+"/memories", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+w.apiKey)

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("wisdom add failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("wisdom store returned status %d", resp.StatusCode)
	}
	return nil
}

// Query retrieves prose context for a query. Empty string when nothing
// relevant is stored.
func (w *HTTPWisdomStore) Query(ctx context.Context, query string) (string, error) {
	if w.baseURL == "" {
		return "", fmt.Errorf("wisdom store not configured")
	}
	body, _ := json.Marshal(map[string]string{"query": query})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+w.apiKey)

	resp, err := w.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("wisdom query failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("wisdom store returned status %d", resp.StatusCode)
	}
	var parsed struct {
		Context string `json:"context"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", err
	}
	return parsed.Context, nil
}
