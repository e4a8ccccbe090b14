// Package embedding turns free text into vectors via an HTTP provider, with
// content-addressable caching and bounded retry.
package embedding

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// EmbeddingSource is the capability consumers depend on: a batch of texts
// in, one vector per text out. A nil vector at position i means that single
// item failed; the rest of the batch is still usable.
type EmbeddingSource interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Provider is the gateway-to-provider boundary.
type Provider interface {
	EmbeddingSource
	Name() string
	Model() string
}

// OllamaClient generates text embeddings via the Ollama-compatible
// /api/embed endpoint.
type OllamaClient struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

func NewOllamaClient(baseURL, model string) *OllamaClient {
	return &OllamaClient{
		baseURL: baseURL,
		model:   model,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

func (c *OllamaClient) Name() string  { return "ollama" }
func (c *OllamaClient) Model() string { return c.model }

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed generates embedding vectors for a batch of texts. The response is
// matched to the request positionally; if the provider returns fewer
// vectors than requested, the tail positions are nil.
func (c *OllamaClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	data, err := json.Marshal(embedRequest{Model: c.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/embed", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("build embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &ProviderError{Message: fmt.Sprintf("embed request: %v", err), transient: true}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ProviderError{Message: fmt.Sprintf("read embed response: %v", err), transient: true}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &ProviderError{StatusCode: resp.StatusCode, Message: string(body)}
	}

	var result embedResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}

	out := make([][]float32, len(texts))
	for i := range texts {
		if i < len(result.Embeddings) && len(result.Embeddings[i]) > 0 {
			out[i] = result.Embeddings[i]
		}
	}
	return out, nil
}

// HealthCheck verifies the provider is reachable.
func (c *OllamaClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("provider health check: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("provider health check: status %d", resp.StatusCode)
	}
	return nil
}

// ContentHash computes a SHA-256 hash of text content, the key half of the
// content-addressable cache.
func ContentHash(text string) string {
	h := sha256.Sum256([]byte(text))
	return fmt.Sprintf("%x", h)
}
