// Package embedding provides the text-embedding fallback used when a
// document has no stored chunk embeddings, and the composite store that
// pairs it with a chunk source.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OllamaConfig holds the configuration for an Ollama embed endpoint
type OllamaConfig struct {
	BaseURL string        // e.g. http://localhost:11434
	Model   string        // e.g. nomic-embed-text
	Token   string        // Bearer token for hosted Ollama (empty = no auth)
	Timeout time.Duration // Per-request timeout (default: 30s)
}

// DefaultOllamaConfig returns a local Ollama configuration
func DefaultOllamaConfig() OllamaConfig {
	return OllamaConfig{
		BaseURL: "http://localhost:11434",
		Model:   "nomic-embed-text",
		Timeout: 30 * time.Second,
	}
}

// Ollama embeds text through the Ollama REST API
type Ollama struct {
	config     OllamaConfig
	httpClient *http.Client
}

// NewOllama creates an Ollama embedder
func NewOllama(config OllamaConfig) (*Ollama, error) {
	if strings.TrimSpace(config.BaseURL) == "" {
		return nil, fmt.Errorf("ollama base URL is required")
	}
	if strings.TrimSpace(config.Model) == "" {
		return nil, fmt.Errorf("ollama embed model is required")
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	return &Ollama{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
	}, nil
}

// EmbedText generates a vector embedding for the given text
func (o *Ollama) EmbedText(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := o.embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("ollama embed: %w", err)
	}
	if len(embeddings) == 0 {
		return nil, fmt.Errorf("ollama embed: empty response")
	}
	return embeddings[0], nil
}

// EmbedBatch generates embeddings for multiple texts in one call
func (o *Ollama) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	embeddings, err := o.embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("ollama embed batch: %w", err)
	}
	if len(embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama embed batch: got %d embeddings for %d texts", len(embeddings), len(texts))
	}
	return embeddings, nil
}

func (o *Ollama) embed(ctx context.Context, input any) ([][]float32, error) {
	payload := map[string]any{
		"model": o.config.Model,
		"input": input,
	}
	body, err := o.post(ctx, "/api/embed", payload)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return resp.Embeddings, nil
}

func (o *Ollama) post(ctx context.Context, path string, payload any) ([]byte, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.config.BaseURL+path, bytes.NewReader(payloadBytes))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if o.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+o.config.Token)
	}

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("ollama API error (%d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return io.ReadAll(resp.Body)
}
