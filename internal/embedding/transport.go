package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"medrag/internal/retry"
)

// TaskMode selects the embedding task on the remote model. Document and
// query embeddings live in the same vector space but are produced by
// different task types.
type TaskMode string

const (
	TaskDocument TaskMode = "RETRIEVAL_DOCUMENT"
	TaskQuery    TaskMode = "RETRIEVAL_QUERY"
)

// Transport performs one remote embedding call: one vector per input text,
// order-preserving. It does no caching, pacing or retrying; the Client owns
// all of that.
type Transport interface {
	Embed(ctx context.Context, texts []string, mode TaskMode) ([][]float64, error)
}

// HTTPTransport talks to an OpenAI-style embeddings endpoint that accepts a
// task type alongside the inputs.
type HTTPTransport struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

// HTTPConfig configures the remote embeddings endpoint.
type HTTPConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// NewHTTPTransport creates a transport for the configured endpoint.
func NewHTTPTransport(cfg HTTPConfig) *HTTPTransport {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &HTTPTransport{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		client:  &http.Client{Timeout: timeout},
	}
}

type embedRequest struct {
	Model    string   `json:"model"`
	Input    []string `json:"input"`
	TaskType string   `json:"task_type,omitempty"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Embed sends one embeddings request. Non-2xx statuses surface as
// *retry.StatusError so the caller can classify them without message
// sniffing.
func (t *HTTPTransport) Embed(ctx context.Context, texts []string, mode TaskMode) ([][]float64, error) {
	body, err := json.Marshal(embedRequest{Model: t.model, Input: texts, TaskType: string(mode)})
	if err != nil {
		return nil, fmt.Errorf("marshal embeddings request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build embeddings request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if t.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.apiKey)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embeddings request failed: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read embeddings response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var out embedResponse
		if json.Unmarshal(payload, &out) == nil && out.Error != nil {
			return nil, &retry.StatusError{Code: resp.StatusCode, Message: out.Error.Message}
		}
		return nil, &retry.StatusError{Code: resp.StatusCode, Message: string(payload)}
	}

	var out embedResponse
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, fmt.Errorf("decode embeddings response: %w", err)
	}
	if out.Error != nil {
		return nil, fmt.Errorf("embeddings API error: %s", out.Error.Message)
	}
	if len(out.Data) != len(texts) {
		return nil, fmt.Errorf("embeddings API returned %d vectors, expected %d", len(out.Data), len(texts))
	}

	vectors := make([][]float64, len(texts))
	for _, d := range out.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			return nil, fmt.Errorf("embeddings API returned invalid index %d", d.Index)
		}
		vectors[d.Index] = d.Embedding
	}
	return vectors, nil
}
