// Package vectorindex provides clients for the similarity-search index: a
// hosted remote index reached over REST, and a local in-memory variant for
// offline use. Both implement domain.VectorIndex.
package vectorindex

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"medrag/internal/domain"
	"medrag/internal/retry"
)

const (
	// DefaultUploadBatch is the starting upsert batch size.
	DefaultUploadBatch = 100
	// minUploadBatch is the floor the batch size may shrink to under
	// quota pressure.
	minUploadBatch = 10
	// uploadPause smooths sustained load between successful batches.
	uploadPause = 2 * time.Second
	// initAttempts bounds the lazy connection initialization.
	initAttempts = 3
	// queryAttempts bounds a single nearest-neighbor query.
	queryAttempts = 3
)

// HostedConfig configures the remote index endpoint.
type HostedConfig struct {
	BaseURL   string
	APIKey    string
	IndexName string
	Timeout   time.Duration
	// UploadBatch overrides DefaultUploadBatch when positive.
	UploadBatch int
	Policy      retry.Policy
}

// Hosted is a client for one deployed remote similarity index. Connection
// setup is lazy and idempotent; upload and query each carry their own
// bounded retry.
type Hosted struct {
	baseURL   string
	apiKey    string
	indexName string
	client    *http.Client
	logger    *zap.Logger

	batchSize int
	policy    retry.Policy

	mu    sync.Mutex
	ready bool

	// sleep is swapped out by tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewHosted creates a client for the configured index. No connection is made
// until the first upload or query.
func NewHosted(cfg HostedConfig, logger *zap.Logger) *Hosted {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	batch := cfg.UploadBatch
	if batch <= 0 {
		batch = DefaultUploadBatch
	}
	policy := cfg.Policy
	if policy.QuotaAttempts == 0 {
		policy = retry.DefaultPolicy()
	}
	return &Hosted{
		baseURL:   cfg.BaseURL,
		apiKey:    cfg.APIKey,
		indexName: cfg.IndexName,
		client:    &http.Client{Timeout: timeout},
		logger:    logger,
		batchSize: batch,
		policy:    policy,
		sleep: func(ctx context.Context, d time.Duration) error {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.C:
				return nil
			}
		},
	}
}

// ensureReady verifies the deployed index once, with its own bounded
// backoff. Safe to call repeatedly; subsequent calls are no-ops.
func (h *Hosted) ensureReady(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ready {
		return nil
	}
	p := h.policy
	p.QuotaAttempts = initAttempts
	p.TransientAttempts = initAttempts
	op := func() error {
		return h.getJSON(ctx, fmt.Sprintf("%s/v1/indexes/%s", h.baseURL, h.indexName), nil)
	}
	if err := retry.Do(ctx, op, retry.ClassifyRemote, p, nil); err != nil {
		return fmt.Errorf("initialize vector index %q: %w", h.indexName, err)
	}
	h.ready = true
	h.logger.Info("vector index client initialized", zap.String("index", h.indexName))
	return nil
}

type datapoint struct {
	ID     string    `json:"id"`
	Vector []float64 `json:"vector"`
}

// Upload upserts vectors under their ids in sequential batches. On quota
// failures the batch size is halved (floor minUploadBatch) and the current
// batch rebuilt before the backed-off retry. A batch that exhausts its
// retries aborts the upload; earlier batches stay uploaded, so callers must
// not assume atomicity across the full set.
func (h *Hosted) Upload(ctx context.Context, vectors [][]float64, ids []string) error {
	if len(vectors) != len(ids) {
		return fmt.Errorf("vector count %d does not match id count %d", len(vectors), len(ids))
	}
	if len(vectors) == 0 {
		h.logger.Info("no vectors to upload")
		return nil
	}
	if err := h.ensureReady(ctx); err != nil {
		return err
	}

	batchSize := h.batchSize
	uploaded := 0
	for start := 0; start < len(vectors); {
		end := min(start+batchSize, len(vectors))
		points := buildDatapoints(ids[start:end], vectors[start:end])

		op := func() error {
			body := map[string]any{"datapoints": points}
			return h.postJSON(ctx, fmt.Sprintf("%s/v1/indexes/%s/upsert", h.baseURL, h.indexName), body, nil)
		}
		onQuota := func(attempt int) {
			if batchSize > minUploadBatch {
				old := batchSize
				batchSize = max(minUploadBatch, batchSize/2)
				end = min(start+batchSize, len(vectors))
				points = buildDatapoints(ids[start:end], vectors[start:end])
				h.logger.Warn("quota pressure, reducing upload batch size",
					zap.Int("from", old), zap.Int("to", batchSize), zap.Int("attempt", attempt))
			}
		}
		if err := retry.Do(ctx, op, retry.ClassifyRemote, h.policy, onQuota); err != nil {
			return fmt.Errorf("upload batch %d-%d (uploaded %d/%d): %w",
				start, end-1, uploaded, len(vectors), err)
		}

		uploaded += end - start
		h.logger.Info("batch upload successful",
			zap.Int("uploaded", uploaded), zap.Int("total", len(vectors)))
		start = end

		if start < len(vectors) {
			if err := h.sleep(ctx, uploadPause); err != nil {
				return err
			}
		}
	}
	return nil
}

func buildDatapoints(ids []string, vectors [][]float64) []datapoint {
	points := make([]datapoint, len(ids))
	for i := range ids {
		points[i] = datapoint{ID: ids[i], Vector: vectors[i]}
	}
	return points
}

// Query finds the topK nearest neighbors of vector, closest first. An empty
// result is valid, not an error.
func (h *Hosted) Query(ctx context.Context, vector []float64, topK int) ([]domain.Neighbor, error) {
	if len(vector) == 0 {
		return nil, errors.New("empty query vector")
	}
	if topK <= 0 {
		topK = 5
	}
	if err := h.ensureReady(ctx); err != nil {
		return nil, err
	}

	p := h.policy
	p.QuotaAttempts = queryAttempts
	p.TransientAttempts = queryAttempts

	var out struct {
		Neighbors []struct {
			ID       string  `json:"id"`
			Distance float64 `json:"distance"`
		} `json:"neighbors"`
	}
	op := func() error {
		out.Neighbors = nil
		body := map[string]any{"vector": vector, "top_k": topK}
		return h.postJSON(ctx, fmt.Sprintf("%s/v1/indexes/%s/query", h.baseURL, h.indexName), body, &out)
	}
	if err := retry.Do(ctx, op, retry.ClassifyRemote, p, nil); err != nil {
		return nil, fmt.Errorf("query vector index: %w", err)
	}

	if len(out.Neighbors) == 0 {
		h.logger.Warn("vector search returned no results")
		return nil, nil
	}
	neighbors := make([]domain.Neighbor, len(out.Neighbors))
	for i, n := range out.Neighbors {
		neighbors[i] = domain.Neighbor{ID: n.ID, Distance: n.Distance}
	}
	return neighbors, nil
}

func (h *Hosted) postJSON(ctx context.Context, url string, body any, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if h.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.apiKey)
	}
	return h.do(req, out)
}

func (h *Hosted) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if h.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.apiKey)
	}
	return h.do(req, out)
}

func (h *Hosted) do(req *http.Request, out any) error {
	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &retry.StatusError{Code: resp.StatusCode, Message: string(payload)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
