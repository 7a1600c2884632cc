// Package embedding converts text into fixed-dimension vectors through a
// rate-limited remote service, with a two-tier content-addressed cache and
// adaptive batching under a token budget.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"medrag/internal/retry"
	"medrag/internal/textproc"
)

// ErrInvalidEmbedding marks a vector that is empty, wrong-length or
// all-zero. Such a vector is equivalent to a failed computation and is never
// stored or uploaded.
var ErrInvalidEmbedding = errors.New("invalid embedding")

const (
	// DefaultBatchSize is the starting batch size for document embedding.
	DefaultBatchSize = 10
	// DefaultTokenBudget bounds the summed token estimate of one batch.
	DefaultTokenBudget = 8000
	// interBatchPause smooths sustained load between successful batches.
	interBatchPause = 500 * time.Millisecond
)

// Config configures a Client.
type Config struct {
	// Dimension is the expected vector length. Zero means learn it from
	// the first embedding returned by the service.
	Dimension   int
	CacheDir    string
	BatchSize   int
	TokenBudget int
	MinInterval time.Duration
	LongPause   time.Duration
	BurstEvery  int
	Policy      retry.Policy
}

// Stats reports cache and request counters for one Client.
type Stats struct {
	CacheHits int
	Requests  int
	CacheSize int
}

// Client is the caching, rate-limited embedding client. One instance owns
// its cache and pacer; methods are safe for concurrent use.
type Client struct {
	transport Transport
	cache     *cache
	pacer     *pacer
	logger    *zap.Logger

	dimension   int
	batchSize   int
	tokenBudget int
	policy      retry.Policy

	// sleep is swapped out by tests to skip the inter-batch pause.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient builds a Client over the given transport.
func NewClient(transport Transport, cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = DefaultBatchSize
	}
	budget := cfg.TokenBudget
	if budget <= 0 {
		budget = DefaultTokenBudget
	}
	policy := cfg.Policy
	if policy.QuotaAttempts == 0 {
		policy = retry.DefaultPolicy()
	}
	return &Client{
		transport:   transport,
		cache:       newCache(cfg.CacheDir, logger),
		pacer:       newPacer(cfg.MinInterval, cfg.LongPause, cfg.BurstEvery),
		logger:      logger,
		dimension:   cfg.Dimension,
		batchSize:   batch,
		tokenBudget: budget,
		policy:      policy,
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

// Dimension returns the expected vector length, or zero before the first
// remote embedding when it was not configured.
func (c *Client) Dimension() int { return c.dimension }

// Stats returns the client's cache and request counters.
func (c *Client) Stats() Stats {
	hits, size := c.cache.stats()
	return Stats{CacheHits: hits, Requests: c.pacer.requestCount(), CacheSize: size}
}

// Validate rejects an embedding that is empty, not of the expected length,
// or all-zero.
func (c *Client) Validate(vec []float64) error {
	return Validate(vec, c.dimension)
}

// Validate rejects a vector that is empty, all-zero, or (when dimension is
// non-zero) of the wrong length.
func Validate(vec []float64, dimension int) error {
	if len(vec) == 0 {
		return fmt.Errorf("%w: empty vector", ErrInvalidEmbedding)
	}
	if dimension > 0 && len(vec) != dimension {
		return fmt.Errorf("%w: length %d, want %d", ErrInvalidEmbedding, len(vec), dimension)
	}
	for _, v := range vec {
		if v != 0 {
			return nil
		}
	}
	return fmt.Errorf("%w: all-zero vector", ErrInvalidEmbedding)
}

// learnDimension records the service's vector length on first contact.
func (c *Client) learnDimension(vec []float64) {
	if c.dimension == 0 {
		c.dimension = len(vec)
	}
}

// EmbedQuery embeds one query-mode text. A cache hit short-circuits the
// remote call entirely; otherwise the call is paced and retried under the
// client's policy.
func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float64, error) {
	if cached, ok := c.cache.get(text); ok {
		return cached, nil
	}
	if err := c.pacer.wait(ctx); err != nil {
		return nil, err
	}

	var vec []float64
	op := func() error {
		vectors, err := c.transport.Embed(ctx, []string{text}, TaskQuery)
		if err != nil {
			return err
		}
		if len(vectors) != 1 {
			return fmt.Errorf("expected 1 embedding, got %d", len(vectors))
		}
		if err := Validate(vectors[0], c.dimension); err != nil {
			return err
		}
		vec = vectors[0]
		return nil
	}
	if err := retry.Do(ctx, op, c.classify, c.policy, nil); err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	c.learnDimension(vec)
	c.cache.put(text, vec)
	return vec, nil
}

// EmbedDocuments embeds texts in document mode, returning one vector per
// input in order. Cached texts are filled in without remote calls; the rest
// are processed in batches sized adaptively under the token budget, with the
// batch size halved on repeated quota failures. Exhausting retries for any
// batch fails the whole operation, because a silently missing vector would
// break the caller's index alignment.
func (c *Client) EmbedDocuments(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	all := make([][]float64, len(texts))
	var uncachedTexts []string
	var uncachedIdx []int
	for i, text := range texts {
		if cached, ok := c.cache.get(text); ok {
			all[i] = cached
		} else {
			uncachedTexts = append(uncachedTexts, text)
			uncachedIdx = append(uncachedIdx, i)
		}
	}
	if len(uncachedTexts) == 0 {
		return all, nil
	}
	c.logger.Info("embedding cache partial hit",
		zap.Int("cached", len(texts)-len(uncachedTexts)), zap.Int("total", len(texts)))

	batchSize := c.batchSize
	start := 0
	for start < len(uncachedTexts) {
		if err := c.pacer.wait(ctx); err != nil {
			return nil, err
		}

		end, batch := c.fitBatch(uncachedTexts, start, batchSize)
		if len(batch) < batchSize {
			batchSize = len(batch)
		}

		var vectors [][]float64
		op := func() error {
			got, err := c.transport.Embed(ctx, batch, TaskDocument)
			if err != nil {
				return err
			}
			if len(got) != len(batch) {
				return fmt.Errorf("expected %d embeddings, got %d", len(batch), len(got))
			}
			vectors = got
			return nil
		}
		onQuota := func(attempt int) {
			if batchSize > 1 {
				old := batchSize
				batchSize = batchSize / 2
				if batchSize < 1 {
					batchSize = 1
				}
				end = min(start+batchSize, len(uncachedTexts))
				batch = uncachedTexts[start:end]
				c.logger.Warn("quota pressure, reducing embedding batch size",
					zap.Int("from", old), zap.Int("to", batchSize), zap.Int("attempt", attempt))
			}
		}
		if err := retry.Do(ctx, op, c.classify, c.policy, onQuota); err != nil {
			return nil, fmt.Errorf("embed batch %d-%d: %w", start, end-1, err)
		}

		for i, vec := range vectors {
			c.learnDimension(vec)
			c.cache.put(batch[i], vec)
			all[uncachedIdx[start+i]] = vec
		}
		start = end

		if start < len(uncachedTexts) {
			if err := c.sleep(ctx, interBatchPause); err != nil {
				return nil, err
			}
		}
	}

	for i, vec := range all {
		if vec == nil {
			return nil, fmt.Errorf("embedding for text %d was not generated", i)
		}
	}
	return all, nil
}

// fitBatch takes up to batchSize texts from start and halves the take until
// the summed token estimate fits the budget or a single text remains.
func (c *Client) fitBatch(texts []string, start, batchSize int) (end int, batch []string) {
	end = min(start+batchSize, len(texts))
	batch = texts[start:end]
	total := 0
	for _, t := range batch {
		total += textproc.EstimateTokens(t)
	}
	for total > c.tokenBudget && len(batch) > 1 {
		batchSize = max(1, batchSize/2)
		end = min(start+batchSize, len(texts))
		batch = texts[start:end]
		total = 0
		for _, t := range batch {
			total += textproc.EstimateTokens(t)
		}
	}
	return end, batch
}

func (c *Client) classify(err error) retry.Class {
	if errors.Is(err, ErrInvalidEmbedding) {
		return retry.Permanent
	}
	return retry.ClassifyRemote(err)
}
