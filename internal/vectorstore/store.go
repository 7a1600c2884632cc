// Package vectorstore owns the docstore and the index-position to
// document-id mapping, and orchestrates chunked text through embedding and
// index upload at build time and back from neighbor ids to documents at
// query time.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"medrag/internal/domain"
	"medrag/internal/embedding"
	"medrag/internal/textproc"
)

var (
	// ErrNotInitialized is returned by Retrieve before a successful Build.
	ErrNotInitialized = errors.New("vector store is not initialized")
	// ErrNoValidEmbeddings means a build produced nothing queryable; the
	// store refuses to come up empty-but-healthy.
	ErrNoValidEmbeddings = errors.New("no valid embeddings were produced")
)

const (
	// defaultBuildBatch is the outer embedding batch during builds. It is
	// deliberately smaller than the embedding client's internal batching
	// so one exhausted batch loses little of the corpus.
	defaultBuildBatch = 5
	// defaultMaxTokens is the hard per-text token ceiling at build time.
	defaultMaxTokens = 15000
)

// Record pairs a stored chunk text with its metadata.
type Record struct {
	Text     string
	Metadata map[string]any
}

// Config bounds a Store's build behavior.
type Config struct {
	BuildBatch int
	MaxTokens  int
}

// Store is the orchestrating vector store. The docstore and the
// position-to-id mapping are updated together under one lock and never
// diverge: every uploaded index position resolves to exactly one record.
type Store struct {
	embedder domain.Embedder
	index    domain.VectorIndex
	logger   *zap.Logger

	buildBatch int
	maxTokens  int

	mu         sync.Mutex
	docstore   map[string]Record
	indexToDoc map[int]string
	built      bool
}

// New creates a Store over the given embedder and index. The store is not
// queryable until Build succeeds.
func New(embedder domain.Embedder, index domain.VectorIndex, cfg Config, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	batch := cfg.BuildBatch
	if batch <= 0 {
		batch = defaultBuildBatch
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &Store{
		embedder:   embedder,
		index:      index,
		logger:     logger,
		buildBatch: batch,
		maxTokens:  maxTokens,
		docstore:   make(map[string]Record),
		indexToDoc: make(map[int]string),
	}
}

// Build embeds texts in document mode, validates the vectors, assigns
// sequential doc ids, stores text and metadata in the docstore and uploads
// the vectors. Oversized texts and persistently failing batches are skipped
// so one bad input cannot sink the corpus, but a build that yields zero
// valid embeddings fails with ErrNoValidEmbeddings.
func (s *Store) Build(ctx context.Context, texts []string, metadatas []map[string]any) error {
	if len(texts) != len(metadatas) {
		return fmt.Errorf("text count %d does not match metadata count %d", len(texts), len(metadatas))
	}

	// Drop texts over the hard token ceiling up front.
	var keptTexts []string
	var keptMetas []map[string]any
	for i, text := range texts {
		if tokens := textproc.EstimateTokens(text); tokens > s.maxTokens {
			s.logger.Warn("skipping oversized text",
				zap.Int("position", i), zap.Int("tokens", tokens), zap.Int("ceiling", s.maxTokens))
			continue
		}
		keptTexts = append(keptTexts, text)
		keptMetas = append(keptMetas, metadatas[i])
	}

	// Embed in small outer batches; a batch whose retries are exhausted
	// is dropped rather than failing the whole build.
	var finalTexts []string
	var finalMetas []map[string]any
	var finalVecs [][]float64
	for start := 0; start < len(keptTexts); start += s.buildBatch {
		end := min(start+s.buildBatch, len(keptTexts))
		vectors, err := s.embedder.EmbedDocuments(ctx, keptTexts[start:end])
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Warn("skipping batch after embedding failure",
				zap.Int("start", start), zap.Int("end", end-1), zap.Error(err))
			continue
		}
		for i, vec := range vectors {
			if verr := embedding.Validate(vec, s.embedder.Dimension()); verr != nil {
				s.logger.Warn("dropping invalid embedding",
					zap.Int("position", start+i), zap.Error(verr))
				continue
			}
			finalTexts = append(finalTexts, keptTexts[start+i])
			finalMetas = append(finalMetas, keptMetas[start+i])
			finalVecs = append(finalVecs, vec)
		}
	}

	if len(finalVecs) == 0 {
		return fmt.Errorf("build failed: %w", ErrNoValidEmbeddings)
	}

	ids := make([]string, len(finalVecs))
	s.mu.Lock()
	s.docstore = make(map[string]Record, len(finalVecs))
	s.indexToDoc = make(map[int]string, len(finalVecs))
	for i := range finalVecs {
		id := fmt.Sprintf("doc_%d", i)
		ids[i] = id
		s.docstore[id] = Record{Text: finalTexts[i], Metadata: finalMetas[i]}
		s.indexToDoc[i] = id
	}
	s.mu.Unlock()

	if err := s.index.Upload(ctx, finalVecs, ids); err != nil {
		return fmt.Errorf("upload embeddings: %w", err)
	}

	s.mu.Lock()
	s.built = true
	s.mu.Unlock()
	s.logger.Info("vector store built",
		zap.Int("documents", len(ids)), zap.Int("skipped", len(texts)-len(ids)))
	return nil
}

// Retrieve embeds the query, searches the index for k neighbors and
// resolves their ids to stored documents in neighbor rank order, closest
// first. An empty result is valid and distinct from any error.
func (s *Store) Retrieve(ctx context.Context, query string, k int) ([]domain.ScoredDocument, error) {
	s.mu.Lock()
	built := s.built
	s.mu.Unlock()
	if !built {
		return nil, ErrNotInitialized
	}

	vec, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if err := embedding.Validate(vec, s.embedder.Dimension()); err != nil {
		return nil, err
	}

	neighbors, err := s.index.Query(ctx, vec, k)
	if err != nil {
		return nil, fmt.Errorf("search vector index: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	results := make([]domain.ScoredDocument, 0, len(neighbors))
	for _, n := range neighbors {
		rec, ok := s.docstore[n.ID]
		if !ok {
			s.logger.Warn("neighbor id missing from docstore", zap.String("id", n.ID))
			continue
		}
		results = append(results, domain.ScoredDocument{
			Text:     rec.Text,
			Metadata: rec.Metadata,
			Distance: n.Distance,
		})
	}
	return results, nil
}

// Len returns the number of stored documents.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.docstore)
}

// DocumentAt resolves an index position through the position-to-id mapping.
// It exists for consistency checks; retrieval goes through Retrieve.
func (s *Store) DocumentAt(position int) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.indexToDoc[position]
	if !ok {
		return Record{}, false
	}
	rec, ok := s.docstore[id]
	return rec, ok
}
