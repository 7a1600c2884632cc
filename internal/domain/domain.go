package domain

import "context"

// SourceDocument is a single extracted document as delivered by the
// document-extraction pipeline: raw text plus whatever metadata the
// extractor attached.
type SourceDocument struct {
	Text     string
	Metadata map[string]any
}

// Chunk is a bounded span of cleaned text prepared for embedding.
type Chunk struct {
	Text   string
	Tokens int
	Source string
	Index  int
	Total  int
}

// Neighbor is one hit from a nearest-neighbor query, closest first.
type Neighbor struct {
	ID       string
	Distance float64
}

// ScoredDocument is a retrieved document with its neighbor distance.
type ScoredDocument struct {
	Text     string
	Metadata map[string]any
	Distance float64
}

// Embedder converts text into fixed-dimension vectors. Query and document
// embeddings may use different task modes on the remote model, so the two
// operations are separate.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float64, error)
	EmbedDocuments(ctx context.Context, texts []string) ([][]float64, error)
	Dimension() int
}

// VectorIndex stores embedding vectors under caller-assigned ids and answers
// nearest-neighbor queries against them.
type VectorIndex interface {
	Upload(ctx context.Context, vectors [][]float64, ids []string) error
	Query(ctx context.Context, vector []float64, topK int) ([]Neighbor, error)
}

// Retriever finds the k most relevant stored documents for a query.
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) ([]ScoredDocument, error)
}
