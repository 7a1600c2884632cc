// Package retriever is the thin façade the conversational layer consumes:
// top-k relevant documents for a query.
package retriever

import (
	"context"

	"medrag/internal/domain"
	"medrag/internal/vectorstore"
)

// DefaultTopK is used when a caller passes a non-positive k.
const DefaultTopK = 5

// Retriever answers top-k relevance queries against a built vector store.
type Retriever struct {
	store *vectorstore.Store
}

// New wraps a vector store.
func New(store *vectorstore.Store) *Retriever {
	return &Retriever{store: store}
}

// Retrieve returns the k most relevant stored documents for the query,
// closest first.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int) ([]domain.ScoredDocument, error) {
	if k <= 0 {
		k = DefaultTopK
	}
	return r.store.Retrieve(ctx, query, k)
}
