// Package memory is the local variant of the vector index: brute-force
// cosine similarity over vectors held in process. It serves offline runs and
// tests through the same interface as the hosted index.
package memory

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"medrag/internal/domain"
)

// Index is an in-memory nearest-neighbor index.
type Index struct {
	mu      sync.RWMutex
	ids     []string
	vectors [][]float64
}

// New returns an empty in-memory index.
func New() *Index { return &Index{} }

// Upload appends vectors under their ids.
func (x *Index) Upload(_ context.Context, vectors [][]float64, ids []string) error {
	if len(vectors) != len(ids) {
		return fmt.Errorf("vector count %d does not match id count %d", len(vectors), len(ids))
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	if len(x.vectors) > 0 {
		dim := len(x.vectors[0])
		for _, v := range vectors {
			if len(v) != dim {
				return fmt.Errorf("vector dimension %d does not match index dimension %d", len(v), dim)
			}
		}
	}
	x.ids = append(x.ids, ids...)
	x.vectors = append(x.vectors, vectors...)
	return nil
}

// Query returns the topK stored vectors closest to vector by cosine
// distance, closest first.
func (x *Index) Query(_ context.Context, vector []float64, topK int) ([]domain.Neighbor, error) {
	if len(vector) == 0 {
		return nil, errors.New("empty query vector")
	}
	if topK <= 0 {
		topK = 5
	}
	x.mu.RLock()
	defer x.mu.RUnlock()

	neighbors := make([]domain.Neighbor, 0, len(x.vectors))
	for i, v := range x.vectors {
		neighbors = append(neighbors, domain.Neighbor{
			ID:       x.ids[i],
			Distance: 1 - cosine(vector, v),
		})
	}
	sort.SliceStable(neighbors, func(i, j int) bool {
		return neighbors[i].Distance < neighbors[j].Distance
	})
	if topK > len(neighbors) {
		topK = len(neighbors)
	}
	return neighbors[:topK], nil
}

func cosine(a, b []float64) float64 {
	n := min(len(a), len(b))
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
