package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"go.uber.org/zap"

	"medrag/internal/vectorindex/memory"
)

// stubEmbedder deterministically assigns an orthogonal unit vector to each
// distinct text, so the in-memory index retrieves exact matches first.
type stubEmbedder struct {
	dim       int
	assigned  map[string][]float64
	zeroTexts map[string]bool
	failTexts map[string]bool
}

func newStubEmbedder(dim int) *stubEmbedder {
	return &stubEmbedder{dim: dim, assigned: make(map[string][]float64)}
}

func (e *stubEmbedder) vector(text string) []float64 {
	if v, ok := e.assigned[text]; ok {
		return v
	}
	v := make([]float64, e.dim)
	v[len(e.assigned)%e.dim] = 1
	e.assigned[text] = v
	return v
}

func (e *stubEmbedder) EmbedQuery(_ context.Context, text string) ([]float64, error) {
	return e.vector(text), nil
}

func (e *stubEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, text := range texts {
		if e.failTexts[text] {
			return nil, fmt.Errorf("embedding failed for batch")
		}
		if e.zeroTexts[text] {
			out[i] = make([]float64, e.dim)
			continue
		}
		out[i] = e.vector(text)
	}
	return out, nil
}

func (e *stubEmbedder) Dimension() int { return e.dim }

func metas(n int) []map[string]any {
	out := make([]map[string]any, n)
	for i := range out {
		out[i] = map[string]any{"id": i}
	}
	return out
}

func newTestStore(e *stubEmbedder, cfg Config) *Store {
	return New(e, memory.New(), cfg, zap.NewNop())
}

func TestRetrieveBeforeBuild(t *testing.T) {
	s := newTestStore(newStubEmbedder(4), Config{})
	_, err := s.Retrieve(context.Background(), "anything", 1)
	if !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
}

func TestBuildAndRetrieveExactMatch(t *testing.T) {
	texts := []string{
		"Pneumonia presents with fast breathing.",
		"Malaria presents with cyclical fever.",
		"Tuberculosis presents with chronic cough.",
	}
	s := newTestStore(newStubEmbedder(4), Config{})
	if err := s.Build(context.Background(), texts, metas(3)); err != nil {
		t.Fatalf("build failed: %v", err)
	}

	got, err := s.Retrieve(context.Background(), texts[1], 1)
	if err != nil {
		t.Fatalf("retrieve failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 document, got %d", len(got))
	}
	if got[0].Text != texts[1] {
		t.Errorf("retrieved %q, want %q", got[0].Text, texts[1])
	}
	if id, _ := got[0].Metadata["id"].(int); id != 1 {
		t.Errorf("retrieved metadata id = %v, want 1", got[0].Metadata["id"])
	}
}

func TestBuildIndexAlignment(t *testing.T) {
	texts := []string{"alpha passage text", "bravo passage text", "charlie passage text"}
	s := newTestStore(newStubEmbedder(4), Config{})
	if err := s.Build(context.Background(), texts, metas(3)); err != nil {
		t.Fatalf("build failed: %v", err)
	}

	for i, text := range texts {
		rec, ok := s.DocumentAt(i)
		if !ok {
			t.Fatalf("position %d missing from mapping", i)
		}
		if rec.Text != text {
			t.Errorf("position %d resolves to %q, want %q", i, rec.Text, text)
		}
	}
	if s.Len() != len(texts) {
		t.Errorf("docstore size = %d, want %d", s.Len(), len(texts))
	}
}

func TestBuildDropsInvalidEmbeddingsInLockstep(t *testing.T) {
	e := newStubEmbedder(4)
	e.zeroTexts = map[string]bool{"broken passage text": true}
	texts := []string{"first passage text", "broken passage text", "third passage text"}

	s := newTestStore(e, Config{})
	if err := s.Build(context.Background(), texts, metas(3)); err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if s.Len() != 2 {
		t.Fatalf("expected 2 surviving documents, got %d", s.Len())
	}
	// Positions stay dense and aligned with the surviving texts.
	rec0, _ := s.DocumentAt(0)
	rec1, _ := s.DocumentAt(1)
	if rec0.Text != texts[0] || rec1.Text != texts[2] {
		t.Errorf("surviving texts misaligned: %q, %q", rec0.Text, rec1.Text)
	}
	if id, _ := rec1.Metadata["id"].(int); id != 2 {
		t.Errorf("metadata not dropped in lockstep: %v", rec1.Metadata)
	}
}

func TestBuildSkipsFailingBatch(t *testing.T) {
	e := newStubEmbedder(4)
	e.failTexts = map[string]bool{"poison passage text": true}
	texts := []string{"good passage one", "poison passage text", "good passage two"}

	s := newTestStore(e, Config{BuildBatch: 1})
	if err := s.Build(context.Background(), texts, metas(3)); err != nil {
		t.Fatalf("build should survive one failing batch: %v", err)
	}
	if s.Len() != 2 {
		t.Errorf("expected 2 documents after skipping failed batch, got %d", s.Len())
	}
}

func TestBuildFailsWithNoValidEmbeddings(t *testing.T) {
	e := newStubEmbedder(4)
	e.failTexts = map[string]bool{"only passage text": true}

	s := newTestStore(e, Config{})
	err := s.Build(context.Background(), []string{"only passage text"}, metas(1))
	if !errors.Is(err, ErrNoValidEmbeddings) {
		t.Fatalf("expected ErrNoValidEmbeddings, got %v", err)
	}
	if _, rerr := s.Retrieve(context.Background(), "q", 1); !errors.Is(rerr, ErrNotInitialized) {
		t.Errorf("store should stay uninitialized after failed build, got %v", rerr)
	}
}

func TestBuildSkipsOversizedTexts(t *testing.T) {
	e := newStubEmbedder(4)
	huge := strings.Repeat("pneumonia fever referral oxygen ", 50)
	texts := []string{huge, "short passage text"}

	s := newTestStore(e, Config{MaxTokens: 10})
	if err := s.Build(context.Background(), texts, metas(2)); err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if s.Len() != 1 {
		t.Fatalf("expected oversized text to be skipped, got %d documents", s.Len())
	}
	rec, _ := s.DocumentAt(0)
	if rec.Text != "short passage text" {
		t.Errorf("wrong survivor: %q", rec.Text)
	}
}

func TestBuildLengthMismatch(t *testing.T) {
	s := newTestStore(newStubEmbedder(4), Config{})
	err := s.Build(context.Background(), []string{"a", "b"}, metas(1))
	if err == nil {
		t.Fatal("expected error for mismatched texts/metadatas")
	}
}

func TestRetrieveIdempotent(t *testing.T) {
	texts := []string{"stable passage one", "stable passage two", "stable passage three"}
	s := newTestStore(newStubEmbedder(4), Config{})
	if err := s.Build(context.Background(), texts, metas(3)); err != nil {
		t.Fatalf("build failed: %v", err)
	}

	first, err := s.Retrieve(context.Background(), "stable passage two", 2)
	if err != nil {
		t.Fatalf("retrieve failed: %v", err)
	}
	second, err := s.Retrieve(context.Background(), "stable passage two", 2)
	if err != nil {
		t.Fatalf("second retrieve failed: %v", err)
	}
	if len(first) != len(second) {
		t.Fatalf("result sizes differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].Text != second[i].Text {
			t.Errorf("rank %d differs between identical retrievals", i)
		}
	}
}
