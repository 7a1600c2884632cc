package memory

import (
	"context"
	"testing"
)

func TestQueryRanksByCosineSimilarity(t *testing.T) {
	x := New()
	vectors := [][]float64{
		{1, 0, 0},
		{0, 1, 0},
		{0.9, 0.1, 0},
	}
	ids := []string{"doc_0", "doc_1", "doc_2"}
	if err := x.Upload(context.Background(), vectors, ids); err != nil {
		t.Fatalf("upload failed: %v", err)
	}

	got, err := x.Query(context.Background(), []float64{1, 0, 0}, 2)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 neighbors, got %d", len(got))
	}
	if got[0].ID != "doc_0" {
		t.Errorf("closest neighbor = %s, want doc_0", got[0].ID)
	}
	if got[1].ID != "doc_2" {
		t.Errorf("second neighbor = %s, want doc_2", got[1].ID)
	}
	if got[0].Distance > got[1].Distance {
		t.Errorf("distances not ascending: %v", got)
	}
}

func TestUploadLengthMismatch(t *testing.T) {
	x := New()
	err := x.Upload(context.Background(), [][]float64{{1, 0}}, []string{"a", "b"})
	if err == nil {
		t.Fatal("expected error for mismatched lengths")
	}
}

func TestUploadDimensionMismatch(t *testing.T) {
	x := New()
	if err := x.Upload(context.Background(), [][]float64{{1, 0}}, []string{"a"}); err != nil {
		t.Fatalf("first upload failed: %v", err)
	}
	err := x.Upload(context.Background(), [][]float64{{1, 0, 0}}, []string{"b"})
	if err == nil {
		t.Fatal("expected error for dimension mismatch")
	}
}

func TestQueryEmptyIndex(t *testing.T) {
	x := New()
	got, err := x.Query(context.Background(), []float64{1, 0}, 5)
	if err != nil {
		t.Fatalf("query on empty index should not error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no neighbors, got %+v", got)
	}
}
