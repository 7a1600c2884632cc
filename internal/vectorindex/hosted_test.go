package vectorindex

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"medrag/internal/retry"
)

// indexServer fakes the hosted index endpoint, recording upsert batch sizes
// and optionally failing the first N upserts or queries.
type indexServer struct {
	mu           sync.Mutex
	requests     int
	upsertSizes  []int
	failUpserts  int
	failQueries  int
	failStatus   int
	neighbors    []map[string]any
	failureCount int
}

func (s *indexServer) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.requests++
		switch {
		case r.Method == http.MethodGet:
			w.Write([]byte(`{}`))
		case strings.HasSuffix(r.URL.Path, "/upsert"):
			var body struct {
				Datapoints []json.RawMessage `json:"datapoints"`
			}
			json.NewDecoder(r.Body).Decode(&body)
			s.upsertSizes = append(s.upsertSizes, len(body.Datapoints))
			if s.failUpserts > 0 {
				s.failUpserts--
				s.failureCount++
				http.Error(w, `{"message":"quota exceeded"}`, s.failStatus)
				return
			}
			w.Write([]byte(`{}`))
		case strings.HasSuffix(r.URL.Path, "/query"):
			if s.failQueries > 0 {
				s.failQueries--
				s.failureCount++
				http.Error(w, `{"message":"unavailable"}`, s.failStatus)
				return
			}
			json.NewEncoder(w).Encode(map[string]any{"neighbors": s.neighbors})
		default:
			http.NotFound(w, r)
		}
	})
}

func newTestHosted(url string, uploadBatch int) *Hosted {
	h := NewHosted(HostedConfig{
		BaseURL:     url,
		IndexName:   "clinical-corpus",
		UploadBatch: uploadBatch,
	}, zap.NewNop())
	instant := func(context.Context, time.Duration) error { return nil }
	h.sleep = instant
	h.policy.Sleep = instant
	return h
}

func vecs(n, dim int) [][]float64 {
	out := make([][]float64, n)
	for i := range out {
		v := make([]float64, dim)
		v[i%dim] = 1
		out[i] = v
	}
	return out
}

func idsFor(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = "doc_" + string(rune('0'+i%10))
	}
	return out
}

func TestUploadLengthMismatchNoRemoteCall(t *testing.T) {
	srv := &indexServer{}
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()
	h := newTestHosted(ts.URL, 0)

	err := h.Upload(context.Background(), vecs(3, 4), idsFor(2))
	if err == nil {
		t.Fatal("expected validation error for mismatched lengths")
	}
	if srv.requests != 0 {
		t.Errorf("expected no remote calls, got %d", srv.requests)
	}
}

func TestUploadBatches(t *testing.T) {
	srv := &indexServer{}
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()
	h := newTestHosted(ts.URL, 10)

	if err := h.Upload(context.Background(), vecs(25, 4), idsFor(25)); err != nil {
		t.Fatalf("upload failed: %v", err)
	}
	want := []int{10, 10, 5}
	if len(srv.upsertSizes) != len(want) {
		t.Fatalf("expected %d batches, got %v", len(want), srv.upsertSizes)
	}
	for i, n := range want {
		if srv.upsertSizes[i] != n {
			t.Errorf("batch %d size = %d, want %d", i, srv.upsertSizes[i], n)
		}
	}
}

func TestUploadShrinksBatchOnQuota(t *testing.T) {
	srv := &indexServer{failUpserts: 1, failStatus: http.StatusTooManyRequests}
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()
	h := newTestHosted(ts.URL, 40)

	if err := h.Upload(context.Background(), vecs(40, 4), idsFor(40)); err != nil {
		t.Fatalf("upload failed: %v", err)
	}
	if len(srv.upsertSizes) < 2 {
		t.Fatalf("expected a retry, got %v", srv.upsertSizes)
	}
	if srv.upsertSizes[1] >= srv.upsertSizes[0] {
		t.Errorf("retry batch %d not smaller than first %d",
			srv.upsertSizes[1], srv.upsertSizes[0])
	}
}

func TestUploadAbortsAfterExhaustion(t *testing.T) {
	srv := &indexServer{failUpserts: 100, failStatus: http.StatusTooManyRequests}
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()
	h := newTestHosted(ts.URL, 10)

	err := h.Upload(context.Background(), vecs(30, 4), idsFor(30))
	if !errors.Is(err, retry.ErrExhausted) {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}
}

func TestQueryReturnsNeighborsInOrder(t *testing.T) {
	srv := &indexServer{neighbors: []map[string]any{
		{"id": "doc_1", "distance": 0.1},
		{"id": "doc_0", "distance": 0.4},
	}}
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()
	h := newTestHosted(ts.URL, 0)

	got, err := h.Query(context.Background(), []float64{1, 0}, 2)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(got) != 2 || got[0].ID != "doc_1" || got[1].ID != "doc_0" {
		t.Errorf("neighbor order not preserved: %+v", got)
	}
}

func TestQueryEmptyResultIsNotError(t *testing.T) {
	srv := &indexServer{neighbors: []map[string]any{}}
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()
	h := newTestHosted(ts.URL, 0)

	got, err := h.Query(context.Background(), []float64{1, 0}, 5)
	if err != nil {
		t.Fatalf("empty result should not be an error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no neighbors, got %+v", got)
	}
}

func TestQueryRetriesTransientFailures(t *testing.T) {
	srv := &indexServer{
		failQueries: 2,
		failStatus:  http.StatusInternalServerError,
		neighbors:   []map[string]any{{"id": "doc_0", "distance": 0.2}},
	}
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()
	h := newTestHosted(ts.URL, 0)

	got, err := h.Query(context.Background(), []float64{1, 0}, 1)
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if len(got) != 1 {
		t.Errorf("expected 1 neighbor, got %+v", got)
	}
}

func TestEnsureReadyIsIdempotent(t *testing.T) {
	srv := &indexServer{neighbors: []map[string]any{}}
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()
	h := newTestHosted(ts.URL, 0)

	for i := 0; i < 3; i++ {
		if _, err := h.Query(context.Background(), []float64{1}, 1); err != nil {
			t.Fatalf("query %d failed: %v", i, err)
		}
	}
	// One init GET plus three queries.
	if srv.requests != 4 {
		t.Errorf("expected 4 remote calls, got %d", srv.requests)
	}
}
