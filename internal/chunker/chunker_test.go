package chunker

import (
	"fmt"
	"strings"
	"testing"

	"go.uber.org/zap"
)

// clinicalText builds n distinct sentences so deduplication does not
// collapse the output.
func clinicalText(n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "Case %d presented with a persistent cough and a high fever lasting several days. ", i)
	}
	return b.String()
}

// charEstimate is the deterministic len/4 estimator used throughout these
// tests so they do not depend on tokenizer data.
func charEstimate(s string) int { return len(s) / 4 }

func newTestChunker(target, modelMax, minChars int) *Chunker {
	c := New(target, modelMax, minChars, zap.NewNop())
	c.Estimate = charEstimate
	return c
}

func TestChunkRespectsTokenCeiling(t *testing.T) {
	c := newTestChunker(50, 15000, 20)
	chunks := c.Chunk(clinicalText(30))
	if len(chunks) < 2 {
		t.Fatalf("expected at least 2 chunks, got %d", len(chunks))
	}
	for i, ch := range chunks {
		if tokens := charEstimate(ch); tokens > 50 {
			t.Errorf("chunk %d has %d estimated tokens, ceiling is 50", i, tokens)
		}
	}
}

func TestChunkDropsShortFragments(t *testing.T) {
	c := newTestChunker(50, 15000, 20)
	text := strings.Repeat("A long enough paragraph about pediatric pneumonia symptoms. ", 10) +
		"\n\nshort"

	for i, ch := range c.Chunk(text) {
		if len(ch) < 20 {
			t.Errorf("chunk %d is below minimum length: %q", i, ch)
		}
	}
}

func TestChunkDropsNearDuplicates(t *testing.T) {
	c := newTestChunker(1000, 15000, 20)
	para := "Severe pneumonia requires hospital referral and oxygen therapy for the child patient."
	// Second paragraph is fully contained in the first with >70% length ratio.
	text := para + "\n\n" + para

	chunks := c.Chunk(text)
	count := 0
	for _, ch := range chunks {
		if strings.Contains(ch, "oxygen therapy") {
			count++
		}
	}
	if count != 1 {
		t.Errorf("near-duplicate survived: found %d chunks containing the passage", count)
	}
}

func TestChunkFirstOccurrenceWins(t *testing.T) {
	c := newTestChunker(30, 15000, 20)
	first := "Unique first paragraph describing the initial presentation of malaria in infants."
	text := first + "\n\n" + first + " extra"

	chunks := c.Chunk(text)
	if len(chunks) == 0 {
		t.Fatal("expected at least one chunk")
	}
	if chunks[0] != first {
		t.Errorf("first occurrence not preserved: %q", chunks[0])
	}
}

func TestChunkWordLevelFallbackTerminates(t *testing.T) {
	c := newTestChunker(10, 15000, 1)
	// One giant "sentence" with no terminal punctuation forces the word
	// accumulation path.
	text := strings.Repeat("verylongclinicalterm ", 200)

	chunks := c.Chunk(text)
	if len(chunks) == 0 {
		t.Fatal("expected chunks from word-level fallback")
	}
	for i, ch := range chunks {
		if charEstimate(ch) > 10+charEstimate("verylongclinicalterm ") {
			t.Errorf("chunk %d grossly exceeds word-level budget: %d tokens", i, charEstimate(ch))
		}
	}
}

func TestChunkOversizedSingleWord(t *testing.T) {
	c := newTestChunker(5, 15000, 1)
	// A single word larger than the budget must still terminate and be
	// emitted rather than looping.
	chunks := c.Chunk(strings.Repeat("x", 400))
	if len(chunks) == 0 {
		t.Fatal("expected a chunk for an oversized single word")
	}
}

func TestChunkEmptyInput(t *testing.T) {
	c := newTestChunker(50, 15000, 20)
	if chunks := c.Chunk(""); chunks != nil {
		t.Errorf("expected nil for empty input, got %v", chunks)
	}
}

func TestChunkScenarioLongAndShort(t *testing.T) {
	c := newTestChunker(50, 15000, 20)
	text := clinicalText(25) + "\n\nshort"

	chunks := c.Chunk(text)
	if len(chunks) < 2 {
		t.Fatalf("expected at least 2 chunks, got %d", len(chunks))
	}
	for i, ch := range chunks {
		if charEstimate(ch) > 50 {
			t.Errorf("chunk %d exceeds 50-token budget", i)
		}
		if ch == "short" {
			t.Errorf("sub-minimum fragment survived at %d", i)
		}
	}
}
