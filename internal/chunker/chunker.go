// Package chunker splits cleaned document text into bounded-size chunks
// suitable for embedding. Splitting descends paragraph -> sentence -> word,
// so every emitted chunk stays under the token budget even for pathological
// inputs.
package chunker

import (
	"strings"

	"go.uber.org/zap"

	"medrag/internal/textproc"
)

const (
	// DefaultTargetTokens is the initial per-chunk token budget. Kept well
	// under the model maximum so embedding batches stay small.
	DefaultTargetTokens = 1000
	// DefaultModelMaxTokens is the hard ceiling a chunk may never exceed.
	DefaultModelMaxTokens = 15000
	// DefaultMinChunkChars drops fragments too short to carry meaning.
	DefaultMinChunkChars = 100
	// minParagraphChars skips stray lines before they reach chunking.
	minParagraphChars = 20
	// duplicateRatio is the length-containment ratio above which two
	// chunks count as near-duplicates.
	duplicateRatio = 0.7
)

// Chunker splits text into chunks bounded by a token budget.
type Chunker struct {
	TargetTokens   int
	ModelMaxTokens int
	MinChunkChars  int
	// Estimate overrides the token estimator; nil means
	// textproc.EstimateTokens.
	Estimate func(string) int

	logger *zap.Logger
}

// New returns a Chunker with the given budgets; zero values take defaults.
func New(targetTokens, modelMaxTokens, minChunkChars int, logger *zap.Logger) *Chunker {
	if targetTokens <= 0 {
		targetTokens = DefaultTargetTokens
	}
	if modelMaxTokens <= 0 {
		modelMaxTokens = DefaultModelMaxTokens
	}
	if minChunkChars <= 0 {
		minChunkChars = DefaultMinChunkChars
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Chunker{
		TargetTokens:   targetTokens,
		ModelMaxTokens: modelMaxTokens,
		MinChunkChars:  minChunkChars,
		logger:         logger,
	}
}

func (c *Chunker) estimate(text string) int {
	if c.Estimate != nil {
		return c.Estimate(text)
	}
	return textproc.EstimateTokens(text)
}

// Chunk cleans text and splits it into chunks of at most TargetTokens
// estimated tokens, then re-splits anything still over ModelMaxTokens and
// drops near-duplicates and fragments under MinChunkChars.
func (c *Chunker) Chunk(text string) []string {
	if text == "" {
		return nil
	}
	text = textproc.CleanText(text)

	chunks := c.split(text, c.TargetTokens)

	// Defensive re-split: if the primary pass undercounted, force the
	// chunk back through at half the target.
	var bounded []string
	for _, ch := range chunks {
		if tokens := c.estimate(ch); tokens > c.ModelMaxTokens {
			c.logger.Warn("chunk exceeds model token ceiling, splitting further",
				zap.Int("tokens", tokens), zap.Int("ceiling", c.ModelMaxTokens))
			bounded = append(bounded, c.split(ch, c.TargetTokens/2)...)
		} else {
			bounded = append(bounded, ch)
		}
	}

	var kept []string
	for _, ch := range bounded {
		if len(ch) < c.MinChunkChars {
			continue
		}
		if isNearDuplicate(ch, kept) {
			continue
		}
		kept = append(kept, ch)
	}
	return kept
}

// split produces chunks of at most maxTokens estimated tokens, descending
// paragraph -> sentence -> word only when the current unit is too large.
func (c *Chunker) split(text string, maxTokens int) []string {
	if maxTokens < 1 {
		maxTokens = 1
	}
	var chunks []string
	var current strings.Builder
	currentTokens := 0

	flush := func() {
		if current.Len() > 0 {
			chunks = append(chunks, current.String())
			current.Reset()
			currentTokens = 0
		}
	}

	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if len(para) < minParagraphChars {
			continue
		}
		paraTokens := c.estimate(para)

		if paraTokens > maxTokens {
			flush()
			chunks = append(chunks, c.splitSentences(para, maxTokens)...)
			continue
		}
		if currentTokens+paraTokens <= maxTokens {
			if current.Len() > 0 {
				current.WriteString(" ")
			}
			current.WriteString(para)
			currentTokens += paraTokens
			continue
		}
		flush()
		current.WriteString(para)
		currentTokens = paraTokens
	}
	flush()
	return chunks
}

func (c *Chunker) splitSentences(para string, maxTokens int) []string {
	var chunks []string
	var current strings.Builder
	currentTokens := 0

	flush := func() {
		if current.Len() > 0 {
			chunks = append(chunks, current.String())
			current.Reset()
			currentTokens = 0
		}
	}

	for _, sentence := range splitIntoSentences(para) {
		sentence = strings.TrimSpace(sentence)
		if sentence == "" {
			continue
		}
		sentenceTokens := c.estimate(sentence)

		if sentenceTokens > maxTokens {
			flush()
			chunks = append(chunks, c.splitWords(sentence, maxTokens)...)
			continue
		}
		if currentTokens+sentenceTokens <= maxTokens {
			if current.Len() > 0 {
				current.WriteString(" ")
			}
			current.WriteString(sentence)
			currentTokens += sentenceTokens
			continue
		}
		flush()
		current.WriteString(sentence)
		currentTokens = sentenceTokens
	}
	flush()
	return chunks
}

// splitWords is the terminal level: plain accumulation over whitespace-split
// words, so it terminates no matter how the estimator behaves on the input.
func (c *Chunker) splitWords(sentence string, maxTokens int) []string {
	var chunks []string
	var current strings.Builder
	currentTokens := 0

	for _, word := range strings.Fields(sentence) {
		wordTokens := c.estimate(word + " ")
		if currentTokens+wordTokens > maxTokens && current.Len() > 0 {
			chunks = append(chunks, strings.TrimSpace(current.String()))
			current.Reset()
			currentTokens = 0
		}
		current.WriteString(word)
		current.WriteString(" ")
		currentTokens += wordTokens
	}
	if current.Len() > 0 {
		chunks = append(chunks, strings.TrimSpace(current.String()))
	}
	return chunks
}

// splitIntoSentences splits on sentence-ending punctuation followed by
// whitespace.
func splitIntoSentences(text string) []string {
	var sentences []string
	start := 0
	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		switch runes[i] {
		case '.', '!', '?':
			if i+1 >= len(runes) || runes[i+1] == ' ' || runes[i+1] == '\n' || runes[i+1] == '\t' {
				sentences = append(sentences, string(runes[start:i+1]))
				start = i + 1
			}
		}
	}
	if start < len(runes) {
		sentences = append(sentences, string(runes[start:]))
	}
	return sentences
}

// isNearDuplicate reports whether chunk is contained in (or contains) an
// already-kept chunk with a length ratio above duplicateRatio. First
// occurrence wins.
func isNearDuplicate(chunk string, kept []string) bool {
	for _, existing := range kept {
		shorter, longer := chunk, existing
		if len(shorter) > len(longer) {
			shorter, longer = longer, shorter
		}
		if !strings.Contains(longer, shorter) {
			continue
		}
		if float64(len(shorter))/float64(len(longer)) > duplicateRatio {
			return true
		}
	}
	return false
}
