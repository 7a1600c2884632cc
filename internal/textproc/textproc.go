// Package textproc provides token estimation, cleaning and relevance
// filtering for extracted document text.
package textproc

import (
	"regexp"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// MinContentLength is the shortest document text considered worth indexing.
const MinContentLength = 30

var (
	encoderOnce sync.Once
	encoder     *tiktoken.Tiktoken
)

// EstimateTokens returns an estimated token count for text. It uses the
// cl100k_base tokenizer when available and falls back to len/4 when the
// encoder cannot be constructed. The result is a bounded estimate, not an
// exact count.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	encoderOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			encoder = enc
		}
	})
	if encoder == nil {
		return len(text) / 4
	}
	return len(encoder.Encode(text, nil, nil))
}

var (
	spaceRun      = regexp.MustCompile(`[ \t]+`)
	missingSpace  = regexp.MustCompile(`\.([A-Z])`)
	blankLineRun  = regexp.MustCompile(`\n{3,}`)
	pageFooter    = regexp.MustCompile(`\n+Page \d+ of \d+\n+`)
	noisyPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)^(References|Bibliography|Foreword|Preface|Acknowledgements|Acknowledgment|Index|Appendix)$`),
		regexp.MustCompile(`(?i)^(Page \d+ of \d+)$`),
		regexp.MustCompile(`(?i)^\d+\.\s+[A-Za-z]+.*\d{4};.*https?://doi\.org`),
		regexp.MustCompile(`(?i)^\d+\.\s+[A-Za-z]+.*\d{4};.*\d+:\d+`),
		regexp.MustCompile(`(?i)^[A-Za-z]+ [A-Za-z]+\..*\d{4};.*https?://doi\.org`),
		regexp.MustCompile(`(?i)^[A-Za-z]+ [A-Za-z]+\..*\d{4};.*\d+:\d+`),
	}
)

// CleanText normalizes extracted text before chunking: collapses runs of
// spaces and tabs, restores the missing space after sentence-ending periods,
// collapses repeated blank lines and strips page-number footers. Paragraph
// breaks (double newlines) are preserved so the chunker can split on them.
func CleanText(text string) string {
	text = pageFooter.ReplaceAllString(text, "\n")
	text = spaceRun.ReplaceAllString(text, " ")
	text = missingSpace.ReplaceAllString(text, ". $1")
	text = blankLineRun.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// IsRelevant reports whether document text is worth indexing at all.
// Bibliography headings, bare page-number lines and citation-only lines are
// noise, as is anything shorter than MinContentLength.
func IsRelevant(text string) bool {
	if len(strings.TrimSpace(text)) < MinContentLength {
		return false
	}
	for _, p := range noisyPatterns {
		if p.MatchString(text) {
			return false
		}
	}
	return true
}
