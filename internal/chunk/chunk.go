// Package chunk implements the Chunker & Post-Processors from spec.md
// §4.10: six chunking strategies sharing a common contract, a table
// extractor, and a regex-pattern field extractor. Token counts use a fast
// word-count approximation by default (word count × 1.3, per spec.md) with
// an exact tiktoken-go count available on demand, kept textually separate
// per SPEC_FULL §D.3. HTML traversal is grounded on the teacher's
// golang.org/x/net/html walk idiom in
// internal/shards/researcher/scraper.go's extractAtomsFromHTML/
// extractTextContent, generalized from knowledge-atom extraction to chunk
// boundaries.
package chunk

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"riptide/internal/riperrors"
)

// Strategy names the chunking algorithm that produced a Chunk.
type Strategy string

const (
	StrategySliding   Strategy = "sliding"
	StrategyFixed     Strategy = "fixed"
	StrategySentence  Strategy = "sentence"
	StrategyRegex     Strategy = "regex"
	StrategyHTMLAware Strategy = "html_aware"
	StrategyTopic     Strategy = "topic"
)

// Metadata carries the per-chunk quality signals spec.md §4.10 requires.
type Metadata struct {
	QualityScore      float64  `json:"quality_score"`
	SentenceCount     int      `json:"sentence_count"`
	CompleteSentences bool     `json:"complete_sentences"`
	TopicKeywords     []string `json:"topic_keywords,omitempty"`
	Strategy          Strategy `json:"strategy"`
}

// Chunk is one unit produced by a chunking strategy. ApproxTokens is always
// populated synchronously by the strategy; PreciseTokens stays zero unless
// a caller opts in via WithPreciseTokens, per SPEC_FULL §D.3 — the two
// stay textually distinct rather than one field overwriting the other.
type Chunk struct {
	ID            string   `json:"id"`
	Text          string   `json:"text"`
	ByteStart     int      `json:"byte_start"`
	ByteEnd       int      `json:"byte_end"`
	ApproxTokens  int      `json:"approx_tokens"`
	PreciseTokens int      `json:"precise_tokens,omitempty"`
	ChunkIndex    int      `json:"chunk_index"`
	TotalChunks   int      `json:"total_chunks"`
	Metadata      Metadata `json:"metadata"`
}

// Chunker is the common contract every strategy implements: chunk(text) →
// list<Chunk>, with a hard SLA of 200ms for a 50KiB input (spec.md §4.10).
// Callers needing the SLA enforced should use ChunkWithSLA.
type Chunker interface {
	Chunk(text string) ([]Chunk, error)
}

const slaInputSize = 50 * 1024
const slaDuration = 200 * time.Millisecond

// options carries the optional behaviors ChunkWithSLA accepts.
type options struct {
	precise bool
}

// Option configures ChunkWithSLA's optional behavior.
type Option func(*options)

// WithPreciseTokens requests the exact tiktoken-go count be computed and
// stored in PreciseTokens alongside the fast approximation, rather than
// replacing it (spec.md Open Question 3 / SPEC_FULL §D.3).
func WithPreciseTokens(enabled bool) Option {
	return func(o *options) { o.precise = enabled }
}

// ChunkWithSLA runs c.Chunk and reports a Timeout error if a 50KiB-class
// input took longer than the SLA, without aborting the (already complete)
// computation — the SLA is observability, not cancellation, since Go's
// chunking strategies here are synchronous and CPU-bound.
func ChunkWithSLA(c Chunker, text string, opts ...Option) ([]Chunk, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	start := time.Now()
	chunks, err := c.Chunk(text)
	if err != nil {
		return nil, err
	}
	if o.precise {
		chunks = ApplyPreciseTokenCounts(chunks)
	}
	if len(text) <= slaInputSize*2 {
		if elapsed := time.Since(start); elapsed > slaDuration {
			return chunks, riperrors.New(riperrors.Timeout, "chunk.ChunkWithSLA",
				fmt.Sprintf("chunking exceeded SLA: %s for %d bytes", elapsed, len(text)))
		}
	}
	return chunks, nil
}

// approxTokenCount is the fast-path estimate: word count × 1.3, rounded to the nearest integer.
func approxTokenCount(text string) int {
	words := len(strings.Fields(text))
	return int(float64(words)*1.3 + 0.5)
}

// chunkID derives a stable id from the source text slice and index so
// identical inputs produce identical ids across runs.
func chunkID(text string, index int) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%d:%s", index, text)))
	return hex.EncodeToString(h[:])[:16]
}

// sentenceBoundaries finds byte offsets immediately after sentence-ending
// punctuation (. ! ?) followed by whitespace or end of string. A light
// heuristic, not a full sentence tokenizer — adequate for the Sentence and
// Topic strategies' boundary needs.
func sentenceBoundaries(text string) []int {
	var bounds []int
	for i, r := range text {
		if r == '.' || r == '!' || r == '?' {
			next := i + 1
			if next >= len(text) || text[next] == ' ' || text[next] == '\n' || text[next] == '\t' {
				bounds = append(bounds, next)
			}
		}
	}
	if len(bounds) == 0 || bounds[len(bounds)-1] != len(text) {
		bounds = append(bounds, len(text))
	}
	return bounds
}

func countSentences(text string) int {
	bounds := sentenceBoundaries(text)
	if strings.TrimSpace(text) == "" {
		return 0
	}
	return len(bounds)
}

// endsWithSentencePunctuation reports whether text (after trimming
// trailing whitespace) ends on sentence-ending punctuation, used to set
// Metadata.CompleteSentences.
func endsWithSentencePunctuation(text string) bool {
	trimmed := strings.TrimRightFunc(text, func(r rune) bool {
		return r == ' ' || r == '\n' || r == '\t'
	})
	if trimmed == "" {
		return false
	}
	last := trimmed[len(trimmed)-1]
	return last == '.' || last == '!' || last == '?'
}

// qualityScore is a lightweight heuristic: longer, sentence-complete
// chunks with moderate word length score higher than tiny or truncated
// fragments. Clamped to [0,1].
func qualityScore(text string, completeSentences bool) float64 {
	words := len(strings.Fields(text))
	score := 0.5
	switch {
	case words >= 50:
		score += 0.3
	case words >= 15:
		score += 0.15
	}
	if completeSentences {
		score += 0.2
	}
	if score > 1 {
		score = 1
	}
	if score < 0 {
		score = 0
	}
	return score
}

func finalize(chunks []Chunk, strategy Strategy) []Chunk {
	total := len(chunks)
	for i := range chunks {
		chunks[i].ChunkIndex = i
		chunks[i].TotalChunks = total
		chunks[i].Metadata.Strategy = strategy
	}
	return chunks
}
