package chunk

import (
	"regexp"
	"strings"

	"riptide/internal/riperrors"
)

// SlidingChunker splits by a fixed token window with overlap, preserving
// token boundaries (approximated by word boundaries in the fast path).
type SlidingChunker struct {
	WindowTokens  int
	OverlapTokens int
}

func (s SlidingChunker) Chunk(text string) ([]Chunk, error) {
	if s.WindowTokens <= 0 {
		return nil, riperrors.New(riperrors.Validation, "chunk.Sliding", "window_tokens must be > 0")
	}
	if s.OverlapTokens >= s.WindowTokens {
		return nil, riperrors.New(riperrors.Validation, "chunk.Sliding", "overlap_tokens must be < window_tokens")
	}
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil, nil
	}
	step := s.WindowTokens - s.OverlapTokens
	var chunks []Chunk
	for start := 0; start < len(words); start += step {
		end := start + s.WindowTokens
		if end > len(words) {
			end = len(words)
		}
		chunkText := strings.Join(words[start:end], " ")
		chunks = append(chunks, newChunk(chunkText, offsetOfWord(text, words, start), offsetOfWord(text, words, end)))
		if end == len(words) {
			break
		}
	}
	return finalize(chunks, StrategySliding), nil
}

// offsetOfWord approximates the byte offset of the Nth space-delimited
// word for ByteStart/ByteEnd reporting; exact for whitespace-normalized
// text, best-effort otherwise (acceptable since these are reporting
// fields, not re-slicing keys).
func offsetOfWord(text string, words []string, n int) int {
	if n <= 0 {
		return 0
	}
	if n >= len(words) {
		return len(text)
	}
	prefix := strings.Join(words[:n], " ")
	return len(prefix)
}

func newChunk(text string, byteStart, byteEnd int) Chunk {
	complete := endsWithSentencePunctuation(text)
	return Chunk{
		ID:           chunkID(text, byteStart),
		Text:         text,
		ByteStart:    byteStart,
		ByteEnd:      byteEnd,
		ApproxTokens: approxTokenCount(text),
		Metadata: Metadata{
			QualityScore:      qualityScore(text, complete),
			SentenceCount:     countSentences(text),
			CompleteSentences: complete,
		},
	}
}

// FixedChunker splits by a fixed size, either in characters or tokens
// (approximated as words when ByTokens is set).
type FixedChunker struct {
	Size     int
	ByTokens bool
}

func (f FixedChunker) Chunk(text string) ([]Chunk, error) {
	if f.Size <= 0 {
		return nil, riperrors.New(riperrors.Validation, "chunk.Fixed", "size must be > 0")
	}
	var chunks []Chunk
	if f.ByTokens {
		words := strings.Fields(text)
		for start := 0; start < len(words); start += f.Size {
			end := start + f.Size
			if end > len(words) {
				end = len(words)
			}
			chunkText := strings.Join(words[start:end], " ")
			chunks = append(chunks, newChunk(chunkText, offsetOfWord(text, words, start), offsetOfWord(text, words, end)))
		}
		return finalize(chunks, StrategyFixed), nil
	}
	for start := 0; start < len(text); start += f.Size {
		end := start + f.Size
		if end > len(text) {
			end = len(text)
		}
		chunks = append(chunks, newChunk(text[start:end], start, end))
	}
	return finalize(chunks, StrategyFixed), nil
}

// SentenceChunker groups up to MaxSentences sentences per chunk,
// preserving sentence boundaries exactly.
type SentenceChunker struct {
	MaxSentences int
}

func (s SentenceChunker) Chunk(text string) ([]Chunk, error) {
	if s.MaxSentences <= 0 {
		return nil, riperrors.New(riperrors.Validation, "chunk.Sentence", "max_sentences must be > 0")
	}
	bounds := sentenceBoundaries(text)
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	var chunks []Chunk
	start := 0
	for i := 0; i < len(bounds); i += s.MaxSentences {
		end := i + s.MaxSentences
		if end > len(bounds) {
			end = len(bounds)
		}
		boundary := bounds[end-1]
		if boundary > len(text) {
			boundary = len(text)
		}
		chunkText := strings.TrimSpace(text[start:boundary])
		if chunkText != "" {
			chunks = append(chunks, newChunk(chunkText, start, boundary))
		}
		start = boundary
	}
	return finalize(chunks, StrategySentence), nil
}

// RegexChunker splits on every match of Pattern, discarding matches
// shorter than MinChunkSize by merging them into the following chunk.
type RegexChunker struct {
	Pattern      *regexp.Regexp
	MinChunkSize int
}

func (r RegexChunker) Chunk(text string) ([]Chunk, error) {
	if r.Pattern == nil {
		return nil, riperrors.New(riperrors.Validation, "chunk.Regex", "pattern must not be nil")
	}
	locs := r.Pattern.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		if strings.TrimSpace(text) == "" {
			return nil, nil
		}
		return finalize([]Chunk{newChunk(text, 0, len(text))}, StrategyRegex), nil
	}

	var rawSplits []string
	var rawStarts []int
	prev := 0
	for _, loc := range locs {
		rawSplits = append(rawSplits, text[prev:loc[0]])
		rawStarts = append(rawStarts, prev)
		prev = loc[1]
	}
	rawSplits = append(rawSplits, text[prev:])
	rawStarts = append(rawStarts, prev)

	var chunks []Chunk
	var pending string
	pendingStart := -1
	for i, piece := range rawSplits {
		if pendingStart == -1 {
			pendingStart = rawStarts[i]
		}
		pending += piece
		if len(pending) >= r.MinChunkSize || i == len(rawSplits)-1 {
			trimmed := strings.TrimSpace(pending)
			if trimmed != "" {
				chunks = append(chunks, newChunk(trimmed, pendingStart, rawStarts[i]+len(piece)))
			}
			pending = ""
			pendingStart = -1
		}
	}
	return finalize(chunks, StrategyRegex), nil
}

// HTMLAwareChunker splits HTML preserving tag integrity: a chunk never
// ends mid-element. PreserveBlocks keeps block-level elements (p, div,
// section, article, table, pre, ul, ol, blockquote) intact as single chunks
// when they fit within TargetChars; larger blocks fall through to sentence-level
// splitting of their text content.
type HTMLAwareChunker struct {
	PreserveBlocks    bool
	PreserveStructure bool
	TargetChars       int
}

func (h HTMLAwareChunker) Chunk(text string) ([]Chunk, error) {
	target := h.TargetChars
	if target <= 0 {
		target = 2000
	}
	blocks := splitHTMLBlocks(text)
	var chunks []Chunk
	offset := 0
	for _, block := range blocks {
		start := strings.Index(text[offset:], block)
		byteStart := offset
		if start >= 0 {
			byteStart = offset + start
			offset = byteStart + len(block)
		}
		if len(block) <= target || !h.PreserveBlocks {
			trimmed := strings.TrimSpace(stripTags(block))
			if trimmed != "" {
				chunks = append(chunks, newChunk(trimmed, byteStart, byteStart+len(block)))
			}
			continue
		}
		inner := stripTags(block)
		sc := SentenceChunker{MaxSentences: 5}
		sub, err := sc.Chunk(inner)
		if err != nil {
			return nil, err
		}
		for _, c := range sub {
			c.ByteStart += byteStart
			c.ByteEnd += byteStart
			chunks = append(chunks, c)
		}
	}
	return finalize(chunks, StrategyHTMLAware), nil
}

// TopicChunker implements a simplified TextTiling: slides a window over
// sentence blocks and scores vocabulary overlap between adjacent windows;
// a trough below the smoothed-overlap threshold marks a topic boundary.
type TopicChunker struct {
	WindowSize      int
	SmoothingPasses int
}

func (t TopicChunker) Chunk(text string) ([]Chunk, error) {
	window := t.WindowSize
	if window <= 0 {
		window = 3
	}
	bounds := sentenceBoundaries(text)
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	var sentences []string
	start := 0
	for _, b := range bounds {
		if b > len(text) {
			b = len(text)
		}
		s := strings.TrimSpace(text[start:b])
		if s != "" {
			sentences = append(sentences, s)
		}
		start = b
	}
	if len(sentences) <= window {
		keywords := topKeywords(text, 5)
		c := newChunk(text, 0, len(text))
		c.Metadata.TopicKeywords = keywords
		return finalize([]Chunk{c}, StrategyTopic), nil
	}

	scores := make([]float64, len(sentences)-1)
	for i := 0; i < len(sentences)-1; i++ {
		leftStart := i - window + 1
		if leftStart < 0 {
			leftStart = 0
		}
		rightEnd := i + 1 + window
		if rightEnd > len(sentences) {
			rightEnd = len(sentences)
		}
		left := strings.Join(sentences[leftStart:i+1], " ")
		right := strings.Join(sentences[i+1:rightEnd], " ")
		scores[i] = vocabOverlap(left, right)
	}
	for pass := 0; pass < t.SmoothingPasses; pass++ {
		scores = smooth(scores)
	}

	mean := meanOf(scores)
	var boundaries []int
	for i, s := range scores {
		if s < mean {
			boundaries = append(boundaries, i+1)
		}
	}

	var chunks []Chunk
	segStart := 0
	offset := 0
	boundaries = append(boundaries, len(sentences))
	for _, b := range boundaries {
		if b <= segStart {
			continue
		}
		segment := strings.Join(sentences[segStart:b], " ")
		chunks = append(chunks, newChunk(segment, offset, offset+len(segment)))
		chunks[len(chunks)-1].Metadata.TopicKeywords = topKeywords(segment, 5)
		offset += len(segment) + 1
		segStart = b
	}
	return finalize(chunks, StrategyTopic), nil
}

func vocabOverlap(a, b string) float64 {
	wordsA := wordSet(a)
	wordsB := wordSet(b)
	if len(wordsA) == 0 || len(wordsB) == 0 {
		return 0
	}
	shared := 0
	for w := range wordsA {
		if wordsB[w] {
			shared++
		}
	}
	return float64(shared) / float64(len(wordsA)+len(wordsB))
}

func wordSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(s)) {
		set[w] = true
	}
	return set
}

func smooth(scores []float64) []float64 {
	if len(scores) < 3 {
		return scores
	}
	out := make([]float64, len(scores))
	out[0] = scores[0]
	out[len(scores)-1] = scores[len(scores)-1]
	for i := 1; i < len(scores)-1; i++ {
		out[i] = (scores[i-1] + scores[i] + scores[i+1]) / 3
	}
	return out
}

func meanOf(scores []float64) float64 {
	if len(scores) == 0 {
		return 0
	}
	var sum float64
	for _, s := range scores {
		sum += s
	}
	return sum / float64(len(scores))
}

func topKeywords(text string, n int) []string {
	counts := make(map[string]int)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, ".,!?;:\"'()")
		if len(w) < 4 || stopwords[w] {
			continue
		}
		counts[w]++
	}
	type kv struct {
		word  string
		count int
	}
	var sorted []kv
	for w, c := range counts {
		sorted = append(sorted, kv{w, c})
	}
	for i := 0; i < len(sorted); i++ {
		for j := i + 1; j < len(sorted); j++ {
			if sorted[j].count > sorted[i].count {
				sorted[i], sorted[j] = sorted[j], sorted[i]
			}
		}
	}
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	out := make([]string, len(sorted))
	for i, kv := range sorted {
		out[i] = kv.word
	}
	return out
}

var stopwords = map[string]bool{
	"this": true, "that": true, "with": true, "from": true, "have": true,
	"were": true, "been": true, "their": true, "which": true, "about": true,
	"would": true, "there": true, "these": true, "will": true,
}
