// Package document defines RipTide's core data model: the immutable
// extracted document, extraction modes, cache keys, and per-batch
// statistics shared across the pipeline, cache, and chunker packages.
package document

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ModeKind is the tagged-variant discriminator for ExtractionMode.
type ModeKind string

const (
	ModeArticle  ModeKind = "article"
	ModeFull     ModeKind = "full"
	ModeMetadata ModeKind = "metadata"
	ModeCustom   ModeKind = "custom"
)

// ExtractionMode controls what the extractor component produces.
// Custom mode carries a list of CSS-like selectors (spec.md §3).
type ExtractionMode struct {
	Kind      ModeKind
	Selectors []string // only meaningful when Kind == ModeCustom
}

func Article() ExtractionMode  { return ExtractionMode{Kind: ModeArticle} }
func Full() ExtractionMode     { return ExtractionMode{Kind: ModeFull} }
func Metadata() ExtractionMode { return ExtractionMode{Kind: ModeMetadata} }
func Custom(selectors []string) ExtractionMode {
	return ExtractionMode{Kind: ModeCustom, Selectors: selectors}
}

// String renders a stable textual form used in cache-key option hashing.
func (m ExtractionMode) String() string {
	if m.Kind != ModeCustom {
		return string(m.Kind)
	}
	sorted := append([]string(nil), m.Selectors...)
	sort.Strings(sorted)
	return "custom:" + strings.Join(sorted, ",")
}

// StrategyUsed records which extraction path actually produced a document,
// per SPEC_FULL §C.3: "wasm" when the WASM component succeeded, "trek_fallback"
// when the native fallback extractor ran instead.
type StrategyUsed string

const (
	StrategyWasm         StrategyUsed = "wasm"
	StrategyTrekFallback StrategyUsed = "trek_fallback"
)

// ExtractedDocument is an immutable record produced by the extractor and
// consumed by the chunker and the cache writer. It is never mutated after
// creation (spec.md §3).
type ExtractedDocument struct {
	SourceURL       string    `json:"source_url"`
	FinalURL        string    `json:"final_url,omitempty"` // differs from SourceURL after redirects
	Title           string    `json:"title,omitempty"`
	Byline          string    `json:"byline,omitempty"`
	PublishedAt     time.Time `json:"published_at,omitempty"`
	SiteName        string    `json:"site_name,omitempty"`
	Description     string    `json:"description,omitempty"`
	Language        string    `json:"language,omitempty"`
	PlainText       string    `json:"plain_text"`
	Markdown        string    `json:"markdown"`
	Links           []string  `json:"links"`
	MediaURLs       []string  `json:"media_urls"`
	WordCount       int       `json:"word_count"`
	ReadingTimeMins int       `json:"reading_time_minutes"`
	QualityScore    float64   `json:"quality_score"`
	Categories      []string  `json:"categories,omitempty"`

	StrategyUsed StrategyUsed `json:"strategy_used"`
}

// NewExtractedDocument computes the derived fields (word count, reading
// time) from plainText and returns the finished, immutable document.
func NewExtractedDocument(sourceURL string, plainText, markdown string, strategy StrategyUsed) ExtractedDocument {
	words := countWords(plainText)
	return ExtractedDocument{
		SourceURL:       sourceURL,
		FinalURL:        sourceURL,
		PlainText:       plainText,
		Markdown:        markdown,
		WordCount:       words,
		ReadingTimeMins: readingTimeMinutes(words),
		StrategyUsed:    strategy,
	}
}

func countWords(s string) int {
	return len(strings.Fields(s))
}

// readingTimeMinutes assumes a 200 words-per-minute reading speed, rounded
// up so that any nonzero body reports at least one minute.
func readingTimeMinutes(words int) int {
	if words == 0 {
		return 0
	}
	mins := (words + 199) / 200
	if mins < 1 {
		mins = 1
	}
	return mins
}

// Fingerprint is a stable identity for a (URL, options, extractor-version)
// triple, used for in-flight request coalescing (spec.md §4.7 step 2).
type Fingerprint string

// ComputeFingerprint derives a Fingerprint from the canonicalized URL, the
// extraction mode, and the extractor's semantic version.
func ComputeFingerprint(canonicalURL string, mode ExtractionMode, extractorVersion string) Fingerprint {
	h := sha256.Sum256([]byte(canonicalURL + "|" + mode.String() + "|" + extractorVersion))
	return Fingerprint(hex.EncodeToString(h[:])[:24])
}

// CacheKeyVersion-prefixed order decided in SPEC_FULL §D.2: the version
// segment comes first, then an optional tenant segment, then the URL hash,
// options hash, and extractor semver. An empty tenant segment is omitted
// entirely rather than rendered empty.
func CacheKey(version int, tenant, canonicalURL string, mode ExtractionMode, extractorVersion string) string {
	urlHash := shortHash(canonicalURL)
	optsHash := shortHash(mode.String())
	if tenant == "" {
		return fmt.Sprintf("riptide:v%d:%s:%s:%s", version, urlHash, optsHash, extractorVersion)
	}
	return fmt.Sprintf("riptide:v%d:%s:%s:%s:%s", version, tenant, urlHash, optsHash, extractorVersion)
}

func shortHash(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])[:16]
}

// BatchStatistics aggregates per-batch counters referenced by E1/E2 in
// spec.md §8 but not modeled in §3's per-result data; recovered from
// original_source per SPEC_FULL §C.4.
type BatchStatistics struct {
	TotalURLs     int            `json:"total_urls"`
	Succeeded     int            `json:"succeeded"`
	Failed        int            `json:"failed"`
	GateDecisions map[string]int `json:"gate_decisions"`
	CacheHits     int            `json:"cache_hits"`
	CacheMisses   int            `json:"cache_misses"`
}

// CacheHitRate returns the fraction of cache lookups that hit, or 0 when no
// lookups were recorded.
func (b BatchStatistics) CacheHitRate() float64 {
	total := b.CacheHits + b.CacheMisses
	if total == 0 {
		return 0
	}
	return float64(b.CacheHits) / float64(total)
}

// RecordGateDecision increments the named gate decision counter, creating
// the map lazily.
func (b *BatchStatistics) RecordGateDecision(decision string) {
	if b.GateDecisions == nil {
		b.GateDecisions = make(map[string]int)
	}
	b.GateDecisions[decision]++
}

// URLResult is one per-URL entry of a batch: either a document or an error,
// so a batch never fails as a whole because of a single URL (spec.md §4.7).
type URLResult struct {
	URL      string             `json:"url"`
	Document *ExtractedDocument `json:"document,omitempty"`
	Error    string             `json:"error,omitempty"`
	CacheHit bool               `json:"cache_hit"`
}
