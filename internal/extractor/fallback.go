package extractor

import (
	"fmt"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"

	"riptide/internal/document"
)

// NativeFallback is the pure-native extractor invoked when the WASM path
// is unavailable (circuit open, repeated component failure), per spec.md
// §4.4 "Native fallback". It has equivalent semantics but lower quality
// than the sandboxed extractor and marks its output accordingly so callers
// can down-weight confidence (spec.md §8, scenario E4).
type NativeFallback struct {
	sanitizer *bluemonday.Policy
}

// NewNativeFallback constructs a fallback extractor. bluemonday's UGC
// policy is reused for sanitizing untrusted HTML before text/markdown
// derivation, since the fallback runs outside the WASM sandbox.
func NewNativeFallback() *NativeFallback {
	return &NativeFallback{sanitizer: bluemonday.UGCPolicy()}
}

// Extract produces a best-effort ExtractedDocument using goquery + a
// markdown converter, with no sandboxing guarantees.
func (n *NativeFallback) Extract(rawHTML, url string, mode document.ExtractionMode) (document.ExtractedDocument, error) {
	clean := n.sanitizer.Sanitize(rawHTML)
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(clean))
	if err != nil {
		return document.ExtractedDocument{}, fmt.Errorf("extractor: native fallback parse: %w", err)
	}

	title := strings.TrimSpace(doc.Find("title").First().Text())
	if title == "" {
		title, _ = doc.Find(`meta[property="og:title"]`).Attr("content")
	}
	description, _ := doc.Find(`meta[name="description"]`).Attr("content")
	lang, _ := doc.Find("html").Attr("lang")
	byline := strings.TrimSpace(doc.Find(`[rel="author"], .author, .byline`).First().Text())

	var links, media []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		if href, ok := s.Attr("href"); ok && href != "" {
			links = append(links, href)
		}
	})
	doc.Find("img[src]").Each(func(_ int, s *goquery.Selection) {
		if src, ok := s.Attr("src"); ok && src != "" {
			media = append(media, src)
		}
	})

	plainText := strings.TrimSpace(collapseWhitespace(doc.Find("body").Text()))
	if plainText == "" {
		plainText = strings.TrimSpace(collapseWhitespace(doc.Text()))
	}

	markdown, err := htmltomarkdown.ConvertString(clean)
	if err != nil {
		markdown = plainText
	}

	out := document.NewExtractedDocument(url, plainText, markdown, document.StrategyTrekFallback)
	out.Title = title
	out.Byline = byline
	out.Description = strings.TrimSpace(description)
	out.Language = lang
	out.Links = links
	out.MediaURLs = media
	out.QualityScore = fallbackQualityScore(plainText)
	return out, nil
}

// fallbackQualityScore stays below the WASM path's achievable scores so
// confidence aggregation down-weights fallback results, per spec.md §8 E4
// ("quality_score < 0.7").
func fallbackQualityScore(plainText string) float64 {
	words := len(strings.Fields(plainText))
	switch {
	case words == 0:
		return 0.2
	case words < 100:
		return 0.45
	default:
		return 0.6
	}
}

func collapseWhitespace(s string) string {
	fields := strings.Fields(s)
	return strings.Join(fields, " ")
}
