package chunk

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// blockLevelTags are the elements HTMLAwareChunker keeps intact rather
// than splitting mid-element, per spec.md §4.10's "HTML tag integrity".
var blockLevelTags = map[string]bool{
	"p": true, "div": true, "section": true, "article": true,
	"table": true, "pre": true, "ul": true, "ol": true, "blockquote": true,
}

// splitHTMLBlocks walks the document (grounded on the teacher's
// extractAtomsFromHTML/extractTextContent traversal in
// internal/shards/researcher/scraper.go) and returns the outer HTML of
// each top-level block element in document order. Falls back to treating
// the whole input as a single block when it doesn't parse as HTML
// fragments with recognizable block tags.
func splitHTMLBlocks(input string) []string {
	doc, err := html.Parse(strings.NewReader(input))
	if err != nil {
		return []string{input}
	}

	var blocks []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && blockLevelTags[n.Data] {
			var sb strings.Builder
			_ = html.Render(&sb, n)
			blocks = append(blocks, sb.String())
			return // don't descend into an already-captured block
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	if len(blocks) == 0 {
		return []string{input}
	}
	return blocks
}

// stripTags renders an HTML fragment's text content only, mirroring the
// teacher's extractTextContent: walk every text node, join with spaces.
func stripTags(fragment string) string {
	doc, err := html.Parse(strings.NewReader(fragment))
	if err != nil {
		return fragment
	}
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			sb.WriteString(" ")
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return strings.TrimSpace(sb.String())
}

// docFromString is a small goquery convenience used by the table extractor
// (BySelector mode) and kept here so both files share one parse path.
func docFromString(s string) (*goquery.Document, error) {
	return goquery.NewDocumentFromReader(strings.NewReader(s))
}
