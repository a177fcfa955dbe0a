package chunk

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"riptide/internal/riperrors"
)

// TableMode selects which tables a TableExtractor returns.
type TableMode int

const (
	TableAll TableMode = iota
	TableWithHeaders
	TableBySelector
	TableMinSize
)

// Table is a parsed HTML table, per spec.md §4.10.
type Table struct {
	Headers  []string          `json:"headers,omitempty"`
	Rows     [][]string        `json:"rows"`
	Caption  string            `json:"caption,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// TableExtractorOptions parameterizes Extract per mode.
type TableExtractorOptions struct {
	Mode     TableMode
	Selector string // used when Mode == TableBySelector
	MinRows  int    // used when Mode == TableMinSize
	MinCols  int    // used when Mode == TableMinSize
}

// ExtractTables parses every <table> in html and filters by mode, grounded
// on goquery's jQuery-style selection (the ecosystem pairing for
// golang.org/x/net/html the teacher itself already depends on transitively
// via x/net).
func ExtractTables(htmlContent string, opts TableExtractorOptions) ([]Table, error) {
	doc, err := docFromString(htmlContent)
	if err != nil {
		return nil, riperrors.Wrap(riperrors.Extraction, "chunk.ExtractTables", "parse html", err)
	}

	selector := "table"
	if opts.Mode == TableBySelector && opts.Selector != "" {
		selector = opts.Selector
	}

	var tables []Table
	doc.Find(selector).Each(func(_ int, sel *goquery.Selection) {
		t := parseTable(sel)
		switch opts.Mode {
		case TableWithHeaders:
			if len(t.Headers) == 0 {
				return
			}
		case TableMinSize:
			if len(t.Rows) < opts.MinRows {
				return
			}
			if len(t.Rows) > 0 && len(t.Rows[0]) < opts.MinCols {
				return
			}
		}
		tables = append(tables, t)
	})
	return tables, nil
}

func parseTable(sel *goquery.Selection) Table {
	var t Table
	t.Caption = strings.TrimSpace(sel.Find("caption").First().Text())

	headerRow := sel.Find("thead tr").First()
	if headerRow.Length() == 0 {
		headerRow = sel.Find("tr").First()
		headerRow.Find("th").Each(func(_ int, th *goquery.Selection) {
			t.Headers = append(t.Headers, strings.TrimSpace(th.Text()))
		})
	} else {
		headerRow.Find("th,td").Each(func(_ int, th *goquery.Selection) {
			t.Headers = append(t.Headers, strings.TrimSpace(th.Text()))
		})
	}

	bodyRows := sel.Find("tbody tr")
	if bodyRows.Length() == 0 {
		bodyRows = sel.Find("tr")
	}
	bodyRows.Each(func(i int, tr *goquery.Selection) {
		if len(t.Headers) > 0 && i == 0 && tr.Find("th").Length() > 0 {
			return // already consumed as header
		}
		var row []string
		tr.Find("td").Each(func(_ int, td *goquery.Selection) {
			row = append(row, strings.TrimSpace(td.Text()))
		})
		if len(row) > 0 {
			t.Rows = append(t.Rows, row)
		}
	})
	return t
}
