package chunk

import (
	"encoding/csv"
	"encoding/json"
	"strings"

	"riptide/internal/riperrors"
)

// ExportFormat selects the table exporter's output encoding, per spec.md
// §6's named formats.
type ExportFormat string

const (
	ExportJSON     ExportFormat = "json"
	ExportCSV      ExportFormat = "csv"
	ExportMarkdown ExportFormat = "markdown"
)

// ExportTables renders tables in format, a separate operation from
// ExtractTables per SPEC_FULL §C.5 ("the original exposes ExtractTables
// ... and a separate exporter keyed by format").
func ExportTables(tables []Table, format ExportFormat) ([]byte, error) {
	switch format {
	case ExportJSON:
		return exportTablesJSON(tables)
	case ExportCSV:
		return exportTablesCSV(tables)
	case ExportMarkdown:
		return exportTablesMarkdown(tables), nil
	default:
		return nil, riperrors.New(riperrors.InvalidParameter, "chunk.ExportTables", "unknown export format: "+string(format))
	}
}

func exportTablesJSON(tables []Table) ([]byte, error) {
	out, err := json.Marshal(tables)
	if err != nil {
		return nil, riperrors.Wrap(riperrors.Internal, "chunk.ExportTables", "marshal tables", err)
	}
	return out, nil
}

// exportTablesCSV concatenates every table as its own CSV block, separated
// by a blank line, since CSV has no native concept of multiple tables.
func exportTablesCSV(tables []Table) ([]byte, error) {
	var buf strings.Builder
	w := csv.NewWriter(&buf)
	for i, t := range tables {
		if i > 0 {
			w.Flush()
			buf.WriteString("\n")
		}
		if len(t.Headers) > 0 {
			if err := w.Write(t.Headers); err != nil {
				return nil, riperrors.Wrap(riperrors.Internal, "chunk.ExportTables", "write csv header", err)
			}
		}
		for _, row := range t.Rows {
			if err := w.Write(row); err != nil {
				return nil, riperrors.Wrap(riperrors.Internal, "chunk.ExportTables", "write csv row", err)
			}
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, riperrors.Wrap(riperrors.Internal, "chunk.ExportTables", "flush csv", err)
	}
	return []byte(buf.String()), nil
}

func exportTablesMarkdown(tables []Table) []byte {
	var buf strings.Builder
	for i, t := range tables {
		if i > 0 {
			buf.WriteString("\n")
		}
		if t.Caption != "" {
			buf.WriteString("**" + t.Caption + "**\n\n")
		}
		cols := len(t.Headers)
		if cols == 0 && len(t.Rows) > 0 {
			cols = len(t.Rows[0])
		}
		if cols == 0 {
			continue
		}
		headers := t.Headers
		if len(headers) == 0 {
			headers = make([]string, cols)
			for c := range headers {
				headers[c] = ""
			}
		}
		buf.WriteString("| " + strings.Join(headers, " | ") + " |\n")
		buf.WriteString("|" + strings.Repeat(" --- |", cols) + "\n")
		for _, row := range t.Rows {
			buf.WriteString("| " + strings.Join(padRow(row, cols), " | ") + " |\n")
		}
	}
	return []byte(buf.String())
}

func padRow(row []string, cols int) []string {
	if len(row) >= cols {
		return row
	}
	padded := make([]string, cols)
	copy(padded, row)
	return padded
}
