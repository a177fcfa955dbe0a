package chunk

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTables(t *testing.T) []Table {
	t.Helper()
	tables, err := ExtractTables(sampleTable, TableExtractorOptions{Mode: TableAll})
	require.NoError(t, err)
	return tables
}

func TestExportTablesJSONRoundTrips(t *testing.T) {
	tables := sampleTables(t)
	out, err := ExportTables(tables, ExportJSON)
	require.NoError(t, err)

	var decoded []Table
	require.NoError(t, json.Unmarshal(out, &decoded))
	require.Len(t, decoded, 1)
	assert.Equal(t, "Prices", decoded[0].Caption)
}

func TestExportTablesCSVIncludesHeaderAndRows(t *testing.T) {
	tables := sampleTables(t)
	out, err := ExportTables(tables, ExportCSV)
	require.NoError(t, err)

	csvText := string(out)
	assert.Contains(t, csvText, "Item,Price")
	assert.Contains(t, csvText, "Widget,$5")
}

func TestExportTablesMarkdownRendersPipeTable(t *testing.T) {
	tables := sampleTables(t)
	out, err := ExportTables(tables, ExportMarkdown)
	require.NoError(t, err)

	md := string(out)
	assert.Contains(t, md, "| Item | Price |")
	assert.Contains(t, md, "| Widget | $5 |")
	assert.Contains(t, md, "**Prices**")
}

func TestExportTablesRejectsUnknownFormat(t *testing.T) {
	tables := sampleTables(t)
	_, err := ExportTables(tables, ExportFormat("yaml"))
	assert.Error(t, err)
}
