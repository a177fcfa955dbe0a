package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"riptide/internal/chunk"
)

type extractTablesRequest struct {
	HTML     string `json:"html"`
	Selector string `json:"selector"`
	MinRows  int    `json:"min_rows"`
	MinCols  int    `json:"min_cols"`
}

func tableOptions(req extractTablesRequest) chunk.TableExtractorOptions {
	switch {
	case req.Selector != "":
		return chunk.TableExtractorOptions{Mode: chunk.TableBySelector, Selector: req.Selector}
	case req.MinRows > 0 || req.MinCols > 0:
		return chunk.TableExtractorOptions{Mode: chunk.TableMinSize, MinRows: req.MinRows, MinCols: req.MinCols}
	default:
		return chunk.TableExtractorOptions{Mode: chunk.TableAll}
	}
}

// PostExtractTables handles POST /api/v1/tables/extract: parse every
// <table> out of the posted html.
func PostExtractTables(c *gin.Context) {
	var req extractTablesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	tables, err := chunk.ExtractTables(req.HTML, tableOptions(req))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tables": tables})
}

type exportTablesRequest struct {
	HTML     string `json:"html"`
	Selector string `json:"selector"`
	MinRows  int    `json:"min_rows"`
	MinCols  int    `json:"min_cols"`
	Format   string `json:"format"`
}

// PostExportTables handles POST /api/v1/tables/export: parse the posted
// html's tables and render them in the requested format.
func PostExportTables(c *gin.Context) {
	var req exportTablesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	tables, err := chunk.ExtractTables(req.HTML, tableOptions(extractTablesRequest{
		Selector: req.Selector,
		MinRows:  req.MinRows,
		MinCols:  req.MinCols,
	}))
	if err != nil {
		writeError(c, err)
		return
	}
	format := chunk.ExportFormat(req.Format)
	if format == "" {
		format = chunk.ExportJSON
	}
	out, err := chunk.ExportTables(tables, format)
	if err != nil {
		writeError(c, err)
		return
	}
	contentType := "application/json"
	switch format {
	case chunk.ExportCSV:
		contentType = "text/csv"
	case chunk.ExportMarkdown:
		contentType = "text/markdown"
	}
	c.Data(http.StatusOK, contentType, out)
}
