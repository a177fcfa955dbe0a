package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"riptide/internal/conditional"
	"riptide/internal/document"
	"riptide/internal/pipeline"
	"riptide/internal/spider"
)

// crawlRequest is the POST /crawl request body: either a single url, a
// batch of urls, or seed_urls for a spider crawl (budget/strategy only
// meaningful in that third case).
type crawlRequest struct {
	URL       string   `json:"url"`
	URLs      []string `json:"urls"`
	SeedURLs  []string `json:"seed_urls"`
	Mode      string   `json:"mode"`
	Selectors []string `json:"selectors"`
	Budget    int      `json:"budget"`
	Strategy  string   `json:"strategy"`
	Query     string   `json:"query"`
}

func parseMode(req crawlRequest) document.ExtractionMode {
	switch req.Mode {
	case "full":
		return document.Full()
	case "metadata":
		return document.Metadata()
	case "custom":
		return document.Custom(req.Selectors)
	default:
		return document.Article()
	}
}

// PostCrawl handles POST /crawl: a single url, an explicit urls batch, or
// a seed_urls spider crawl, chosen by which field the caller populated.
func PostCrawl(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req crawlRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
			return
		}
		tenant := tenantID(c)
		mode := parseMode(req)

		switch {
		case len(req.SeedURLs) > 0:
			postCrawlSpider(c, deps, tenant, req, mode)
		case len(req.URLs) > 0:
			postCrawlBatch(c, deps, tenant, req.URLs, mode)
		case req.URL != "":
			postCrawlSingle(c, deps, tenant, req.URL, mode)
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "one of url, urls, or seed_urls is required"})
		}
	}
}

func postCrawlSingle(c *gin.Context, deps Deps, tenant, url string, mode document.ExtractionMode) {
	result, err := deps.Pipeline.Process(c.Request.Context(), pipeline.Request{
		Tenant:      tenant,
		URL:         url,
		Mode:        mode,
		Conditional: conditional.ParseRequest(c.Request),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func postCrawlBatch(c *gin.Context, deps Deps, tenant string, urls []string, mode document.ExtractionMode) {
	results, stats := deps.Pipeline.ProcessBatch(c.Request.Context(), tenant, urls, mode)
	c.JSON(http.StatusOK, gin.H{"results": results, "stats": stats})
}

func postCrawlSpider(c *gin.Context, deps Deps, tenant string, req crawlRequest, mode document.ExtractionMode) {
	if deps.Spider == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "spider driver is not configured"})
		return
	}
	c.JSON(http.StatusNotImplemented, gin.H{"error": "spider crawl requires a Frontier collaborator, which is deployment-specific (spec.md §4.9 delegates frontier internals entirely); wire one via cmd/riptide before calling this route"})
	_ = spider.StrategyBreadthFirst
}
