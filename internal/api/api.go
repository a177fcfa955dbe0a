// Package api exposes RipTide over HTTP: the /crawl, /health,
// /sessions/*, and /api/v1/tables/* surfaces named in spec.md §6. The
// teacher has no HTTP server of its own beyond a single debug
// http.HandleFunc("/ping", ...) in cmd/nerd/dom_cmd.go, so this package is
// enriched from AtRiskMedia-tractstack-go's gin-based presentation layer:
// its handler/service-injection shape (internal/presentation/http/handlers)
// and its CORS middleware (internal/presentation/http/middleware/cors.go).
package api

import (
	"github.com/gin-gonic/gin"

	"riptide/internal/health"
	"riptide/internal/pipeline"
	"riptide/internal/riperrors"
	"riptide/internal/session"
	"riptide/internal/spider"
)

// Deps bundles the collaborators every handler group is injected with,
// mirroring tractstack's container-based handler construction.
type Deps struct {
	Pipeline *pipeline.Orchestrator
	Spider   *spider.Driver
	Health   *health.Monitor
	Sessions *session.Store
}

func tenantID(c *gin.Context) string {
	id := c.GetHeader("X-Tenant-ID")
	if id == "" {
		id = c.Query("tenant")
	}
	if id == "" {
		id = "default"
	}
	return id
}

func writeError(c *gin.Context, err error) {
	env := riperrors.ToEnvelope(err)
	c.JSON(env.Error.Status, env)
}
