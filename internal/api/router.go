package api

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// corsMiddleware mirrors tractstack's CORSMiddleware, adapted to RipTide's
// own tenant header instead of its session/story-fragment headers.
func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders: []string{
			"Origin", "Content-Type", "Accept", "Authorization",
			"X-Tenant-ID", "X-Requested-With", "Cache-Control",
		},
		AllowCredentials: true,
		ExposeHeaders:    []string{"Content-Type", "Cache-Control", "Connection"},
	})
}

// SetupRouter wires every handler group behind the crawl/health/sessions/
// tables route groups named in spec.md §6, following tractstack's
// routes.SetupRoutes(container) shape of a single dependency-injected
// router builder.
func SetupRouter(deps Deps) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	router.POST("/crawl", PostCrawl(deps))

	health := router.Group("/health")
	{
		health.GET("", GetHealth(deps))
		health.GET("/history", GetHealthHistory(deps))
	}

	sessions := router.Group("/sessions")
	{
		sessions.POST("", PostSession(deps))
		sessions.GET("", ListSessions(deps))
		sessions.GET("/:id", GetSession(deps))
		sessions.DELETE("/:id", DeleteSession(deps))
	}

	tables := router.Group("/api/v1/tables")
	{
		tables.POST("/extract", PostExtractTables)
		tables.POST("/export", PostExportTables)
	}

	return router
}
