package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GetHealth handles GET /health: the pool health monitor's latest report.
func GetHealth(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		if deps.Health == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "health monitor is not configured"})
			return
		}
		report, ok := deps.Health.Latest()
		if !ok {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no health report yet"})
			return
		}
		c.JSON(http.StatusOK, report)
	}
}

// GetHealthHistory handles GET /health/history: the monitor's retained
// report window, for dashboards that chart pool health over time.
func GetHealthHistory(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		if deps.Health == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "health monitor is not configured"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"history": deps.Health.History()})
	}
}
