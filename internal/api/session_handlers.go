package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"riptide/internal/session"
)

type createSessionRequest struct {
	UserID  string           `json:"user_id"`
	Cookies []session.Cookie `json:"cookies"`
	TTL     string           `json:"ttl"`
}

// PostSession handles POST /sessions: allocate a new session for the
// calling tenant.
func PostSession(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createSessionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
			return
		}
		var ttl time.Duration
		if req.TTL != "" {
			parsed, err := time.ParseDuration(req.TTL)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid ttl: " + err.Error()})
				return
			}
			ttl = parsed
		}
		sess, err := deps.Sessions.Create(c.Request.Context(), req.UserID, tenantID(c), req.Cookies, ttl)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, sess)
	}
}

// GetSession handles GET /sessions/:id.
func GetSession(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, found, err := deps.Sessions.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		if !found {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(http.StatusOK, sess)
	}
}

// DeleteSession handles DELETE /sessions/:id.
func DeleteSession(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := deps.Sessions.Delete(c.Request.Context(), c.Param("id")); err != nil {
			writeError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// ListSessions handles GET /sessions, filtered to the calling tenant and
// any user_id/active_only query parameters.
func ListSessions(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		filter := session.Filter{
			UserID:     c.Query("user_id"),
			TenantID:   tenantID(c),
			ActiveOnly: c.Query("active_only") == "true",
		}
		sessions, err := deps.Sessions.List(c.Request.Context(), filter)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"sessions": sessions})
	}
}
