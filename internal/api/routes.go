package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/switchboard/internal/fault"
)

// registerRoutes sets up every API route on the Gin router.
func (s *Server) registerRoutes(router *gin.Engine) {
	api := router.Group("/api")
	api.GET("/health", handleHealth)
	api.GET("/integrations", s.handleIntegrations)
	if s.bus != nil {
		api.GET("/events", s.handleEvents)
	}

	// Agents and runs.
	api.GET("/agents", s.handleAgentList)
	api.GET("/agents/:name", s.handleAgentStatus)
	api.POST("/agents/:name/trigger", s.handleAgentTrigger)
	api.GET("/agents/:name/runs", s.handleAgentRuns)
	api.GET("/runs", s.handleRecentRuns)
	api.GET("/runs/:id", s.handleRun)

	// Recommendations.
	api.GET("/recommendations", s.handleRecList)
	api.GET("/recommendations/pending", s.handleRecPending)
	api.GET("/recommendations/stats", s.handleRecStats)
	api.GET("/recommendations/:id", s.handleRecGet)
	api.POST("/recommendations/:id/view", s.handleRecTransition(s.recs.MarkViewed))
	api.POST("/recommendations/:id/action", s.handleRecTransition(s.recs.MarkActioned))
	api.POST("/recommendations/:id/dismiss", s.handleRecTransition(s.recs.Dismiss))
	api.POST("/recommendations/:id/approve-knowledge", s.handleRecApprove)
	api.DELETE("/recommendations/:id", s.handleRecDelete)

	// Chat.
	api.GET("/threads", s.handleThreadList)
	api.POST("/threads", s.handleThreadCreate)
	api.GET("/threads/:id", s.handleThreadGet)
	api.PATCH("/threads/:id", s.handleThreadRename)
	api.DELETE("/threads/:id", s.handleThreadDelete)
	api.POST("/threads/:id/messages", s.handleThreadMessage)
	api.POST("/chat", s.handleChat)

	// Knowledge and memory.
	api.GET("/knowledge", s.handleKnowledgeList)
	api.POST("/knowledge", s.handleKnowledgeAdd)
	api.GET("/knowledge/stats", s.handleKnowledgeStats)
	api.DELETE("/knowledge/:id", s.handleKnowledgeDelete)
	api.GET("/memory", s.handleMemoryList)
	api.DELETE("/memory/:id", s.handleMemoryDelete)
	api.DELETE("/memory", s.handleMemoryClear)
}

func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleIntegrations(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"integrations": s.suite.Statuses(c.Request.Context())})
}

// respondError writes err with the status fault.HTTPStatus assigns it.
func respondError(c *gin.Context, err error) {
	status := fault.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		c.Error(err)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": msg})
}

// idParam parses a numeric :id path parameter.
func idParam(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		badRequest(c, "invalid id")
		return 0, false
	}
	return uint(id), true
}

// queryInt reads a non-negative integer query parameter, falling back to def
// and capping at upper.
func queryInt(c *gin.Context, key string, def, upper int) (int, bool) {
	raw := c.Query(key)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		badRequest(c, key+" must be a non-negative integer")
		return 0, false
	}
	if upper > 0 && n > upper {
		n = upper
	}
	return n, true
}
