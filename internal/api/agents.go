package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/switchboard/internal/scheduler"
)

const (
	defaultRunLimit = 20
	maxRunLimit     = 200
)

func (s *Server) handleAgentList(c *gin.Context) {
	ctx := c.Request.Context()
	descs := s.sched.Agents()
	out := make([]scheduler.AgentStatus, 0, len(descs))
	for _, d := range descs {
		st, err := s.sched.Status(ctx, d.Name)
		if err != nil {
			respondError(c, err)
			return
		}
		out = append(out, st)
	}
	c.JSON(http.StatusOK, gin.H{"agents": out})
}

func (s *Server) handleAgentStatus(c *gin.Context) {
	st, err := s.sched.Status(c.Request.Context(), c.Param("name"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// handleAgentTrigger starts a run and answers before it finishes.
func (s *Server) handleAgentTrigger(c *gin.Context) {
	run, err := s.sched.Dispatch(c.Request.Context(), c.Param("name"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, run)
}

func (s *Server) handleAgentRuns(c *gin.Context) {
	limit, ok := queryInt(c, "limit", defaultRunLimit, maxRunLimit)
	if !ok {
		return
	}
	runs, err := s.sched.ListRuns(c.Request.Context(), c.Param("name"), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (s *Server) handleRecentRuns(c *gin.Context) {
	limit, ok := queryInt(c, "limit", defaultRunLimit, maxRunLimit)
	if !ok {
		return
	}
	runs, err := s.sched.ListRecentRuns(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (s *Server) handleRun(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	run, err := s.sched.Run(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}
