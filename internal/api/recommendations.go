package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/switchboard/internal/models"
	"github.com/zulandar/switchboard/internal/recommend"
)

const maxRecLimit = 200

func (s *Server) handleRecList(c *gin.Context) {
	limit, ok := queryInt(c, "limit", 50, maxRecLimit)
	if !ok {
		return
	}
	offset, ok := queryInt(c, "offset", 0, 0)
	if !ok {
		return
	}
	recs, err := s.recs.List(c.Request.Context(), recommend.Filter{
		Status:    c.Query("status"),
		Priority:  c.Query("priority"),
		AgentName: c.Query("agent"),
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"recommendations": recs})
}

func (s *Server) handleRecPending(c *gin.Context) {
	limit, ok := queryInt(c, "limit", 50, maxRecLimit)
	if !ok {
		return
	}
	recs, err := s.recs.ListPending(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"recommendations": recs})
}

func (s *Server) handleRecStats(c *gin.Context) {
	st, err := s.recs.Stats(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) handleRecGet(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	rec, err := s.recs.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, recView(rec))
}

type transitionFunc func(ctx context.Context, id uint) (*models.Recommendation, error)

func (s *Server) handleRecTransition(fn transitionFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c)
		if !ok {
			return
		}
		rec, err := fn(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, recView(rec))
	}
}

func (s *Server) handleRecApprove(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	res, err := s.recs.ApproveKnowledge(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleRecDelete(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	if err := s.recs.Delete(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// recView adds the decoded metadata, which the model keeps as raw text.
func recView(rec *models.Recommendation) gin.H {
	return gin.H{
		"id":         rec.ID,
		"agent_name": rec.AgentName,
		"title":      rec.Title,
		"body":       rec.Body,
		"priority":   rec.Priority,
		"status":     rec.Status,
		"metadata":   recommend.Metadata(rec),
		"created_at": rec.CreatedAt,
		"viewed_at":  rec.ViewedAt,
		"acted_at":   rec.ActedAt,
	}
}
