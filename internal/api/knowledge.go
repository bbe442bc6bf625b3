package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/switchboard/internal/knowledge"
)

type knowledgeRequest struct {
	Category string `json:"category" binding:"required"`
	Title    string `json:"title" binding:"required"`
	Content  string `json:"content" binding:"required"`
	Source   string `json:"source"`
}

// handleKnowledgeList searches when q is given and lists otherwise.
func (s *Server) handleKnowledgeList(c *gin.Context) {
	ctx := c.Request.Context()
	category := c.Query("category")
	if category != "" && !knowledge.ValidCategory(category) {
		badRequest(c, "unknown category "+category)
		return
	}
	limit, ok := queryInt(c, "limit", 50, 500)
	if !ok {
		return
	}

	if q := c.Query("q"); q != "" {
		results, err := s.knowledge.Search(ctx, q, category, limit)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"results": results})
		return
	}
	entries, err := s.knowledge.List(ctx, category, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

func (s *Server) handleKnowledgeAdd(c *gin.Context) {
	var req knowledgeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	entry, err := s.knowledge.Insert(c.Request.Context(), knowledge.Entry{
		Category: req.Category,
		Title:    req.Title,
		Content:  req.Content,
		Source:   req.Source,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, entry)
}

func (s *Server) handleKnowledgeStats(c *gin.Context) {
	stats, err := s.knowledge.Stats(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"categories": stats})
}

func (s *Server) handleKnowledgeDelete(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	if err := s.knowledge.Delete(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// handleMemoryList searches when q is given and lists otherwise.
func (s *Server) handleMemoryList(c *gin.Context) {
	ctx := c.Request.Context()
	limit, ok := queryInt(c, "limit", 50, 500)
	if !ok {
		return
	}
	if q := c.Query("q"); q != "" {
		results, err := s.memory.Search(ctx, q, limit)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"results": results})
		return
	}
	facts, err := s.memory.List(ctx, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	total, err := s.memory.Count(ctx)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"memories": facts, "total": total})
}

func (s *Server) handleMemoryDelete(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	if err := s.memory.Delete(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleMemoryClear(c *gin.Context) {
	n, err := s.memory.Clear(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": n})
}
