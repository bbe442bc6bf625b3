package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/switchboard/internal/orchestrator"
)

type threadRequest struct {
	Title string `json:"title"`
}

type renameRequest struct {
	Title string `json:"title" binding:"required"`
}

type messageRequest struct {
	Message string `json:"message"`
}

// chatResponse is a TurnResult plus a flag clients can show as a warning.
type chatResponse struct {
	*orchestrator.TurnResult
	RoundLimit bool `json:"round_limit"`
}

func (s *Server) handleThreadList(c *gin.Context) {
	limit, ok := queryInt(c, "limit", 50, 200)
	if !ok {
		return
	}
	offset, ok := queryInt(c, "offset", 0, 0)
	if !ok {
		return
	}
	threads, err := s.orch.Threads(c.Request.Context(), limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"threads": threads})
}

func (s *Server) handleThreadCreate(c *gin.Context) {
	var req threadRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
	}
	th, err := s.orch.CreateThread(c.Request.Context(), req.Title)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, th)
}

func (s *Server) handleThreadGet(c *gin.Context) {
	th, err := s.orch.Thread(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, th)
}

func (s *Server) handleThreadRename(c *gin.Context) {
	var req renameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	th, err := s.orch.RenameThread(c.Request.Context(), c.Param("id"), req.Title)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, th)
}

func (s *Server) handleThreadDelete(c *gin.Context) {
	if err := s.orch.DeleteThread(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleThreadMessage(c *gin.Context) {
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	s.turn(c, orchestrator.TurnRequest{ThreadID: c.Param("id"), Text: req.Message})
}

// handleChat runs a turn in the given thread, or a new one when thread_id
// is empty.
func (s *Server) handleChat(c *gin.Context) {
	var req orchestrator.TurnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	s.turn(c, req)
}

func (s *Server) turn(c *gin.Context, req orchestrator.TurnRequest) {
	res, err := s.orch.Turn(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, chatResponse{TurnResult: res, RoundLimit: res.IsRoundLimit()})
}
