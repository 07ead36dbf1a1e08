package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	sessiondomain "github.com/smallbiznis/stocktake/internal/countsession/domain"
)

type startSessionRequest struct {
	CounterID string `json:"counter_id"`
}

type actorRequest struct {
	ActorID string `json:"actor_id"`
}

func (s *Server) StartOrResumeSession(c *gin.Context) {
	var req startSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.sessions.StartOrResumeSession(c.Request.Context(), actorID(c, req.CounterID))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListSessions(c *gin.Context) {
	var query sessiondomain.ListRequest
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	query.Status = strings.TrimSpace(query.Status)
	query.StartedBy = strings.TrimSpace(query.StartedBy)

	resp, err := s.sessions.ListSessions(c.Request.Context(), query)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Sessions, "page_info": resp.PageInfo})
}

func (s *Server) GetSession(c *gin.Context) {
	id, ok := pathID(c, sessiondomain.ParseID)
	if !ok {
		return
	}

	session, err := s.sessions.GetSession(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	summary, err := s.triage.Summary(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": session, "summary": summary})
}

func (s *Server) EndSession(c *gin.Context) {
	s.sessionTransition(c, s.sessions.EndSession)
}

func (s *Server) CancelSession(c *gin.Context) {
	s.sessionTransition(c, s.sessions.CancelSession)
}

func (s *Server) sessionTransition(c *gin.Context, apply func(ctx context.Context, id snowflake.ID, actor string) (*sessiondomain.CountSession, error)) {
	id, ok := pathID(c, sessiondomain.ParseID)
	if !ok {
		return
	}

	var req actorRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := apply(c.Request.Context(), id, actorID(c, req.ActorID))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) CompleteReview(c *gin.Context) {
	id, ok := pathID(c, sessiondomain.ParseID)
	if !ok {
		return
	}

	var req actorRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.reconcile.CompleteReview(c.Request.Context(), id, actorID(c, req.ActorID))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
