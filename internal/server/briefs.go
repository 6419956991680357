package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	briefsdomain "github.com/smallbiznis/railmeter/internal/briefs/domain"
)

func (s *Server) GetLatestBrief(c *gin.Context) {
	principal, ok := principalFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	brief, err := s.briefsSvc.Latest(c.Request.Context(), principal.TenantID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, brief)
}

func (s *Server) GetBrief(c *gin.Context) {
	principal, ok := principalFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	brief, err := s.briefsSvc.Get(c.Request.Context(), principal.TenantID, strings.TrimSpace(c.Param("date")))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, brief)
}

func (s *Server) ListOutbox(c *gin.Context) {
	principal, ok := principalFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	limit, err := optionalInt(c.Query("limit"))
	if err != nil {
		AbortWithError(c, newValidationError("limit", "invalid_limit", "limit must be an integer"))
		return
	}

	rows, err := s.briefsSvc.ListOutbox(c.Request.Context(), briefsdomain.OutboxFilter{
		TenantID: principal.TenantID,
		Status:   strings.TrimSpace(c.Query("status")),
		Date:     strings.TrimSpace(c.Query("date")),
		Limit:    limit,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, listResponse[briefsdomain.Notification]{Data: rows})
}

func (s *Server) AckNotification(c *gin.Context) {
	principal, ok := principalFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	id, err := snowflake.ParseString(strings.TrimSpace(c.Param("notification_id")))
	if err != nil {
		AbortWithError(c, ErrNotFound)
		return
	}
	n, err := s.briefsSvc.Ack(c.Request.Context(), principal.TenantID, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, n)
}
