package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	dailyquotadomain "github.com/smallbiznis/railmeter/internal/dailyquota/domain"
)

type limitsResponse struct {
	TenantID string           `json:"tenant_id"`
	Limits   map[string]int64 `json:"limits"`
}

type updateLimitsRequest struct {
	Limits map[string]int64 `json:"limits"`
}

type dailyUsageResponse struct {
	TenantID   string                           `json:"tenant_id"`
	Date       string                           `json:"date"`
	Activities []dailyquotadomain.ActivityUsage `json:"activities"`
}

func (s *Server) GetLimits(c *gin.Context) {
	principal, ok := principalFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	limits, err := s.dailyQuotaSvc.Limits(c.Request.Context(), nil, principal.TenantID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, limitsResponse{TenantID: principal.TenantID, Limits: limits})
}

// UpdateLimits overrides the daily ceilings of the caller's tenant. Omitted
// activities keep their current value.
func (s *Server) UpdateLimits(c *gin.Context) {
	principal, ok := principalFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req updateLimitsRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.Limits) == 0 {
		AbortWithError(c, invalidRequestError())
		return
	}

	limits, err := s.dailyQuotaSvc.SetLimits(c.Request.Context(), principal.TenantID, req.Limits)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, limitsResponse{TenantID: principal.TenantID, Limits: limits})
}

func (s *Server) GetDailyUsage(c *gin.Context) {
	principal, ok := principalFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	date, err := parseOptionalDate(c.Query("date"))
	if err != nil {
		AbortWithError(c, dateQueryError("date"))
		return
	}
	day := s.clock.Now().UTC()
	if date != nil {
		day = *date
	}

	usage, err := s.dailyQuotaSvc.DailyUsage(c.Request.Context(), nil, principal.TenantID, day)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, dailyUsageResponse{
		TenantID:   principal.TenantID,
		Date:       day.Format(dateOnlyLayout),
		Activities: usage,
	})
}
