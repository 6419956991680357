package server

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	billingdomain "github.com/smallbiznis/railmeter/internal/billing/domain"
	catalogdomain "github.com/smallbiznis/railmeter/internal/catalog/domain"
	"github.com/smallbiznis/railmeter/pkg/db/pagination"
)

func (s *Server) ListBillingEvents(c *gin.Context) {
	events, err := s.catalogSvc.ListActive(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, listResponse[catalogdomain.EventTypeSnapshot]{Data: events})
}

func (s *Server) GetBillingPlan(c *gin.Context) {
	principal, ok := principalFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	overview, err := s.billingSvc.Plan(c.Request.Context(), principal.TenantID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, overview)
}

func (s *Server) GetBillingUsage(c *gin.Context) {
	principal, ok := principalFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	periodStart, err := parseOptionalDate(c.Query("period_start"))
	if err != nil {
		AbortWithError(c, dateQueryError("period_start"))
		return
	}

	summary, err := s.billingSvc.Usage(c.Request.Context(), principal.TenantID, periodStart)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (s *Server) GetBillingLedger(c *gin.Context) {
	principal, ok := principalFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var page pagination.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		AbortWithError(c, newValidationError("page_size", "invalid_page_size", "page_size must be an integer"))
		return
	}
	periodStart, err := parseOptionalDate(c.Query("period_start"))
	if err != nil {
		AbortWithError(c, dateQueryError("period_start"))
		return
	}

	result, err := s.billingSvc.Ledger(c.Request.Context(), billingdomain.LedgerRequest{
		TenantID:    principal.TenantID,
		PeriodStart: periodStart,
		Pagination:  page,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) GetBillingStatement(c *gin.Context) {
	principal, ok := principalFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	periodStart, err := parseOptionalDate(c.Query("period_start"))
	if err != nil {
		AbortWithError(c, dateQueryError("period_start"))
		return
	}

	doc, err := s.billingSvc.Statement(c.Request.Context(), principal.TenantID, periodStart)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	name := "statement"
	if periodStart != nil {
		name = "statement-" + periodStart.Format(dateOnlyLayout)
	}
	c.DataFromReader(http.StatusOK, -1, "application/pdf", doc, map[string]string{
		"Content-Disposition": fmt.Sprintf("attachment; filename=%q", name+".pdf"),
	})
}
