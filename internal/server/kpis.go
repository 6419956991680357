package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/railmeter/internal/authorization"
	kpidomain "github.com/smallbiznis/railmeter/internal/kpi/domain"
)

func (s *Server) CreateKPI(c *gin.Context) {
	principal, ok := principalFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req kpidomain.CreateRequest
	if err := bindOperationJSON(c, &req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	c.Set("event_key", "kpi_definition_created")

	result, err := s.kpiSvc.Create(c.Request.Context(), kpidomain.CreateCommand{
		TenantID:       principal.TenantID,
		UserID:         principal.UserID,
		IdempotencyKey: idempotencyKey(c),
		Permitted:      s.permitted(c, principal, authorization.ObjectKPIs, authorization.ActionKPIsWrite),
		Request:        req,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	writeResult(c, result)
}

func (s *Server) IngestKPIPoints(c *gin.Context) {
	principal, ok := principalFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req kpidomain.IngestRequest
	if err := bindOperationJSON(c, &req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	c.Set("event_key", "kpi_points_ingested")

	result, err := s.kpiSvc.Ingest(c.Request.Context(), kpidomain.IngestCommand{
		TenantID:       principal.TenantID,
		UserID:         principal.UserID,
		KPIID:          strings.TrimSpace(c.Param("kpi_id")),
		IdempotencyKey: idempotencyKey(c),
		Permitted:      s.permitted(c, principal, authorization.ObjectKPIs, authorization.ActionKPIsWrite),
		Request:        req,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	writeResult(c, result)
}

func (s *Server) ListKPIs(c *gin.Context) {
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
	offset, err := optionalInt(c.Query("offset"))
	if err != nil {
		AbortWithError(c, newValidationError("offset", "invalid_offset", "offset must be an integer"))
		return
	}

	defs, err := s.kpiSvc.List(c.Request.Context(), kpidomain.ListRequest{
		TenantID: principal.TenantID,
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, listResponse[kpidomain.Definition]{Data: defs})
}

func (s *Server) GetKPILatest(c *gin.Context) {
	principal, ok := principalFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	latest, err := s.kpiSvc.Latest(c.Request.Context(), principal.TenantID, strings.TrimSpace(c.Param("kpi_id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, latest)
}

func optionalInt(value string) (int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, nil
	}
	return strconv.Atoi(trimmed)
}
