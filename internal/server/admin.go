package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	catalogdomain "github.com/smallbiznis/railmeter/internal/catalog/domain"
	entitlementdomain "github.com/smallbiznis/railmeter/internal/entitlement/domain"
	rollupdomain "github.com/smallbiznis/railmeter/internal/rollup/domain"
	tenantdomain "github.com/smallbiznis/railmeter/internal/tenant/domain"
)

type createMeteredEventRequest struct {
	EventKey           string          `json:"event_key"`
	UnitName           string          `json:"unit_name"`
	DisplayName        string          `json:"display_name"`
	Description        string          `json:"description"`
	CreditsPerUnit     decimal.Decimal `json:"credits_per_unit"`
	ListPricePerCredit decimal.Decimal `json:"list_price_per_credit"`
	Billable           *bool           `json:"billable"`
}

type updateMeteredEventRequest struct {
	UnitName           *string          `json:"unit_name"`
	DisplayName        *string          `json:"display_name"`
	Description        *string          `json:"description"`
	CreditsPerUnit     *decimal.Decimal `json:"credits_per_unit"`
	ListPricePerCredit *decimal.Decimal `json:"list_price_per_credit"`
	Billable           *bool            `json:"billable"`
	Active             *bool            `json:"active"`
}

type createPlanRequest struct {
	PlanID                string          `json:"plan_id"`
	Name                  string          `json:"name"`
	IncludedCredits       decimal.Decimal `json:"included_credits"`
	OveragePricePerCredit decimal.Decimal `json:"overage_price_per_credit"`
	Capabilities          []string        `json:"capabilities"`
}

type updatePlanRequest struct {
	Name                  *string          `json:"name"`
	IncludedCredits       *decimal.Decimal `json:"included_credits"`
	OveragePricePerCredit *decimal.Decimal `json:"overage_price_per_credit"`
	Active                *bool            `json:"active"`
}

type replaceCapabilitiesRequest struct {
	Capabilities []string `json:"capabilities"`
}

type eventCapRequest struct {
	EventKey string `json:"event_key"`
	Limit    int64  `json:"limit"`
}

type replaceCapsRequest struct {
	Caps []eventCapRequest `json:"caps"`
}

type updateSubscriptionRequest struct {
	PlanID       *string `json:"plan_id"`
	Status       *string `json:"status"`
	PeriodAnchor *string `json:"period_anchor"`
}

type reconcileRequest struct {
	TenantID    string `json:"tenant_id"`
	PeriodStart string `json:"period_start"`
	Repair      *bool  `json:"repair"`
}

type listResponse[T any] struct {
	Data []T `json:"data"`
}

func (s *Server) ListMeteredEvents(c *gin.Context) {
	events, err := s.catalogSvc.List(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, listResponse[catalogdomain.EventTypeSnapshot]{Data: events})
}

func (s *Server) CreateMeteredEvent(c *gin.Context) {
	var req createMeteredEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	billable := true
	if req.Billable != nil {
		billable = *req.Billable
	}
	c.Set("event_key", strings.TrimSpace(req.EventKey))

	snapshot, err := s.catalogSvc.Create(c.Request.Context(), catalogdomain.CreateRequest{
		EventKey:           req.EventKey,
		UnitName:           req.UnitName,
		DisplayName:        req.DisplayName,
		Description:        req.Description,
		CreditsPerUnit:     req.CreditsPerUnit,
		ListPricePerCredit: req.ListPricePerCredit,
		Billable:           billable,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, snapshot)
}

// UpdateMeteredEvent changes weights and display fields. New weights apply
// to usage recorded afterwards; stored ledger rows keep their credits.
func (s *Server) UpdateMeteredEvent(c *gin.Context) {
	eventKey := strings.TrimSpace(c.Param("event_key"))
	c.Set("event_key", eventKey)

	var req updateMeteredEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	snapshot, err := s.catalogSvc.Upsert(c.Request.Context(), catalogdomain.UpsertRequest{
		EventKey:           eventKey,
		UnitName:           req.UnitName,
		DisplayName:        req.DisplayName,
		Description:        req.Description,
		CreditsPerUnit:     req.CreditsPerUnit,
		ListPricePerCredit: req.ListPricePerCredit,
		Billable:           req.Billable,
		Active:             req.Active,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

func (s *Server) ListCapabilities(c *gin.Context) {
	caps, err := s.entitlementSvc.ListCapabilities(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, listResponse[entitlementdomain.Capability]{Data: caps})
}

func (s *Server) ListPlans(c *gin.Context) {
	plans, err := s.entitlementSvc.ListPlans(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, listResponse[entitlementdomain.PlanView]{Data: plans})
}

func (s *Server) GetPlan(c *gin.Context) {
	plan, err := s.entitlementSvc.GetPlan(c.Request.Context(), strings.TrimSpace(c.Param("plan_id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, plan)
}

func (s *Server) CreatePlan(c *gin.Context) {
	var req createPlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	plan, err := s.entitlementSvc.CreatePlan(c.Request.Context(), entitlementdomain.CreatePlanRequest{
		PlanID:                req.PlanID,
		Name:                  req.Name,
		IncludedCredits:       req.IncludedCredits,
		OveragePricePerCredit: req.OveragePricePerCredit,
		Capabilities:          req.Capabilities,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, plan)
}

func (s *Server) UpdatePlan(c *gin.Context) {
	var req updatePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	plan, err := s.entitlementSvc.UpdatePlan(c.Request.Context(), strings.TrimSpace(c.Param("plan_id")), entitlementdomain.UpdatePlanRequest{
		Name:                  req.Name,
		IncludedCredits:       req.IncludedCredits,
		OveragePricePerCredit: req.OveragePricePerCredit,
		Active:                req.Active,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, plan)
}

func (s *Server) ReplacePlanCapabilities(c *gin.Context) {
	var req replaceCapabilitiesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	plan, err := s.entitlementSvc.ReplaceCapabilities(c.Request.Context(), strings.TrimSpace(c.Param("plan_id")), req.Capabilities)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, plan)
}

func (s *Server) ReplacePlanCaps(c *gin.Context) {
	var req replaceCapsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	caps := make([]entitlementdomain.EventCapInput, 0, len(req.Caps))
	for _, item := range req.Caps {
		caps = append(caps, entitlementdomain.EventCapInput{EventKey: item.EventKey, Limit: item.Limit})
	}

	plan, err := s.entitlementSvc.ReplaceEventCaps(c.Request.Context(), strings.TrimSpace(c.Param("plan_id")), caps)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, plan)
}

func (s *Server) ListTenants(c *gin.Context) {
	tenants, err := s.tenantSvc.List(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, listResponse[tenantdomain.Tenant]{Data: tenants})
}

func (s *Server) GetTenant(c *gin.Context) {
	tenant, err := s.tenantSvc.Get(c.Request.Context(), strings.TrimSpace(c.Param("tenant_id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, tenant)
}

// ProvisionTenant returns the tenant's first API key. It is never shown again.
func (s *Server) ProvisionTenant(c *gin.Context) {
	var req tenantdomain.ProvisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.tenantSvc.Provision(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (s *Server) ListTenantUsers(c *gin.Context) {
	users, err := s.tenantSvc.ListUsers(c.Request.Context(), strings.TrimSpace(c.Param("tenant_id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, listResponse[tenantdomain.User]{Data: users})
}

func (s *Server) CreateTenantUser(c *gin.Context) {
	var req tenantdomain.CreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	user, err := s.tenantSvc.CreateUser(c.Request.Context(), strings.TrimSpace(c.Param("tenant_id")), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, user)
}

func (s *Server) GetTenantSubscription(c *gin.Context) {
	sub, err := s.entitlementSvc.GetSubscription(c.Request.Context(), strings.TrimSpace(c.Param("tenant_id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, sub)
}

func (s *Server) UpdateTenantSubscription(c *gin.Context) {
	var req updateSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	var anchor *time.Time
	if req.PeriodAnchor != nil {
		parsed, err := parseOptionalDate(*req.PeriodAnchor)
		if err != nil || parsed == nil {
			AbortWithError(c, dateQueryError("period_anchor"))
			return
		}
		anchor = parsed
	}

	sub, err := s.entitlementSvc.UpdateSubscription(c.Request.Context(), strings.TrimSpace(c.Param("tenant_id")), entitlementdomain.UpdateSubscriptionRequest{
		PlanID:       req.PlanID,
		Status:       req.Status,
		PeriodAnchor: anchor,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, sub)
}

// Reconcile re-derives rollups from the ledger. Repair defaults to true.
func (s *Server) Reconcile(c *gin.Context) {
	var req reconcileRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}

	periodStart, err := parseOptionalDate(req.PeriodStart)
	if err != nil {
		AbortWithError(c, dateQueryError("period_start"))
		return
	}

	rr := rollupdomain.ReconcileRequest{
		TenantID: strings.TrimSpace(req.TenantID),
		Repair:   true,
	}
	if periodStart != nil {
		rr.PeriodStart = *periodStart
	}
	if req.Repair != nil {
		rr.Repair = *req.Repair
	}

	report, err := s.rollupSvc.Reconcile(c.Request.Context(), rr)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}
