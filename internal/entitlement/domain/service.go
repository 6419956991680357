package domain

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	ErrNoActiveSubscription = errors.New("no_active_subscription")
	ErrNotEntitled          = errors.New("not_entitled")
	ErrSubscriptionNotFound = errors.New("subscription_not_found")
	ErrPlanNotFound         = errors.New("plan_not_found")
	ErrPlanAlreadyExists    = errors.New("plan_already_exists")
	ErrInvalidPlanID        = errors.New("invalid_plan_id")
	ErrInvalidPlanName      = errors.New("invalid_plan_name")
	ErrInvalidCredits       = errors.New("invalid_included_credits")
	ErrInvalidOveragePrice  = errors.New("invalid_overage_price")
	ErrInvalidStatus        = errors.New("invalid_subscription_status")
	ErrUnknownCapability    = errors.New("unknown_capability")
	ErrUnknownEvent         = errors.New("unknown_event_key")
	ErrInvalidCap           = errors.New("invalid_event_cap")
)

type CreatePlanRequest struct {
	PlanID                string
	Name                  string
	IncludedCredits       decimal.Decimal
	OveragePricePerCredit decimal.Decimal
	Capabilities          []string
}

type UpdatePlanRequest struct {
	Name                  *string
	IncludedCredits       *decimal.Decimal
	OveragePricePerCredit *decimal.Decimal
	Active                *bool
}

type EventCapInput struct {
	EventKey string
	Limit    int64
}

type UpdateSubscriptionRequest struct {
	PlanID       *string
	Status       *string
	PeriodAnchor *time.Time
}

// PlanView is a plan with its capability and cap sets.
type PlanView struct {
	Plan         Plan           `json:"plan"`
	Capabilities []string       `json:"capabilities"`
	EventCaps    []PlanEventCap `json:"caps"`
}

type Repository interface {
	FindSubscription(ctx context.Context, db *gorm.DB, tenantID string, forUpdate bool) (*TenantSubscription, error)
	InsertSubscription(ctx context.Context, db *gorm.DB, sub *TenantSubscription) error
	UpdateSubscription(ctx context.Context, db *gorm.DB, sub *TenantSubscription) error

	FindPlan(ctx context.Context, db *gorm.DB, planID string) (*Plan, error)
	ListPlans(ctx context.Context, db *gorm.DB) ([]Plan, error)
	InsertPlan(ctx context.Context, db *gorm.DB, plan *Plan) error
	UpdatePlan(ctx context.Context, db *gorm.DB, plan *Plan) error

	ListCapabilities(ctx context.Context, db *gorm.DB) ([]Capability, error)
	InsertCapability(ctx context.Context, db *gorm.DB, c *Capability) error
	PlanCapabilities(ctx context.Context, db *gorm.DB, planID string) ([]string, error)
	ReplacePlanCapabilities(ctx context.Context, db *gorm.DB, planID string, keys []string) error

	PlanEventCaps(ctx context.Context, db *gorm.DB, planID string) ([]PlanEventCap, error)
	ReplacePlanEventCaps(ctx context.Context, db *gorm.DB, planID string, caps []PlanEventCap) error
}

// Service resolves what a tenant is entitled to and manages plans and subscriptions.
type Service interface {
	// Resolve fails with ErrNoActiveSubscription unless the subscription is active.
	Resolve(ctx context.Context, tx *gorm.DB, tenantID string, at time.Time) (Entitlement, error)
	// LockTenant serializes metered work for one tenant inside tx.
	LockTenant(ctx context.Context, tx *gorm.DB, tenantID string) error
	HasCapability(ctx context.Context, tenantID, capability string) (bool, error)

	GetSubscription(ctx context.Context, tenantID string) (*TenantSubscription, error)
	EnsureSubscription(ctx context.Context, tx *gorm.DB, tenantID, planID string) (*TenantSubscription, error)
	UpdateSubscription(ctx context.Context, tenantID string, req UpdateSubscriptionRequest) (*TenantSubscription, error)

	ListPlans(ctx context.Context) ([]PlanView, error)
	GetPlan(ctx context.Context, planID string) (PlanView, error)
	CreatePlan(ctx context.Context, req CreatePlanRequest) (PlanView, error)
	UpdatePlan(ctx context.Context, planID string, req UpdatePlanRequest) (PlanView, error)
	ReplaceCapabilities(ctx context.Context, planID string, keys []string) (PlanView, error)
	ReplaceEventCaps(ctx context.Context, planID string, caps []EventCapInput) (PlanView, error)

	ListCapabilities(ctx context.Context) ([]Capability, error)
	EnsureCapability(ctx context.Context, key, description string) (bool, error)
}
