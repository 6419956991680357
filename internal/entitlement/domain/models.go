package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	SubscriptionStatusActive    = "active"
	SubscriptionStatusSuspended = "suspended"
	SubscriptionStatusCancelled = "cancelled"
)

const CapPeriodMonthly = "monthly"

const (
	CapabilityChat          = "chat"
	CapabilityTools         = "tools"
	CapabilityBriefs        = "briefs"
	CapabilityNotifications = "notifications"
	CapabilityKPIIngest     = "kpi_ingest"
	CapabilityKPIRead       = "kpi_read"
)

// Plan is admin-managed. Plans referenced by a subscription are only ever updated.
type Plan struct {
	PlanID                string          `gorm:"column:plan_id;type:varchar(64);primaryKey" json:"plan_id"`
	Name                  string          `gorm:"column:name;type:varchar(255);not null" json:"name"`
	IncludedCredits       decimal.Decimal `gorm:"column:included_credits;type:numeric(20,8);not null" json:"included_credits"`
	OveragePricePerCredit decimal.Decimal `gorm:"column:overage_price_per_credit;type:numeric(20,8);not null" json:"overage_price_per_credit"`
	Active                bool            `gorm:"column:active;not null" json:"active"`
	CreatedAt             time.Time       `gorm:"column:created_at;not null" json:"created_at"`
	UpdatedAt             time.Time       `gorm:"column:updated_at;not null" json:"updated_at"`
}

func (Plan) TableName() string { return "plans" }

type Capability struct {
	Key         string    `gorm:"column:capability_key;type:varchar(64);primaryKey" json:"key"`
	Description string    `gorm:"column:description;type:text" json:"description"`
	CreatedAt   time.Time `gorm:"column:created_at;not null" json:"created_at"`
}

func (Capability) TableName() string { return "capabilities" }

type PlanCapability struct {
	PlanID        string `gorm:"column:plan_id;type:varchar(64);primaryKey"`
	CapabilityKey string `gorm:"column:capability_key;type:varchar(64);primaryKey"`
}

func (PlanCapability) TableName() string { return "plan_capabilities" }

// PlanEventCap is a raw-unit ceiling per event per period, independent of credits.
type PlanEventCap struct {
	PlanID   string `gorm:"column:plan_id;type:varchar(64);primaryKey" json:"plan_id"`
	EventKey string `gorm:"column:event_key;type:varchar(100);primaryKey" json:"event_key"`
	Limit    int64  `gorm:"column:cap_limit;not null" json:"limit"`
	Period   string `gorm:"column:period;type:varchar(20);not null" json:"period"`
}

func (PlanEventCap) TableName() string { return "plan_event_caps" }

// TenantSubscription is the single subscription row every tenant owns.
type TenantSubscription struct {
	TenantID     string    `gorm:"column:tenant_id;type:varchar(64);primaryKey" json:"tenant_id"`
	PlanID       string    `gorm:"column:plan_id;type:varchar(64);not null;index" json:"plan_id"`
	Status       string    `gorm:"column:status;type:varchar(20);not null" json:"status"`
	PeriodAnchor time.Time `gorm:"column:period_anchor;not null" json:"period_anchor"`
	CreatedAt    time.Time `gorm:"column:created_at;not null" json:"created_at"`
	UpdatedAt    time.Time `gorm:"column:updated_at;not null" json:"updated_at"`
}

func (TenantSubscription) TableName() string { return "tenant_subscriptions" }

// Entitlement is what a tenant may consume at one instant.
type Entitlement struct {
	TenantID        string
	Plan            Plan
	Status          string
	Capabilities    map[string]struct{}
	PeriodStart     time.Time
	PeriodEnd       time.Time
	IncludedCredits decimal.Decimal
	EventCaps       map[string]decimal.Decimal
}

func (e Entitlement) HasCapability(name string) bool {
	_, ok := e.Capabilities[name]
	return ok
}

// EventCap returns the raw-unit ceiling for eventKey, if the plan sets one.
func (e Entitlement) EventCap(eventKey string) (decimal.Decimal, bool) {
	limit, ok := e.EventCaps[eventKey]
	return limit, ok
}

func IsValidStatus(status string) bool {
	switch status {
	case SubscriptionStatusActive, SubscriptionStatusSuspended, SubscriptionStatusCancelled:
		return true
	}
	return false
}
