package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	entitlementdomain "github.com/smallbiznis/railmeter/internal/entitlement/domain"
	"gorm.io/gorm"
)

type Decision string

const (
	DecisionAllow        Decision = "ALLOW"
	DecisionAllowPartial Decision = "ALLOW_PARTIAL"
	DecisionDeny         Decision = "DENY"
)

const (
	ReasonNotEntitled   = "not_entitled"
	ReasonQuotaExceeded = "quota_exceeded"
)

// Ceiling names the budget that bound a verdict.
type Ceiling string

const (
	CeilingNone     Ceiling = ""
	CeilingCredits  Ceiling = "credits"
	CeilingEventCap Ceiling = "event_cap"
	CeilingDaily    Ceiling = "daily"
)

var ErrQuotaExceeded = errors.New("quota_exceeded")

// ExceededError carries the numbers a client needs to explain a denial.
type ExceededError struct {
	ActivityType string
	Ceiling      Ceiling
	Limit        decimal.Decimal
	Current      decimal.Decimal
	Requested    decimal.Decimal
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("quota_exceeded: %s %s limit=%s current=%s requested=%s",
		e.ActivityType, e.Ceiling, e.Limit, e.Current, e.Requested)
}

func (e *ExceededError) Is(target error) bool {
	return target == ErrQuotaExceeded
}

type AuthorizeRequest struct {
	TenantID       string
	EventKey       string
	RequestedUnits int64
	// Replay is set when the idempotency ledger already holds a response.
	Replay bool
	// AllowPartial lets the caller accept fewer units than requested.
	AllowPartial bool
	// Capability, when set, must be granted by the plan.
	Capability string
	At         time.Time
	// Entitlement skips resolution when the caller already holds it for tx.
	Entitlement *entitlementdomain.Entitlement
}

type Verdict struct {
	Decision       Decision `json:"decision"`
	EventKey       string   `json:"event_key"`
	RequestedUnits int64    `json:"requested_units"`
	AllowedUnits   int64    `json:"allowed_units"`
	// SkipEmission marks a replayed request that must not record usage.
	SkipEmission   bool            `json:"skip_emission"`
	Reason         string          `json:"reason,omitempty"`
	Ceiling        Ceiling         `json:"ceiling,omitempty"`
	Limit          decimal.Decimal `json:"limit"`
	Current        decimal.Decimal `json:"current"`
	Requested      decimal.Decimal `json:"requested"`
	CreditsPerUnit decimal.Decimal `json:"credits_per_unit"`
	// Cause is the entitlement error behind a not_entitled denial.
	Cause error `json:"-"`
}

func (v Verdict) Allowed() bool {
	return v.Decision != DecisionDeny
}

func (v Verdict) SuppressedUnits() int64 {
	if v.RequestedUnits <= v.AllowedUnits {
		return 0
	}
	return v.RequestedUnits - v.AllowedUnits
}

// Err converts a denial into the error callers surface.
func (v Verdict) Err() error {
	if v.Decision != DecisionDeny {
		return nil
	}
	if v.Reason == ReasonNotEntitled {
		if v.Cause != nil {
			return v.Cause
		}
		return entitlementdomain.ErrNotEntitled
	}
	return &ExceededError{
		ActivityType: v.EventKey,
		Ceiling:      v.Ceiling,
		Limit:        v.Limit,
		Current:      v.Current,
		Requested:    v.Requested,
	}
}

type Service interface {
	// Authorize must run inside the tenant-locked transaction that will emit usage.
	Authorize(ctx context.Context, tx *gorm.DB, req AuthorizeRequest) (Verdict, error)
}
