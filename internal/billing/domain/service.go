package domain

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/shopspring/decimal"
	usagedomain "github.com/smallbiznis/railmeter/internal/usage/domain"
	"github.com/smallbiznis/railmeter/pkg/db/pagination"
)

const (
	DateLayout      = "2006-01-02"
	DefaultUnitName = "unit"
)

var ErrInvalidPeriod = errors.New("invalid_period_start")

type PlanSummary struct {
	PlanID string `json:"plan_id"`
	Name   string `json:"name"`
}

type CreditSummary struct {
	Included             decimal.Decimal `json:"included"`
	Used                 decimal.Decimal `json:"used"`
	Remaining            decimal.Decimal `json:"remaining"`
	OverageCredits       decimal.Decimal `json:"overage_credits"`
	EstimatedOverageCost decimal.Decimal `json:"estimated_overage_cost"`
	EstimatedListCost    decimal.Decimal `json:"estimated_list_cost"`
}

type BreakdownLine struct {
	EventKey         string          `json:"event_key"`
	UnitName         string          `json:"unit_name"`
	RawUnits         int64           `json:"raw_units"`
	Credits          decimal.Decimal `json:"credits"`
	ListCostEstimate decimal.Decimal `json:"list_cost_estimate"`
}

// UsageSummary is the tenant's consumption for one billing period.
type UsageSummary struct {
	PeriodStart string          `json:"period_start"`
	PeriodEnd   string          `json:"period_end"`
	Plan        PlanSummary     `json:"plan"`
	Credits     CreditSummary   `json:"credits"`
	Breakdown   []BreakdownLine `json:"breakdown"`
}

type LedgerRequest struct {
	TenantID string
	// PeriodStart selects the period containing it; nil means the current period.
	PeriodStart *time.Time
	pagination.Pagination
}

type LedgerPage struct {
	PeriodStart string                   `json:"period_start"`
	PeriodEnd   string                   `json:"period_end"`
	Events      []usagedomain.UsageEvent `json:"events"`
	pagination.PageInfo
}

type EventCapView struct {
	EventKey string `json:"event_key"`
	Limit    int64  `json:"limit"`
	Period   string `json:"period"`
}

type SubscriptionView struct {
	Status       string `json:"status"`
	PeriodAnchor string `json:"period_anchor"`
	PeriodStart  string `json:"period_start"`
	PeriodEnd    string `json:"period_end"`
}

type PlanOverview struct {
	PlanID                string           `json:"plan_id"`
	Name                  string           `json:"name"`
	IncludedCredits       decimal.Decimal  `json:"included_credits"`
	OveragePricePerCredit decimal.Decimal  `json:"overage_price_per_credit"`
	Capabilities          []string         `json:"capabilities"`
	Caps                  []EventCapView   `json:"caps"`
	Subscription          SubscriptionView `json:"subscription"`
}

type Service interface {
	Usage(ctx context.Context, tenantID string, periodStart *time.Time) (UsageSummary, error)
	Ledger(ctx context.Context, req LedgerRequest) (LedgerPage, error)
	Plan(ctx context.Context, tenantID string) (PlanOverview, error)
	// Statement renders the usage summary of a period as PDF.
	Statement(ctx context.Context, tenantID string, periodStart *time.Time) (io.Reader, error)
}
