package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PeriodRollup is the running total of one event key for one tenant and billing period.
type PeriodRollup struct {
	TenantID      string          `gorm:"column:tenant_id;type:varchar(64);primaryKey"`
	EventKey      string          `gorm:"column:event_key;type:varchar(100);primaryKey"`
	PeriodStart   time.Time       `gorm:"column:period_start;primaryKey"`
	RawUnitsTotal int64           `gorm:"column:raw_units_total;not null"`
	CreditsTotal  decimal.Decimal `gorm:"column:credits_total;type:numeric(20,8);not null"`
	ListCostTotal decimal.Decimal `gorm:"column:list_cost_total;type:numeric(20,8);not null"`
	EventCount    int64           `gorm:"column:event_count;not null"`
	UpdatedAt     time.Time       `gorm:"column:updated_at;not null"`
}

func (PeriodRollup) TableName() string { return "period_rollups" }

type EventTotal struct {
	EventKey   string          `json:"event_key"`
	RawUnits   int64           `json:"raw_units"`
	Credits    decimal.Decimal `json:"credits"`
	ListCost   decimal.Decimal `json:"list_cost_estimate"`
	EventCount int64           `json:"event_count"`
}

// Totals aggregates every rollup row of a tenant inside [PeriodStart, PeriodEnd).
type Totals struct {
	TenantID    string                `json:"tenant_id"`
	PeriodStart time.Time             `json:"period_start"`
	PeriodEnd   time.Time             `json:"period_end"`
	CreditsUsed decimal.Decimal       `json:"credits_used"`
	ListCost    decimal.Decimal       `json:"list_cost_estimate"`
	PerEvent    map[string]EventTotal `json:"per_event"`
}

// Event returns the totals for eventKey, zero when nothing was recorded.
func (t Totals) Event(eventKey string) EventTotal {
	if e, ok := t.PerEvent[eventKey]; ok {
		return e
	}
	return EventTotal{EventKey: eventKey, Credits: decimal.Zero, ListCost: decimal.Zero}
}

// LedgerTotal is the ledger-derived total for one rollup key.
type LedgerTotal struct {
	TenantID    string
	EventKey    string
	PeriodStart time.Time
	RawUnits    int64
	Credits     decimal.Decimal
	ListCost    decimal.Decimal
	EventCount  int64
}

// Drift is a rollup row that disagrees with the ledger.
type Drift struct {
	TenantID      string          `json:"tenant_id"`
	EventKey      string          `json:"event_key"`
	PeriodStart   time.Time       `json:"period_start"`
	RollupUnits   int64           `json:"rollup_raw_units"`
	LedgerUnits   int64           `json:"ledger_raw_units"`
	RollupCredits decimal.Decimal `json:"rollup_credits"`
	LedgerCredits decimal.Decimal `json:"ledger_credits"`
	Repaired      bool            `json:"repaired"`
}
