// Package domain contains the append-only usage ledger.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// UsageEvent is one metered occurrence. Pricing is copied from the catalog at
// emission and never rewritten.
type UsageEvent struct {
	ID                 snowflake.ID      `gorm:"primaryKey" json:"id"`
	TenantID           string            `gorm:"column:tenant_id;type:varchar(64);not null;index:idx_usage_events_tenant_period,priority:1" json:"tenant_id"`
	EventKey           string            `gorm:"column:event_key;type:varchar(100);not null" json:"event_key"`
	RawUnits           int64             `gorm:"column:raw_units;not null" json:"raw_units"`
	CreditsPerUnit     decimal.Decimal   `gorm:"column:credits_per_unit;type:numeric(20,8);not null" json:"credits_per_unit"`
	ListPricePerCredit decimal.Decimal   `gorm:"column:list_price_per_credit;type:numeric(20,8);not null" json:"list_price_per_credit"`
	CatalogVersion     int64             `gorm:"column:catalog_version;not null" json:"catalog_version"`
	Credits            decimal.Decimal   `gorm:"column:credits;type:numeric(20,8);not null" json:"credits"`
	ListCostEstimate   decimal.Decimal   `gorm:"column:list_cost_estimate;type:numeric(20,8);not null" json:"list_cost_estimate"`
	PeriodStart        time.Time         `gorm:"column:period_start;not null;index:idx_usage_events_tenant_period,priority:2" json:"period_start"`
	OccurredAt         time.Time         `gorm:"column:occurred_at;not null" json:"occurred_at"`
	IdempotencyKey     *string           `gorm:"column:idempotency_key;type:varchar(255)" json:"idempotency_key,omitempty"`
	LinkedEntityType   *string           `gorm:"column:linked_entity_type;type:varchar(50)" json:"linked_entity_type,omitempty"`
	LinkedEntityID     *string           `gorm:"column:linked_entity_id;type:varchar(64)" json:"linked_entity_id,omitempty"`
	Metadata           datatypes.JSONMap `gorm:"column:metadata" json:"metadata,omitempty"`
	CreatedAt          time.Time         `gorm:"column:created_at;not null" json:"created_at"`
}

func (UsageEvent) TableName() string { return "usage_events" }
