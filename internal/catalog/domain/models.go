package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event keys metered by the built-in operations.
const (
	EventAssistantQuery       = "assistant_query"
	EventToolInvocation       = "tool_invocation"
	EventDailyBriefGenerated  = "daily_brief_generated"
	EventNotificationQueued   = "notification_enqueued"
	EventKPIDefinitionCreated = "kpi_definition_created"
	EventKPIPointsIngested    = "kpi_points_ingested"
)

// MeteredEventType is a catalog entry. Rows are soft-deactivated, never deleted.
type MeteredEventType struct {
	EventKey           string          `gorm:"column:event_key;type:varchar(100);primaryKey"`
	UnitName           string          `gorm:"column:unit_name;type:varchar(50);not null"`
	DisplayName        string          `gorm:"column:display_name;type:varchar(255);not null"`
	Description        string          `gorm:"column:description;type:text"`
	CreditsPerUnit     decimal.Decimal `gorm:"column:credits_per_unit;type:numeric(20,8);not null"`
	ListPricePerCredit decimal.Decimal `gorm:"column:list_price_per_credit;type:numeric(20,8);not null"`
	Billable           bool            `gorm:"column:billable;not null"`
	Active             bool            `gorm:"column:active;not null"`
	Version            int64           `gorm:"column:version;not null"`
	CreatedAt          time.Time       `gorm:"column:created_at;not null"`
	UpdatedAt          time.Time       `gorm:"column:updated_at;not null"`
}

func (MeteredEventType) TableName() string { return "metered_event_types" }

// EventTypeSnapshot is the catalog state as seen at one instant.
type EventTypeSnapshot struct {
	EventKey           string          `json:"event_key"`
	UnitName           string          `json:"unit_name"`
	DisplayName        string          `json:"display_name"`
	Description        string          `json:"description,omitempty"`
	CreditsPerUnit     decimal.Decimal `json:"credits_per_unit"`
	ListPricePerCredit decimal.Decimal `json:"list_price_per_credit"`
	Billable           bool            `json:"billable"`
	Active             bool            `json:"active"`
	Version            int64           `json:"version"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// EffectiveCreditsPerUnit is the weight charged for new usage. Non-billable
// events are recorded at zero credits.
func (s EventTypeSnapshot) EffectiveCreditsPerUnit() decimal.Decimal {
	if !s.Billable {
		return decimal.Zero
	}
	return s.CreditsPerUnit
}

func (m MeteredEventType) Snapshot() EventTypeSnapshot {
	return EventTypeSnapshot{
		EventKey:           m.EventKey,
		UnitName:           m.UnitName,
		DisplayName:        m.DisplayName,
		Description:        m.Description,
		CreditsPerUnit:     m.CreditsPerUnit,
		ListPricePerCredit: m.ListPricePerCredit,
		Billable:           m.Billable,
		Active:             m.Active,
		Version:            m.Version,
		UpdatedAt:          m.UpdatedAt,
	}
}
