package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

const (
	NotificationChannelEmail  = "email"
	NotificationStatusPending = "pending"
	NotificationStatusSent    = "sent"
	NotificationStatusFailed  = "failed"

	// NotificationStatusAcked is a list filter only. Acknowledgement is
	// tracked in AckedAt so it never races the delivery status.
	NotificationStatusAcked = "acked"
)

// Brief is generated at most once per tenant and date.
type Brief struct {
	ID        snowflake.ID   `gorm:"column:id;primaryKey;autoIncrement:false" json:"id"`
	TenantID  string         `gorm:"column:tenant_id;type:varchar(64);not null;uniqueIndex:ux_daily_briefs_tenant_date,priority:1" json:"tenant_id"`
	BriefDate string         `gorm:"column:brief_date;type:varchar(10);not null;uniqueIndex:ux_daily_briefs_tenant_date,priority:2" json:"brief_date"`
	Content   datatypes.JSON `gorm:"column:content;type:json;not null" json:"content"`
	CreatedBy string         `gorm:"column:created_by;type:varchar(64)" json:"created_by"`
	CreatedAt time.Time      `gorm:"column:created_at;not null" json:"created_at"`
}

func (Brief) TableName() string { return "daily_briefs" }

// Notification is an outbox row. Delivery happens outside the metering transaction.
type Notification struct {
	ID        snowflake.ID      `gorm:"column:id;primaryKey;autoIncrement:false" json:"id"`
	TenantID  string            `gorm:"column:tenant_id;type:varchar(64);not null;index:idx_notification_outbox_tenant" json:"tenant_id"`
	BriefID   snowflake.ID      `gorm:"column:brief_id;not null" json:"brief_id"`
	Channel   string            `gorm:"column:channel;type:varchar(20);not null" json:"channel"`
	Recipient string            `gorm:"column:recipient;type:varchar(255);not null" json:"recipient"`
	Status    string            `gorm:"column:status;type:varchar(20);not null" json:"status"`
	Payload   datatypes.JSONMap `gorm:"column:payload;type:json" json:"payload"`
	Attempts  int               `gorm:"column:attempts;not null;default:0" json:"attempts"`
	LastError *string           `gorm:"column:last_error;type:text" json:"last_error,omitempty"`
	SentAt    *time.Time        `gorm:"column:sent_at" json:"sent_at,omitempty"`
	AckedAt   *time.Time        `gorm:"column:acked_at" json:"acked_at,omitempty"`
	CreatedAt time.Time         `gorm:"column:created_at;not null" json:"created_at"`
}

func (Notification) TableName() string { return "notification_outbox" }
