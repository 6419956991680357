package domain

import (
	"time"

	"gorm.io/datatypes"
)

// Record is the stored outcome of a side-effecting request, keyed per tenant.
type Record struct {
	TenantID       string         `gorm:"column:tenant_id;type:varchar(64);primaryKey"`
	Key            string         `gorm:"column:idempotency_key;type:varchar(255);primaryKey"`
	Endpoint       string         `gorm:"column:endpoint;type:varchar(255);not null"`
	RequestHash    string         `gorm:"column:request_body_hash;type:varchar(64);not null"`
	ResponseStatus int            `gorm:"column:response_status;not null"`
	CachedResponse datatypes.JSON `gorm:"column:cached_response;not null"`
	CreatedAt      time.Time      `gorm:"column:created_at;not null"`
}

func (Record) TableName() string { return "idempotency_records" }
