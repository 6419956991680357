package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// APIKey stores hashed API credentials scoped to a tenant.
type APIKey struct {
	ID               snowflake.ID `gorm:"primaryKey"`
	TenantID         string       `gorm:"column:tenant_id;type:varchar(64);not null;uniqueIndex:ux_api_keys_tenant_key_id,priority:1"`
	KeyID            string       `gorm:"column:key_id;type:varchar(64);not null;uniqueIndex:ux_api_keys_tenant_key_id,priority:2"`
	Name             string       `gorm:"type:varchar(255);not null"`
	KeyHash          string       `gorm:"column:key_hash;type:varchar(64);not null"`
	IsActive         bool         `gorm:"column:is_active;not null"`
	CreatedAt        time.Time    `gorm:"not null"`
	UpdatedAt        time.Time    `gorm:"not null"`
	LastUsedAt       *time.Time   `gorm:"column:last_used_at"`
	ExpiresAt        *time.Time   `gorm:"column:expires_at"`
	RotatedFromKeyID *string      `gorm:"column:rotated_from_key_id;type:varchar(64)"`
}

// TableName sets the database table name.
func (APIKey) TableName() string { return "api_keys" }
