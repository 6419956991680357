package domain

import "time"

const (
	RoleAdmin  = "admin"
	RoleMember = "member"
)

const (
	StatusActive   = "active"
	StatusDisabled = "disabled"
)

type Tenant struct {
	ID        string    `gorm:"column:id;type:varchar(64);primaryKey" json:"id"`
	Name      string    `gorm:"column:name;type:varchar(255);not null" json:"name"`
	Slug      string    `gorm:"column:slug;type:varchar(255);not null;uniqueIndex" json:"slug"`
	Status    string    `gorm:"column:status;type:varchar(20);not null" json:"status"`
	CreatedAt time.Time `gorm:"column:created_at;not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null" json:"updated_at"`
}

func (Tenant) TableName() string { return "tenants" }

type User struct {
	ID          string    `gorm:"column:id;type:varchar(64);primaryKey" json:"id"`
	TenantID    string    `gorm:"column:tenant_id;type:varchar(64);not null;uniqueIndex:ux_tenant_users_email,priority:1" json:"tenant_id"`
	Email       string    `gorm:"column:email;type:varchar(255);not null;uniqueIndex:ux_tenant_users_email,priority:2" json:"email"`
	DisplayName string    `gorm:"column:display_name;type:varchar(255)" json:"display_name"`
	Role        string    `gorm:"column:role;type:varchar(20);not null" json:"role"`
	CreatedAt   time.Time `gorm:"column:created_at;not null" json:"created_at"`
}

func (User) TableName() string { return "tenant_users" }

func IsValidRole(role string) bool {
	return role == RoleAdmin || role == RoleMember
}
