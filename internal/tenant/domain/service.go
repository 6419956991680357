package domain

import (
	"context"
	"errors"

	entitlementdomain "github.com/smallbiznis/railmeter/internal/entitlement/domain"
	"github.com/smallbiznis/railmeter/pkg/tenantctx"
	"gorm.io/gorm"
)

var (
	ErrNotFound          = errors.New("tenant_not_found")
	ErrUserNotFound      = errors.New("user_not_found")
	ErrInvalidName       = errors.New("invalid_tenant_name")
	ErrInvalidEmail      = errors.New("invalid_email")
	ErrInvalidRole       = errors.New("invalid_role")
	ErrUserAlreadyExists = errors.New("user_already_exists")
	ErrTenantExists      = errors.New("tenant_already_exists")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrTenantDisabled    = errors.New("tenant_disabled")
)

type ProvisionRequest struct {
	Name string `json:"name"`
	// PlanID defaults to the configured default plan.
	PlanID     string `json:"plan_id"`
	AdminEmail string `json:"admin_email"`
	AdminName  string `json:"admin_name"`
}

type ProvisionResult struct {
	Tenant       Tenant                               `json:"tenant"`
	Subscription entitlementdomain.TenantSubscription `json:"subscription"`
	AdminUser    *User                                `json:"admin_user,omitempty"`
	APIKeyID     string                               `json:"api_key_id"`
	// APIKey is returned once and never stored in plain text.
	APIKey string `json:"api_key"`
}

type CreateUserRequest struct {
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
}

type Repository interface {
	InsertTenant(ctx context.Context, db *gorm.DB, t *Tenant) error
	FindTenant(ctx context.Context, db *gorm.DB, id string) (*Tenant, error)
	FindTenantBySlug(ctx context.Context, db *gorm.DB, slug string) (*Tenant, error)
	ListTenants(ctx context.Context, db *gorm.DB) ([]Tenant, error)
	InsertUser(ctx context.Context, db *gorm.DB, u *User) error
	FindUser(ctx context.Context, db *gorm.DB, tenantID, userID string) (*User, error)
	FindUserByEmail(ctx context.Context, db *gorm.DB, tenantID, email string) (*User, error)
	ListUsers(ctx context.Context, db *gorm.DB, tenantID string) ([]User, error)
}

type Service interface {
	// Provision creates a tenant with its subscription, daily limits and first API key.
	Provision(ctx context.Context, req ProvisionRequest) (*ProvisionResult, error)
	Get(ctx context.Context, tenantID string) (*Tenant, error)
	List(ctx context.Context) ([]Tenant, error)
	CreateUser(ctx context.Context, tenantID string, req CreateUserRequest) (*User, error)
	ListUsers(ctx context.Context, tenantID string) ([]User, error)
	// Authenticate verifies the API key and user of a tenant request.
	Authenticate(ctx context.Context, tenantID, userID, apiKey string) (tenantctx.Principal, error)
}
