package service_test

import (
	"context"
	"testing"
	"time"

	dailyquotadomain "github.com/smallbiznis/railmeter/internal/dailyquota/domain"
	entitlementdomain "github.com/smallbiznis/railmeter/internal/entitlement/domain"
	tenantdomain "github.com/smallbiznis/railmeter/internal/tenant/domain"
	"github.com/smallbiznis/railmeter/internal/testutil/meteringtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProvisionCreatesSubscriptionLimitsAndKey(t *testing.T) {
	stack := meteringtest.New(t)
	ctx := context.Background()

	res, err := stack.Tenants.Provision(ctx, tenantdomain.ProvisionRequest{
		Name:       "Acme Corp",
		AdminEmail: "Owner@Acme.test",
		AdminName:  "Owner",
	})
	require.NoError(t, err)

	assert.Equal(t, "acme-corp", res.Tenant.Slug)
	assert.Equal(t, tenantdomain.StatusActive, res.Tenant.Status)
	assert.Equal(t, "starter", res.Subscription.PlanID)
	assert.Equal(t, entitlementdomain.SubscriptionStatusActive, res.Subscription.Status)
	assert.True(t, res.Subscription.PeriodAnchor.Equal(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)))
	require.NotNil(t, res.AdminUser)
	assert.Equal(t, "owner@acme.test", res.AdminUser.Email)
	assert.Equal(t, tenantdomain.RoleAdmin, res.AdminUser.Role)
	assert.NotEmpty(t, res.APIKey)
	assert.NotEmpty(t, res.APIKeyID)

	limits, err := stack.DailyQuota.Limits(ctx, nil, res.Tenant.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 100, limits[dailyquotadomain.ActivityToolInvocation])
	assert.EqualValues(t, 500, limits[dailyquotadomain.ActivityNotificationEnqueued])

	principal, err := stack.Tenants.Authenticate(ctx, res.Tenant.ID, res.AdminUser.ID, res.APIKey)
	require.NoError(t, err)
	assert.Equal(t, res.Tenant.ID, principal.TenantID)
	assert.Equal(t, tenantdomain.RoleAdmin, principal.Role)
}

func TestProvisionValidation(t *testing.T) {
	stack := meteringtest.New(t)
	ctx := context.Background()

	_, err := stack.Tenants.Provision(ctx, tenantdomain.ProvisionRequest{Name: "  "})
	assert.ErrorIs(t, err, tenantdomain.ErrInvalidName)

	_, err = stack.Tenants.Provision(ctx, tenantdomain.ProvisionRequest{Name: "Acme", AdminEmail: "not-an-email"})
	assert.ErrorIs(t, err, tenantdomain.ErrInvalidEmail)

	_, err = stack.Tenants.Provision(ctx, tenantdomain.ProvisionRequest{Name: "Acme", PlanID: "missing"})
	assert.ErrorIs(t, err, entitlementdomain.ErrPlanNotFound)

	_, err = stack.Tenants.Provision(ctx, tenantdomain.ProvisionRequest{Name: "Acme"})
	require.NoError(t, err)
	_, err = stack.Tenants.Provision(ctx, tenantdomain.ProvisionRequest{Name: "ACME"})
	assert.ErrorIs(t, err, tenantdomain.ErrTenantExists)

	tenants, err := stack.Tenants.List(ctx)
	require.NoError(t, err)
	assert.Len(t, tenants, 1)
}

func TestAuthenticateRejectsWrongCredentials(t *testing.T) {
	stack := meteringtest.New(t)
	ctx := context.Background()
	acme := stack.Provision(t, "acme", "starter")
	globex := stack.Provision(t, "globex", "starter")

	tests := []struct {
		name     string
		tenantID string
		userID   string
		apiKey   string
	}{
		{"missing headers", "", "", ""},
		{"wrong key", acme.Tenant.ID, acme.AdminUser.ID, "rm_live_nope"},
		{"key of another tenant", acme.Tenant.ID, acme.AdminUser.ID, globex.APIKey},
		{"user of another tenant", acme.Tenant.ID, globex.AdminUser.ID, acme.APIKey},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := stack.Tenants.Authenticate(ctx, tt.tenantID, tt.userID, tt.apiKey)
			assert.ErrorIs(t, err, tenantdomain.ErrUnauthorized)
		})
	}
}

func TestCreateUser(t *testing.T) {
	stack := meteringtest.New(t)
	ctx := context.Background()
	acme := stack.Provision(t, "acme", "starter")

	user, err := stack.Tenants.CreateUser(ctx, acme.Tenant.ID, tenantdomain.CreateUserRequest{Email: "dev@acme.test"})
	require.NoError(t, err)
	assert.Equal(t, tenantdomain.RoleMember, user.Role)

	_, err = stack.Tenants.CreateUser(ctx, acme.Tenant.ID, tenantdomain.CreateUserRequest{Email: "DEV@acme.test"})
	assert.ErrorIs(t, err, tenantdomain.ErrUserAlreadyExists)

	_, err = stack.Tenants.CreateUser(ctx, acme.Tenant.ID, tenantdomain.CreateUserRequest{Email: "ops@acme.test", Role: "owner"})
	assert.ErrorIs(t, err, tenantdomain.ErrInvalidRole)

	_, err = stack.Tenants.CreateUser(ctx, "missing", tenantdomain.CreateUserRequest{Email: "x@acme.test"})
	assert.ErrorIs(t, err, tenantdomain.ErrNotFound)

	users, err := stack.Tenants.ListUsers(ctx, acme.Tenant.ID)
	require.NoError(t, err)
	assert.Len(t, users, 2)

	principal, err := stack.Tenants.Authenticate(ctx, acme.Tenant.ID, user.ID, acme.APIKey)
	require.NoError(t, err)
	assert.Equal(t, tenantdomain.RoleMember, principal.Role)
}
