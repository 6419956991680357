package authorization

import (
	"context"
	"testing"

	"github.com/smallbiznis/railmeter/internal/testutil"
	"github.com/smallbiznis/railmeter/pkg/tenantctx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestService(t *testing.T) Service {
	t.Helper()
	enforcer, err := NewEnforcer(testutil.NewDB(t))
	require.NoError(t, err)
	return NewService(Params{Log: zap.NewNop(), Enforcer: enforcer})
}

func TestRolePermissions(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	admin := tenantctx.Principal{TenantID: "t1", UserID: "u1", Role: "admin"}
	member := tenantctx.Principal{TenantID: "t1", UserID: "u2", Role: "member"}

	tests := []struct {
		name      string
		principal tenantctx.Principal
		object    string
		action    string
		want      bool
	}{
		{"admin invokes tools", admin, ObjectTools, ActionInvokeTools, true},
		{"member cannot invoke tools", member, ObjectTools, ActionInvokeTools, false},
		{"member chats", member, ObjectAssistant, ActionAssistantChat, true},
		{"member views limits", member, ObjectLimits, ActionLimitsView, true},
		{"member cannot update limits", member, ObjectLimits, ActionLimitsUpdate, false},
		{"admin updates limits", admin, ObjectLimits, ActionLimitsUpdate, true},
		{"admin writes kpis", admin, ObjectKPIs, ActionKPIsWrite, true},
		{"member cannot write kpis", member, ObjectKPIs, ActionKPIsWrite, false},
		{"member reads kpis", member, ObjectKPIs, ActionKPIsRead, true},
		{"member views briefs", member, ObjectBriefs, ActionBriefsView, true},
		{"member acks notifications", member, ObjectOutbox, ActionOutboxAck, true},
		{"unknown role", tenantctx.Principal{TenantID: "t1", UserID: "u3", Role: "owner"}, ObjectAssistant, ActionAssistantChat, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, svc.Permitted(ctx, tt.principal, tt.object, tt.action))
		})
	}
}

func TestRoleChangeTakesEffect(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	p := tenantctx.Principal{TenantID: "t1", UserID: "u1", Role: "admin"}
	require.NoError(t, svc.Authorize(ctx, p, ObjectTools, ActionInvokeTools))

	p.Role = "member"
	assert.ErrorIs(t, svc.Authorize(ctx, p, ObjectTools, ActionInvokeTools), ErrForbidden)
}

func TestRolesAreScopedPerTenant(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.Authorize(ctx, tenantctx.Principal{TenantID: "t1", UserID: "u1", Role: "admin"}, ObjectTools, ActionInvokeTools))
	assert.False(t, svc.Permitted(ctx, tenantctx.Principal{TenantID: "t2", UserID: "u1", Role: "member"}, ObjectTools, ActionInvokeTools))
}

func TestAuthorizeValidatesInput(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	assert.ErrorIs(t, svc.Authorize(ctx, tenantctx.Principal{TenantID: "t1"}, ObjectTools, ActionInvokeTools), ErrInvalidActor)
	assert.ErrorIs(t, svc.Authorize(ctx, tenantctx.Principal{UserID: "u1"}, ObjectTools, ActionInvokeTools), ErrInvalidTenant)
	assert.ErrorIs(t, svc.Authorize(ctx, tenantctx.Principal{TenantID: "t1", UserID: "u1", Role: "admin"}, "", ActionInvokeTools), ErrInvalidObject)
}
