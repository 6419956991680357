package service

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/railmeter/internal/cache"
	catalogdomain "github.com/smallbiznis/railmeter/internal/catalog/domain"
	catalogrepo "github.com/smallbiznis/railmeter/internal/catalog/repository"
	catalogservice "github.com/smallbiznis/railmeter/internal/catalog/service"
	"github.com/smallbiznis/railmeter/internal/clock"
	entitlementdomain "github.com/smallbiznis/railmeter/internal/entitlement/domain"
	"github.com/smallbiznis/railmeter/internal/entitlement/repository"
	"github.com/smallbiznis/railmeter/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	db    *gorm.DB
	clock *clock.FakeClock
	svc   entitlementdomain.Service
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	conn := testutil.NewDB(t,
		&catalogdomain.MeteredEventType{},
		&entitlementdomain.Plan{},
		&entitlementdomain.Capability{},
		&entitlementdomain.PlanCapability{},
		&entitlementdomain.PlanEventCap{},
		&entitlementdomain.TenantSubscription{},
	)
	clk := clock.NewFakeClock(time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC))
	catalog := catalogservice.New(catalogservice.Params{
		DB:    conn,
		Log:   zap.NewNop(),
		Clock: clk,
		Repo:  catalogrepo.Provide(),
		Cache: cache.NewCatalogCache(),
	})
	_, err := catalog.Create(context.Background(), catalogdomain.CreateRequest{
		EventKey:           "tool_invocation",
		UnitName:           "call",
		DisplayName:        "Tool invocation",
		CreditsPerUnit:     decimal.RequireFromString("2"),
		ListPricePerCredit: decimal.RequireFromString("0.02"),
		Billable:           true,
	})
	require.NoError(t, err)

	svc := New(Params{
		DB:      conn,
		Log:     zap.NewNop(),
		Clock:   clk,
		Repo:    repository.Provide(),
		Catalog: catalog,
	})
	return fixture{db: conn, clock: clk, svc: svc}
}

func (f fixture) seedStarter(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	for _, key := range []string{"chat", "tools"} {
		_, err := f.svc.EnsureCapability(ctx, key, key)
		require.NoError(t, err)
	}
	_, err := f.svc.CreatePlan(ctx, entitlementdomain.CreatePlanRequest{
		PlanID:                "starter",
		Name:                  "Starter",
		IncludedCredits:       decimal.NewFromInt(500),
		OveragePricePerCredit: decimal.RequireFromString("0.02"),
		Capabilities:          []string{"tools", "chat"},
	})
	require.NoError(t, err)
	_, err = f.svc.ReplaceEventCaps(ctx, "starter", []entitlementdomain.EventCapInput{
		{EventKey: "tool_invocation", Limit: 2000},
	})
	require.NoError(t, err)
}

func TestResolveReturnsPlanCapabilitiesAndPeriod(t *testing.T) {
	f := newFixture(t)
	f.seedStarter(t)
	ctx := context.Background()

	_, err := f.svc.EnsureSubscription(ctx, nil, "tenant-a", "starter")
	require.NoError(t, err)

	ent, err := f.svc.Resolve(ctx, nil, "tenant-a", f.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, "starter", ent.Plan.PlanID)
	assert.True(t, ent.IncludedCredits.Equal(decimal.NewFromInt(500)))
	assert.True(t, ent.HasCapability("tools"))
	assert.False(t, ent.HasCapability("briefs"))
	assert.Equal(t, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), ent.PeriodStart)
	assert.Equal(t, time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC), ent.PeriodEnd)

	limit, ok := ent.EventCap("tool_invocation")
	require.True(t, ok)
	assert.True(t, limit.Equal(decimal.NewFromInt(2000)))
	_, ok = ent.EventCap("assistant_query")
	assert.False(t, ok)
}

func TestResolveRequiresActiveSubscription(t *testing.T) {
	f := newFixture(t)
	f.seedStarter(t)
	ctx := context.Background()

	_, err := f.svc.Resolve(ctx, nil, "missing", f.clock.Now())
	assert.ErrorIs(t, err, entitlementdomain.ErrNoActiveSubscription)

	_, err = f.svc.EnsureSubscription(ctx, nil, "tenant-a", "starter")
	require.NoError(t, err)
	_, err = f.svc.UpdateSubscription(ctx, "tenant-a", entitlementdomain.UpdateSubscriptionRequest{
		Status: ptr(entitlementdomain.SubscriptionStatusSuspended),
	})
	require.NoError(t, err)

	_, err = f.svc.Resolve(ctx, nil, "tenant-a", f.clock.Now())
	assert.ErrorIs(t, err, entitlementdomain.ErrNoActiveSubscription)

	ok, err := f.svc.HasCapability(ctx, "tenant-a", "tools")
	assert.ErrorIs(t, err, entitlementdomain.ErrNoActiveSubscription)
	assert.False(t, ok)
}

func TestEnsureSubscriptionIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.seedStarter(t)
	ctx := context.Background()

	first, err := f.svc.EnsureSubscription(ctx, nil, "tenant-a", "starter")
	require.NoError(t, err)
	f.clock.Advance(48 * time.Hour)
	second, err := f.svc.EnsureSubscription(ctx, nil, "tenant-a", "starter")
	require.NoError(t, err)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)

	_, err = f.svc.EnsureSubscription(ctx, nil, "tenant-b", "enterprise")
	assert.ErrorIs(t, err, entitlementdomain.ErrPlanNotFound)
}

func TestUpdateSubscriptionValidates(t *testing.T) {
	f := newFixture(t)
	f.seedStarter(t)
	ctx := context.Background()

	_, err := f.svc.EnsureSubscription(ctx, nil, "tenant-a", "starter")
	require.NoError(t, err)

	_, err = f.svc.UpdateSubscription(ctx, "tenant-a", entitlementdomain.UpdateSubscriptionRequest{PlanID: ptr("nope")})
	assert.ErrorIs(t, err, entitlementdomain.ErrPlanNotFound)

	_, err = f.svc.UpdateSubscription(ctx, "tenant-a", entitlementdomain.UpdateSubscriptionRequest{Status: ptr("paused")})
	assert.ErrorIs(t, err, entitlementdomain.ErrInvalidStatus)

	_, err = f.svc.UpdateSubscription(ctx, "ghost", entitlementdomain.UpdateSubscriptionRequest{Status: ptr("active")})
	assert.ErrorIs(t, err, entitlementdomain.ErrSubscriptionNotFound)

	anchor := time.Date(2025, 1, 31, 17, 0, 0, 0, time.UTC)
	sub, err := f.svc.UpdateSubscription(ctx, "tenant-a", entitlementdomain.UpdateSubscriptionRequest{PeriodAnchor: &anchor})
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC), sub.PeriodAnchor.UTC())
}

func TestCreatePlanDerivesSlugAndRejectsUnknownCapability(t *testing.T) {
	f := newFixture(t)
	f.seedStarter(t)
	ctx := context.Background()

	view, err := f.svc.CreatePlan(ctx, entitlementdomain.CreatePlanRequest{
		Name:                  "Growth Annual",
		IncludedCredits:       decimal.NewFromInt(2000),
		OveragePricePerCredit: decimal.RequireFromString("0.015"),
		Capabilities:          []string{"chat"},
	})
	require.NoError(t, err)
	assert.Equal(t, "growth-annual", view.Plan.PlanID)
	assert.Equal(t, []string{"chat"}, view.Capabilities)

	_, err = f.svc.CreatePlan(ctx, entitlementdomain.CreatePlanRequest{
		Name:         "Broken",
		Capabilities: []string{"teleport"},
	})
	assert.ErrorIs(t, err, entitlementdomain.ErrUnknownCapability)

	_, err = f.svc.CreatePlan(ctx, entitlementdomain.CreatePlanRequest{PlanID: "starter", Name: "Again"})
	assert.ErrorIs(t, err, entitlementdomain.ErrPlanAlreadyExists)

	_, err = f.svc.CreatePlan(ctx, entitlementdomain.CreatePlanRequest{
		Name:            "Negative",
		IncludedCredits: decimal.NewFromInt(-1),
	})
	assert.ErrorIs(t, err, entitlementdomain.ErrInvalidCredits)
}

func TestReplaceEventCapsRejectsUnknownEvent(t *testing.T) {
	f := newFixture(t)
	f.seedStarter(t)

	_, err := f.svc.ReplaceEventCaps(context.Background(), "starter", []entitlementdomain.EventCapInput{
		{EventKey: "warp_drive", Limit: 1},
	})
	assert.ErrorIs(t, err, entitlementdomain.ErrUnknownEvent)

	_, err = f.svc.ReplaceEventCaps(context.Background(), "starter", []entitlementdomain.EventCapInput{
		{EventKey: "tool_invocation", Limit: -5},
	})
	assert.ErrorIs(t, err, entitlementdomain.ErrInvalidCap)

	view, err := f.svc.GetPlan(context.Background(), "starter")
	require.NoError(t, err)
	require.Len(t, view.EventCaps, 1)
	assert.Equal(t, int64(2000), view.EventCaps[0].Limit)
}

func TestLockTenantRequiresSubscription(t *testing.T) {
	f := newFixture(t)
	f.seedStarter(t)
	ctx := context.Background()

	err := f.db.Transaction(func(tx *gorm.DB) error {
		return f.svc.LockTenant(ctx, tx, "tenant-a")
	})
	assert.ErrorIs(t, err, entitlementdomain.ErrNoActiveSubscription)

	_, err = f.svc.EnsureSubscription(ctx, nil, "tenant-a", "starter")
	require.NoError(t, err)
	err = f.db.Transaction(func(tx *gorm.DB) error {
		return f.svc.LockTenant(ctx, tx, "tenant-a")
	})
	assert.NoError(t, err)
}

func ptr[T any](v T) *T { return &v }
