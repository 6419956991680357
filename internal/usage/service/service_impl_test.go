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
	rollupdomain "github.com/smallbiznis/railmeter/internal/rollup/domain"
	rolluprepo "github.com/smallbiznis/railmeter/internal/rollup/repository"
	rollupservice "github.com/smallbiznis/railmeter/internal/rollup/service"
	"github.com/smallbiznis/railmeter/internal/testutil"
	usagedomain "github.com/smallbiznis/railmeter/internal/usage/domain"
	"github.com/smallbiznis/railmeter/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var periodStart = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

type harness struct {
	db      *gorm.DB
	clock   *clock.FakeClock
	catalog catalogdomain.Service
	rollup  rollupdomain.Service
	usage   usagedomain.Service
}

func newHarness(t *testing.T) harness {
	t.Helper()
	conn := testutil.NewDB(t,
		&catalogdomain.MeteredEventType{},
		&usagedomain.UsageEvent{},
		&rollupdomain.PeriodRollup{},
	)
	clk := clock.NewFakeClock(time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC))

	catalog := catalogservice.New(catalogservice.Params{
		DB: conn, Log: zap.NewNop(), Clock: clk, Repo: catalogrepo.Provide(), Cache: cache.NewCatalogCache(),
	})
	rollup := rollupservice.New(rollupservice.Params{
		DB: conn, Log: zap.NewNop(), Clock: clk, Repo: rolluprepo.Provide(),
	})
	usage := NewService(ServiceParam{
		DB: conn, Log: zap.NewNop(), GenID: testutil.NewNode(t), Clock: clk, Catalog: catalog, Rollup: rollup,
	})

	ctx := context.Background()
	for _, seed := range []catalogdomain.CreateRequest{
		{EventKey: "tool_invocation", UnitName: "call", DisplayName: "Tool", CreditsPerUnit: decimal.RequireFromString("2.0"), ListPricePerCredit: decimal.RequireFromString("0.02"), Billable: true},
		{EventKey: "kpi_points_ingested", UnitName: "row", DisplayName: "KPI points", CreditsPerUnit: decimal.RequireFromString("0.001"), ListPricePerCredit: decimal.RequireFromString("0.02"), Billable: true},
		{EventKey: "free_lookup", UnitName: "call", DisplayName: "Free", CreditsPerUnit: decimal.RequireFromString("3"), ListPricePerCredit: decimal.RequireFromString("0.02"), Billable: false},
	} {
		_, err := catalog.Create(ctx, seed)
		require.NoError(t, err)
	}

	return harness{db: conn, clock: clk, catalog: catalog, rollup: rollup, usage: usage}
}

func (h harness) emit(t *testing.T, tenantID, eventKey string, units int64) *usagedomain.UsageEvent {
	t.Helper()
	var event *usagedomain.UsageEvent
	err := h.db.Transaction(func(tx *gorm.DB) error {
		var err error
		event, err = h.usage.Emit(context.Background(), tx, usagedomain.EmitRequest{
			TenantID:    tenantID,
			EventKey:    eventKey,
			RawUnits:    units,
			PeriodStart: periodStart,
			OccurredAt:  h.clock.Now(),
		})
		return err
	})
	require.NoError(t, err)
	return event
}

func TestEmitFreezesPricingAndIncrementsRollup(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		h.emit(t, "tenant-a", "tool_invocation", 1)
	}

	totals, err := h.rollup.GetTotals(ctx, nil, "tenant-a", periodStart, periodStart.AddDate(0, 1, 0))
	require.NoError(t, err)
	assert.True(t, totals.CreditsUsed.Equal(decimal.NewFromInt(6)), totals.CreditsUsed.String())
	tool := totals.Event("tool_invocation")
	assert.Equal(t, int64(3), tool.RawUnits)
	assert.True(t, tool.Credits.Equal(decimal.NewFromInt(6)))
	assert.True(t, tool.ListCost.Equal(decimal.RequireFromString("0.12")), tool.ListCost.String())
}

func TestCatalogChangeDoesNotRewriteLedger(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	before := h.emit(t, "tenant-a", "tool_invocation", 1)

	newWeight := decimal.RequireFromString("5")
	_, err := h.catalog.Upsert(ctx, catalogdomain.UpsertRequest{EventKey: "tool_invocation", CreditsPerUnit: &newWeight})
	require.NoError(t, err)

	after := h.emit(t, "tenant-a", "tool_invocation", 1)

	var stored usagedomain.UsageEvent
	require.NoError(t, h.db.First(&stored, "id = ?", before.ID).Error)
	assert.True(t, stored.Credits.Equal(decimal.NewFromInt(2)))
	assert.True(t, stored.CreditsPerUnit.Equal(decimal.NewFromInt(2)))
	assert.Equal(t, int64(1), stored.CatalogVersion)

	assert.True(t, after.Credits.Equal(decimal.NewFromInt(5)))
	assert.Equal(t, int64(2), after.CatalogVersion)
}

func TestEmitNonBillableRecordsZeroCredits(t *testing.T) {
	h := newHarness(t)

	event := h.emit(t, "tenant-a", "free_lookup", 4)
	assert.True(t, event.Credits.IsZero())
	assert.True(t, event.ListCostEstimate.IsZero())
	assert.Equal(t, int64(4), event.RawUnits)
}

func TestEmitFractionalCreditsDoNotDrift(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for i := 0; i < 1000; i++ {
		h.emit(t, "tenant-a", "kpi_points_ingested", 1)
	}

	totals, err := h.rollup.GetTotals(ctx, nil, "tenant-a", periodStart, periodStart.AddDate(0, 1, 0))
	require.NoError(t, err)
	assert.True(t, totals.CreditsUsed.Equal(decimal.NewFromInt(1)), totals.CreditsUsed.String())
}

func TestEmitValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	cases := []struct {
		name string
		req  usagedomain.EmitRequest
		err  error
	}{
		{"missing tenant", usagedomain.EmitRequest{EventKey: "tool_invocation", RawUnits: 1, PeriodStart: periodStart}, usagedomain.ErrInvalidTenant},
		{"zero units", usagedomain.EmitRequest{TenantID: "t", EventKey: "tool_invocation", PeriodStart: periodStart}, usagedomain.ErrInvalidUnits},
		{"missing period", usagedomain.EmitRequest{TenantID: "t", EventKey: "tool_invocation", RawUnits: 1}, usagedomain.ErrInvalidPeriod},
		{"before period", usagedomain.EmitRequest{TenantID: "t", EventKey: "tool_invocation", RawUnits: 1, PeriodStart: periodStart, OccurredAt: periodStart.Add(-time.Hour)}, usagedomain.ErrInvalidOccurredAt},
		{"unknown event", usagedomain.EmitRequest{TenantID: "t", EventKey: "nope", RawUnits: 1, PeriodStart: periodStart}, catalogdomain.ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := h.db.Transaction(func(tx *gorm.DB) error {
				_, err := h.usage.Emit(ctx, tx, tc.req)
				return err
			})
			assert.ErrorIs(t, err, tc.err)
		})
	}

	var count int64
	require.NoError(t, h.db.Model(&usagedomain.UsageEvent{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestEmitRollsBackWithTransaction(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	err := h.db.Transaction(func(tx *gorm.DB) error {
		_, err := h.usage.Emit(ctx, tx, usagedomain.EmitRequest{
			TenantID: "tenant-a", EventKey: "tool_invocation", RawUnits: 1, PeriodStart: periodStart,
		})
		require.NoError(t, err)
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	totals, err := h.rollup.GetTotals(ctx, nil, "tenant-a", periodStart, periodStart.AddDate(0, 1, 0))
	require.NoError(t, err)
	assert.True(t, totals.CreditsUsed.IsZero())
}

func TestQueryPagesNewestFirst(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		h.emit(t, "tenant-a", "tool_invocation", int64(i+1))
		h.clock.Advance(time.Minute)
	}
	h.emit(t, "tenant-b", "tool_invocation", 1)

	req := usagedomain.QueryRequest{
		TenantID:    "tenant-a",
		PeriodStart: periodStart,
		PeriodEnd:   periodStart.AddDate(0, 1, 0),
		Pagination:  pagination.Pagination{PageSize: 2},
	}
	first, err := h.usage.Query(ctx, req)
	require.NoError(t, err)
	require.Len(t, first.Events, 2)
	assert.True(t, first.HasMore)
	assert.Equal(t, int64(5), first.Events[0].RawUnits)
	assert.Equal(t, int64(4), first.Events[1].RawUnits)

	req.PageToken = first.NextPageToken
	second, err := h.usage.Query(ctx, req)
	require.NoError(t, err)
	require.Len(t, second.Events, 2)
	assert.Equal(t, int64(3), second.Events[0].RawUnits)

	req.PageToken = second.NextPageToken
	third, err := h.usage.Query(ctx, req)
	require.NoError(t, err)
	require.Len(t, third.Events, 1)
	assert.False(t, third.HasMore)

	req.PageToken = "%%%"
	_, err = h.usage.Query(ctx, req)
	assert.ErrorIs(t, err, pagination.ErrInvalidPageToken)
}

func TestReconcileDetectsAndRepairsDrift(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.emit(t, "tenant-a", "tool_invocation", 2)
	h.emit(t, "tenant-a", "kpi_points_ingested", 500)

	report, err := h.rollup.Reconcile(ctx, rollupdomain.ReconcileRequest{})
	require.NoError(t, err)
	assert.Empty(t, report.Drifts)
	assert.Equal(t, 1, report.TenantsChecked)

	require.NoError(t, h.db.Exec(
		`UPDATE period_rollups SET credits_total = ?, raw_units_total = ? WHERE event_key = ?`,
		decimal.NewFromInt(99), 99, "tool_invocation",
	).Error)

	report, err = h.rollup.Reconcile(ctx, rollupdomain.ReconcileRequest{TenantID: "tenant-a"})
	require.NoError(t, err)
	require.Len(t, report.Drifts, 1)
	assert.False(t, report.Drifts[0].Repaired)

	report, err = h.rollup.Reconcile(ctx, rollupdomain.ReconcileRequest{TenantID: "tenant-a", PeriodStart: periodStart, Repair: true})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Repaired)

	totals, err := h.rollup.GetTotals(ctx, nil, "tenant-a", periodStart, periodStart.AddDate(0, 1, 0))
	require.NoError(t, err)
	assert.True(t, totals.CreditsUsed.Equal(decimal.RequireFromString("4.5")), totals.CreditsUsed.String())
	assert.Equal(t, int64(2), totals.Event("tool_invocation").RawUnits)
}
