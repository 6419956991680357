package service_test

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	catalogdomain "github.com/smallbiznis/railmeter/internal/catalog/domain"
	entitlementdomain "github.com/smallbiznis/railmeter/internal/entitlement/domain"
	kpidomain "github.com/smallbiznis/railmeter/internal/kpi/domain"
	kpirepo "github.com/smallbiznis/railmeter/internal/kpi/repository"
	"github.com/smallbiznis/railmeter/internal/kpi/service"
	"github.com/smallbiznis/railmeter/internal/metering"
	"github.com/smallbiznis/railmeter/internal/testutil/meteringtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newKPIs(stack *meteringtest.Stack) kpidomain.Service {
	return service.New(service.Params{
		DB:          stack.DB,
		Log:         zap.NewNop(),
		Repo:        kpirepo.Provide(),
		Entitlement: stack.Entitlement,
		Executor:    stack.Executor,
	})
}

func createKPI(t *testing.T, svc kpidomain.Service, tenantID, name string) kpidomain.Definition {
	t.Helper()
	res, err := svc.Create(context.Background(), kpidomain.CreateCommand{
		TenantID:  tenantID,
		UserID:    "user-1",
		Permitted: true,
		Request:   kpidomain.CreateRequest{Name: name, Unit: "usd"},
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, res.Status)
	var def kpidomain.Definition
	require.NoError(t, json.Unmarshal(res.Body, &def))
	require.NotEmpty(t, def.ID)
	return def
}

func points(start time.Time, n int) []kpidomain.PointInput {
	out := make([]kpidomain.PointInput, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, kpidomain.PointInput{
			TS:    start.Add(time.Duration(i) * time.Minute).Format(time.RFC3339),
			Value: float64(i),
		})
	}
	return out
}

func ingest(t *testing.T, svc kpidomain.Service, tenantID, kpiID string, pts []kpidomain.PointInput) kpidomain.IngestResult {
	t.Helper()
	res, err := svc.Ingest(context.Background(), kpidomain.IngestCommand{
		TenantID:  tenantID,
		UserID:    "user-1",
		KPIID:     kpiID,
		Permitted: true,
		Request:   kpidomain.IngestRequest{Points: pts},
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.Status)
	var out kpidomain.IngestResult
	require.NoError(t, json.Unmarshal(res.Body, &out))
	return out
}

func TestCreateChargesDefinitionCredits(t *testing.T) {
	stack := meteringtest.New(t)
	svc := newKPIs(stack)
	tenant := stack.Provision(t, "acme", "starter").Tenant

	def := createKPI(t, svc, tenant.ID, "Revenue")
	assert.Equal(t, "Revenue", def.Name)
	assert.Equal(t, tenant.ID, def.TenantID)

	totals := stack.Totals(t, tenant.ID)
	assert.True(t, totals.CreditsUsed.Equal(decimal.RequireFromString("0.5")), totals.CreditsUsed.String())
	assert.EqualValues(t, 1, totals.Event(catalogdomain.EventKPIDefinitionCreated).RawUnits)
}

func TestIngestChargesPerPoint(t *testing.T) {
	stack := meteringtest.New(t)
	svc := newKPIs(stack)
	tenant := stack.Provision(t, "acme", "starter").Tenant
	def := createKPI(t, svc, tenant.ID, "Signups")
	before := stack.Totals(t, tenant.ID).CreditsUsed

	out := ingest(t, svc, tenant.ID, def.ID, points(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), 1500))
	assert.EqualValues(t, 1500, out.Inserted)
	assert.Zero(t, out.Ignored)

	totals := stack.Totals(t, tenant.ID)
	delta := totals.CreditsUsed.Sub(before)
	assert.True(t, delta.Equal(decimal.RequireFromString("1.5")), delta.String())
	assert.EqualValues(t, 1500, totals.Event(catalogdomain.EventKPIPointsIngested).RawUnits)

	ledger, rows := stack.LedgerCredits(t, tenant.ID)
	assert.EqualValues(t, 2, rows)
	assert.True(t, ledger.Equal(totals.CreditsUsed))
}

func TestIngestIgnoresDuplicateTimestamps(t *testing.T) {
	stack := meteringtest.New(t)
	svc := newKPIs(stack)
	tenant := stack.Provision(t, "acme", "starter").Tenant
	def := createKPI(t, svc, tenant.ID, "Signups")
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	first := ingest(t, svc, tenant.ID, def.ID, points(start, 10))
	assert.EqualValues(t, 10, first.Inserted)

	// Same instants in another zone, one repeated inside the batch, plus two new ones.
	batch := []kpidomain.PointInput{
		{TS: start.In(time.FixedZone("WIB", 7*3600)).Format(time.RFC3339), Value: 99},
		{TS: start.Add(time.Minute).Format(time.RFC3339), Value: 99},
		{TS: start.Add(time.Hour).Format(time.RFC3339), Value: 1},
		{TS: start.Add(time.Hour).Format(time.RFC3339), Value: 2},
		{TS: start.Add(2 * time.Hour).Format(time.RFC3339), Value: 3},
	}
	second := ingest(t, svc, tenant.ID, def.ID, batch)
	assert.EqualValues(t, 2, second.Inserted)
	assert.EqualValues(t, 3, second.Ignored)

	assert.EqualValues(t, 12, stack.Totals(t, tenant.ID).Event(catalogdomain.EventKPIPointsIngested).RawUnits)

	third := ingest(t, svc, tenant.ID, def.ID, points(start, 3))
	assert.Zero(t, third.Inserted)
	assert.EqualValues(t, 3, third.Ignored)
	_, rows := stack.LedgerCredits(t, tenant.ID)
	assert.EqualValues(t, 3, rows)
}

func TestIngestUnknownKPIIsNotCharged(t *testing.T) {
	stack := meteringtest.New(t)
	svc := newKPIs(stack)
	tenant := stack.Provision(t, "acme", "starter").Tenant

	_, err := svc.Ingest(context.Background(), kpidomain.IngestCommand{
		TenantID:  tenant.ID,
		UserID:    "user-1",
		KPIID:     "missing",
		Permitted: true,
		Request:   kpidomain.IngestRequest{Points: points(time.Now(), 5)},
	})
	require.ErrorIs(t, err, kpidomain.ErrNotFound)

	_, rows := stack.LedgerCredits(t, tenant.ID)
	assert.Zero(t, rows)
}

func TestIngestRejectsBadInput(t *testing.T) {
	stack := meteringtest.New(t)
	svc := newKPIs(stack)
	tenant := stack.Provision(t, "acme", "starter").Tenant
	def := createKPI(t, svc, tenant.ID, "Signups")

	cases := []struct {
		name string
		pts  []kpidomain.PointInput
		want error
	}{
		{"empty", nil, kpidomain.ErrInvalidPoints},
		{"bad timestamp", []kpidomain.PointInput{{TS: "yesterday", Value: 1}}, kpidomain.ErrInvalidTimestamp},
		{"too many", points(time.Now(), kpidomain.MaxPointsPerRequest+1), kpidomain.ErrTooManyPoints},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Ingest(context.Background(), kpidomain.IngestCommand{
				TenantID:  tenant.ID,
				KPIID:     def.ID,
				Permitted: true,
				Request:   kpidomain.IngestRequest{Points: tc.pts},
			})
			assert.ErrorIs(t, err, tc.want)
		})
	}
	_, rows := stack.LedgerCredits(t, tenant.ID)
	assert.EqualValues(t, 1, rows)
}

func TestCreateValidatesAndRequiresPermission(t *testing.T) {
	stack := meteringtest.New(t)
	svc := newKPIs(stack)
	tenant := stack.Provision(t, "acme", "starter").Tenant

	_, err := svc.Create(context.Background(), kpidomain.CreateCommand{TenantID: tenant.ID, Permitted: true, Request: kpidomain.CreateRequest{Name: "  "}})
	assert.ErrorIs(t, err, kpidomain.ErrInvalidName)

	_, err = svc.Create(context.Background(), kpidomain.CreateCommand{TenantID: tenant.ID, Request: kpidomain.CreateRequest{Name: "Revenue"}})
	assert.ErrorIs(t, err, metering.ErrForbidden)

	assert.True(t, stack.Totals(t, tenant.ID).CreditsUsed.IsZero())
}

func TestLatestReturnsNewestPoint(t *testing.T) {
	stack := meteringtest.New(t)
	svc := newKPIs(stack)
	tenant := stack.Provision(t, "acme", "starter").Tenant
	def := createKPI(t, svc, tenant.ID, "MRR")
	ctx := context.Background()

	_, err := svc.Latest(ctx, tenant.ID, def.ID)
	assert.ErrorIs(t, err, kpidomain.ErrNoPoints)

	ingest(t, svc, tenant.ID, def.ID, []kpidomain.PointInput{
		{TS: "2025-03-02T00:00:00Z", Value: 20},
		{TS: "2025-03-03T09:30:00+07:00", Value: 30},
		{TS: "2025-03-01T00:00:00Z", Value: 10},
	})

	latest, err := svc.Latest(ctx, tenant.ID, def.ID)
	require.NoError(t, err)
	assert.Equal(t, "2025-03-03T02:30:00.000000Z", latest.TS)
	assert.Equal(t, float64(30), latest.Value)

	_, err = svc.Latest(ctx, tenant.ID, "missing")
	assert.ErrorIs(t, err, kpidomain.ErrNotFound)

	other := stack.Provision(t, "globex", "starter").Tenant
	_, err = svc.Latest(ctx, other.ID, def.ID)
	assert.ErrorIs(t, err, kpidomain.ErrNotFound)

	defs, err := svc.List(ctx, kpidomain.ListRequest{TenantID: tenant.ID})
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, def.ID, defs[0].ID)

	defs, err = svc.List(ctx, kpidomain.ListRequest{TenantID: other.ID})
	require.NoError(t, err)
	assert.Empty(t, defs)
}

func TestReadsRequireReadCapability(t *testing.T) {
	stack := meteringtest.New(t)
	svc := newKPIs(stack)
	tenant := stack.Provision(t, "acme", "starter").Tenant
	def := createKPI(t, svc, tenant.ID, "MRR")
	ctx := context.Background()

	_, err := stack.Entitlement.ReplaceCapabilities(ctx, "starter", []string{
		entitlementdomain.CapabilityChat,
		entitlementdomain.CapabilityKPIIngest,
	})
	require.NoError(t, err)

	_, err = svc.Latest(ctx, tenant.ID, def.ID)
	assert.ErrorIs(t, err, entitlementdomain.ErrNotEntitled)
	_, err = svc.List(ctx, kpidomain.ListRequest{TenantID: tenant.ID})
	assert.ErrorIs(t, err, entitlementdomain.ErrNotEntitled)

	before := stack.Totals(t, tenant.ID).CreditsUsed
	ingest(t, svc, tenant.ID, def.ID, points(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), 2))
	assert.True(t, stack.Totals(t, tenant.ID).CreditsUsed.GreaterThan(before))
}
