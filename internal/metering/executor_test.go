package metering_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	catalogdomain "github.com/smallbiznis/railmeter/internal/catalog/domain"
	dailyquotadomain "github.com/smallbiznis/railmeter/internal/dailyquota/domain"
	entitlementdomain "github.com/smallbiznis/railmeter/internal/entitlement/domain"
	idempotencydomain "github.com/smallbiznis/railmeter/internal/idempotency/domain"
	"github.com/smallbiznis/railmeter/internal/metering"
	quotadomain "github.com/smallbiznis/railmeter/internal/quota/domain"
	"github.com/smallbiznis/railmeter/internal/testutil/meteringtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type toolBody struct {
	Tool  string `json:"tool"`
	Input string `json:"input"`
}

func toolRequest(tenantID, key string, body toolBody) metering.Request {
	return metering.Request{
		TenantID:       tenantID,
		UserID:         "user-1",
		Endpoint:       "POST /v1/tools/invoke",
		IdempotencyKey: key,
		Body:           body,
		Permitted:      true,
		Capability:     entitlementdomain.CapabilityTools,
	}
}

func chargeTool(calls *int32) metering.Operation {
	return func(ctx context.Context, s *metering.Session) (int, any, error) {
		if calls != nil {
			atomic.AddInt32(calls, 1)
		}
		event, err := s.Charge(ctx, metering.Reservation{
			EventKey:     catalogdomain.EventToolInvocation,
			Units:        1,
			ActivityType: dailyquotadomain.ActivityToolInvocation,
		}, metering.Usage{})
		if err != nil {
			return 0, nil, err
		}
		return http.StatusCreated, map[string]any{"event_id": event.ID.String(), "credits": event.Credits}, nil
	}
}

func chargeEvent(eventKey, activity string, units int64) metering.Operation {
	return func(ctx context.Context, s *metering.Session) (int, any, error) {
		_, err := s.Charge(ctx, metering.Reservation{
			EventKey:     eventKey,
			Units:        units,
			ActivityType: activity,
		}, metering.Usage{})
		return 0, map[string]bool{"ok": err == nil}, err
	}
}

func plainRequest(tenantID string) metering.Request {
	return metering.Request{
		TenantID:  tenantID,
		UserID:    "user-1",
		Endpoint:  "POST /v1/test",
		Permitted: true,
	}
}

func TestReplayDoesNotChargeTwice(t *testing.T) {
	stack := meteringtest.New(t)
	tenant := stack.Provision(t, "acme", "starter").Tenant
	ctx := context.Background()

	var calls int32
	body := toolBody{Tool: "echo", Input: "hi"}

	first, err := stack.Executor.Execute(ctx, toolRequest(tenant.ID, "key-1", body), chargeTool(&calls))
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, first.Status)
	assert.False(t, first.Replayed)

	second, err := stack.Executor.Execute(ctx, toolRequest(tenant.ID, "key-1", body), chargeTool(&calls))
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Status, second.Status)
	assert.JSONEq(t, string(first.Body), string(second.Body))

	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
	credits, count := stack.LedgerCredits(t, tenant.ID)
	assert.EqualValues(t, 1, count)
	assert.True(t, credits.Equal(decimal.NewFromInt(2)), credits.String())
	totals := stack.Totals(t, tenant.ID)
	assert.True(t, totals.CreditsUsed.Equal(decimal.NewFromInt(2)))
	assert.EqualValues(t, 1, totals.Event(catalogdomain.EventToolInvocation).EventCount)
	assert.EqualValues(t, 1, stack.Counter(t, tenant.ID, dailyquotadomain.ActivityToolInvocation))
}

func TestConflictLeavesNoSideEffects(t *testing.T) {
	stack := meteringtest.New(t)
	tenant := stack.Provision(t, "acme", "starter").Tenant
	ctx := context.Background()

	_, err := stack.Executor.Execute(ctx, toolRequest(tenant.ID, "key-1", toolBody{Tool: "echo", Input: "a"}), chargeTool(nil))
	require.NoError(t, err)
	before := stack.Totals(t, tenant.ID)

	var calls int32
	_, err = stack.Executor.Execute(ctx, toolRequest(tenant.ID, "key-1", toolBody{Tool: "echo", Input: "b"}), chargeTool(&calls))
	require.ErrorIs(t, err, idempotencydomain.ErrConflict)

	assert.Zero(t, atomic.LoadInt32(&calls))
	after := stack.Totals(t, tenant.ID)
	assert.True(t, before.CreditsUsed.Equal(after.CreditsUsed))
	_, count := stack.LedgerCredits(t, tenant.ID)
	assert.EqualValues(t, 1, count)
	assert.EqualValues(t, 1, stack.Counter(t, tenant.ID, dailyquotadomain.ActivityToolInvocation))
}

func TestFailedOperationRollsBackEverything(t *testing.T) {
	stack := meteringtest.New(t)
	tenant := stack.Provision(t, "acme", "starter").Tenant
	ctx := context.Background()
	boom := errors.New("boom")

	_, err := stack.Executor.Execute(ctx, toolRequest(tenant.ID, "key-1", toolBody{Tool: "echo"}),
		func(ctx context.Context, s *metering.Session) (int, any, error) {
			if _, _, err := chargeTool(nil)(ctx, s); err != nil {
				return 0, nil, err
			}
			return 0, nil, boom
		})
	require.ErrorIs(t, err, boom)

	_, count := stack.LedgerCredits(t, tenant.ID)
	assert.Zero(t, count)
	assert.True(t, stack.Totals(t, tenant.ID).CreditsUsed.IsZero())
	assert.Zero(t, stack.Counter(t, tenant.ID, dailyquotadomain.ActivityToolInvocation))

	// The key was never committed, so a retry runs fresh.
	res, err := stack.Executor.Execute(ctx, toolRequest(tenant.ID, "key-1", toolBody{Tool: "echo"}), chargeTool(nil))
	require.NoError(t, err)
	assert.False(t, res.Replayed)
}

func TestDenyWhenIncludedCreditsAreSpent(t *testing.T) {
	stack := meteringtest.New(t)
	stack.CreatePlan(t, "tiny", "5")
	tenant := stack.Provision(t, "acme", "tiny").Tenant
	ctx := context.Background()

	_, err := stack.Executor.Execute(ctx, plainRequest(tenant.ID),
		chargeEvent(catalogdomain.EventDailyBriefGenerated, dailyquotadomain.ActivityDailyBriefGenerated, 1))
	require.NoError(t, err)

	_, err = stack.Executor.Execute(ctx, plainRequest(tenant.ID),
		chargeEvent(catalogdomain.EventAssistantQuery, dailyquotadomain.ActivityAssistantQuery, 1))
	require.ErrorIs(t, err, quotadomain.ErrQuotaExceeded)

	var exceeded *quotadomain.ExceededError
	require.True(t, errors.As(err, &exceeded))
	assert.Equal(t, catalogdomain.EventAssistantQuery, exceeded.ActivityType)
	assert.Equal(t, quotadomain.CeilingCredits, exceeded.Ceiling)
	assert.True(t, exceeded.Limit.Equal(decimal.NewFromInt(5)))
	assert.True(t, exceeded.Current.Equal(decimal.NewFromInt(5)))
	assert.True(t, exceeded.Requested.Equal(decimal.NewFromInt(1)))

	assert.Zero(t, stack.Counter(t, tenant.ID, dailyquotadomain.ActivityAssistantQuery))
}

func TestPartialReservationFillsBudgetExactly(t *testing.T) {
	stack := meteringtest.New(t)
	stack.CreatePlan(t, "tiny", "5")
	tenant := stack.Provision(t, "acme", "tiny").Tenant
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := stack.Executor.Execute(ctx, plainRequest(tenant.ID),
			chargeEvent(catalogdomain.EventAssistantQuery, dailyquotadomain.ActivityAssistantQuery, 1))
		require.NoError(t, err)
	}

	var grant *metering.Grant
	_, err := stack.Executor.Execute(ctx, plainRequest(tenant.ID), func(ctx context.Context, s *metering.Session) (int, any, error) {
		g, err := s.Reserve(ctx, metering.Reservation{
			EventKey:     catalogdomain.EventNotificationQueued,
			Units:        10,
			ActivityType: dailyquotadomain.ActivityNotificationEnqueued,
			AllowPartial: true,
		})
		if err != nil {
			return 0, nil, err
		}
		grant = g
		_, err = s.Record(ctx, g, metering.Usage{Units: g.Allowed})
		return 0, nil, err
	})
	require.NoError(t, err)

	require.NotNil(t, grant)
	assert.Equal(t, quotadomain.DecisionAllowPartial, grant.Decision)
	assert.EqualValues(t, 5, grant.Allowed)
	assert.EqualValues(t, 5, grant.Suppressed())
	assert.True(t, stack.Totals(t, tenant.ID).CreditsUsed.Equal(decimal.NewFromInt(5)))
	assert.EqualValues(t, 5, stack.Counter(t, tenant.ID, dailyquotadomain.ActivityNotificationEnqueued))
}

func TestRecordBeyondGrantFails(t *testing.T) {
	stack := meteringtest.New(t)
	tenant := stack.Provision(t, "acme", "starter").Tenant

	_, err := stack.Executor.Execute(context.Background(), plainRequest(tenant.ID), func(ctx context.Context, s *metering.Session) (int, any, error) {
		g, err := s.Reserve(ctx, metering.Reservation{EventKey: catalogdomain.EventAssistantQuery, Units: 1})
		if err != nil {
			return 0, nil, err
		}
		_, err = s.Record(ctx, g, metering.Usage{Units: 2})
		return 0, nil, err
	})
	require.ErrorIs(t, err, metering.ErrOverGrant)

	_, count := stack.LedgerCredits(t, tenant.ID)
	assert.Zero(t, count)
}

func TestConcurrentChargesNeverOvershoot(t *testing.T) {
	stack := meteringtest.New(t)
	stack.CreatePlan(t, "ten", "10")
	tenant := stack.Provision(t, "acme", "ten").Tenant
	ctx := context.Background()

	const workers = 12
	var (
		wg       sync.WaitGroup
		allowed  int32
		denied   int32
		failures int32
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := stack.Executor.Execute(ctx, plainRequest(tenant.ID),
				chargeEvent(catalogdomain.EventToolInvocation, dailyquotadomain.ActivityToolInvocation, 1))
			switch {
			case err == nil:
				atomic.AddInt32(&allowed, 1)
			case errors.Is(err, quotadomain.ErrQuotaExceeded):
				atomic.AddInt32(&denied, 1)
			default:
				atomic.AddInt32(&failures, 1)
			}
		}()
	}
	wg.Wait()

	assert.Zero(t, failures)
	assert.EqualValues(t, 5, allowed)
	assert.EqualValues(t, workers-5, denied)

	ledger, count := stack.LedgerCredits(t, tenant.ID)
	assert.EqualValues(t, 5, count)
	totals := stack.Totals(t, tenant.ID)
	assert.True(t, totals.CreditsUsed.Equal(decimal.NewFromInt(10)), totals.CreditsUsed.String())
	assert.True(t, totals.CreditsUsed.Equal(ledger))
	assert.EqualValues(t, 5, stack.Counter(t, tenant.ID, dailyquotadomain.ActivityToolInvocation))
}

func TestRollupMatchesLedgerAfterMixedTraffic(t *testing.T) {
	stack := meteringtest.New(t)
	tenant := stack.Provision(t, "acme", "starter").Tenant
	ctx := context.Background()

	ops := []struct {
		event    string
		activity string
		units    int64
	}{
		{catalogdomain.EventAssistantQuery, dailyquotadomain.ActivityAssistantQuery, 1},
		{catalogdomain.EventToolInvocation, dailyquotadomain.ActivityToolInvocation, 3},
		{catalogdomain.EventNotificationQueued, dailyquotadomain.ActivityNotificationEnqueued, 7},
		{"kpi_points_ingested", "", 1500},
		{catalogdomain.EventAssistantQuery, dailyquotadomain.ActivityAssistantQuery, 1},
	}
	for _, op := range ops {
		_, err := stack.Executor.Execute(ctx, plainRequest(tenant.ID), chargeEvent(op.event, op.activity, op.units))
		require.NoError(t, err)
	}

	ledger, count := stack.LedgerCredits(t, tenant.ID)
	assert.EqualValues(t, len(ops), count)
	totals := stack.Totals(t, tenant.ID)
	// 2 + 6 + 1.4 + 1.5
	assert.True(t, ledger.Equal(decimal.RequireFromString("10.9")), ledger.String())
	assert.True(t, totals.CreditsUsed.Equal(ledger), totals.CreditsUsed.String())
	assert.EqualValues(t, 3, totals.Event(catalogdomain.EventToolInvocation).RawUnits)
	assert.True(t, totals.Event(catalogdomain.EventToolInvocation).Credits.Equal(decimal.NewFromInt(6)))
}

// racingIdempotency reports FRESH for a key another request already stored,
// reproducing the window between two concurrent Begins.
type racingIdempotency struct {
	idempotencydomain.Service
	begins int32
}

func (r *racingIdempotency) Begin(ctx context.Context, tx *gorm.DB, req idempotencydomain.BeginRequest) (idempotencydomain.Decision, error) {
	d, err := r.Service.Begin(ctx, tx, req)
	if err != nil {
		return d, err
	}
	if atomic.AddInt32(&r.begins, 1) == 1 && d.Outcome == idempotencydomain.OutcomeReplay {
		return idempotencydomain.Decision{Outcome: idempotencydomain.OutcomeFresh, RequestHash: d.RequestHash}, nil
	}
	return d, nil
}

func TestConcurrentCommitRerunsAndReplays(t *testing.T) {
	racing := &racingIdempotency{}
	stack := meteringtest.NewWithOptions(t, meteringtest.Options{
		WrapIdempotency: func(inner idempotencydomain.Service) idempotencydomain.Service {
			racing.Service = inner
			return racing
		},
	})
	tenant := stack.Provision(t, "acme", "starter").Tenant
	ctx := context.Background()
	body := toolBody{Tool: "echo", Input: "hi"}

	// The winning request commits first.
	stored := json.RawMessage(`{"winner":true}`)
	require.NoError(t, stack.DB.Transaction(func(tx *gorm.DB) error {
		d, err := stack.Idempotency.Begin(ctx, tx, idempotencydomain.BeginRequest{
			TenantID: tenant.ID, Key: "key-1", Endpoint: "POST /v1/tools/invoke", Body: body,
		})
		if err != nil {
			return err
		}
		_, err = stack.Idempotency.Commit(ctx, tx, idempotencydomain.CommitRequest{
			TenantID: tenant.ID, Key: "key-1", Endpoint: "POST /v1/tools/invoke",
			RequestHash: d.RequestHash, Status: http.StatusCreated, Response: stored,
		})
		return err
	}))

	var calls int32
	res, err := stack.Executor.Execute(ctx, toolRequest(tenant.ID, "key-1", body), chargeTool(&calls))
	require.NoError(t, err)

	assert.True(t, res.Replayed)
	assert.Equal(t, http.StatusCreated, res.Status)
	assert.JSONEq(t, string(stored), string(res.Body))
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
	_, count := stack.LedgerCredits(t, tenant.ID)
	assert.Zero(t, count)
}

func TestForbiddenCallerNeverReachesOperation(t *testing.T) {
	stack := meteringtest.New(t)
	tenant := stack.Provision(t, "acme", "starter").Tenant

	req := toolRequest(tenant.ID, "key-1", toolBody{Tool: "echo"})
	req.Permitted = false

	var calls int32
	_, err := stack.Executor.Execute(context.Background(), req, chargeTool(&calls))
	require.ErrorIs(t, err, metering.ErrForbidden)
	assert.Zero(t, atomic.LoadInt32(&calls))
}

func TestEntitlementGates(t *testing.T) {
	stack := meteringtest.New(t)
	ctx := context.Background()

	_, err := stack.Entitlement.CreatePlan(ctx, entitlementdomain.CreatePlanRequest{
		PlanID:                "chat-only",
		Name:                  "Chat only",
		IncludedCredits:       decimal.NewFromInt(100),
		OveragePricePerCredit: decimal.Zero,
		Capabilities:          []string{entitlementdomain.CapabilityChat},
	})
	require.NoError(t, err)
	tenant := stack.Provision(t, "acme", "chat-only").Tenant

	var calls int32
	_, err = stack.Executor.Execute(ctx, toolRequest(tenant.ID, "", toolBody{Tool: "echo"}), chargeTool(&calls))
	require.ErrorIs(t, err, entitlementdomain.ErrNotEntitled)

	suspended := entitlementdomain.SubscriptionStatusSuspended
	_, err = stack.Entitlement.UpdateSubscription(ctx, tenant.ID, entitlementdomain.UpdateSubscriptionRequest{Status: &suspended})
	require.NoError(t, err)

	req := toolRequest(tenant.ID, "", toolBody{Tool: "echo"})
	req.Capability = entitlementdomain.CapabilityChat
	_, err = stack.Executor.Execute(ctx, req, chargeTool(&calls))
	require.ErrorIs(t, err, entitlementdomain.ErrNoActiveSubscription)

	assert.Zero(t, atomic.LoadInt32(&calls))
}

func TestDailyLimitDeniesAfterCreditsAllow(t *testing.T) {
	stack := meteringtest.New(t)
	tenant := stack.Provision(t, "acme", "starter").Tenant
	ctx := context.Background()

	_, err := stack.DailyQuota.SetLimits(ctx, tenant.ID, map[string]int64{dailyquotadomain.ActivityToolInvocation: 1})
	require.NoError(t, err)

	_, err = stack.Executor.Execute(ctx, plainRequest(tenant.ID),
		chargeEvent(catalogdomain.EventToolInvocation, dailyquotadomain.ActivityToolInvocation, 1))
	require.NoError(t, err)

	_, err = stack.Executor.Execute(ctx, plainRequest(tenant.ID),
		chargeEvent(catalogdomain.EventToolInvocation, dailyquotadomain.ActivityToolInvocation, 1))
	var exceeded *quotadomain.ExceededError
	require.True(t, errors.As(err, &exceeded))
	assert.Equal(t, quotadomain.CeilingDaily, exceeded.Ceiling)
	assert.True(t, exceeded.Limit.Equal(decimal.NewFromInt(1)))
	assert.True(t, exceeded.Current.Equal(decimal.NewFromInt(1)))

	_, count := stack.LedgerCredits(t, tenant.ID)
	assert.EqualValues(t, 1, count)
}

func TestInvalidRequest(t *testing.T) {
	stack := meteringtest.New(t)
	_, err := stack.Executor.Execute(context.Background(), metering.Request{Endpoint: "POST /v1/test", Permitted: true}, chargeTool(nil))
	require.ErrorIs(t, err, metering.ErrInvalidRequest)
}
