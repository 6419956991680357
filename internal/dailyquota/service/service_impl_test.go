package service

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/railmeter/internal/clock"
	"github.com/smallbiznis/railmeter/internal/config"
	dailyquotadomain "github.com/smallbiznis/railmeter/internal/dailyquota/domain"
	"github.com/smallbiznis/railmeter/internal/dailyquota/repository"
	"github.com/smallbiznis/railmeter/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var today = time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) (dailyquotadomain.Service, *gorm.DB) {
	t.Helper()
	conn := testutil.NewDB(t, &dailyquotadomain.TenantLimit{}, &dailyquotadomain.DailyCounter{})
	svc := New(Params{
		DB:       conn,
		Log:      zap.NewNop(),
		Clock:    clock.NewFakeClock(today),
		Repo:     repository.Provide(),
		Metering: config.NewStaticMeteringConfigHolder(config.DefaultMeteringConfig()),
	})
	return svc, conn
}

func TestLimitsFallBackToDefaults(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	limits, err := svc.Limits(ctx, nil, "tenant-a")
	require.NoError(t, err)
	assert.Equal(t, int64(100), limits[dailyquotadomain.ActivityAssistantQuery])
	assert.Equal(t, int64(10), limits[dailyquotadomain.ActivityDailyBriefGenerated])
	assert.Equal(t, int64(500), limits[dailyquotadomain.ActivityNotificationEnqueued])

	updated, err := svc.SetLimits(ctx, "tenant-a", map[string]int64{dailyquotadomain.ActivityToolInvocation: 3})
	require.NoError(t, err)
	assert.Equal(t, int64(3), updated[dailyquotadomain.ActivityToolInvocation])
	assert.Equal(t, int64(100), updated[dailyquotadomain.ActivityAssistantQuery])

	_, err = svc.SetLimits(ctx, "tenant-a", map[string]int64{"kpi_points_ingested": 3})
	assert.ErrorIs(t, err, dailyquotadomain.ErrUnknownActivity)
	_, err = svc.SetLimits(ctx, "tenant-a", map[string]int64{dailyquotadomain.ActivityToolInvocation: -1})
	assert.ErrorIs(t, err, dailyquotadomain.ErrInvalidLimit)
}

func TestCheckAndIncrementDeniesOverLimit(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()

	_, err := svc.SetLimits(ctx, "tenant-a", map[string]int64{dailyquotadomain.ActivityToolInvocation: 2})
	require.NoError(t, err)

	req := dailyquotadomain.CheckRequest{
		TenantID: "tenant-a", ActivityType: dailyquotadomain.ActivityToolInvocation, Date: today, Requested: 1,
	}
	for i := 0; i < 2; i++ {
		var v dailyquotadomain.Verdict
		require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
			var err error
			v, err = svc.CheckAndIncrement(ctx, tx, req)
			return err
		}))
		assert.Equal(t, dailyquotadomain.DecisionAllow, v.Decision)
	}

	v, err := svc.CheckAndIncrement(ctx, nil, req)
	require.NoError(t, err)
	assert.Equal(t, dailyquotadomain.DecisionDeny, v.Decision)
	assert.Equal(t, int64(2), v.Used)
	assert.Equal(t, int64(2), v.Limit)

	// The next day starts from zero.
	req.Date = today.Add(24 * time.Hour)
	v, err = svc.CheckAndIncrement(ctx, nil, req)
	require.NoError(t, err)
	assert.Equal(t, dailyquotadomain.DecisionAllow, v.Decision)
}

func TestCheckAndIncrementPartial(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.SetLimits(ctx, "tenant-a", map[string]int64{dailyquotadomain.ActivityNotificationEnqueued: 5})
	require.NoError(t, err)
	require.NoError(t, svc.Increment(ctx, nil, "tenant-a", dailyquotadomain.ActivityNotificationEnqueued, today, 2))

	v, err := svc.CheckAndIncrement(ctx, nil, dailyquotadomain.CheckRequest{
		TenantID: "tenant-a", ActivityType: dailyquotadomain.ActivityNotificationEnqueued,
		Date: today, Requested: 10, AllowPartial: true,
	})
	require.NoError(t, err)
	assert.Equal(t, dailyquotadomain.DecisionAllowPartial, v.Decision)
	assert.Equal(t, int64(3), v.Allowed)
	assert.Equal(t, int64(7), v.Suppressed())

	usage, err := svc.DailyUsage(ctx, nil, "tenant-a", today)
	require.NoError(t, err)
	for _, u := range usage {
		if u.ActivityType == dailyquotadomain.ActivityNotificationEnqueued {
			assert.Equal(t, int64(5), u.Used)
			assert.Equal(t, int64(0), u.Remaining)
		}
	}
}

func TestCheckDoesNotConsume(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	req := dailyquotadomain.CheckRequest{
		TenantID: "tenant-a", ActivityType: dailyquotadomain.ActivityAssistantQuery, Date: today, Requested: 1,
	}
	for i := 0; i < 3; i++ {
		v, err := svc.Check(ctx, nil, req)
		require.NoError(t, err)
		assert.Equal(t, int64(0), v.Used)
	}

	_, err := svc.Check(ctx, nil, dailyquotadomain.CheckRequest{TenantID: "tenant-a", ActivityType: "bogus", Requested: 1})
	assert.ErrorIs(t, err, dailyquotadomain.ErrUnknownActivity)
}

func TestEnsureDefaultsKeepsOverrides(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.SetLimits(ctx, "tenant-a", map[string]int64{dailyquotadomain.ActivityAssistantQuery: 7})
	require.NoError(t, err)
	require.NoError(t, svc.EnsureDefaults(ctx, nil, "tenant-a"))

	limits, err := svc.Limits(ctx, nil, "tenant-a")
	require.NoError(t, err)
	assert.Equal(t, int64(7), limits[dailyquotadomain.ActivityAssistantQuery])
	assert.Equal(t, int64(100), limits[dailyquotadomain.ActivityToolInvocation])
}
