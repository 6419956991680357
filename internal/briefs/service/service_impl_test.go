package service_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	briefsdomain "github.com/smallbiznis/railmeter/internal/briefs/domain"
	briefsrepo "github.com/smallbiznis/railmeter/internal/briefs/repository"
	"github.com/smallbiznis/railmeter/internal/briefs/service"
	catalogdomain "github.com/smallbiznis/railmeter/internal/catalog/domain"
	dailyquotadomain "github.com/smallbiznis/railmeter/internal/dailyquota/domain"
	"github.com/smallbiznis/railmeter/internal/testutil/meteringtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newBriefs(t *testing.T, stack *meteringtest.Stack) briefsdomain.Service {
	t.Helper()
	return service.New(service.Params{
		DB:       stack.DB,
		Log:      zap.NewNop(),
		Clock:    stack.Clock,
		GenID:    stack.GenID,
		Repo:     briefsrepo.Provide(),
		Executor: stack.Executor,
	})
}

func recipients(n int) []string {
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, fmt.Sprintf("user%d@acme.test", i))
	}
	return out
}

func decode(t *testing.T, body json.RawMessage) briefsdomain.RunResult {
	t.Helper()
	var out briefsdomain.RunResult
	require.NoError(t, json.Unmarshal(body, &out))
	return out
}

func TestRunMetersBriefOnlyOnCreation(t *testing.T) {
	stack := meteringtest.New(t)
	svc := newBriefs(t, stack)
	tenant := stack.Provision(t, "acme", "starter").Tenant
	ctx := context.Background()

	cmd := briefsdomain.Command{
		TenantID:  tenant.ID,
		UserID:    "user-1",
		Permitted: true,
		Request:   briefsdomain.RunRequest{Date: "2025-03-14", Recipients: []string{"a@acme.test", "A@acme.test", "b@acme.test"}},
	}

	first, err := svc.Run(ctx, cmd)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, first.Status)
	res := decode(t, first.Body)
	assert.True(t, res.Created)
	assert.EqualValues(t, 2, res.NotificationsEnqueued)
	assert.Zero(t, res.NotificationsSuppressed)

	second, err := svc.Run(ctx, cmd)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, second.Status)
	again := decode(t, second.Body)
	assert.False(t, again.Created)
	assert.Equal(t, res.BriefID, again.BriefID)

	totals := stack.Totals(t, tenant.ID)
	brief := totals.Event(catalogdomain.EventDailyBriefGenerated)
	assert.EqualValues(t, 1, brief.RawUnits)
	assert.EqualValues(t, 4, totals.Event(catalogdomain.EventNotificationQueued).RawUnits)
	assert.EqualValues(t, 1, stack.Counter(t, tenant.ID, dailyquotadomain.ActivityDailyBriefGenerated))
}

func TestRunSuppressesNotificationsBeyondDailyLimit(t *testing.T) {
	stack := meteringtest.New(t)
	svc := newBriefs(t, stack)
	tenant := stack.Provision(t, "acme", "starter").Tenant
	ctx := context.Background()

	_, err := stack.DailyQuota.SetLimits(ctx, tenant.ID, map[string]int64{dailyquotadomain.ActivityNotificationEnqueued: 3})
	require.NoError(t, err)

	result, err := svc.Run(ctx, briefsdomain.Command{
		TenantID:  tenant.ID,
		Permitted: true,
		Request:   briefsdomain.RunRequest{Recipients: recipients(5)},
	})
	require.NoError(t, err)
	res := decode(t, result.Body)
	assert.Equal(t, "2025-03-14", res.BriefDate)
	assert.EqualValues(t, 3, res.NotificationsEnqueued)
	assert.EqualValues(t, 2, res.NotificationsSuppressed)

	// Budget exhausted: the run still succeeds with everything suppressed.
	result, err = svc.Run(ctx, briefsdomain.Command{
		TenantID:  tenant.ID,
		Permitted: true,
		Request:   briefsdomain.RunRequest{Recipients: recipients(2)},
	})
	require.NoError(t, err)
	res = decode(t, result.Body)
	assert.Zero(t, res.NotificationsEnqueued)
	assert.EqualValues(t, 2, res.NotificationsSuppressed)

	var queued int64
	require.NoError(t, stack.DB.Model(&briefsdomain.Notification{}).Where("tenant_id = ?", tenant.ID).Count(&queued).Error)
	assert.EqualValues(t, 3, queued)
}

func TestRunSuppressesNotificationsBeyondCredits(t *testing.T) {
	stack := meteringtest.New(t)
	stack.CreatePlan(t, "tiny", "6")
	svc := newBriefs(t, stack)
	tenant := stack.Provision(t, "acme", "tiny").Tenant

	// 5 credits for the brief leaves room for 5 notifications at 0.2.
	result, err := svc.Run(context.Background(), briefsdomain.Command{
		TenantID:  tenant.ID,
		Permitted: true,
		Request:   briefsdomain.RunRequest{Recipients: recipients(8)},
	})
	require.NoError(t, err)
	res := decode(t, result.Body)
	assert.True(t, res.Created)
	assert.EqualValues(t, 5, res.NotificationsEnqueued)
	assert.EqualValues(t, 3, res.NotificationsSuppressed)
	assert.True(t, stack.Totals(t, tenant.ID).CreditsUsed.Equal(decimal.NewFromInt(6)))
}

func TestRunValidation(t *testing.T) {
	stack := meteringtest.New(t)
	svc := newBriefs(t, stack)
	tenant := stack.Provision(t, "acme", "starter").Tenant
	ctx := context.Background()

	_, err := svc.Run(ctx, briefsdomain.Command{TenantID: tenant.ID, Permitted: true, Request: briefsdomain.RunRequest{Date: "14/03/2025"}})
	assert.ErrorIs(t, err, briefsdomain.ErrInvalidDate)

	_, err = svc.Run(ctx, briefsdomain.Command{TenantID: tenant.ID, Permitted: true, Request: briefsdomain.RunRequest{Recipients: []string{"nope"}}})
	assert.ErrorIs(t, err, briefsdomain.ErrInvalidRecipient)

	_, err = svc.Run(ctx, briefsdomain.Command{TenantID: tenant.ID, Permitted: true, Request: briefsdomain.RunRequest{Recipients: recipients(briefsdomain.MaxRecipients + 1)}})
	assert.ErrorIs(t, err, briefsdomain.ErrTooManyRecipients)
}

func TestLatestAndGetReadStoredBriefs(t *testing.T) {
	stack := meteringtest.New(t)
	svc := newBriefs(t, stack)
	tenant := stack.Provision(t, "acme", "starter").Tenant
	ctx := context.Background()

	_, err := svc.Latest(ctx, tenant.ID)
	assert.ErrorIs(t, err, briefsdomain.ErrBriefNotFound)

	for _, date := range []string{"2025-03-12", "2025-03-14", "2025-03-13"} {
		_, err := svc.Run(ctx, briefsdomain.Command{TenantID: tenant.ID, Permitted: true, Request: briefsdomain.RunRequest{Date: date}})
		require.NoError(t, err)
	}
	before := stack.Totals(t, tenant.ID).CreditsUsed

	latest, err := svc.Latest(ctx, tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, "2025-03-14", latest.BriefDate)

	brief, err := svc.Get(ctx, tenant.ID, "2025-03-12")
	require.NoError(t, err)
	assert.Equal(t, "2025-03-12", brief.BriefDate)
	assert.Contains(t, string(brief.Content), `"headline":"Daily brief for 2025-03-12"`)

	_, err = svc.Get(ctx, tenant.ID, "2025-01-01")
	assert.ErrorIs(t, err, briefsdomain.ErrBriefNotFound)
	_, err = svc.Get(ctx, tenant.ID, "March 12")
	assert.ErrorIs(t, err, briefsdomain.ErrInvalidDate)

	other := stack.Provision(t, "globex", "starter").Tenant
	_, err = svc.Get(ctx, other.ID, "2025-03-12")
	assert.ErrorIs(t, err, briefsdomain.ErrBriefNotFound)

	assert.True(t, stack.Totals(t, tenant.ID).CreditsUsed.Equal(before))
}

func TestOutboxListAndAck(t *testing.T) {
	stack := meteringtest.New(t)
	svc := newBriefs(t, stack)
	tenant := stack.Provision(t, "acme", "starter").Tenant
	ctx := context.Background()

	_, err := svc.Run(ctx, briefsdomain.Command{TenantID: tenant.ID, Permitted: true, Request: briefsdomain.RunRequest{Date: "2025-03-13", Recipients: recipients(2)}})
	require.NoError(t, err)
	_, err = svc.Run(ctx, briefsdomain.Command{TenantID: tenant.ID, Permitted: true, Request: briefsdomain.RunRequest{Date: "2025-03-14", Recipients: recipients(3)}})
	require.NoError(t, err)

	all, err := svc.ListOutbox(ctx, briefsdomain.OutboxFilter{TenantID: tenant.ID})
	require.NoError(t, err)
	assert.Len(t, all, 5)

	byDate, err := svc.ListOutbox(ctx, briefsdomain.OutboxFilter{TenantID: tenant.ID, Date: "2025-03-13"})
	require.NoError(t, err)
	assert.Len(t, byDate, 2)

	limited, err := svc.ListOutbox(ctx, briefsdomain.OutboxFilter{TenantID: tenant.ID, Status: briefsdomain.NotificationStatusPending, Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	acked, err := svc.Ack(ctx, tenant.ID, byDate[0].ID)
	require.NoError(t, err)
	require.NotNil(t, acked.AckedAt)
	first := *acked.AckedAt

	stack.Clock.Advance(time.Hour)
	again, err := svc.Ack(ctx, tenant.ID, byDate[0].ID)
	require.NoError(t, err)
	assert.True(t, again.AckedAt.Equal(first))

	onlyAcked, err := svc.ListOutbox(ctx, briefsdomain.OutboxFilter{TenantID: tenant.ID, Status: briefsdomain.NotificationStatusAcked})
	require.NoError(t, err)
	require.Len(t, onlyAcked, 1)
	assert.Equal(t, byDate[0].ID, onlyAcked[0].ID)
	assert.Equal(t, briefsdomain.NotificationStatusPending, onlyAcked[0].Status)

	other := stack.Provision(t, "globex", "starter").Tenant
	_, err = svc.Ack(ctx, other.ID, byDate[0].ID)
	assert.ErrorIs(t, err, briefsdomain.ErrNotificationNotFound)
	empty, err := svc.ListOutbox(ctx, briefsdomain.OutboxFilter{TenantID: other.ID})
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = svc.ListOutbox(ctx, briefsdomain.OutboxFilter{TenantID: tenant.ID, Status: "queued"})
	assert.ErrorIs(t, err, briefsdomain.ErrInvalidStatus)
	_, err = svc.ListOutbox(ctx, briefsdomain.OutboxFilter{TenantID: tenant.ID, Date: "13-03-2025"})
	assert.ErrorIs(t, err, briefsdomain.ErrInvalidDate)
}
