package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/bwmarrin/snowflake"
	briefsdomain "github.com/smallbiznis/railmeter/internal/briefs/domain"
	briefsrepo "github.com/smallbiznis/railmeter/internal/briefs/repository"
	"github.com/smallbiznis/railmeter/internal/briefs/service"
	"github.com/smallbiznis/railmeter/internal/config"
	"github.com/smallbiznis/railmeter/internal/providers/email"
	"github.com/smallbiznis/railmeter/internal/testutil/meteringtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeEmail struct {
	mu     sync.Mutex
	sent   []email.Message
	failTo map[string]bool
}

func (f *fakeEmail) Send(ctx context.Context, msg email.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failTo[msg.To[0]] {
		return errors.New("mailbox unavailable")
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeEmail) Render(templateName string, data any) (string, error) {
	return email.NoOpProvider{}.Render(templateName, data)
}

func newDispatcher(stack *meteringtest.Stack, provider email.Provider, maxAttempts int) briefsdomain.Dispatcher {
	return service.NewDispatcher(service.DispatcherParams{
		DB:     stack.DB,
		Log:    zap.NewNop(),
		Clock:  stack.Clock,
		Repo:   briefsrepo.Provide(),
		Email:  provider,
		Config: config.Config{Email: config.EmailConfig{BatchSize: 10, MaxAttempts: maxAttempts}},
	})
}

func runBrief(t *testing.T, stack *meteringtest.Stack, tenantID string, to ...string) briefsdomain.RunResult {
	t.Helper()
	res, err := newBriefs(t, stack).Run(context.Background(), briefsdomain.Command{
		TenantID:  tenantID,
		UserID:    "user-1",
		Permitted: true,
		Request:   briefsdomain.RunRequest{Date: "2025-03-14", Recipients: to},
	})
	require.NoError(t, err)
	return decode(t, res.Body)
}

func briefID(t *testing.T, run briefsdomain.RunResult) snowflake.ID {
	t.Helper()
	id, err := snowflake.ParseString(run.BriefID)
	require.NoError(t, err)
	return id
}

func TestDispatchSendsPendingNotifications(t *testing.T) {
	stack := meteringtest.New(t)
	tenant := stack.Provision(t, "acme", "starter").Tenant
	run := runBrief(t, stack, tenant.ID, "a@acme.test", "b@acme.test")

	provider := &fakeEmail{}
	report, err := newDispatcher(stack, provider, 3).Dispatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, briefsdomain.DispatchReport{Claimed: 2, Sent: 2}, report)
	require.Len(t, provider.sent, 2)
	assert.Equal(t, "Daily brief for 2025-03-14", provider.sent[0].Subject)
	assert.Contains(t, provider.sent[0].HTMLBody, "Daily brief for 2025-03-14")

	rows, err := briefsrepo.Provide().ListNotifications(context.Background(), stack.DB, tenant.ID, briefID(t, run))
	require.NoError(t, err)
	for _, row := range rows {
		assert.Equal(t, briefsdomain.NotificationStatusSent, row.Status)
		assert.NotNil(t, row.SentAt)
	}

	again, err := newDispatcher(stack, provider, 3).Dispatch(context.Background())
	require.NoError(t, err)
	assert.Zero(t, again.Claimed)
}

func TestDispatchFailureDoesNotTouchUsage(t *testing.T) {
	stack := meteringtest.New(t)
	tenant := stack.Provision(t, "acme", "starter").Tenant
	runBrief(t, stack, tenant.ID, "bounce@acme.test")
	before, beforeCount := stack.LedgerCredits(t, tenant.ID)

	provider := &fakeEmail{failTo: map[string]bool{"bounce@acme.test": true}}
	d := newDispatcher(stack, provider, 2)

	first, err := d.Dispatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, first.Retried)

	second, err := d.Dispatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, second.Failed)

	third, err := d.Dispatch(context.Background())
	require.NoError(t, err)
	assert.Zero(t, third.Claimed)

	after, afterCount := stack.LedgerCredits(t, tenant.ID)
	assert.True(t, before.Equal(after))
	assert.Equal(t, beforeCount, afterCount)
}

func TestDispatchWithoutEmailLeavesRowsPending(t *testing.T) {
	stack := meteringtest.New(t)
	tenant := stack.Provision(t, "acme", "starter").Tenant
	run := runBrief(t, stack, tenant.ID, "a@acme.test")

	report, err := newDispatcher(stack, email.NoOpProvider{}, 3).Dispatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Claimed)
	assert.Zero(t, report.Sent)

	rows, err := briefsrepo.Provide().ListNotifications(context.Background(), stack.DB, tenant.ID, briefID(t, run))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, briefsdomain.NotificationStatusPending, rows[0].Status)
	assert.Zero(t, rows[0].Attempts)
}
