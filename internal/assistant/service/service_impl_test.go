package service_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	assistantdomain "github.com/smallbiznis/railmeter/internal/assistant/domain"
	"github.com/smallbiznis/railmeter/internal/assistant/service"
	catalogdomain "github.com/smallbiznis/railmeter/internal/catalog/domain"
	dailyquotadomain "github.com/smallbiznis/railmeter/internal/dailyquota/domain"
	"github.com/smallbiznis/railmeter/internal/testutil/meteringtest"
	toolsservice "github.com/smallbiznis/railmeter/internal/tools/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newAssistant(stack *meteringtest.Stack) assistantdomain.Service {
	return service.New(service.Params{
		Log:        zap.NewNop(),
		Executor:   stack.Executor,
		Rollup:     stack.Rollup,
		DailyQuota: stack.DailyQuota,
		Tools:      toolsservice.New(toolsservice.Params{Log: zap.NewNop(), Executor: stack.Executor}),
	})
}

func chat(t *testing.T, svc assistantdomain.Service, tenantID, message string) assistantdomain.ChatResponse {
	t.Helper()
	res, err := svc.Chat(context.Background(), assistantdomain.ChatCommand{
		TenantID:  tenantID,
		UserID:    "user-1",
		Permitted: true,
		Request:   assistantdomain.ChatRequest{Message: message},
	})
	require.NoError(t, err)
	var out assistantdomain.ChatResponse
	require.NoError(t, json.Unmarshal(res.Body, &out))
	return out
}

func TestChatMetersOneQueryPerMessage(t *testing.T) {
	stack := meteringtest.New(t)
	svc := newAssistant(stack)
	tenant := stack.Provision(t, "acme", "starter").Tenant

	resp := chat(t, svc, tenant.ID, "echo hello there")
	assert.Equal(t, assistantdomain.CommandEcho, resp.Intent.Command)
	assert.Equal(t, "hello there", resp.Reply)

	totals := stack.Totals(t, tenant.ID)
	assert.True(t, totals.CreditsUsed.Equal(decimal.NewFromInt(1)))
	assert.EqualValues(t, 1, totals.Event(catalogdomain.EventAssistantQuery).RawUnits)
	assert.EqualValues(t, 1, stack.Counter(t, tenant.ID, dailyquotadomain.ActivityAssistantQuery))
}

func TestChatAnswersFromLiveState(t *testing.T) {
	stack := meteringtest.New(t)
	svc := newAssistant(stack)
	tenant := stack.Provision(t, "acme", "starter").Tenant

	chat(t, svc, tenant.ID, "help")
	usage := chat(t, svc, tenant.ID, "usage")
	assert.Equal(t, assistantdomain.CommandUsage, usage.Intent.Command)
	assert.Equal(t, "You have used 1 of 500 credits this period.", usage.Reply)

	limits := chat(t, svc, tenant.ID, "limits")
	assert.Contains(t, limits.Reply, "assistant_query 2/100")

	tools := chat(t, svc, tenant.ID, "list tools")
	assert.Equal(t, "Available tools: echo, sum, time_now", tools.Reply)

	unknown := chat(t, svc, tenant.ID, "sing me a song")
	assert.Equal(t, assistantdomain.CommandUnknown, unknown.Intent.Command)
}

func TestChatRejectsEmptyMessage(t *testing.T) {
	stack := meteringtest.New(t)
	svc := newAssistant(stack)
	tenant := stack.Provision(t, "acme", "starter").Tenant

	_, err := svc.Chat(context.Background(), assistantdomain.ChatCommand{TenantID: tenant.ID, Permitted: true})
	assert.ErrorIs(t, err, assistantdomain.ErrInvalidMessage)
}
