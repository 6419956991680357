package service

import (
	"context"
	"fmt"
	"strings"

	assistantdomain "github.com/smallbiznis/railmeter/internal/assistant/domain"
	catalogdomain "github.com/smallbiznis/railmeter/internal/catalog/domain"
	dailyquotadomain "github.com/smallbiznis/railmeter/internal/dailyquota/domain"
	entitlementdomain "github.com/smallbiznis/railmeter/internal/entitlement/domain"
	"github.com/smallbiznis/railmeter/internal/metering"
	rollupdomain "github.com/smallbiznis/railmeter/internal/rollup/domain"
	toolsdomain "github.com/smallbiznis/railmeter/internal/tools/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const endpoint = "POST /v1/assistant/chat"

type Params struct {
	fx.In

	Log        *zap.Logger
	Executor   *metering.Executor
	Rollup     rollupdomain.Service
	DailyQuota dailyquotadomain.Service
	Tools      toolsdomain.Service
}

type Service struct {
	log      *zap.Logger
	executor *metering.Executor
	rollup   rollupdomain.Service
	daily    dailyquotadomain.Service
	tools    toolsdomain.Service
}

func New(p Params) assistantdomain.Service {
	return &Service{
		log:      p.Log.Named("assistant.service"),
		executor: p.Executor,
		rollup:   p.Rollup,
		daily:    p.DailyQuota,
		tools:    p.Tools,
	}
}

func (s *Service) Chat(ctx context.Context, cmd assistantdomain.ChatCommand) (metering.Result, error) {
	message := strings.TrimSpace(cmd.Request.Message)
	if message == "" || len(message) > assistantdomain.MaxMessageLength {
		return metering.Result{}, assistantdomain.ErrInvalidMessage
	}

	return s.executor.Execute(ctx, metering.Request{
		TenantID:       cmd.TenantID,
		UserID:         cmd.UserID,
		Endpoint:       endpoint,
		IdempotencyKey: cmd.IdempotencyKey,
		Body:           cmd.Request,
		Permitted:      cmd.Permitted,
		Capability:     entitlementdomain.CapabilityChat,
	}, func(ctx context.Context, session *metering.Session) (int, any, error) {
		grant, err := session.Reserve(ctx, metering.Reservation{
			EventKey:     catalogdomain.EventAssistantQuery,
			Units:        1,
			ActivityType: dailyquotadomain.ActivityAssistantQuery,
		})
		if err != nil {
			return 0, nil, err
		}

		resp, err := s.answer(ctx, session, assistantdomain.Parse(message))
		if err != nil {
			return 0, nil, err
		}

		if _, err := session.Record(ctx, grant, metering.Usage{
			Units:    1,
			Metadata: map[string]any{"intent": string(resp.Intent.Command)},
		}); err != nil {
			return 0, nil, err
		}
		return 0, resp, nil
	})
}

func (s *Service) answer(ctx context.Context, session *metering.Session, intent assistantdomain.Intent) (assistantdomain.ChatResponse, error) {
	resp := assistantdomain.ChatResponse{Intent: intent}
	switch intent.Command {
	case assistantdomain.CommandHelp:
		resp.Reply = "Try: list tools, usage, limits, or echo <text>."
	case assistantdomain.CommandListTools:
		tools := s.tools.List()
		names := make([]string, 0, len(tools))
		for _, t := range tools {
			names = append(names, t.Name)
		}
		resp.Reply = "Available tools: " + strings.Join(names, ", ")
		resp.Data = tools
	case assistantdomain.CommandUsage:
		ent := session.Entitlement()
		totals, err := s.rollup.GetTotals(ctx, session.Tx(), session.TenantID(), ent.PeriodStart, ent.PeriodEnd)
		if err != nil {
			return resp, err
		}
		resp.Reply = fmt.Sprintf("You have used %s of %s credits this period.",
			totals.CreditsUsed.String(), ent.IncludedCredits.String())
		resp.Data = totals
	case assistantdomain.CommandLimits:
		usage, err := s.daily.DailyUsage(ctx, session.Tx(), session.TenantID(), session.Now())
		if err != nil {
			return resp, err
		}
		parts := make([]string, 0, len(usage))
		for _, u := range usage {
			parts = append(parts, fmt.Sprintf("%s %d/%d", u.ActivityType, u.Used, u.Limit))
		}
		resp.Reply = "Today: " + strings.Join(parts, ", ")
		resp.Data = usage
	case assistantdomain.CommandEcho:
		resp.Reply = intent.Argument
	default:
		resp.Reply = "Sorry, I did not understand. Type help to see what I can do."
	}
	return resp, nil
}
