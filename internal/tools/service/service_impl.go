package service

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/oklog/ulid/v2"
	catalogdomain "github.com/smallbiznis/railmeter/internal/catalog/domain"
	dailyquotadomain "github.com/smallbiznis/railmeter/internal/dailyquota/domain"
	entitlementdomain "github.com/smallbiznis/railmeter/internal/entitlement/domain"
	"github.com/smallbiznis/railmeter/internal/metering"
	toolsdomain "github.com/smallbiznis/railmeter/internal/tools/domain"
	usagedomain "github.com/smallbiznis/railmeter/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const endpoint = "POST /v1/tools/invoke"

type Params struct {
	fx.In

	Log      *zap.Logger
	Executor *metering.Executor
}

type Service struct {
	log      *zap.Logger
	executor *metering.Executor
}

func New(p Params) toolsdomain.Service {
	return &Service{
		log:      p.Log.Named("tools.service"),
		executor: p.Executor,
	}
}

func (s *Service) List() []toolsdomain.Descriptor {
	return descriptors()
}

// Invoke runs a tool and meters one call once it returns successfully.
// Unknown tools are rejected before any metering.
func (s *Service) Invoke(ctx context.Context, cmd toolsdomain.Command) (metering.Result, error) {
	name := strings.TrimSpace(cmd.Request.Tool)
	t, ok := registry[name]
	if !ok {
		return metering.Result{}, toolsdomain.ErrUnknownTool
	}
	if len(cmd.Request.Payload) > 0 && !json.Valid(cmd.Request.Payload) {
		return metering.Result{}, toolsdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(cmd.IdempotencyKey) == "" {
		return metering.Result{}, toolsdomain.ErrIdempotencyKeyRequired
	}

	return s.executor.Execute(ctx, metering.Request{
		TenantID:       cmd.TenantID,
		UserID:         cmd.UserID,
		Endpoint:       endpoint,
		IdempotencyKey: cmd.IdempotencyKey,
		Body:           cmd.Request,
		Permitted:      cmd.Permitted,
		Capability:     entitlementdomain.CapabilityTools,
	}, func(ctx context.Context, session *metering.Session) (int, any, error) {
		grant, err := session.Reserve(ctx, metering.Reservation{
			EventKey:     catalogdomain.EventToolInvocation,
			Units:        1,
			ActivityType: dailyquotadomain.ActivityToolInvocation,
		})
		if err != nil {
			return 0, nil, err
		}

		output, err := t.handler(ctx, session.Now(), cmd.Request.Payload)
		if err != nil {
			return 0, nil, err
		}

		invocationID := ulid.Make().String()
		if _, err := session.Record(ctx, grant, metering.Usage{
			Units: 1,
			LinkedEntity: &usagedomain.LinkedEntity{
				Type: "tool_invocation",
				ID:   invocationID,
			},
			Metadata: map[string]any{"tool": name},
		}); err != nil {
			return 0, nil, err
		}

		return 0, toolsdomain.InvokeResult{
			InvocationID: invocationID,
			Tool:         name,
			Output:       output,
		}, nil
	})
}
