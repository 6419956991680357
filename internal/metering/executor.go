// Package metering runs billable operations as one unit of work: idempotency,
// entitlement, quota, business logic, ledger emission and the legacy daily
// counter commit together or not at all.
package metering

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/smallbiznis/railmeter/internal/clock"
	dailyquotadomain "github.com/smallbiznis/railmeter/internal/dailyquota/domain"
	entitlementdomain "github.com/smallbiznis/railmeter/internal/entitlement/domain"
	idempotencydomain "github.com/smallbiznis/railmeter/internal/idempotency/domain"
	"github.com/smallbiznis/railmeter/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/railmeter/internal/observability/metrics"
	quotadomain "github.com/smallbiznis/railmeter/internal/quota/domain"
	usagedomain "github.com/smallbiznis/railmeter/internal/usage/domain"
	"github.com/smallbiznis/railmeter/pkg/db/uow"
	"github.com/smallbiznis/railmeter/pkg/rls"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrForbidden      = errors.New("forbidden")
	ErrInvalidRequest = errors.New("invalid_metering_request")
)

// maxCommitAttempts bounds reruns after another request committed the same
// idempotency key first. The rerun observes the stored record.
const maxCommitAttempts = 2

// Request describes one billable call as received from the routing layer.
type Request struct {
	TenantID string
	UserID   string
	Endpoint string
	// IdempotencyKey is optional; without it every call is FRESH.
	IdempotencyKey string
	Body           any
	// Permitted is the caller's RBAC outcome for this operation.
	Permitted bool
	// Capability, when set, must be granted by the tenant's plan.
	Capability string
}

// Result is the response of the operation. Replayed results carry the stored body.
type Result struct {
	Status   int
	Body     json.RawMessage
	Replayed bool
}

// Operation is the business logic. It runs inside the unit of work and may run
// more than once, so it must only write through Session.Tx.
type Operation func(ctx context.Context, s *Session) (status int, response any, err error)

type Params struct {
	fx.In

	UoW         *uow.UnitOfWork
	Log         *zap.Logger
	Clock       clock.Clock
	Idempotency idempotencydomain.Service
	Entitlement entitlementdomain.Service
	Quota       quotadomain.Service
	DailyQuota  dailyquotadomain.Service
	Usage       usagedomain.Service
	ObsMetrics  *obsmetrics.Metrics `optional:"true"`
}

type Executor struct {
	uow         *uow.UnitOfWork
	log         *zap.Logger
	clock       clock.Clock
	idempotency idempotencydomain.Service
	entitlement entitlementdomain.Service
	quota       quotadomain.Service
	daily       dailyquotadomain.Service
	usage       usagedomain.Service
	metrics     *obsmetrics.Metrics
}

func NewExecutor(p Params) *Executor {
	return &Executor{
		uow:         p.UoW,
		log:         p.Log.Named("metering.executor"),
		clock:       p.Clock,
		idempotency: p.Idempotency,
		entitlement: p.Entitlement,
		quota:       p.Quota,
		daily:       p.DailyQuota,
		usage:       p.Usage,
		metrics:     p.ObsMetrics,
	}
}

func (e *Executor) Execute(ctx context.Context, req Request, op Operation) (Result, error) {
	req.TenantID = strings.TrimSpace(req.TenantID)
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	if req.TenantID == "" || strings.TrimSpace(req.Endpoint) == "" || op == nil {
		return Result{}, ErrInvalidRequest
	}
	if !req.Permitted {
		return Result{}, ErrForbidden
	}

	log := logger.WithTenant(logger.WithContext(ctx, e.log), req.TenantID)

	var (
		result Result
		err    error
	)
	for attempt := 1; attempt <= maxCommitAttempts; attempt++ {
		result, err = e.attempt(ctx, req, op)
		if !errors.Is(err, idempotencydomain.ErrConcurrentCommit) {
			break
		}
		log.Info("idempotency key committed concurrently, rerunning",
			zap.String("endpoint", req.Endpoint),
			zap.Int("attempt", attempt),
		)
	}
	if err != nil {
		return Result{}, err
	}
	return result, nil
}

func (e *Executor) attempt(ctx context.Context, req Request, op Operation) (Result, error) {
	var result Result
	err := e.uow.Do(ctx, func(tx *gorm.DB) error {
		result = Result{}
		if err := rls.WithTenant(tx, req.TenantID); err != nil {
			return err
		}

		var requestHash string
		if req.IdempotencyKey != "" {
			decision, err := e.idempotency.Begin(ctx, tx, idempotencydomain.BeginRequest{
				TenantID: req.TenantID,
				Key:      req.IdempotencyKey,
				Endpoint: req.Endpoint,
				Body:     req.Body,
			})
			if err != nil {
				return err
			}
			switch decision.Outcome {
			case idempotencydomain.OutcomeConflict:
				return idempotencydomain.ErrConflict
			case idempotencydomain.OutcomeReplay:
				result = Result{
					Status:   decision.Record.ResponseStatus,
					Body:     decision.Response(),
					Replayed: true,
				}
				return nil
			}
			requestHash = decision.RequestHash
		}

		if err := e.entitlement.LockTenant(ctx, tx, req.TenantID); err != nil {
			return err
		}
		now := e.clock.Now()
		ent, err := e.entitlement.Resolve(ctx, tx, req.TenantID, now)
		if err != nil {
			return err
		}
		if req.Capability != "" && !ent.HasCapability(req.Capability) {
			return entitlementdomain.ErrNotEntitled
		}

		session := &Session{exec: e, tx: tx, req: req, ent: ent, now: now}
		status, response, err := op(ctx, session)
		if err != nil {
			return err
		}
		if status == 0 {
			status = http.StatusOK
		}

		body, err := json.Marshal(response)
		if err != nil {
			return err
		}

		if req.IdempotencyKey != "" {
			if _, err := e.idempotency.Commit(ctx, tx, idempotencydomain.CommitRequest{
				TenantID:    req.TenantID,
				Key:         req.IdempotencyKey,
				Endpoint:    req.Endpoint,
				RequestHash: requestHash,
				Status:      status,
				Response:    json.RawMessage(body),
			}); err != nil {
				return err
			}
		}

		result = Result{Status: status, Body: body}
		return nil
	})
	return result, err
}

// Session is the operation's view of the unit of work.
type Session struct {
	exec *Executor
	tx   *gorm.DB
	req  Request
	ent  entitlementdomain.Entitlement
	now  time.Time
}

func (s *Session) Tx() *gorm.DB { return s.tx }

func (s *Session) Now() time.Time { return s.now }

func (s *Session) TenantID() string { return s.req.TenantID }

func (s *Session) UserID() string { return s.req.UserID }

func (s *Session) Entitlement() entitlementdomain.Entitlement { return s.ent }
