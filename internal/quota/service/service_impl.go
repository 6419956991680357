package service

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"
	catalogdomain "github.com/smallbiznis/railmeter/internal/catalog/domain"
	"github.com/smallbiznis/railmeter/internal/clock"
	entitlementdomain "github.com/smallbiznis/railmeter/internal/entitlement/domain"
	obsmetrics "github.com/smallbiznis/railmeter/internal/observability/metrics"
	quotadomain "github.com/smallbiznis/railmeter/internal/quota/domain"
	rollupdomain "github.com/smallbiznis/railmeter/internal/rollup/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var errInvalidRequest = errors.New("invalid_quota_request")

type Params struct {
	fx.In

	Log         *zap.Logger
	Clock       clock.Clock
	Entitlement entitlementdomain.Service
	Catalog     catalogdomain.Service
	Rollup      rollupdomain.Service
	ObsMetrics  *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	log         *zap.Logger
	clock       clock.Clock
	entitlement entitlementdomain.Service
	catalog     catalogdomain.Service
	rollup      rollupdomain.Service
	metrics     *obsmetrics.Metrics
}

func New(p Params) quotadomain.Service {
	return &Service{
		log:         p.Log.Named("quota.service"),
		clock:       p.Clock,
		entitlement: p.Entitlement,
		catalog:     p.Catalog,
		rollup:      p.Rollup,
		metrics:     p.ObsMetrics,
	}
}

func (s *Service) Authorize(ctx context.Context, tx *gorm.DB, req quotadomain.AuthorizeRequest) (quotadomain.Verdict, error) {
	eventKey := strings.TrimSpace(req.EventKey)
	if strings.TrimSpace(req.TenantID) == "" || eventKey == "" || req.RequestedUnits < 0 {
		return quotadomain.Verdict{}, errInvalidRequest
	}

	verdict, err := s.authorize(ctx, tx, eventKey, req)
	if err != nil {
		return quotadomain.Verdict{}, err
	}

	s.metrics.RecordQuotaDecision(ctx, eventKey, string(verdict.Decision), verdict.Reason)
	if verdict.Decision != quotadomain.DecisionAllow {
		s.log.Info("quota verdict",
			zap.String("tenant_id", req.TenantID),
			zap.String("event_key", eventKey),
			zap.String("decision", string(verdict.Decision)),
			zap.String("reason", verdict.Reason),
			zap.String("ceiling", string(verdict.Ceiling)),
			zap.Int64("requested_units", verdict.RequestedUnits),
			zap.Int64("allowed_units", verdict.AllowedUnits),
		)
	}
	return verdict, nil
}

func (s *Service) authorize(ctx context.Context, tx *gorm.DB, eventKey string, req quotadomain.AuthorizeRequest) (quotadomain.Verdict, error) {
	base := quotadomain.Verdict{
		EventKey:       eventKey,
		RequestedUnits: req.RequestedUnits,
		Limit:          decimal.Zero,
		Current:        decimal.Zero,
		Requested:      decimal.Zero,
		CreditsPerUnit: decimal.Zero,
	}

	// Replayed requests were charged when they first ran.
	if req.Replay {
		base.Decision = quotadomain.DecisionAllow
		base.AllowedUnits = req.RequestedUnits
		base.SkipEmission = true
		return base, nil
	}

	// Zero units never consume budget, so they are allowed before entitlement.
	if req.RequestedUnits == 0 {
		base.Decision = quotadomain.DecisionAllow
		return base, nil
	}

	at := req.At
	if at.IsZero() {
		at = s.clock.Now()
	}

	var ent entitlementdomain.Entitlement
	if req.Entitlement != nil {
		ent = *req.Entitlement
	} else {
		resolved, err := s.entitlement.Resolve(ctx, tx, req.TenantID, at)
		if err != nil {
			if errors.Is(err, entitlementdomain.ErrNoActiveSubscription) {
				return deny(base, quotadomain.ReasonNotEntitled, err), nil
			}
			return quotadomain.Verdict{}, err
		}
		ent = resolved
	}
	if req.Capability != "" && !ent.HasCapability(req.Capability) {
		return deny(base, quotadomain.ReasonNotEntitled, entitlementdomain.ErrNotEntitled), nil
	}

	snapshot, err := s.catalog.Get(ctx, tx, eventKey)
	if err != nil {
		return quotadomain.Verdict{}, err
	}
	if !snapshot.Active {
		return quotadomain.Verdict{}, catalogdomain.ErrInactive
	}
	cpu := snapshot.EffectiveCreditsPerUnit()
	base.CreditsPerUnit = cpu

	totals, err := s.rollup.GetTotals(ctx, tx, req.TenantID, ent.PeriodStart, ent.PeriodEnd)
	if err != nil {
		return quotadomain.Verdict{}, err
	}

	requested := decimal.NewFromInt(req.RequestedUnits)
	creditFit := req.RequestedUnits
	if !cpu.IsZero() {
		creditFit = fitUnits(ent.IncludedCredits.Sub(totals.CreditsUsed), cpu, req.RequestedUnits)
	}

	capFit := req.RequestedUnits
	capLimit, hasCap := ent.EventCap(eventKey)
	currentUnits := decimal.NewFromInt(totals.Event(eventKey).RawUnits)
	if hasCap {
		remaining := capLimit.Sub(currentUnits)
		capFit = minUnits(req.RequestedUnits, remaining)
	}

	allowed := creditFit
	if capFit < allowed {
		allowed = capFit
	}

	switch {
	case allowed == req.RequestedUnits:
		base.Decision = quotadomain.DecisionAllow
		base.AllowedUnits = allowed
		return base, nil
	case allowed > 0 && req.AllowPartial:
		base.Decision = quotadomain.DecisionAllowPartial
		base.AllowedUnits = allowed
		return base, nil
	}

	verdict := deny(base, quotadomain.ReasonQuotaExceeded, nil)
	if creditFit < req.RequestedUnits {
		verdict.Ceiling = quotadomain.CeilingCredits
		verdict.Limit = ent.IncludedCredits
		verdict.Current = totals.CreditsUsed
		verdict.Requested = requested.Mul(cpu)
	} else {
		verdict.Ceiling = quotadomain.CeilingEventCap
		verdict.Limit = capLimit
		verdict.Current = currentUnits
		verdict.Requested = requested
	}
	return verdict, nil
}

func deny(base quotadomain.Verdict, reason string, cause error) quotadomain.Verdict {
	base.Decision = quotadomain.DecisionDeny
	base.AllowedUnits = 0
	base.Reason = reason
	base.Cause = cause
	return base
}

// fitUnits returns the largest n <= requested with n*cpu <= remaining.
func fitUnits(remaining, cpu decimal.Decimal, requested int64) int64 {
	if !remaining.IsPositive() {
		return 0
	}
	n := remaining.Div(cpu).Floor()
	if n.GreaterThanOrEqual(decimal.NewFromInt(requested)) {
		return requested
	}
	units := n.IntPart()
	// Division rounds at DivisionPrecision; step back if the product overshoots.
	for units > 0 && decimal.NewFromInt(units).Mul(cpu).GreaterThan(remaining) {
		units--
	}
	return units
}

func minUnits(requested int64, remaining decimal.Decimal) int64 {
	if !remaining.IsPositive() {
		return 0
	}
	if remaining.GreaterThanOrEqual(decimal.NewFromInt(requested)) {
		return requested
	}
	return remaining.Floor().IntPart()
}
