package service

import (
	"context"
	"errors"
	"io"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	billingdomain "github.com/smallbiznis/railmeter/internal/billing/domain"
	catalogdomain "github.com/smallbiznis/railmeter/internal/catalog/domain"
	"github.com/smallbiznis/railmeter/internal/clock"
	entitlementdomain "github.com/smallbiznis/railmeter/internal/entitlement/domain"
	"github.com/smallbiznis/railmeter/internal/providers/pdf"
	rollupdomain "github.com/smallbiznis/railmeter/internal/rollup/domain"
	tenantdomain "github.com/smallbiznis/railmeter/internal/tenant/domain"
	usagedomain "github.com/smallbiznis/railmeter/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log         *zap.Logger
	Clock       clock.Clock
	Entitlement entitlementdomain.Service
	Catalog     catalogdomain.Service
	Rollup      rollupdomain.Service
	Usage       usagedomain.Service
	Tenants     tenantdomain.Service
	PDF         pdf.Provider
}

type Service struct {
	log         *zap.Logger
	clock       clock.Clock
	entitlement entitlementdomain.Service
	catalog     catalogdomain.Service
	rollup      rollupdomain.Service
	usage       usagedomain.Service
	tenants     tenantdomain.Service
	pdf         pdf.Provider
}

func New(p Params) billingdomain.Service {
	return &Service{
		log:         p.Log.Named("billing.service"),
		clock:       p.Clock,
		entitlement: p.Entitlement,
		catalog:     p.Catalog,
		rollup:      p.Rollup,
		usage:       p.Usage,
		tenants:     p.Tenants,
		pdf:         p.PDF,
	}
}

type period struct {
	sub   *entitlementdomain.TenantSubscription
	plan  entitlementdomain.PlanView
	start time.Time
	end   time.Time
}

// resolvePeriod finds the billing period containing at, or the current one.
// Reads never require an active subscription.
func (s *Service) resolvePeriod(ctx context.Context, tenantID string, at *time.Time) (period, error) {
	sub, err := s.entitlement.GetSubscription(ctx, tenantID)
	if err != nil {
		if errors.Is(err, entitlementdomain.ErrSubscriptionNotFound) {
			return period{}, entitlementdomain.ErrNoActiveSubscription
		}
		return period{}, err
	}
	plan, err := s.entitlement.GetPlan(ctx, sub.PlanID)
	if err != nil {
		return period{}, err
	}

	ref := s.clock.Now()
	if at != nil {
		ref = *at
	}
	start, end := entitlementdomain.PeriodFor(sub.PeriodAnchor, ref)
	return period{sub: sub, plan: plan, start: start, end: end}, nil
}

func (s *Service) Usage(ctx context.Context, tenantID string, periodStart *time.Time) (billingdomain.UsageSummary, error) {
	p, err := s.resolvePeriod(ctx, tenantID, periodStart)
	if err != nil {
		return billingdomain.UsageSummary{}, err
	}
	totals, err := s.rollup.GetTotals(ctx, nil, tenantID, p.start, p.end)
	if err != nil {
		return billingdomain.UsageSummary{}, err
	}
	return s.summarize(ctx, p, totals), nil
}

func (s *Service) summarize(ctx context.Context, p period, totals rollupdomain.Totals) billingdomain.UsageSummary {
	plan := p.plan.Plan
	included := plan.IncludedCredits
	used := totals.CreditsUsed

	remaining := included.Sub(used)
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}
	overage := used.Sub(included)
	if overage.IsNegative() {
		overage = decimal.Zero
	}

	keys := make([]string, 0, len(totals.PerEvent))
	for key := range totals.PerEvent {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	breakdown := make([]billingdomain.BreakdownLine, 0, len(keys))
	for _, key := range keys {
		t := totals.PerEvent[key]
		unit := billingdomain.DefaultUnitName
		if snap, err := s.catalog.Lookup(ctx, key); err == nil && snap.UnitName != "" {
			unit = snap.UnitName
		}
		breakdown = append(breakdown, billingdomain.BreakdownLine{
			EventKey:         key,
			UnitName:         unit,
			RawUnits:         t.RawUnits,
			Credits:          t.Credits,
			ListCostEstimate: t.ListCost,
		})
	}

	return billingdomain.UsageSummary{
		PeriodStart: p.start.Format(billingdomain.DateLayout),
		PeriodEnd:   p.end.Format(billingdomain.DateLayout),
		Plan:        billingdomain.PlanSummary{PlanID: plan.PlanID, Name: plan.Name},
		Credits: billingdomain.CreditSummary{
			Included:             included,
			Used:                 used,
			Remaining:            remaining,
			OverageCredits:       overage,
			EstimatedOverageCost: overage.Mul(plan.OveragePricePerCredit),
			EstimatedListCost:    totals.ListCost,
		},
		Breakdown: breakdown,
	}
}

func (s *Service) Ledger(ctx context.Context, req billingdomain.LedgerRequest) (billingdomain.LedgerPage, error) {
	p, err := s.resolvePeriod(ctx, req.TenantID, req.PeriodStart)
	if err != nil {
		return billingdomain.LedgerPage{}, err
	}
	resp, err := s.usage.Query(ctx, usagedomain.QueryRequest{
		TenantID:    req.TenantID,
		PeriodStart: p.start,
		PeriodEnd:   p.end,
		Pagination:  req.Pagination,
	})
	if err != nil {
		return billingdomain.LedgerPage{}, err
	}
	events := resp.Events
	if events == nil {
		events = []usagedomain.UsageEvent{}
	}
	return billingdomain.LedgerPage{
		PeriodStart: p.start.Format(billingdomain.DateLayout),
		PeriodEnd:   p.end.Format(billingdomain.DateLayout),
		Events:      events,
		PageInfo:    resp.PageInfo,
	}, nil
}

func (s *Service) Plan(ctx context.Context, tenantID string) (billingdomain.PlanOverview, error) {
	p, err := s.resolvePeriod(ctx, tenantID, nil)
	if err != nil {
		return billingdomain.PlanOverview{}, err
	}

	caps := make([]billingdomain.EventCapView, 0, len(p.plan.EventCaps))
	for _, c := range p.plan.EventCaps {
		caps = append(caps, billingdomain.EventCapView{EventKey: c.EventKey, Limit: c.Limit, Period: c.Period})
	}
	capabilities := p.plan.Capabilities
	if capabilities == nil {
		capabilities = []string{}
	}

	return billingdomain.PlanOverview{
		PlanID:                p.plan.Plan.PlanID,
		Name:                  p.plan.Plan.Name,
		IncludedCredits:       p.plan.Plan.IncludedCredits,
		OveragePricePerCredit: p.plan.Plan.OveragePricePerCredit,
		Capabilities:          capabilities,
		Caps:                  caps,
		Subscription: billingdomain.SubscriptionView{
			Status:       p.sub.Status,
			PeriodAnchor: p.sub.PeriodAnchor.Format(billingdomain.DateLayout),
			PeriodStart:  p.start.Format(billingdomain.DateLayout),
			PeriodEnd:    p.end.Format(billingdomain.DateLayout),
		},
	}, nil
}

func (s *Service) Statement(ctx context.Context, tenantID string, periodStart *time.Time) (io.Reader, error) {
	tenant, err := s.tenants.Get(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	summary, err := s.Usage(ctx, tenantID, periodStart)
	if err != nil {
		return nil, err
	}

	lines := make([]pdf.StatementLine, 0, len(summary.Breakdown))
	for _, b := range summary.Breakdown {
		description := b.EventKey
		if snap, err := s.catalog.Lookup(ctx, b.EventKey); err == nil && snap.DisplayName != "" {
			description = snap.DisplayName
		}
		lines = append(lines, pdf.StatementLine{
			Description: description,
			Units:       b.RawUnits,
			UnitName:    b.UnitName,
			Credits:     b.Credits.StringFixed(2),
			ListCost:    b.ListCostEstimate.StringFixed(2),
		})
	}

	c := summary.Credits
	return s.pdf.GenerateStatement(ctx, pdf.StatementData{
		TenantName:           tenant.Name,
		TenantID:             tenant.ID,
		PlanName:             summary.Plan.Name,
		PeriodStart:          summary.PeriodStart,
		PeriodEnd:            summary.PeriodEnd,
		IssuedAt:             s.clock.Now().UTC().Format(billingdomain.DateLayout),
		Lines:                lines,
		IncludedCredits:      c.Included.StringFixed(2),
		UsedCredits:          c.Used.StringFixed(2),
		RemainingCredits:     c.Remaining.StringFixed(2),
		OverageCredits:       c.OverageCredits.StringFixed(2),
		EstimatedOverageCost: c.EstimatedOverageCost.StringFixed(2),
		EstimatedListCost:    c.EstimatedListCost.StringFixed(2),
	})
}
