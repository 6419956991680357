package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	catalogdomain "github.com/smallbiznis/railmeter/internal/catalog/domain"
	"github.com/smallbiznis/railmeter/internal/clock"
	entitlementdomain "github.com/smallbiznis/railmeter/internal/entitlement/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Clock   clock.Clock
	Repo    entitlementdomain.Repository
	Catalog catalogdomain.Service
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	clock   clock.Clock
	repo    entitlementdomain.Repository
	catalog catalogdomain.Service
}

func New(p Params) entitlementdomain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("entitlement.service"),
		clock:   p.Clock,
		repo:    p.Repo,
		catalog: p.Catalog,
	}
}

func (s *Service) Resolve(ctx context.Context, tx *gorm.DB, tenantID string, at time.Time) (entitlementdomain.Entitlement, error) {
	if tx == nil {
		tx = s.db
	}

	sub, err := s.repo.FindSubscription(ctx, tx, tenantID, false)
	if err != nil {
		return entitlementdomain.Entitlement{}, err
	}
	if sub == nil || sub.Status != entitlementdomain.SubscriptionStatusActive {
		return entitlementdomain.Entitlement{}, entitlementdomain.ErrNoActiveSubscription
	}

	plan, err := s.repo.FindPlan(ctx, tx, sub.PlanID)
	if err != nil {
		return entitlementdomain.Entitlement{}, err
	}
	if plan == nil {
		s.log.Error("subscription references a missing plan",
			zap.String("tenant_id", tenantID),
			zap.String("plan_id", sub.PlanID),
		)
		return entitlementdomain.Entitlement{}, entitlementdomain.ErrNoActiveSubscription
	}

	capabilityKeys, err := s.repo.PlanCapabilities(ctx, tx, plan.PlanID)
	if err != nil {
		return entitlementdomain.Entitlement{}, err
	}
	caps, err := s.repo.PlanEventCaps(ctx, tx, plan.PlanID)
	if err != nil {
		return entitlementdomain.Entitlement{}, err
	}

	start, end := entitlementdomain.PeriodFor(sub.PeriodAnchor, at)
	ent := entitlementdomain.Entitlement{
		TenantID:        tenantID,
		Plan:            *plan,
		Status:          sub.Status,
		Capabilities:    make(map[string]struct{}, len(capabilityKeys)),
		PeriodStart:     start,
		PeriodEnd:       end,
		IncludedCredits: plan.IncludedCredits,
		EventCaps:       make(map[string]decimal.Decimal, len(caps)),
	}
	for _, key := range capabilityKeys {
		ent.Capabilities[key] = struct{}{}
	}
	for _, c := range caps {
		if c.Period != "" && c.Period != entitlementdomain.CapPeriodMonthly {
			continue
		}
		ent.EventCaps[c.EventKey] = decimal.NewFromInt(c.Limit)
	}
	return ent, nil
}

func (s *Service) LockTenant(ctx context.Context, tx *gorm.DB, tenantID string) error {
	sub, err := s.repo.FindSubscription(ctx, tx, tenantID, true)
	if err != nil {
		return err
	}
	if sub == nil {
		return entitlementdomain.ErrNoActiveSubscription
	}
	return nil
}

func (s *Service) HasCapability(ctx context.Context, tenantID, capability string) (bool, error) {
	ent, err := s.Resolve(ctx, s.db, tenantID, s.clock.Now())
	if err != nil {
		return false, err
	}
	return ent.HasCapability(capability), nil
}
