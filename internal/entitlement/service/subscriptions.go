package service

import (
	"context"
	"strings"
	"time"

	entitlementdomain "github.com/smallbiznis/railmeter/internal/entitlement/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func (s *Service) GetSubscription(ctx context.Context, tenantID string) (*entitlementdomain.TenantSubscription, error) {
	sub, err := s.repo.FindSubscription(ctx, s.db, tenantID, false)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, entitlementdomain.ErrSubscriptionNotFound
	}
	return sub, nil
}

// EnsureSubscription creates the tenant's subscription on planID if none exists.
func (s *Service) EnsureSubscription(ctx context.Context, tx *gorm.DB, tenantID, planID string) (*entitlementdomain.TenantSubscription, error) {
	if tx == nil {
		tx = s.db
	}

	existing, err := s.repo.FindSubscription(ctx, tx, tenantID, false)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	plan, err := s.repo.FindPlan(ctx, tx, planID)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, entitlementdomain.ErrPlanNotFound
	}

	now := s.clock.Now()
	sub := &entitlementdomain.TenantSubscription{
		TenantID:     tenantID,
		PlanID:       plan.PlanID,
		Status:       entitlementdomain.SubscriptionStatusActive,
		PeriodAnchor: entitlementdomain.MonthStart(now),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.InsertSubscription(ctx, tx, sub); err != nil {
		return nil, err
	}

	s.log.Info("subscription created",
		zap.String("tenant_id", tenantID),
		zap.String("plan_id", plan.PlanID),
	)
	return sub, nil
}

func (s *Service) UpdateSubscription(ctx context.Context, tenantID string, req entitlementdomain.UpdateSubscriptionRequest) (*entitlementdomain.TenantSubscription, error) {
	var result *entitlementdomain.TenantSubscription
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub, err := s.repo.FindSubscription(ctx, tx, tenantID, true)
		if err != nil {
			return err
		}
		if sub == nil {
			return entitlementdomain.ErrSubscriptionNotFound
		}

		if req.PlanID != nil {
			planID := strings.TrimSpace(*req.PlanID)
			plan, err := s.repo.FindPlan(ctx, tx, planID)
			if err != nil {
				return err
			}
			if plan == nil {
				return entitlementdomain.ErrPlanNotFound
			}
			sub.PlanID = plan.PlanID
		}
		if req.Status != nil {
			status := strings.ToLower(strings.TrimSpace(*req.Status))
			if !entitlementdomain.IsValidStatus(status) {
				return entitlementdomain.ErrInvalidStatus
			}
			sub.Status = status
		}
		if req.PeriodAnchor != nil {
			anchor := req.PeriodAnchor.UTC()
			sub.PeriodAnchor = time.Date(anchor.Year(), anchor.Month(), anchor.Day(), 0, 0, 0, 0, time.UTC)
		}
		sub.UpdatedAt = s.clock.Now()

		if err := s.repo.UpdateSubscription(ctx, tx, sub); err != nil {
			return err
		}
		result = sub
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("subscription updated",
		zap.String("tenant_id", tenantID),
		zap.String("plan_id", result.PlanID),
		zap.String("status", result.Status),
	)
	return result, nil
}
