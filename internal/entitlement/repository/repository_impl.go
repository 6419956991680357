package repository

import (
	"context"
	"errors"

	entitlementdomain "github.com/smallbiznis/railmeter/internal/entitlement/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() entitlementdomain.Repository {
	return &repo{}
}

func (r *repo) FindSubscription(ctx context.Context, db *gorm.DB, tenantID string, forUpdate bool) (*entitlementdomain.TenantSubscription, error) {
	stmt := db.WithContext(ctx).Where("tenant_id = ?", tenantID)
	if forUpdate {
		stmt = stmt.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var sub entitlementdomain.TenantSubscription
	if err := stmt.Take(&sub).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

func (r *repo) InsertSubscription(ctx context.Context, db *gorm.DB, sub *entitlementdomain.TenantSubscription) error {
	return db.WithContext(ctx).Create(sub).Error
}

func (r *repo) UpdateSubscription(ctx context.Context, db *gorm.DB, sub *entitlementdomain.TenantSubscription) error {
	return db.WithContext(ctx).Exec(
		`UPDATE tenant_subscriptions
		 SET plan_id = ?, status = ?, period_anchor = ?, updated_at = ?
		 WHERE tenant_id = ?`,
		sub.PlanID,
		sub.Status,
		sub.PeriodAnchor,
		sub.UpdatedAt,
		sub.TenantID,
	).Error
}

func (r *repo) FindPlan(ctx context.Context, db *gorm.DB, planID string) (*entitlementdomain.Plan, error) {
	var plan entitlementdomain.Plan
	if err := db.WithContext(ctx).Where("plan_id = ?", planID).Take(&plan).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &plan, nil
}

func (r *repo) ListPlans(ctx context.Context, db *gorm.DB) ([]entitlementdomain.Plan, error) {
	var plans []entitlementdomain.Plan
	err := db.WithContext(ctx).Order("included_credits ASC, plan_id ASC").Find(&plans).Error
	return plans, err
}

func (r *repo) InsertPlan(ctx context.Context, db *gorm.DB, plan *entitlementdomain.Plan) error {
	return db.WithContext(ctx).Create(plan).Error
}

func (r *repo) UpdatePlan(ctx context.Context, db *gorm.DB, plan *entitlementdomain.Plan) error {
	return db.WithContext(ctx).Exec(
		`UPDATE plans
		 SET name = ?, included_credits = ?, overage_price_per_credit = ?, active = ?, updated_at = ?
		 WHERE plan_id = ?`,
		plan.Name,
		plan.IncludedCredits,
		plan.OveragePricePerCredit,
		plan.Active,
		plan.UpdatedAt,
		plan.PlanID,
	).Error
}

func (r *repo) ListCapabilities(ctx context.Context, db *gorm.DB) ([]entitlementdomain.Capability, error) {
	var caps []entitlementdomain.Capability
	err := db.WithContext(ctx).Order("capability_key ASC").Find(&caps).Error
	return caps, err
}

func (r *repo) InsertCapability(ctx context.Context, db *gorm.DB, c *entitlementdomain.Capability) error {
	return db.WithContext(ctx).Create(c).Error
}

func (r *repo) PlanCapabilities(ctx context.Context, db *gorm.DB, planID string) ([]string, error) {
	var keys []string
	err := db.WithContext(ctx).
		Model(&entitlementdomain.PlanCapability{}).
		Where("plan_id = ?", planID).
		Order("capability_key ASC").
		Pluck("capability_key", &keys).Error
	return keys, err
}

func (r *repo) ReplacePlanCapabilities(ctx context.Context, db *gorm.DB, planID string, keys []string) error {
	if err := db.WithContext(ctx).Where("plan_id = ?", planID).Delete(&entitlementdomain.PlanCapability{}).Error; err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	rows := make([]entitlementdomain.PlanCapability, 0, len(keys))
	for _, key := range keys {
		rows = append(rows, entitlementdomain.PlanCapability{PlanID: planID, CapabilityKey: key})
	}
	return db.WithContext(ctx).Create(&rows).Error
}

func (r *repo) PlanEventCaps(ctx context.Context, db *gorm.DB, planID string) ([]entitlementdomain.PlanEventCap, error) {
	var caps []entitlementdomain.PlanEventCap
	err := db.WithContext(ctx).Where("plan_id = ?", planID).Order("event_key ASC").Find(&caps).Error
	return caps, err
}

func (r *repo) ReplacePlanEventCaps(ctx context.Context, db *gorm.DB, planID string, caps []entitlementdomain.PlanEventCap) error {
	if err := db.WithContext(ctx).Where("plan_id = ?", planID).Delete(&entitlementdomain.PlanEventCap{}).Error; err != nil {
		return err
	}
	if len(caps) == 0 {
		return nil
	}
	return db.WithContext(ctx).Create(&caps).Error
}
