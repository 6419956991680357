package service

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/gosimple/slug"
	catalogdomain "github.com/smallbiznis/railmeter/internal/catalog/domain"
	entitlementdomain "github.com/smallbiznis/railmeter/internal/entitlement/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func (s *Service) ListPlans(ctx context.Context) ([]entitlementdomain.PlanView, error) {
	plans, err := s.repo.ListPlans(ctx, s.db)
	if err != nil {
		return nil, err
	}
	out := make([]entitlementdomain.PlanView, 0, len(plans))
	for _, plan := range plans {
		view, err := s.planView(ctx, s.db, plan)
		if err != nil {
			return nil, err
		}
		out = append(out, view)
	}
	return out, nil
}

func (s *Service) GetPlan(ctx context.Context, planID string) (entitlementdomain.PlanView, error) {
	plan, err := s.repo.FindPlan(ctx, s.db, strings.TrimSpace(planID))
	if err != nil {
		return entitlementdomain.PlanView{}, err
	}
	if plan == nil {
		return entitlementdomain.PlanView{}, entitlementdomain.ErrPlanNotFound
	}
	return s.planView(ctx, s.db, *plan)
}

func (s *Service) CreatePlan(ctx context.Context, req entitlementdomain.CreatePlanRequest) (entitlementdomain.PlanView, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return entitlementdomain.PlanView{}, entitlementdomain.ErrInvalidPlanName
	}
	planID := strings.TrimSpace(req.PlanID)
	if planID == "" {
		planID = slug.Make(name)
	}
	if !slug.IsSlug(planID) || len(planID) > 64 {
		return entitlementdomain.PlanView{}, entitlementdomain.ErrInvalidPlanID
	}
	if req.IncludedCredits.IsNegative() {
		return entitlementdomain.PlanView{}, entitlementdomain.ErrInvalidCredits
	}
	if req.OveragePricePerCredit.IsNegative() {
		return entitlementdomain.PlanView{}, entitlementdomain.ErrInvalidOveragePrice
	}

	var view entitlementdomain.PlanView
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.repo.FindPlan(ctx, tx, planID)
		if err != nil {
			return err
		}
		if existing != nil {
			return entitlementdomain.ErrPlanAlreadyExists
		}

		keys, err := s.validateCapabilities(ctx, tx, req.Capabilities)
		if err != nil {
			return err
		}

		now := s.clock.Now()
		plan := entitlementdomain.Plan{
			PlanID:                planID,
			Name:                  name,
			IncludedCredits:       req.IncludedCredits,
			OveragePricePerCredit: req.OveragePricePerCredit,
			Active:                true,
			CreatedAt:             now,
			UpdatedAt:             now,
		}
		if err := s.repo.InsertPlan(ctx, tx, &plan); err != nil {
			return err
		}
		if err := s.repo.ReplacePlanCapabilities(ctx, tx, planID, keys); err != nil {
			return err
		}
		view, err = s.planView(ctx, tx, plan)
		return err
	})
	if err != nil {
		return entitlementdomain.PlanView{}, err
	}

	s.log.Info("plan created",
		zap.String("plan_id", planID),
		zap.String("included_credits", req.IncludedCredits.String()),
	)
	return view, nil
}

func (s *Service) UpdatePlan(ctx context.Context, planID string, req entitlementdomain.UpdatePlanRequest) (entitlementdomain.PlanView, error) {
	var view entitlementdomain.PlanView
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		plan, err := s.repo.FindPlan(ctx, tx, strings.TrimSpace(planID))
		if err != nil {
			return err
		}
		if plan == nil {
			return entitlementdomain.ErrPlanNotFound
		}

		if req.Name != nil {
			name := strings.TrimSpace(*req.Name)
			if name == "" {
				return entitlementdomain.ErrInvalidPlanName
			}
			plan.Name = name
		}
		if req.IncludedCredits != nil {
			if req.IncludedCredits.IsNegative() {
				return entitlementdomain.ErrInvalidCredits
			}
			plan.IncludedCredits = *req.IncludedCredits
		}
		if req.OveragePricePerCredit != nil {
			if req.OveragePricePerCredit.IsNegative() {
				return entitlementdomain.ErrInvalidOveragePrice
			}
			plan.OveragePricePerCredit = *req.OveragePricePerCredit
		}
		if req.Active != nil {
			plan.Active = *req.Active
		}
		plan.UpdatedAt = s.clock.Now()

		if err := s.repo.UpdatePlan(ctx, tx, plan); err != nil {
			return err
		}
		view, err = s.planView(ctx, tx, *plan)
		return err
	})
	if err != nil {
		return entitlementdomain.PlanView{}, err
	}

	s.log.Info("plan updated", zap.String("plan_id", view.Plan.PlanID))
	return view, nil
}

func (s *Service) ReplaceCapabilities(ctx context.Context, planID string, keys []string) (entitlementdomain.PlanView, error) {
	var view entitlementdomain.PlanView
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		plan, err := s.repo.FindPlan(ctx, tx, strings.TrimSpace(planID))
		if err != nil {
			return err
		}
		if plan == nil {
			return entitlementdomain.ErrPlanNotFound
		}
		normalized, err := s.validateCapabilities(ctx, tx, keys)
		if err != nil {
			return err
		}
		if err := s.repo.ReplacePlanCapabilities(ctx, tx, plan.PlanID, normalized); err != nil {
			return err
		}
		view, err = s.planView(ctx, tx, *plan)
		return err
	})
	if err != nil {
		return entitlementdomain.PlanView{}, err
	}
	return view, nil
}

func (s *Service) ReplaceEventCaps(ctx context.Context, planID string, caps []entitlementdomain.EventCapInput) (entitlementdomain.PlanView, error) {
	var view entitlementdomain.PlanView
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		plan, err := s.repo.FindPlan(ctx, tx, strings.TrimSpace(planID))
		if err != nil {
			return err
		}
		if plan == nil {
			return entitlementdomain.ErrPlanNotFound
		}

		rows := make([]entitlementdomain.PlanEventCap, 0, len(caps))
		seen := make(map[string]struct{}, len(caps))
		for _, c := range caps {
			key := strings.TrimSpace(c.EventKey)
			if _, dup := seen[key]; dup || c.Limit < 0 {
				return entitlementdomain.ErrInvalidCap
			}
			seen[key] = struct{}{}
			if _, err := s.catalog.Get(ctx, tx, key); err != nil {
				if errors.Is(err, catalogdomain.ErrNotFound) {
					return entitlementdomain.ErrUnknownEvent
				}
				return err
			}
			rows = append(rows, entitlementdomain.PlanEventCap{
				PlanID:   plan.PlanID,
				EventKey: key,
				Limit:    c.Limit,
				Period:   entitlementdomain.CapPeriodMonthly,
			})
		}

		if err := s.repo.ReplacePlanEventCaps(ctx, tx, plan.PlanID, rows); err != nil {
			return err
		}
		view, err = s.planView(ctx, tx, *plan)
		return err
	})
	if err != nil {
		return entitlementdomain.PlanView{}, err
	}
	return view, nil
}

func (s *Service) ListCapabilities(ctx context.Context) ([]entitlementdomain.Capability, error) {
	return s.repo.ListCapabilities(ctx, s.db)
}

// EnsureCapability registers key if it does not exist and reports whether it was created.
func (s *Service) EnsureCapability(ctx context.Context, key, description string) (bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return false, entitlementdomain.ErrUnknownCapability
	}

	created := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.repo.ListCapabilities(ctx, tx)
		if err != nil {
			return err
		}
		for _, c := range existing {
			if c.Key == key {
				return nil
			}
		}
		created = true
		return s.repo.InsertCapability(ctx, tx, &entitlementdomain.Capability{
			Key:         key,
			Description: strings.TrimSpace(description),
			CreatedAt:   s.clock.Now(),
		})
	})
	return created, err
}

func (s *Service) validateCapabilities(ctx context.Context, tx *gorm.DB, keys []string) ([]string, error) {
	known, err := s.repo.ListCapabilities(ctx, tx)
	if err != nil {
		return nil, err
	}
	index := make(map[string]struct{}, len(known))
	for _, c := range known {
		index[c.Key] = struct{}{}
	}

	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, key := range keys {
		key = strings.TrimSpace(key)
		if _, ok := index[key]; !ok {
			return nil, entitlementdomain.ErrUnknownCapability
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	sort.Strings(out)
	return out, nil
}

func (s *Service) planView(ctx context.Context, db *gorm.DB, plan entitlementdomain.Plan) (entitlementdomain.PlanView, error) {
	capabilities, err := s.repo.PlanCapabilities(ctx, db, plan.PlanID)
	if err != nil {
		return entitlementdomain.PlanView{}, err
	}
	caps, err := s.repo.PlanEventCaps(ctx, db, plan.PlanID)
	if err != nil {
		return entitlementdomain.PlanView{}, err
	}
	if capabilities == nil {
		capabilities = []string{}
	}
	if caps == nil {
		caps = []entitlementdomain.PlanEventCap{}
	}
	return entitlementdomain.PlanView{Plan: plan, Capabilities: capabilities, EventCaps: caps}, nil
}
