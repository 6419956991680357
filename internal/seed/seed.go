package seed

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	catalogdomain "github.com/smallbiznis/railmeter/internal/catalog/domain"
	"github.com/smallbiznis/railmeter/internal/config"
	entitlementdomain "github.com/smallbiznis/railmeter/internal/entitlement/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Report counts what a seed run created. Existing rows are never touched.
type Report struct {
	Events       int
	Capabilities int
	Plans        int
}

type Params struct {
	fx.In

	Lifecycle   fx.Lifecycle
	Log         *zap.Logger
	Metering    *config.MeteringConfigHolder
	Catalog     catalogdomain.Service
	Entitlement entitlementdomain.Service
}

var Module = fx.Module("seed",
	fx.Invoke(Register),
)

// Register seeds the catalog, capabilities and plans on startup.
func Register(p Params) {
	log := p.Log.Named("seed")
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			report, err := EnsureMetering(ctx, p.Metering.Get(), p.Catalog, p.Entitlement)
			if err != nil {
				return fmt.Errorf("seed metering catalog: %w", err)
			}
			log.Info("metering seed complete",
				zap.Int("events_created", report.Events),
				zap.Int("capabilities_created", report.Capabilities),
				zap.Int("plans_created", report.Plans),
			)
			return nil
		},
	})
}

// EnsureMetering seeds event types, capabilities and plans from cfg.
func EnsureMetering(ctx context.Context, cfg config.MeteringConfig, catalog catalogdomain.Service, entitlement entitlementdomain.Service) (Report, error) {
	var report Report
	if err := config.ValidateMeteringConfig(cfg); err != nil {
		return report, err
	}

	events, err := eventRequests(cfg.Events)
	if err != nil {
		return report, err
	}
	if report.Events, err = catalog.EnsureSeeded(ctx, events); err != nil {
		return report, err
	}

	for _, c := range cfg.Capabilities {
		created, err := entitlement.EnsureCapability(ctx, c.Key, c.Description)
		if err != nil {
			return report, fmt.Errorf("capability %s: %w", c.Key, err)
		}
		if created {
			report.Capabilities++
		}
	}

	for _, p := range cfg.Plans {
		created, err := ensurePlan(ctx, entitlement, p)
		if err != nil {
			return report, fmt.Errorf("plan %s: %w", p.ID, err)
		}
		if created {
			report.Plans++
		}
	}
	return report, nil
}

func ensurePlan(ctx context.Context, entitlement entitlementdomain.Service, p config.PlanSeed) (bool, error) {
	_, err := entitlement.GetPlan(ctx, p.ID)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, entitlementdomain.ErrPlanNotFound) {
		return false, err
	}

	included, err := decimal.NewFromString(strings.TrimSpace(p.IncludedCredits))
	if err != nil {
		return false, err
	}
	overage, err := decimal.NewFromString(strings.TrimSpace(p.OveragePricePerCredit))
	if err != nil {
		return false, err
	}

	if _, err := entitlement.CreatePlan(ctx, entitlementdomain.CreatePlanRequest{
		PlanID:                p.ID,
		Name:                  p.Name,
		IncludedCredits:       included,
		OveragePricePerCredit: overage,
		Capabilities:          p.Capabilities,
	}); err != nil {
		return false, err
	}

	if len(p.Caps) > 0 {
		caps := make([]entitlementdomain.EventCapInput, 0, len(p.Caps))
		for _, c := range p.Caps {
			caps = append(caps, entitlementdomain.EventCapInput{EventKey: c.EventKey, Limit: c.Limit})
		}
		if _, err := entitlement.ReplaceEventCaps(ctx, p.ID, caps); err != nil {
			return false, err
		}
	}
	return true, nil
}

func eventRequests(seeds []config.EventSeed) ([]catalogdomain.CreateRequest, error) {
	out := make([]catalogdomain.CreateRequest, 0, len(seeds))
	for _, e := range seeds {
		cpu, err := decimal.NewFromString(strings.TrimSpace(e.CreditsPerUnit))
		if err != nil {
			return nil, fmt.Errorf("event %s credits_per_unit: %w", e.Key, err)
		}
		price, err := decimal.NewFromString(strings.TrimSpace(e.ListPricePerCredit))
		if err != nil {
			return nil, fmt.Errorf("event %s list_price_per_credit: %w", e.Key, err)
		}
		out = append(out, catalogdomain.CreateRequest{
			EventKey:           e.Key,
			UnitName:           e.UnitName,
			DisplayName:        e.DisplayName,
			Description:        e.Description,
			CreditsPerUnit:     cpu,
			ListPricePerCredit: price,
			Billable:           e.Billable,
		})
	}
	return out, nil
}
