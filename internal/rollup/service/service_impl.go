package service

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/railmeter/internal/clock"
	rollupdomain "github.com/smallbiznis/railmeter/internal/rollup/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	Clock  clock.Clock
	Repo   rollupdomain.Repository
	Locker rollupdomain.TenantLocker
}

type Service struct {
	db     *gorm.DB
	log    *zap.Logger
	clock  clock.Clock
	repo   rollupdomain.Repository
	locker rollupdomain.TenantLocker
}

func New(p Params) rollupdomain.Service {
	return &Service{
		db:     p.DB,
		log:    p.Log.Named("rollup.service"),
		clock:  p.Clock,
		repo:   p.Repo,
		locker: p.Locker,
	}
}

func (s *Service) Increment(ctx context.Context, tx *gorm.DB, req rollupdomain.IncrementRequest) (*rollupdomain.PeriodRollup, error) {
	tenantID := strings.TrimSpace(req.TenantID)
	if tenantID == "" {
		return nil, rollupdomain.ErrInvalidTenant
	}
	eventKey := strings.TrimSpace(req.EventKey)
	if eventKey == "" {
		return nil, rollupdomain.ErrInvalidEventKey
	}
	if req.PeriodStart.IsZero() {
		return nil, rollupdomain.ErrInvalidPeriod
	}
	if req.RawUnitsDelta < 0 || req.CreditsDelta.IsNegative() || req.ListCostDelta.IsNegative() {
		return nil, rollupdomain.ErrNegativeDelta
	}

	periodStart := req.PeriodStart.UTC()
	row, err := s.repo.Find(ctx, tx, tenantID, eventKey, periodStart, true)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	if row == nil {
		row = &rollupdomain.PeriodRollup{
			TenantID:      tenantID,
			EventKey:      eventKey,
			PeriodStart:   periodStart,
			RawUnitsTotal: req.RawUnitsDelta,
			CreditsTotal:  req.CreditsDelta,
			ListCostTotal: req.ListCostDelta,
			EventCount:    1,
			UpdatedAt:     now,
		}
		if err := s.repo.Insert(ctx, tx, row); err != nil {
			return nil, err
		}
		return row, nil
	}

	row.RawUnitsTotal += req.RawUnitsDelta
	row.CreditsTotal = row.CreditsTotal.Add(req.CreditsDelta)
	row.ListCostTotal = row.ListCostTotal.Add(req.ListCostDelta)
	row.EventCount++
	row.UpdatedAt = now
	if err := s.repo.Update(ctx, tx, row); err != nil {
		return nil, err
	}
	return row, nil
}

func (s *Service) GetTotals(ctx context.Context, tx *gorm.DB, tenantID string, periodStart, periodEnd time.Time) (rollupdomain.Totals, error) {
	if tx == nil {
		tx = s.db
	}
	if periodStart.IsZero() || !periodEnd.After(periodStart) {
		return rollupdomain.Totals{}, rollupdomain.ErrInvalidPeriod
	}

	rows, err := s.repo.ListRange(ctx, tx, tenantID, periodStart, periodEnd)
	if err != nil {
		return rollupdomain.Totals{}, err
	}

	totals := rollupdomain.Totals{
		TenantID:    tenantID,
		PeriodStart: periodStart.UTC(),
		PeriodEnd:   periodEnd.UTC(),
		CreditsUsed: decimal.Zero,
		ListCost:    decimal.Zero,
		PerEvent:    make(map[string]rollupdomain.EventTotal, len(rows)),
	}
	for _, row := range rows {
		e := totals.Event(row.EventKey)
		e.RawUnits += row.RawUnitsTotal
		e.Credits = e.Credits.Add(row.CreditsTotal)
		e.ListCost = e.ListCost.Add(row.ListCostTotal)
		e.EventCount += row.EventCount
		totals.PerEvent[row.EventKey] = e

		totals.CreditsUsed = totals.CreditsUsed.Add(row.CreditsTotal)
		totals.ListCost = totals.ListCost.Add(row.ListCostTotal)
	}
	return totals, nil
}
