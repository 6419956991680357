package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	entitlementdomain "github.com/smallbiznis/railmeter/internal/entitlement/domain"
	rollupdomain "github.com/smallbiznis/railmeter/internal/rollup/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Reconcile re-derives rollups from the ledger one tenant at a time. With
// Repair set, rows are rewritten to match the ledger under the tenant lock.
func (s *Service) Reconcile(ctx context.Context, req rollupdomain.ReconcileRequest) (rollupdomain.ReconcileReport, error) {
	report := rollupdomain.ReconcileReport{Drifts: []rollupdomain.Drift{}}

	tenants := []string{strings.TrimSpace(req.TenantID)}
	if tenants[0] == "" {
		var err error
		tenants, err = s.repo.Tenants(ctx, s.db)
		if err != nil {
			return report, err
		}
	}

	for _, tenantID := range tenants {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if req.Repair && s.locker != nil {
				// Tenants without a subscription cannot meter concurrently.
				if err := s.locker.LockTenant(ctx, tx, tenantID); err != nil && !errors.Is(err, entitlementdomain.ErrNoActiveSubscription) {
					return err
				}
			}
			return s.reconcileTenant(ctx, tx, tenantID, req, &report)
		})
		if err != nil {
			s.log.Error("rollup reconcile failed", zap.String("tenant_id", tenantID), zap.Error(err))
			return report, err
		}
		report.TenantsChecked++
	}

	if len(report.Drifts) > 0 {
		s.log.Warn("rollup drift detected",
			zap.Int("drifts", len(report.Drifts)),
			zap.Int("repaired", report.Repaired),
		)
	}
	return report, nil
}

func (s *Service) reconcileTenant(ctx context.Context, tx *gorm.DB, tenantID string, req rollupdomain.ReconcileRequest, report *rollupdomain.ReconcileReport) error {
	ledger, err := s.repo.LedgerTotals(ctx, tx, tenantID, req.PeriodStart)
	if err != nil {
		return err
	}
	rollups, err := s.repo.ListForReconcile(ctx, tx, tenantID, req.PeriodStart)
	if err != nil {
		return err
	}

	existing := make(map[string]rollupdomain.PeriodRollup, len(rollups))
	for _, row := range rollups {
		existing[rollupKey(row.EventKey, row.PeriodStart)] = row
	}

	now := s.clock.Now()
	for _, lt := range ledger {
		report.RowsChecked++
		k := rollupKey(lt.EventKey, lt.PeriodStart)
		row, ok := existing[k]
		delete(existing, k)

		if ok && row.RawUnitsTotal == lt.RawUnits && row.CreditsTotal.Equal(lt.Credits) {
			continue
		}

		drift := rollupdomain.Drift{
			TenantID:      tenantID,
			EventKey:      lt.EventKey,
			PeriodStart:   lt.PeriodStart,
			LedgerUnits:   lt.RawUnits,
			LedgerCredits: lt.Credits,
			RollupCredits: decimal.Zero,
		}
		if ok {
			drift.RollupUnits = row.RawUnitsTotal
			drift.RollupCredits = row.CreditsTotal
		}

		if req.Repair {
			fixed := rollupdomain.PeriodRollup{
				TenantID:      tenantID,
				EventKey:      lt.EventKey,
				PeriodStart:   lt.PeriodStart,
				RawUnitsTotal: lt.RawUnits,
				CreditsTotal:  lt.Credits,
				ListCostTotal: lt.ListCost,
				EventCount:    lt.EventCount,
				UpdatedAt:     now,
			}
			if ok {
				err = s.repo.Update(ctx, tx, &fixed)
			} else {
				err = s.repo.Insert(ctx, tx, &fixed)
			}
			if err != nil {
				return err
			}
			drift.Repaired = true
			report.Repaired++
		}
		report.Drifts = append(report.Drifts, drift)
	}

	// Rollups without any ledger rows behind them.
	for _, row := range existing {
		report.RowsChecked++
		if row.RawUnitsTotal == 0 && row.CreditsTotal.IsZero() {
			continue
		}
		drift := rollupdomain.Drift{
			TenantID:      tenantID,
			EventKey:      row.EventKey,
			PeriodStart:   row.PeriodStart,
			RollupUnits:   row.RawUnitsTotal,
			RollupCredits: row.CreditsTotal,
			LedgerCredits: decimal.Zero,
		}
		if req.Repair {
			r := row
			if err := s.repo.Delete(ctx, tx, &r); err != nil {
				return err
			}
			drift.Repaired = true
			report.Repaired++
		}
		report.Drifts = append(report.Drifts, drift)
	}
	return nil
}

func rollupKey(eventKey string, periodStart time.Time) string {
	return eventKey + "|" + periodStart.UTC().Format(time.RFC3339)
}
