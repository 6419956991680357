package repository

import (
	"context"
	"errors"
	"time"

	rollupdomain "github.com/smallbiznis/railmeter/internal/rollup/domain"
	usagedomain "github.com/smallbiznis/railmeter/internal/usage/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() rollupdomain.Repository {
	return &repo{}
}

func (r *repo) Find(ctx context.Context, db *gorm.DB, tenantID, eventKey string, periodStart time.Time, forUpdate bool) (*rollupdomain.PeriodRollup, error) {
	stmt := db.WithContext(ctx).
		Where("tenant_id = ? AND event_key = ? AND period_start = ?", tenantID, eventKey, periodStart.UTC())
	if forUpdate {
		stmt = stmt.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var row rollupdomain.PeriodRollup
	if err := stmt.Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, row *rollupdomain.PeriodRollup) error {
	return db.WithContext(ctx).Create(row).Error
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, row *rollupdomain.PeriodRollup) error {
	return db.WithContext(ctx).Exec(
		`UPDATE period_rollups
		 SET raw_units_total = ?, credits_total = ?, list_cost_total = ?, event_count = ?, updated_at = ?
		 WHERE tenant_id = ? AND event_key = ? AND period_start = ?`,
		row.RawUnitsTotal,
		row.CreditsTotal,
		row.ListCostTotal,
		row.EventCount,
		row.UpdatedAt,
		row.TenantID,
		row.EventKey,
		row.PeriodStart.UTC(),
	).Error
}

func (r *repo) Delete(ctx context.Context, db *gorm.DB, row *rollupdomain.PeriodRollup) error {
	return db.WithContext(ctx).Exec(
		`DELETE FROM period_rollups WHERE tenant_id = ? AND event_key = ? AND period_start = ?`,
		row.TenantID,
		row.EventKey,
		row.PeriodStart.UTC(),
	).Error
}

func (r *repo) ListRange(ctx context.Context, db *gorm.DB, tenantID string, from, to time.Time) ([]rollupdomain.PeriodRollup, error) {
	var rows []rollupdomain.PeriodRollup
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND period_start >= ? AND period_start < ?", tenantID, from.UTC(), to.UTC()).
		Order("event_key ASC").
		Find(&rows).Error
	return rows, err
}

func (r *repo) ListForReconcile(ctx context.Context, db *gorm.DB, tenantID string, periodStart time.Time) ([]rollupdomain.PeriodRollup, error) {
	stmt := db.WithContext(ctx).Where("tenant_id = ?", tenantID)
	if !periodStart.IsZero() {
		stmt = stmt.Where("period_start = ?", periodStart.UTC())
	}
	var rows []rollupdomain.PeriodRollup
	err := stmt.Order("period_start ASC, event_key ASC").Find(&rows).Error
	return rows, err
}

type ledgerRow struct {
	ID          int64
	EventKey    string
	PeriodStart time.Time
	RawUnits    int64
	Credits     decimalColumn
	ListCost    decimalColumn `gorm:"column:list_cost_estimate"`
}

// LedgerTotals sums the ledger in application code so decimal precision does
// not depend on the database's numeric affinity.
func (r *repo) LedgerTotals(ctx context.Context, db *gorm.DB, tenantID string, periodStart time.Time) ([]rollupdomain.LedgerTotal, error) {
	stmt := db.WithContext(ctx).
		Model(&usagedomain.UsageEvent{}).
		Select("id, event_key, period_start, raw_units, credits, list_cost_estimate").
		Where("tenant_id = ?", tenantID)
	if !periodStart.IsZero() {
		stmt = stmt.Where("period_start = ?", periodStart.UTC())
	}

	type key struct {
		eventKey    string
		periodStart int64
	}
	totals := make(map[key]*rollupdomain.LedgerTotal)
	order := make([]key, 0)

	rows, err := stmt.Order("id ASC").Rows()
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var row ledgerRow
		if err := db.ScanRows(rows, &row); err != nil {
			return nil, err
		}
		k := key{eventKey: row.EventKey, periodStart: row.PeriodStart.UTC().Unix()}
		t, ok := totals[k]
		if !ok {
			t = &rollupdomain.LedgerTotal{
				TenantID:    tenantID,
				EventKey:    row.EventKey,
				PeriodStart: row.PeriodStart.UTC(),
			}
			totals[k] = t
			order = append(order, k)
		}
		t.RawUnits += row.RawUnits
		t.Credits = t.Credits.Add(row.Credits.Decimal)
		t.ListCost = t.ListCost.Add(row.ListCost.Decimal)
		t.EventCount++
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]rollupdomain.LedgerTotal, 0, len(order))
	for _, k := range order {
		out = append(out, *totals[k])
	}
	return out, nil
}

func (r *repo) Tenants(ctx context.Context, db *gorm.DB) ([]string, error) {
	var tenants []string
	err := db.WithContext(ctx).Raw(
		`SELECT tenant_id FROM usage_events
		 UNION
		 SELECT tenant_id FROM period_rollups
		 ORDER BY tenant_id`,
	).Scan(&tenants).Error
	return tenants, err
}
