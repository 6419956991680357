package domain

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	ErrInvalidTenant   = errors.New("invalid_tenant")
	ErrInvalidEventKey = errors.New("invalid_event_key")
	ErrInvalidPeriod   = errors.New("invalid_period")
	ErrNegativeDelta   = errors.New("negative_rollup_delta")
)

type IncrementRequest struct {
	TenantID      string
	EventKey      string
	PeriodStart   time.Time
	RawUnitsDelta int64
	CreditsDelta  decimal.Decimal
	ListCostDelta decimal.Decimal
}

type ReconcileRequest struct {
	// Empty TenantID reconciles every tenant with ledger or rollup rows.
	TenantID string
	// Zero PeriodStart reconciles every period.
	PeriodStart time.Time
	Repair      bool
}

type ReconcileReport struct {
	TenantsChecked int     `json:"tenants_checked"`
	RowsChecked    int     `json:"rows_checked"`
	Drifts         []Drift `json:"drifts"`
	Repaired       int     `json:"repaired"`
}

type Repository interface {
	Find(ctx context.Context, db *gorm.DB, tenantID, eventKey string, periodStart time.Time, forUpdate bool) (*PeriodRollup, error)
	Insert(ctx context.Context, db *gorm.DB, row *PeriodRollup) error
	Update(ctx context.Context, db *gorm.DB, row *PeriodRollup) error
	Delete(ctx context.Context, db *gorm.DB, row *PeriodRollup) error
	ListRange(ctx context.Context, db *gorm.DB, tenantID string, from, to time.Time) ([]PeriodRollup, error)
	ListForReconcile(ctx context.Context, db *gorm.DB, tenantID string, periodStart time.Time) ([]PeriodRollup, error)
	LedgerTotals(ctx context.Context, db *gorm.DB, tenantID string, periodStart time.Time) ([]LedgerTotal, error)
	Tenants(ctx context.Context, db *gorm.DB) ([]string, error)
}

// TenantLocker serializes metered writes for a tenant inside a transaction.
type TenantLocker interface {
	LockTenant(ctx context.Context, tx *gorm.DB, tenantID string) error
}

type Service interface {
	// Increment is the only mutator of rollup rows and runs in the emitting transaction.
	Increment(ctx context.Context, tx *gorm.DB, req IncrementRequest) (*PeriodRollup, error)
	GetTotals(ctx context.Context, tx *gorm.DB, tenantID string, periodStart, periodEnd time.Time) (Totals, error)
	Reconcile(ctx context.Context, req ReconcileRequest) (ReconcileReport, error)
}
