package domain

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

const DateLayout = "2006-01-02"

var (
	ErrUnknownActivity = errors.New("unknown_activity_type")
	ErrInvalidLimit    = errors.New("invalid_daily_limit")
	ErrInvalidRequest  = errors.New("invalid_daily_quota_request")
)

type Decision string

const (
	DecisionAllow        Decision = "ALLOW"
	DecisionAllowPartial Decision = "ALLOW_PARTIAL"
	DecisionDeny         Decision = "DENY"
)

type CheckRequest struct {
	TenantID     string
	ActivityType string
	Date         time.Time
	Requested    int64
	AllowPartial bool
}

type Verdict struct {
	Decision     Decision `json:"decision"`
	ActivityType string   `json:"activity_type"`
	Requested    int64    `json:"requested"`
	Allowed      int64    `json:"allowed"`
	Used         int64    `json:"used"`
	Limit        int64    `json:"limit"`
}

func (v Verdict) Suppressed() int64 {
	if v.Requested <= v.Allowed {
		return 0
	}
	return v.Requested - v.Allowed
}

type Repository interface {
	FindCounter(ctx context.Context, db *gorm.DB, tenantID, activity, day string, forUpdate bool) (*DailyCounter, error)
	AddCounter(ctx context.Context, db *gorm.DB, tenantID, activity, day string, delta int64, at time.Time) error
	ListCounters(ctx context.Context, db *gorm.DB, tenantID, day string) ([]DailyCounter, error)
	ListLimits(ctx context.Context, db *gorm.DB, tenantID string) ([]TenantLimit, error)
	UpsertLimit(ctx context.Context, db *gorm.DB, limit *TenantLimit) error
}

type Service interface {
	Limits(ctx context.Context, tx *gorm.DB, tenantID string) (map[string]int64, error)
	SetLimits(ctx context.Context, tenantID string, limits map[string]int64) (map[string]int64, error)
	// EnsureDefaults stores the deployment defaults for a new tenant.
	EnsureDefaults(ctx context.Context, tx *gorm.DB, tenantID string) error

	// Check reports the verdict without consuming the counter.
	Check(ctx context.Context, tx *gorm.DB, req CheckRequest) (Verdict, error)
	Increment(ctx context.Context, tx *gorm.DB, tenantID, activity string, date time.Time, n int64) error
	CheckAndIncrement(ctx context.Context, tx *gorm.DB, req CheckRequest) (Verdict, error)

	DailyUsage(ctx context.Context, tx *gorm.DB, tenantID string, date time.Time) ([]ActivityUsage, error)
}
