package repository

import (
	"context"
	"errors"
	"time"

	dailyquotadomain "github.com/smallbiznis/railmeter/internal/dailyquota/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() dailyquotadomain.Repository {
	return &repo{}
}

func (r *repo) FindCounter(ctx context.Context, db *gorm.DB, tenantID, activity, day string, forUpdate bool) (*dailyquotadomain.DailyCounter, error) {
	stmt := db.WithContext(ctx).
		Where("tenant_id = ? AND activity_type = ? AND usage_date = ?", tenantID, activity, day)
	if forUpdate {
		stmt = stmt.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var counter dailyquotadomain.DailyCounter
	if err := stmt.Take(&counter).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &counter, nil
}

func (r *repo) AddCounter(ctx context.Context, db *gorm.DB, tenantID, activity, day string, delta int64, at time.Time) error {
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "tenant_id"}, {Name: "activity_type"}, {Name: "usage_date"}},
		DoUpdates: clause.Assignments(map[string]any{
			"count":      gorm.Expr("daily_usage_counters.count + ?", delta),
			"updated_at": at,
		}),
	}).Create(&dailyquotadomain.DailyCounter{
		TenantID:     tenantID,
		ActivityType: activity,
		Day:          day,
		Count:        delta,
		UpdatedAt:    at,
	}).Error
}

func (r *repo) ListCounters(ctx context.Context, db *gorm.DB, tenantID, day string) ([]dailyquotadomain.DailyCounter, error) {
	var rows []dailyquotadomain.DailyCounter
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND usage_date = ?", tenantID, day).
		Find(&rows).Error
	return rows, err
}

func (r *repo) ListLimits(ctx context.Context, db *gorm.DB, tenantID string) ([]dailyquotadomain.TenantLimit, error) {
	var rows []dailyquotadomain.TenantLimit
	err := db.WithContext(ctx).Where("tenant_id = ?", tenantID).Find(&rows).Error
	return rows, err
}

func (r *repo) UpsertLimit(ctx context.Context, db *gorm.DB, limit *dailyquotadomain.TenantLimit) error {
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "activity_type"}},
		DoUpdates: clause.AssignmentColumns([]string{"daily_limit", "updated_at"}),
	}).Create(limit).Error
}
