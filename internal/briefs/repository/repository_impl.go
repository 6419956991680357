package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	briefsdomain "github.com/smallbiznis/railmeter/internal/briefs/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() briefsdomain.Repository {
	return &repo{}
}

func (r *repo) FindBrief(ctx context.Context, db *gorm.DB, tenantID, date string) (*briefsdomain.Brief, error) {
	var brief briefsdomain.Brief
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND brief_date = ?", tenantID, date).
		Take(&brief).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &brief, nil
}

func (r *repo) InsertBrief(ctx context.Context, db *gorm.DB, b *briefsdomain.Brief) error {
	return db.WithContext(ctx).Create(b).Error
}

func (r *repo) InsertNotifications(ctx context.Context, db *gorm.DB, rows []briefsdomain.Notification) error {
	if len(rows) == 0 {
		return nil
	}
	return db.WithContext(ctx).CreateInBatches(rows, 100).Error
}

func (r *repo) ListNotifications(ctx context.Context, db *gorm.DB, tenantID string, briefID snowflake.ID) ([]briefsdomain.Notification, error) {
	var rows []briefsdomain.Notification
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND brief_id = ?", tenantID, briefID).
		Order("id ASC").
		Find(&rows).Error
	return rows, err
}

func (r *repo) FindBriefByID(ctx context.Context, db *gorm.DB, tenantID string, id snowflake.ID) (*briefsdomain.Brief, error) {
	var brief briefsdomain.Brief
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		Take(&brief).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &brief, nil
}

func (r *repo) ListPendingNotifications(ctx context.Context, db *gorm.DB, limit int) ([]briefsdomain.Notification, error) {
	var rows []briefsdomain.Notification
	query := db.WithContext(ctx).
		Where("status = ?", briefsdomain.NotificationStatusPending).
		Order("id ASC").
		Limit(limit)
	if db.Dialector.Name() == "postgres" {
		query = query.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
	}
	err := query.Find(&rows).Error
	return rows, err
}

func (r *repo) UpdateNotification(ctx context.Context, db *gorm.DB, n *briefsdomain.Notification) error {
	return db.WithContext(ctx).
		Model(&briefsdomain.Notification{}).
		Where("id = ?", n.ID).
		Updates(map[string]any{
			"status":     n.Status,
			"attempts":   n.Attempts,
			"last_error": n.LastError,
			"sent_at":    n.SentAt,
		}).Error
}

func (r *repo) LatestBrief(ctx context.Context, db *gorm.DB, tenantID string) (*briefsdomain.Brief, error) {
	var brief briefsdomain.Brief
	err := db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("brief_date DESC").
		Take(&brief).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &brief, nil
}

func (r *repo) ListOutbox(ctx context.Context, db *gorm.DB, filter briefsdomain.OutboxFilter) ([]briefsdomain.Notification, error) {
	query := db.WithContext(ctx).
		Model(&briefsdomain.Notification{}).
		Where("tenant_id = ?", filter.TenantID)

	switch filter.Status {
	case "":
	case briefsdomain.NotificationStatusAcked:
		query = query.Where("acked_at IS NOT NULL")
	default:
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Date != "" {
		briefs := db.Model(&briefsdomain.Brief{}).
			Select("id").
			Where("tenant_id = ? AND brief_date = ?", filter.TenantID, filter.Date)
		query = query.Where("brief_id IN (?)", briefs)
	}

	var rows []briefsdomain.Notification
	err := query.Order("id DESC").Limit(filter.Limit).Find(&rows).Error
	return rows, err
}

func (r *repo) FindNotification(ctx context.Context, db *gorm.DB, tenantID string, id snowflake.ID) (*briefsdomain.Notification, error) {
	var n briefsdomain.Notification
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		Take(&n).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &n, nil
}

func (r *repo) AckNotification(ctx context.Context, db *gorm.DB, tenantID string, id snowflake.ID, at time.Time) error {
	return db.WithContext(ctx).
		Model(&briefsdomain.Notification{}).
		Where("tenant_id = ? AND id = ? AND acked_at IS NULL", tenantID, id).
		Update("acked_at", at).Error
}
