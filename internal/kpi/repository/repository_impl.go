package repository

import (
	"context"
	"errors"

	kpidomain "github.com/smallbiznis/railmeter/internal/kpi/domain"
	"gorm.io/gorm"
)

const lookupBatch = 500

type repo struct{}

func Provide() kpidomain.Repository {
	return &repo{}
}

func (r *repo) InsertDefinition(ctx context.Context, db *gorm.DB, d *kpidomain.Definition) error {
	return db.WithContext(ctx).Create(d).Error
}

func (r *repo) FindDefinition(ctx context.Context, db *gorm.DB, tenantID, kpiID string) (*kpidomain.Definition, error) {
	var def kpidomain.Definition
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND kpi_id = ?", tenantID, kpiID).
		Take(&def).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &def, nil
}

func (r *repo) ListDefinitions(ctx context.Context, db *gorm.DB, tenantID string, limit, offset int) ([]kpidomain.Definition, error) {
	var rows []kpidomain.Definition
	err := db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("created_at DESC").
		Order("kpi_id ASC").
		Limit(limit).
		Offset(offset).
		Find(&rows).Error
	return rows, err
}

func (r *repo) ExistingTimestamps(ctx context.Context, db *gorm.DB, tenantID, kpiID string, ts []string) ([]string, error) {
	var out []string
	for start := 0; start < len(ts); start += lookupBatch {
		end := min(start+lookupBatch, len(ts))
		var found []string
		err := db.WithContext(ctx).
			Model(&kpidomain.Point{}).
			Where("tenant_id = ? AND kpi_id = ? AND ts IN ?", tenantID, kpiID, ts[start:end]).
			Pluck("ts", &found).Error
		if err != nil {
			return nil, err
		}
		out = append(out, found...)
	}
	return out, nil
}

func (r *repo) InsertPoints(ctx context.Context, db *gorm.DB, points []kpidomain.Point) error {
	if len(points) == 0 {
		return nil
	}
	return db.WithContext(ctx).CreateInBatches(points, 500).Error
}

func (r *repo) LatestPoint(ctx context.Context, db *gorm.DB, tenantID, kpiID string) (*kpidomain.Point, error) {
	var p kpidomain.Point
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND kpi_id = ?", tenantID, kpiID).
		Order("ts DESC").
		Take(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}
