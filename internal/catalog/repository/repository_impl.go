package repository

import (
	"context"
	"errors"

	catalogdomain "github.com/smallbiznis/railmeter/internal/catalog/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() catalogdomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, m *catalogdomain.MeteredEventType) error {
	return db.WithContext(ctx).Create(m).Error
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, m *catalogdomain.MeteredEventType) error {
	return db.WithContext(ctx).Exec(
		`UPDATE metered_event_types
		 SET display_name = ?, description = ?, credits_per_unit = ?, list_price_per_credit = ?,
		     billable = ?, active = ?, version = ?, updated_at = ?
		 WHERE event_key = ?`,
		m.DisplayName,
		m.Description,
		m.CreditsPerUnit,
		m.ListPricePerCredit,
		m.Billable,
		m.Active,
		m.Version,
		m.UpdatedAt,
		m.EventKey,
	).Error
}

func (r *repo) FindByKey(ctx context.Context, db *gorm.DB, eventKey string) (*catalogdomain.MeteredEventType, error) {
	var m catalogdomain.MeteredEventType
	err := db.WithContext(ctx).Where("event_key = ?", eventKey).Take(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &m, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, activeOnly bool) ([]catalogdomain.MeteredEventType, error) {
	var items []catalogdomain.MeteredEventType
	stmt := db.WithContext(ctx).Model(&catalogdomain.MeteredEventType{})
	if activeOnly {
		stmt = stmt.Where("active = ?", true)
	}
	if err := stmt.Order("event_key ASC").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}
