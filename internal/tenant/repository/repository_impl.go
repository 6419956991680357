package repository

import (
	"context"
	"errors"

	tenantdomain "github.com/smallbiznis/railmeter/internal/tenant/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() tenantdomain.Repository {
	return &repo{}
}

func (r *repo) InsertTenant(ctx context.Context, db *gorm.DB, t *tenantdomain.Tenant) error {
	return db.WithContext(ctx).Create(t).Error
}

func (r *repo) FindTenant(ctx context.Context, db *gorm.DB, id string) (*tenantdomain.Tenant, error) {
	return takeOne[tenantdomain.Tenant](db.WithContext(ctx).Where("id = ?", id))
}

func (r *repo) FindTenantBySlug(ctx context.Context, db *gorm.DB, slug string) (*tenantdomain.Tenant, error) {
	return takeOne[tenantdomain.Tenant](db.WithContext(ctx).Where("slug = ?", slug))
}

func (r *repo) ListTenants(ctx context.Context, db *gorm.DB) ([]tenantdomain.Tenant, error) {
	var rows []tenantdomain.Tenant
	err := db.WithContext(ctx).Order("created_at ASC").Find(&rows).Error
	return rows, err
}

func (r *repo) InsertUser(ctx context.Context, db *gorm.DB, u *tenantdomain.User) error {
	return db.WithContext(ctx).Create(u).Error
}

func (r *repo) FindUser(ctx context.Context, db *gorm.DB, tenantID, userID string) (*tenantdomain.User, error) {
	return takeOne[tenantdomain.User](db.WithContext(ctx).Where("tenant_id = ? AND id = ?", tenantID, userID))
}

func (r *repo) FindUserByEmail(ctx context.Context, db *gorm.DB, tenantID, email string) (*tenantdomain.User, error) {
	return takeOne[tenantdomain.User](db.WithContext(ctx).Where("tenant_id = ? AND email = ?", tenantID, email))
}

func (r *repo) ListUsers(ctx context.Context, db *gorm.DB, tenantID string) ([]tenantdomain.User, error) {
	var rows []tenantdomain.User
	err := db.WithContext(ctx).Where("tenant_id = ?", tenantID).Order("created_at ASC").Find(&rows).Error
	return rows, err
}

func takeOne[T any](stmt *gorm.DB) (*T, error) {
	var out T
	if err := stmt.Take(&out).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &out, nil
}
