package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, key *APIKey) error
	Update(ctx context.Context, db *gorm.DB, key *APIKey) error
	FindByKeyID(ctx context.Context, db *gorm.DB, tenantID, keyID string) (*APIKey, error)
	List(ctx context.Context, db *gorm.DB, tenantID string) ([]APIKey, error)
}

type Service interface {
	List(ctx context.Context, tenantID string) ([]Response, error)
	// Create runs inside tx when given so provisioning stays atomic.
	Create(ctx context.Context, tx *gorm.DB, tenantID string, req CreateRequest) (*SecretResponse, error)
	Rotate(ctx context.Context, tenantID, keyID string) (*SecretResponse, error)
	Revoke(ctx context.Context, tenantID, keyID string) error
	// Verify resolves a raw key presented by tenantID.
	Verify(ctx context.Context, tenantID, raw string) (*APIKey, error)
}

type CreateRequest struct {
	Name string `json:"name"`
}

type Response struct {
	KeyID            string     `json:"key_id"`
	Name             string     `json:"name"`
	IsActive         bool       `json:"is_active"`
	CreatedAt        time.Time  `json:"created_at"`
	LastUsedAt       *time.Time `json:"last_used_at"`
	ExpiresAt        *time.Time `json:"expires_at"`
	RotatedFromKeyID *string    `json:"rotated_from_key_id"`
}

type SecretResponse struct {
	KeyID  string `json:"key_id"`
	APIKey string `json:"api_key"`
}

var (
	ErrInvalidTenant = errors.New("invalid_tenant")
	ErrInvalidName   = errors.New("invalid_name")
	ErrInvalidKeyID  = errors.New("invalid_key_id")
	ErrNotFound      = errors.New("not_found")
	ErrInvalidKey    = errors.New("invalid_api_key")
)

// KeyIDFor derives the public key id of a generated key.
func KeyIDFor(id snowflake.ID) string {
	return "key_" + id.Base36()
}
