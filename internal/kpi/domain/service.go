package domain

import (
	"context"
	"errors"

	"github.com/smallbiznis/railmeter/internal/metering"
	"gorm.io/gorm"
)

const (
	MaxPointsPerRequest = 10000
	DefaultListLimit    = 100
	MaxListLimit        = 500
)

var (
	ErrInvalidName      = errors.New("invalid_kpi_name")
	ErrInvalidUnit      = errors.New("invalid_kpi_unit")
	ErrInvalidPoints    = errors.New("invalid_kpi_points")
	ErrInvalidTimestamp = errors.New("invalid_kpi_timestamp")
	ErrTooManyPoints    = errors.New("too_many_kpi_points")
	ErrNotFound         = errors.New("kpi_not_found")
	ErrNoPoints         = errors.New("kpi_has_no_points")
)

type CreateRequest struct {
	Name        string `json:"name"`
	Unit        string `json:"unit"`
	Description string `json:"description"`
}

type PointInput struct {
	// TS is RFC3339; it is normalized to UTC before storage.
	TS    string  `json:"ts"`
	Value float64 `json:"value"`
}

type IngestRequest struct {
	Points []PointInput `json:"points"`
}

// CreateCommand and IngestCommand carry a request as received from the routing layer.
type CreateCommand struct {
	TenantID       string
	UserID         string
	IdempotencyKey string
	Permitted      bool
	Request        CreateRequest
}

type IngestCommand struct {
	TenantID       string
	UserID         string
	KPIID          string
	IdempotencyKey string
	Permitted      bool
	Request        IngestRequest
}

type IngestResult struct {
	KPIID    string `json:"kpi_id"`
	Inserted int64  `json:"inserted"`
	Ignored  int64  `json:"ignored"`
}

type Latest struct {
	KPIID string  `json:"kpi_id"`
	TS    string  `json:"ts"`
	Value float64 `json:"value"`
}

type ListRequest struct {
	TenantID string
	Limit    int
	Offset   int
}

type Repository interface {
	InsertDefinition(ctx context.Context, db *gorm.DB, d *Definition) error
	FindDefinition(ctx context.Context, db *gorm.DB, tenantID, kpiID string) (*Definition, error)
	ListDefinitions(ctx context.Context, db *gorm.DB, tenantID string, limit, offset int) ([]Definition, error)
	ExistingTimestamps(ctx context.Context, db *gorm.DB, tenantID, kpiID string, ts []string) ([]string, error)
	InsertPoints(ctx context.Context, db *gorm.DB, points []Point) error
	LatestPoint(ctx context.Context, db *gorm.DB, tenantID, kpiID string) (*Point, error)
}

type Service interface {
	// Create stores a definition and meters kpi_definition_created.
	Create(ctx context.Context, cmd CreateCommand) (metering.Result, error)
	// Ingest stores new points and meters kpi_points_ingested per inserted row.
	// Points whose timestamp already exists are ignored and not charged.
	Ingest(ctx context.Context, cmd IngestCommand) (metering.Result, error)
	List(ctx context.Context, req ListRequest) ([]Definition, error)
	Latest(ctx context.Context, tenantID, kpiID string) (Latest, error)
}
