package domain

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/railmeter/pkg/db/pagination"
	"gorm.io/gorm"
)

var (
	ErrInvalidTenant     = errors.New("invalid_tenant")
	ErrInvalidEventKey   = errors.New("invalid_event_key")
	ErrInvalidUnits      = errors.New("invalid_raw_units")
	ErrInvalidPeriod     = errors.New("invalid_period")
	ErrInvalidOccurredAt = errors.New("invalid_occurred_at")
)

type LinkedEntity struct {
	Type string
	ID   string
}

type EmitRequest struct {
	TenantID string
	EventKey string
	RawUnits int64
	// PeriodStart is the start of the billing period containing OccurredAt.
	PeriodStart    time.Time
	OccurredAt     time.Time
	IdempotencyKey string
	LinkedEntity   *LinkedEntity
	Metadata       map[string]any
}

type QueryRequest struct {
	TenantID    string
	PeriodStart time.Time
	PeriodEnd   time.Time
	EventKey    string
	pagination.Pagination
}

type QueryResponse struct {
	pagination.PageInfo
	Events []UsageEvent `json:"events"`
}

type Service interface {
	// Emit appends a ledger row and increments the matching rollup inside tx.
	Emit(ctx context.Context, tx *gorm.DB, req EmitRequest) (*UsageEvent, error)
	// Query pages through the ledger newest first.
	Query(ctx context.Context, req QueryRequest) (QueryResponse, error)
}
