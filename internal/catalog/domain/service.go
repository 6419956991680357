package domain

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	ErrNotFound              = errors.New("event_type_not_found")
	ErrInactive              = errors.New("event_type_inactive")
	ErrAlreadyExists         = errors.New("event_type_already_exists")
	ErrInvalidEventKey       = errors.New("invalid_event_key")
	ErrInvalidUnitName       = errors.New("invalid_unit_name")
	ErrUnitNameImmutable     = errors.New("unit_name_immutable")
	ErrInvalidCreditsPerUnit = errors.New("invalid_credits_per_unit")
	ErrInvalidListPrice      = errors.New("invalid_list_price_per_credit")
)

// UpsertRequest creates the event type on first use; later calls only touch
// the fields that are set. UnitName is fixed once the row exists.
type UpsertRequest struct {
	EventKey           string
	UnitName           *string
	DisplayName        *string
	Description        *string
	CreditsPerUnit     *decimal.Decimal
	ListPricePerCredit *decimal.Decimal
	Billable           *bool
	Active             *bool
}

type CreateRequest struct {
	EventKey           string
	UnitName           string
	DisplayName        string
	Description        string
	CreditsPerUnit     decimal.Decimal
	ListPricePerCredit decimal.Decimal
	Billable           bool
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, m *MeteredEventType) error
	Update(ctx context.Context, db *gorm.DB, m *MeteredEventType) error
	FindByKey(ctx context.Context, db *gorm.DB, eventKey string) (*MeteredEventType, error)
	List(ctx context.Context, db *gorm.DB, activeOnly bool) ([]MeteredEventType, error)
}

type Service interface {
	// Get reads through tx so metered transactions see committed catalog state.
	Get(ctx context.Context, tx *gorm.DB, eventKey string) (EventTypeSnapshot, error)
	// Lookup serves display paths from the cache.
	Lookup(ctx context.Context, eventKey string) (EventTypeSnapshot, error)
	Create(ctx context.Context, req CreateRequest) (EventTypeSnapshot, error)
	Upsert(ctx context.Context, req UpsertRequest) (EventTypeSnapshot, error)
	List(ctx context.Context) ([]EventTypeSnapshot, error)
	ListActive(ctx context.Context) ([]EventTypeSnapshot, error)
	// EnsureSeeded inserts entries that do not exist yet and leaves the rest alone.
	EnsureSeeded(ctx context.Context, seeds []CreateRequest) (int, error)
}
