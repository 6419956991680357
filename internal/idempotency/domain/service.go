package domain

import (
	"context"
	"encoding/json"
	"errors"

	"gorm.io/gorm"
)

const MaxKeyLength = 255

type Outcome string

const (
	OutcomeFresh    Outcome = "fresh"
	OutcomeReplay   Outcome = "replay"
	OutcomeConflict Outcome = "conflict"
)

var (
	ErrConflict   = errors.New("idempotency_conflict")
	ErrInvalidKey = errors.New("invalid_idempotency_key")
	// ErrConcurrentCommit means another request committed the same key first.
	// The whole unit of work should be retried so it observes the stored record.
	ErrConcurrentCommit = errors.New("idempotency_concurrent_commit")
)

type BeginRequest struct {
	TenantID string
	Key      string
	Endpoint string
	Body     any
}

// Decision is the outcome of Begin. RequestHash must be handed back to Commit.
type Decision struct {
	Outcome     Outcome
	RequestHash string
	Record      *Record
}

// Response returns the cached body of a replayed request.
func (d Decision) Response() json.RawMessage {
	if d.Record == nil {
		return nil
	}
	return json.RawMessage(d.Record.CachedResponse)
}

type CommitRequest struct {
	TenantID    string
	Key         string
	Endpoint    string
	RequestHash string
	Status      int
	Response    any
}

// Service deduplicates side-effecting requests. Both calls take the caller's
// transaction so the stored response commits with the operation it describes.
type Service interface {
	Begin(ctx context.Context, tx *gorm.DB, req BeginRequest) (Decision, error)
	Commit(ctx context.Context, tx *gorm.DB, req CommitRequest) (*Record, error)
}
