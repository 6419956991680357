package domain

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/smallbiznis/railmeter/internal/metering"
)

var (
	ErrUnknownTool            = errors.New("unknown_tool")
	ErrInvalidPayload         = errors.New("invalid_tool_payload")
	ErrIdempotencyKeyRequired = errors.New("idempotency_key_required")
)

// Descriptor is one entry of the static tool table.
type Descriptor struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Handler runs a tool. It must not write anywhere; metering owns the transaction.
type Handler func(ctx context.Context, now time.Time, payload json.RawMessage) (any, error)

type InvokeRequest struct {
	Tool    string          `json:"tool"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type Command struct {
	TenantID       string
	UserID         string
	IdempotencyKey string
	Permitted      bool
	Request        InvokeRequest
}

type InvokeResult struct {
	InvocationID string `json:"invocation_id"`
	Tool         string `json:"tool"`
	Output       any    `json:"output"`
}

type Service interface {
	List() []Descriptor
	Invoke(ctx context.Context, cmd Command) (metering.Result, error)
}
