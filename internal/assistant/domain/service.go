package domain

import (
	"context"
	"errors"

	"github.com/smallbiznis/railmeter/internal/metering"
)

const MaxMessageLength = 4000

var ErrInvalidMessage = errors.New("invalid_message")

type ChatRequest struct {
	Message string `json:"message"`
}

type ChatCommand struct {
	TenantID       string
	UserID         string
	IdempotencyKey string
	Permitted      bool
	Request        ChatRequest
}

type ChatResponse struct {
	Intent Intent `json:"intent"`
	Reply  string `json:"reply"`
	Data   any    `json:"data,omitempty"`
}

type Service interface {
	Chat(ctx context.Context, cmd ChatCommand) (metering.Result, error)
}
