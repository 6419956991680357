package authorization

import (
	"context"
	"errors"

	"github.com/smallbiznis/railmeter/pkg/tenantctx"
)

var (
	ErrForbidden     = errors.New("forbidden")
	ErrInvalidActor  = errors.New("invalid_actor")
	ErrInvalidTenant = errors.New("invalid_tenant")
	ErrInvalidObject = errors.New("invalid_object")
	ErrInvalidAction = errors.New("invalid_action")
)

// Service derives the permitted flag handed to metered operations.
type Service interface {
	Authorize(ctx context.Context, principal tenantctx.Principal, object, action string) error
	// Permitted reports Authorize as a boolean; failures to evaluate deny.
	Permitted(ctx context.Context, principal tenantctx.Principal, object, action string) bool
}
