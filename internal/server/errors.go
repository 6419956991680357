package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	apikeydomain "github.com/smallbiznis/railmeter/internal/apikey/domain"
	assistantdomain "github.com/smallbiznis/railmeter/internal/assistant/domain"
	"github.com/smallbiznis/railmeter/internal/authorization"
	billingdomain "github.com/smallbiznis/railmeter/internal/billing/domain"
	briefsdomain "github.com/smallbiznis/railmeter/internal/briefs/domain"
	catalogdomain "github.com/smallbiznis/railmeter/internal/catalog/domain"
	dailyquotadomain "github.com/smallbiznis/railmeter/internal/dailyquota/domain"
	entitlementdomain "github.com/smallbiznis/railmeter/internal/entitlement/domain"
	idempotencydomain "github.com/smallbiznis/railmeter/internal/idempotency/domain"
	kpidomain "github.com/smallbiznis/railmeter/internal/kpi/domain"
	"github.com/smallbiznis/railmeter/internal/metering"
	quotadomain "github.com/smallbiznis/railmeter/internal/quota/domain"
	tenantdomain "github.com/smallbiznis/railmeter/internal/tenant/domain"
	toolsdomain "github.com/smallbiznis/railmeter/internal/tools/domain"
	"github.com/smallbiznis/railmeter/pkg/db/pagination"
	"github.com/smallbiznis/railmeter/pkg/db/uow"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

// quotaExceededResponse is the flat body of a 429 raised by a quota ceiling.
type quotaExceededResponse struct {
	Error        string          `json:"error"`
	ActivityType string          `json:"activity_type"`
	Ceiling      string          `json:"ceiling,omitempty"`
	Limit        decimal.Decimal `json:"limit"`
	Current      decimal.Decimal `json:"current"`
	Requested    decimal.Decimal `json:"requested"`
}

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrConflict           = errors.New("conflict")
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrRateLimited        = errors.New("rate_limited")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

const retryAfterSeconds = "1"

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		var exceeded *quotadomain.ExceededError
		if errors.As(lastErr.Err, &exceeded) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, quotaExceededResponse{
				Error:        "quota_exceeded",
				ActivityType: exceeded.ActivityType,
				Ceiling:      string(exceeded.Ceiling),
				Limit:        exceeded.Limit,
				Current:      exceeded.Current,
				Requested:    exceeded.Requested,
			})
			return
		}

		status, payload := mapError(lastErr.Err)
		if status == http.StatusServiceUnavailable || status == http.StatusTooManyRequests {
			if c.Writer.Header().Get("Retry-After") == "" {
				c.Header("Retry-After", retryAfterSeconds)
			}
		}
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if isValidationError(err) {
		code := validationErrorCode(err)
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	switch {
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, tenantdomain.ErrUnauthorized),
		errors.Is(err, apikeydomain.ErrInvalidKey):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, entitlementdomain.ErrNotEntitled):
		return http.StatusForbidden, errorPayload{
			Type:    "not_entitled",
			Message: "capability not included in plan",
		}
	case errors.Is(err, entitlementdomain.ErrNoActiveSubscription):
		return http.StatusForbidden, errorPayload{
			Type:    "no_active_subscription",
			Message: "no active subscription",
		}
	case errors.Is(err, tenantdomain.ErrTenantDisabled):
		return http.StatusForbidden, errorPayload{
			Type:    "tenant_disabled",
			Message: "tenant disabled",
		}
	case errors.Is(err, ErrForbidden),
		errors.Is(err, metering.ErrForbidden),
		errors.Is(err, authorization.ErrForbidden):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case errors.Is(err, idempotencydomain.ErrConflict):
		return http.StatusConflict, errorPayload{
			Type:    "idempotency_conflict",
			Message: "idempotency key reused with a different request",
		}
	case errors.Is(err, ErrConflict),
		errors.Is(err, catalogdomain.ErrAlreadyExists),
		errors.Is(err, entitlementdomain.ErrPlanAlreadyExists),
		errors.Is(err, tenantdomain.ErrTenantExists),
		errors.Is(err, tenantdomain.ErrUserAlreadyExists):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: "conflict",
		}
	case errors.Is(err, quotadomain.ErrQuotaExceeded):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "quota_exceeded",
			Message: "quota exceeded",
		}
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many requests",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, ErrServiceUnavailable),
		errors.Is(err, uow.ErrTemporarilyUnavailable):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service temporarily unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

var validationErrors = []error{
	ErrInvalidRequest,
	metering.ErrInvalidRequest,
	idempotencydomain.ErrInvalidKey,
	catalogdomain.ErrInactive,
	catalogdomain.ErrInvalidEventKey,
	catalogdomain.ErrInvalidUnitName,
	catalogdomain.ErrUnitNameImmutable,
	catalogdomain.ErrInvalidCreditsPerUnit,
	catalogdomain.ErrInvalidListPrice,
	entitlementdomain.ErrInvalidPlanID,
	entitlementdomain.ErrInvalidPlanName,
	entitlementdomain.ErrInvalidCredits,
	entitlementdomain.ErrInvalidOveragePrice,
	entitlementdomain.ErrInvalidStatus,
	entitlementdomain.ErrUnknownCapability,
	entitlementdomain.ErrUnknownEvent,
	entitlementdomain.ErrInvalidCap,
	dailyquotadomain.ErrUnknownActivity,
	dailyquotadomain.ErrInvalidLimit,
	dailyquotadomain.ErrInvalidRequest,
	tenantdomain.ErrInvalidName,
	tenantdomain.ErrInvalidEmail,
	tenantdomain.ErrInvalidRole,
	apikeydomain.ErrInvalidName,
	apikeydomain.ErrInvalidKeyID,
	billingdomain.ErrInvalidPeriod,
	toolsdomain.ErrInvalidPayload,
	toolsdomain.ErrIdempotencyKeyRequired,
	assistantdomain.ErrInvalidMessage,
	briefsdomain.ErrInvalidDate,
	briefsdomain.ErrInvalidRecipient,
	briefsdomain.ErrTooManyRecipients,
	briefsdomain.ErrInvalidStatus,
	kpidomain.ErrInvalidName,
	kpidomain.ErrInvalidUnit,
	kpidomain.ErrInvalidPoints,
	kpidomain.ErrInvalidTimestamp,
	kpidomain.ErrTooManyPoints,
	pagination.ErrInvalidPageToken,
}

func isValidationError(err error) bool {
	for _, target := range validationErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, catalogdomain.ErrNotFound),
		errors.Is(err, entitlementdomain.ErrPlanNotFound),
		errors.Is(err, entitlementdomain.ErrSubscriptionNotFound),
		errors.Is(err, tenantdomain.ErrNotFound),
		errors.Is(err, tenantdomain.ErrUserNotFound),
		errors.Is(err, apikeydomain.ErrNotFound),
		errors.Is(err, toolsdomain.ErrUnknownTool),
		errors.Is(err, kpidomain.ErrNotFound),
		errors.Is(err, kpidomain.ErrNoPoints),
		errors.Is(err, briefsdomain.ErrBriefNotFound),
		errors.Is(err, briefsdomain.ErrNotificationNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func validationErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, metering.ErrInvalidRequest):
		return "invalid_request"
	default:
		for _, target := range validationErrors {
			if errors.Is(err, target) {
				return target.Error()
			}
		}
		return err.Error()
	}
}

func validationErrorField(code string) string {
	if code == "invalid_request" {
		return "request"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	case "unit_name_immutable":
		return "unit_name cannot change once set"
	case "idempotency_key_required":
		return "Idempotency-Key header is required"
	case "unknown_capability", "unknown_event_key", "unknown_activity_type":
		return "unknown reference"
	default:
		return "invalid value"
	}
}

// classifyErrorForLog feeds the request logger without leaking messages.
func classifyErrorForLog(err error) (string, string) {
	var exceeded *quotadomain.ExceededError
	if errors.As(err, &exceeded) {
		return "quota_exceeded", string(exceeded.Ceiling)
	}
	status, payload := mapError(err)
	if status >= http.StatusInternalServerError && payload.Type == "internal_error" {
		return "internal_error", ""
	}
	code := payload.Type
	if len(payload.Errors) > 0 {
		code = payload.Errors[0].Code
	}
	return payload.Type, code
}
