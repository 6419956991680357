package server

import (
	"crypto/subtle"
	"math"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/railmeter/internal/observability/logger"
	"github.com/smallbiznis/railmeter/pkg/tenantctx"
	"go.uber.org/zap"
)

const (
	HeaderTenantID         = "X-Tenant-ID"
	HeaderUserID           = "X-User-ID"
	HeaderAPIKey           = "X-API-Key"
	HeaderPlatformAdminKey = "X-Platform-Admin-Key"
	HeaderIdempotencyKey   = "Idempotency-Key"
	HeaderReplayed         = "Idempotent-Replayed"
)

// TenantAuthRequired resolves the caller from the tenant, user and API key
// headers. Every failure looks the same to the caller.
func (s *Server) TenantAuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID := strings.TrimSpace(c.GetHeader(HeaderTenantID))
		userID := strings.TrimSpace(c.GetHeader(HeaderUserID))
		apiKey := strings.TrimSpace(c.GetHeader(HeaderAPIKey))
		if tenantID == "" || userID == "" || apiKey == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		principal, err := s.tenantSvc.Authenticate(c.Request.Context(), tenantID, userID, apiKey)
		if err != nil {
			AbortWithError(c, err)
			return
		}

		ctx := tenantctx.WithPrincipal(c.Request.Context(), principal)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// PlatformAdminRequired hides the admin surface behind a 404 unless the
// configured platform key is presented.
func (s *Server) PlatformAdminRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		expected := strings.TrimSpace(s.cfg.PlatformAdminKey)
		presented := strings.TrimSpace(c.GetHeader(HeaderPlatformAdminKey))
		if expected == "" || presented == "" ||
			subtle.ConstantTimeCompare([]byte(expected), []byte(presented)) != 1 {
			AbortWithError(c, ErrNotFound)
			return
		}
		c.Next()
	}
}

// requireAction checks the caller's role against the policy table.
func (s *Server) requireAction(object, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := tenantctx.FromContext(c.Request.Context())
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		if err := s.authzSvc.Authorize(c.Request.Context(), principal, object, action); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}

// TenantRateLimit throttles billable routes per tenant. It runs before any
// metering so throttled requests consume nothing.
func (s *Server) TenantRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.limiter.Enabled() {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		tenantID, ok := tenantctx.TenantID(ctx)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		endpoint := normalizeRateLimitEndpoint(c)

		res, err := s.limiter.AllowTenant(ctx, tenantID)
		if err != nil {
			logger.FromContext(ctx).Warn("tenant rate limit check failed", zap.Error(err))
			AbortWithError(c, ErrServiceUnavailable)
			return
		}
		if !res.Allowed {
			logger.FromContext(ctx).Warn("tenant rate limit exceeded", zap.String("endpoint", endpoint))
			s.recordRateLimit(c, endpoint, "denied")
			c.Header("Retry-After", retryAfterHeader(res.RetryAfter.Seconds()))
			AbortWithError(c, ErrRateLimited)
			return
		}

		s.recordRateLimit(c, endpoint, "allowed")
		c.Next()
	}
}

func (s *Server) recordRateLimit(c *gin.Context, endpoint, decision string) {
	if s.obsMetrics == nil {
		return
	}
	s.obsMetrics.RecordRateLimit(c.Request.Context(), endpoint, decision)
}

func retryAfterHeader(seconds float64) string {
	if seconds < 1 {
		return retryAfterSeconds
	}
	return strconv.Itoa(int(math.Ceil(seconds)))
}

func normalizeRateLimitEndpoint(c *gin.Context) string {
	if c == nil {
		return "unknown"
	}
	endpoint := strings.TrimSpace(c.FullPath())
	if endpoint == "" {
		endpoint = strings.TrimSpace(c.Request.URL.Path)
	}
	if endpoint == "" {
		endpoint = "unknown"
	}
	return endpoint
}

func principalFromContext(c *gin.Context) (tenantctx.Principal, bool) {
	return tenantctx.FromContext(c.Request.Context())
}
