package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/railmeter/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const keyTenantRequests = "railmeter:rl:tenant:%s"

// TenantLimiter throttles billable requests per tenant. It is a traffic
// guard only; credit and daily quotas are enforced by the metering core.
type TenantLimiter struct {
	enabled  bool
	failOpen bool
	rate     float64
	burst    int

	bucket *TokenBucket
	log    *zap.Logger
}

func NewRedisClient(lc fx.Lifecycle, cfg config.Config) (*redis.Client, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled && !cfg.Reconcile.Enabled {
		return nil, nil
	}
	addr := strings.TrimSpace(limitCfg.RedisAddr)
	if addr == "" {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(limitCfg.RedisPassword),
		DB:       limitCfg.RedisDB,
	})
	lc.Append(fx.StopHook(client.Close))
	return client, nil
}

func NewTenantLimiter(cfg config.Config, client *redis.Client, log *zap.Logger) (*TenantLimiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled {
		return nil, nil
	}
	if client == nil {
		return nil, errors.New("rate limit redis addr is required")
	}
	if limitCfg.TenantRate <= 0 || limitCfg.TenantBurst <= 0 {
		return nil, errors.New("tenant rate limit must be positive")
	}
	return &TenantLimiter{
		enabled:  true,
		failOpen: limitCfg.FailOpen,
		rate:     float64(limitCfg.TenantRate),
		burst:    limitCfg.TenantBurst,
		bucket:   NewTokenBucket(client),
		log:      log.Named("ratelimit"),
	}, nil
}

func (l *TenantLimiter) Enabled() bool {
	return l != nil && l.enabled
}

// AllowTenant takes one token from the tenant bucket. When redis is
// unreachable the request passes if the limiter fails open.
func (l *TenantLimiter) AllowTenant(ctx context.Context, tenantID string) (*RateLimitResult, error) {
	if !l.Enabled() {
		return &RateLimitResult{Allowed: true}, nil
	}
	res, err := l.bucket.Allow(ctx, fmt.Sprintf(keyTenantRequests, strings.TrimSpace(tenantID)), l.rate, l.burst)
	if err != nil {
		if l.failOpen {
			l.log.Warn("tenant rate limit check failed, allowing", zap.String("tenant_id", tenantID), zap.Error(err))
			return &RateLimitResult{Allowed: true, Limit: l.burst}, nil
		}
		return nil, err
	}
	return res, nil
}
