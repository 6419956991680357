package ratelimit

import (
	"context"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/railmeter/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDisabledLimiterAllows(t *testing.T) {
	limiter, err := NewTenantLimiter(config.Config{}, nil, zap.NewNop())
	require.NoError(t, err)
	assert.False(t, limiter.Enabled())

	res, err := limiter.AllowTenant(context.Background(), "tenant-1")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestEnabledLimiterRequiresRedis(t *testing.T) {
	cfg := config.Config{RateLimit: config.RateLimitConfig{Enabled: true, TenantRate: 1, TenantBurst: 1}}
	_, err := NewTenantLimiter(cfg, nil, zap.NewNop())
	assert.Error(t, err)
}

func TestDefaultBucketTTL(t *testing.T) {
	assert.Equal(t, 4*time.Second, defaultBucketTTL(20, 40))
	assert.Equal(t, time.Second, defaultBucketTTL(100, 1))
	assert.Equal(t, time.Second, defaultBucketTTL(0, 0))
}

func TestScriptValueCasts(t *testing.T) {
	assert.Equal(t, int64(1), castToInt(int64(1)))
	assert.Equal(t, int64(0), castToInt("x"))
	assert.Equal(t, 2.5, castToFloat("2.5"))
	assert.Equal(t, 3.0, castToFloat(int64(3)))
}

func TestNilJobLockerIsSafe(t *testing.T) {
	var l *JobLocker
	lease, err := l.Acquire(context.Background(), "rollup_reconcile", time.Second)
	assert.Nil(t, lease)
	assert.ErrorIs(t, err, ErrLockNotConfigured)

	var held *JobLease
	assert.NoError(t, held.Release(context.Background()))
}

func TestJobLockerValidatesInput(t *testing.T) {
	l := NewJobLocker(redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"}))
	require.NotNil(t, l)

	_, err := l.Acquire(context.Background(), "  ", time.Second)
	assert.ErrorIs(t, err, ErrInvalidLockJob)

	_, err = l.Acquire(context.Background(), "rollup_reconcile", 0)
	assert.ErrorIs(t, err, ErrInvalidLockTTL)
}

func TestJobLockKeyIsNamespaced(t *testing.T) {
	assert.Equal(t, "railmeter:jobs:rollup_reconcile:lock", jobLockKey("rollup_reconcile"))
	assert.Equal(t, "railmeter:jobs:notification_outbox:lock", jobLockKey("notification_outbox"))
	assert.Nil(t, NewJobLocker(nil))
}
