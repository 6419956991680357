package ratelimit

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

const jobLockNamespace = "railmeter:jobs:"

var (
	ErrLockHeld          = errors.New("job lock held by another instance")
	ErrLockNotConfigured = errors.New("job lock client not configured")
	ErrInvalidLockJob    = errors.New("job lock name is empty")
	ErrInvalidLockTTL    = errors.New("job lock ttl must be positive")
)

// releaseScript deletes the key only while it still carries the lease token,
// so an expired lease never frees a lock another instance has since taken.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

// JobLocker hands out cluster-wide leases for scheduler jobs.
type JobLocker struct {
	client  *redis.Client
	release *redis.Script
}

func NewJobLocker(client *redis.Client) *JobLocker {
	if client == nil {
		return nil
	}
	return &JobLocker{
		client:  client,
		release: redis.NewScript(releaseScript),
	}
}

// JobLease is held until Release or until its ttl lapses.
type JobLease struct {
	Job    string
	key    string
	token  string
	locker *JobLocker
}

func jobLockKey(job string) string {
	return jobLockNamespace + job + ":lock"
}

// Acquire takes the lease for job. It returns ErrLockHeld when another
// instance owns it.
func (l *JobLocker) Acquire(ctx context.Context, job string, ttl time.Duration) (*JobLease, error) {
	if l == nil || l.client == nil {
		return nil, ErrLockNotConfigured
	}
	job = strings.TrimSpace(job)
	if job == "" {
		return nil, ErrInvalidLockJob
	}
	if ttl <= 0 {
		return nil, ErrInvalidLockTTL
	}

	lease := &JobLease{Job: job, key: jobLockKey(job), token: uuid.NewString(), locker: l}
	ok, err := l.client.SetNX(ctx, lease.key, lease.token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLockHeld
	}
	return lease, nil
}

func (lease *JobLease) Release(ctx context.Context) error {
	if lease == nil || lease.locker == nil || lease.locker.client == nil {
		return nil
	}
	return lease.locker.release.Run(ctx, lease.locker.client, []string{lease.key}, lease.token).Err()
}
