package uow

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/railmeter/internal/config"
	"github.com/smallbiznis/railmeter/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrTemporarilyUnavailable is returned once lock contention outlasts the retry budget.
var ErrTemporarilyUnavailable = errors.New("temporarily_unavailable")

var Module = fx.Module("uow",
	fx.Provide(New),
)

// RetryObserver is notified of every retried attempt.
type RetryObserver interface {
	RecordTxRetry(ctx context.Context, attempt int)
}

// UnitOfWork runs a function inside one transaction and replays it on retryable storage errors.
// Everything fn writes through tx commits together or not at all.
type UnitOfWork struct {
	db          *gorm.DB
	log         *zap.Logger
	maxAttempts int
	backoff     time.Duration
	observer    RetryObserver
	retryable   func(error) bool
}

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Cfg      config.Config
	Observer RetryObserver `optional:"true"`
}

func New(p Params) *UnitOfWork {
	return &UnitOfWork{
		db:          p.DB,
		log:         p.Log.Named("uow"),
		maxAttempts: p.Cfg.Tx.MaxAttempts,
		backoff:     p.Cfg.Tx.Backoff,
		observer:    p.Observer,
		retryable:   db.IsRetryableTxErr,
	}
}

// NewWithPolicy builds a unit of work with an explicit retry policy.
func NewWithPolicy(conn *gorm.DB, log *zap.Logger, maxAttempts int, backoff time.Duration) *UnitOfWork {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &UnitOfWork{
		db:          conn,
		log:         log.Named("uow"),
		maxAttempts: maxAttempts,
		backoff:     backoff,
		retryable:   db.IsRetryableTxErr,
	}
}

func (u *UnitOfWork) DB() *gorm.DB {
	return u.db
}

// Do executes fn in a transaction. fn may run more than once and must not have
// side effects outside tx.
func (u *UnitOfWork) Do(ctx context.Context, fn func(tx *gorm.DB) error) error {
	var lastErr error
	for attempt := 1; attempt <= u.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := u.db.WithContext(ctx).Transaction(fn)
		if err == nil {
			return nil
		}
		if !u.retryable(err) {
			return err
		}

		lastErr = err
		if u.observer != nil {
			u.observer.RecordTxRetry(ctx, attempt)
		}
		u.log.Debug("retrying transaction",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", u.maxAttempts),
			zap.Error(err),
		)

		if attempt == u.maxAttempts {
			break
		}
		if wait := u.backoff * time.Duration(attempt); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}

	u.log.Warn("transaction retries exhausted", zap.Int("attempts", u.maxAttempts), zap.Error(lastErr))
	return errors.Join(ErrTemporarilyUnavailable, lastErr)
}
