package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	briefsdomain "github.com/smallbiznis/railmeter/internal/briefs/domain"
	"github.com/smallbiznis/railmeter/internal/clock"
	obsmetrics "github.com/smallbiznis/railmeter/internal/observability/metrics"
	"github.com/smallbiznis/railmeter/internal/ratelimit"
	rollupdomain "github.com/smallbiznis/railmeter/internal/rollup/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	JobReconcile = "rollup_reconcile"
	JobOutbox    = "notification_outbox"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

type Params struct {
	fx.In

	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Rollup     rollupdomain.Service
	Dispatcher briefsdomain.Dispatcher      `optional:"true"`
	Locker     *ratelimit.JobLocker         `optional:"true"`
	Metrics    *obsmetrics.SchedulerMetrics `optional:"true"`
	Config     Config                       `optional:"true"`
}

type Scheduler struct {
	log        *zap.Logger
	cfg        Config
	genID      *snowflake.Node
	clock      clock.Clock
	rollup     rollupdomain.Service
	dispatcher briefsdomain.Dispatcher
	locker     *ratelimit.JobLocker
	metrics    *obsmetrics.SchedulerMetrics
	pushers    []metricsPusher
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.GenID == nil || p.Clock == nil || p.Rollup == nil {
		return nil, ErrInvalidConfig
	}
	cfg := p.Config.withDefaults()
	s := &Scheduler{
		log:        p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:        cfg,
		genID:      p.GenID,
		clock:      p.Clock,
		rollup:     p.Rollup,
		dispatcher: p.Dispatcher,
		locker:     p.Locker,
		metrics:    p.Metrics,
	}
	if cfg.PushgatewayURL != "" {
		s.pushers = append(s.pushers, newPushgatewayPusher(cfg.PushgatewayURL, "railmeter_scheduler", map[string]string{
			"service": cfg.Service,
			"env":     cfg.Environment,
		}))
	}
	if cfg.RemoteWriteURL != "" {
		rw, err := newRemoteWritePusher(cfg.RemoteWriteURL, cfg.RemoteWriteKey)
		if err != nil {
			return nil, err
		}
		s.pushers = append(s.pushers, rw)
	}
	return s, nil
}

// runJob runs fn under a timeout and, when redis is configured, a
// cluster-wide lock so only one replica executes the job per tick.
func (s *Scheduler) runJob(parent context.Context, name string, fn func(ctx context.Context, run *jobRun) error) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, s.cfg.JobTimeout)
	defer cancel()

	if s.locker != nil {
		lease, err := s.locker.Acquire(ctx, name, s.cfg.LockTTL)
		if errors.Is(err, ratelimit.ErrLockHeld) {
			s.log.Debug("scheduler job held by another instance", zap.String("job", name))
			return nil
		}
		if err != nil {
			s.log.Warn("scheduler lock failed", zap.String("job", name), zap.Error(err))
			return nil
		}
		defer func() {
			if err := lease.Release(context.Background()); err != nil {
				s.log.Warn("scheduler lock release failed", zap.String("job", name), zap.Error(err))
			}
		}()
	}

	ctx, run := s.startJobRun(ctx, name)
	s.logJobStart(ctx, run)

	err := fn(ctx, run)
	if err != nil {
		run.IncError()
	}
	s.logJobFinish(ctx, run)
	s.metrics.ObserveJob(name, s.clock.Now().Sub(start), err)
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		s.logger(ctx).Warn("job timed out",
			zap.String("job", name),
			zap.Duration("timeout", s.cfg.JobTimeout),
			zap.Error(err),
		)
		return nil
	}
	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name    string
		Enabled bool
		Run     func(context.Context, *jobRun) error
	}{
		{JobReconcile, s.isJobEnabled(JobReconcile), s.ReconcileJob},
		{JobOutbox, s.dispatcher != nil && s.isJobEnabled(JobOutbox), s.OutboxJob},
	}
	for _, job := range jobs {
		if job.Enabled {
			err = errors.Join(err, s.runJob(parent, job.Name, job.Run))
		}
	}

	if s.metrics != nil {
		for _, p := range s.pushers {
			if pushErr := p.Push(parent, s.metrics.Gatherer()); pushErr != nil {
				s.log.Warn("metrics export failed", zap.String("exporter", p.Name()), zap.Error(pushErr))
			}
		}
	}
	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

// ReconcileJob compares every rollup row with the ledger and repairs drift
// when configured to.
func (s *Scheduler) ReconcileJob(ctx context.Context, run *jobRun) error {
	report, err := s.rollup.Reconcile(ctx, rollupdomain.ReconcileRequest{Repair: s.cfg.Repair})
	run.AddProcessed(report.RowsChecked)

	driftByEvent := make(map[string]int)
	for _, drift := range report.Drifts {
		driftByEvent[drift.EventKey]++
		s.logger(ctx).Warn("scheduler.rollup.drift",
			zap.String("tenant_id", drift.TenantID),
			zap.String("event_key", drift.EventKey),
			zap.Time("period_start", drift.PeriodStart),
			zap.Int64("ledger_units", drift.LedgerUnits),
			zap.Int64("rollup_units", drift.RollupUnits),
			zap.String("ledger_credits", drift.LedgerCredits.String()),
			zap.String("rollup_credits", drift.RollupCredits.String()),
			zap.Bool("repaired", drift.Repaired),
		)
	}
	for eventKey, rows := range driftByEvent {
		s.metrics.AddDrift(eventKey, rows)
	}
	return err
}

// OutboxJob delivers one batch of queued brief notifications.
func (s *Scheduler) OutboxJob(ctx context.Context, run *jobRun) error {
	report, err := s.dispatcher.Dispatch(ctx)
	run.AddProcessed(report.Sent)
	if report.Failed > 0 {
		s.logger(ctx).Warn("scheduler.outbox.failed",
			zap.Int("failed", report.Failed),
			zap.Int("retried", report.Retried),
		)
	}
	return err
}
