package service

import (
	"context"
	"strings"
	"time"

	"github.com/smallbiznis/railmeter/internal/clock"
	"github.com/smallbiznis/railmeter/internal/config"
	dailyquotadomain "github.com/smallbiznis/railmeter/internal/dailyquota/domain"
	obsmetrics "github.com/smallbiznis/railmeter/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	Repo       dailyquotadomain.Repository
	Metering   *config.MeteringConfigHolder
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	clock    clock.Clock
	repo     dailyquotadomain.Repository
	metering *config.MeteringConfigHolder
	metrics  *obsmetrics.Metrics
}

func New(p Params) dailyquotadomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("dailyquota.service"),
		clock:    p.Clock,
		repo:     p.Repo,
		metering: p.Metering,
		metrics:  p.ObsMetrics,
	}
}

// Limits returns the effective limit for every activity: tenant overrides on
// top of the deployment defaults.
func (s *Service) Limits(ctx context.Context, tx *gorm.DB, tenantID string) (map[string]int64, error) {
	if tx == nil {
		tx = s.db
	}
	out := make(map[string]int64, len(dailyquotadomain.Activities))
	for _, activity := range dailyquotadomain.Activities {
		limit, _ := s.metering.DailyLimit(activity)
		out[activity] = int64(limit)
	}

	rows, err := s.repo.ListLimits(ctx, tx, tenantID)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		if dailyquotadomain.IsActivity(row.ActivityType) {
			out[row.ActivityType] = row.DailyLimit
		}
	}
	return out, nil
}

func (s *Service) SetLimits(ctx context.Context, tenantID string, limits map[string]int64) (map[string]int64, error) {
	for activity, limit := range limits {
		if !dailyquotadomain.IsActivity(activity) {
			return nil, dailyquotadomain.ErrUnknownActivity
		}
		if limit < 0 {
			return nil, dailyquotadomain.ErrInvalidLimit
		}
	}

	var out map[string]int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.clock.Now()
		for activity, limit := range limits {
			if err := s.repo.UpsertLimit(ctx, tx, &dailyquotadomain.TenantLimit{
				TenantID:     tenantID,
				ActivityType: activity,
				DailyLimit:   limit,
				UpdatedAt:    now,
			}); err != nil {
				return err
			}
		}
		var err error
		out, err = s.Limits(ctx, tx, tenantID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("daily limits updated", zap.String("tenant_id", tenantID), zap.Int("activities", len(limits)))
	return out, nil
}

func (s *Service) EnsureDefaults(ctx context.Context, tx *gorm.DB, tenantID string) error {
	if tx == nil {
		tx = s.db
	}
	existing, err := s.repo.ListLimits(ctx, tx, tenantID)
	if err != nil {
		return err
	}
	have := make(map[string]struct{}, len(existing))
	for _, row := range existing {
		have[row.ActivityType] = struct{}{}
	}

	now := s.clock.Now()
	for _, activity := range dailyquotadomain.Activities {
		if _, ok := have[activity]; ok {
			continue
		}
		limit, _ := s.metering.DailyLimit(activity)
		if err := s.repo.UpsertLimit(ctx, tx, &dailyquotadomain.TenantLimit{
			TenantID:     tenantID,
			ActivityType: activity,
			DailyLimit:   int64(limit),
			UpdatedAt:    now,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) Check(ctx context.Context, tx *gorm.DB, req dailyquotadomain.CheckRequest) (dailyquotadomain.Verdict, error) {
	return s.check(ctx, tx, req, false)
}

func (s *Service) Increment(ctx context.Context, tx *gorm.DB, tenantID, activity string, date time.Time, n int64) error {
	if !dailyquotadomain.IsActivity(activity) {
		return dailyquotadomain.ErrUnknownActivity
	}
	if n <= 0 {
		return nil
	}
	if tx == nil {
		tx = s.db
	}
	return s.repo.AddCounter(ctx, tx, tenantID, activity, dayKey(date), n, s.clock.Now())
}

// CheckAndIncrement consumes the allowed part of the request in one step.
// Without a caller transaction the check and the increment run in their own.
func (s *Service) CheckAndIncrement(ctx context.Context, tx *gorm.DB, req dailyquotadomain.CheckRequest) (dailyquotadomain.Verdict, error) {
	if tx == nil {
		var verdict dailyquotadomain.Verdict
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var err error
			verdict, err = s.CheckAndIncrement(ctx, tx, req)
			return err
		})
		return verdict, err
	}

	verdict, err := s.check(ctx, tx, req, true)
	if err != nil {
		return dailyquotadomain.Verdict{}, err
	}
	if verdict.Allowed > 0 {
		if err := s.Increment(ctx, tx, req.TenantID, verdict.ActivityType, req.Date, verdict.Allowed); err != nil {
			return dailyquotadomain.Verdict{}, err
		}
	}
	return verdict, nil
}

func (s *Service) check(ctx context.Context, tx *gorm.DB, req dailyquotadomain.CheckRequest, forUpdate bool) (dailyquotadomain.Verdict, error) {
	activity := strings.TrimSpace(req.ActivityType)
	if !dailyquotadomain.IsActivity(activity) {
		return dailyquotadomain.Verdict{}, dailyquotadomain.ErrUnknownActivity
	}
	if strings.TrimSpace(req.TenantID) == "" || req.Requested < 0 {
		return dailyquotadomain.Verdict{}, dailyquotadomain.ErrInvalidRequest
	}
	if tx == nil {
		tx = s.db
	}

	limits, err := s.Limits(ctx, tx, req.TenantID)
	if err != nil {
		return dailyquotadomain.Verdict{}, err
	}
	counter, err := s.repo.FindCounter(ctx, tx, req.TenantID, activity, dayKey(req.Date), forUpdate)
	if err != nil {
		return dailyquotadomain.Verdict{}, err
	}

	verdict := dailyquotadomain.Verdict{
		ActivityType: activity,
		Requested:    req.Requested,
		Limit:        limits[activity],
	}
	if counter != nil {
		verdict.Used = counter.Count
	}

	remaining := verdict.Limit - verdict.Used
	if remaining < 0 {
		remaining = 0
	}
	switch {
	case req.Requested <= remaining:
		verdict.Decision = dailyquotadomain.DecisionAllow
		verdict.Allowed = req.Requested
	case remaining > 0 && req.AllowPartial:
		verdict.Decision = dailyquotadomain.DecisionAllowPartial
		verdict.Allowed = remaining
	default:
		verdict.Decision = dailyquotadomain.DecisionDeny
	}

	s.metrics.RecordDailyQuotaDecision(ctx, activity, string(verdict.Decision))
	return verdict, nil
}

func (s *Service) DailyUsage(ctx context.Context, tx *gorm.DB, tenantID string, date time.Time) ([]dailyquotadomain.ActivityUsage, error) {
	if tx == nil {
		tx = s.db
	}
	limits, err := s.Limits(ctx, tx, tenantID)
	if err != nil {
		return nil, err
	}
	counters, err := s.repo.ListCounters(ctx, tx, tenantID, dayKey(date))
	if err != nil {
		return nil, err
	}
	used := make(map[string]int64, len(counters))
	for _, c := range counters {
		used[c.ActivityType] = c.Count
	}

	out := make([]dailyquotadomain.ActivityUsage, 0, len(dailyquotadomain.Activities))
	for _, activity := range dailyquotadomain.Activities {
		u := dailyquotadomain.ActivityUsage{
			ActivityType: activity,
			Used:         used[activity],
			Limit:        limits[activity],
		}
		u.Remaining = u.Limit - u.Used
		if u.Remaining < 0 {
			u.Remaining = 0
		}
		out = append(out, u)
	}
	return out, nil
}

func dayKey(date time.Time) string {
	return date.UTC().Format(dailyquotadomain.DateLayout)
}
