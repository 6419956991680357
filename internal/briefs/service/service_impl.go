package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	briefsdomain "github.com/smallbiznis/railmeter/internal/briefs/domain"
	catalogdomain "github.com/smallbiznis/railmeter/internal/catalog/domain"
	"github.com/smallbiznis/railmeter/internal/clock"
	dailyquotadomain "github.com/smallbiznis/railmeter/internal/dailyquota/domain"
	entitlementdomain "github.com/smallbiznis/railmeter/internal/entitlement/domain"
	"github.com/smallbiznis/railmeter/internal/metering"
	quotadomain "github.com/smallbiznis/railmeter/internal/quota/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const endpoint = "POST /v1/briefs/run"

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Clock    clock.Clock
	GenID    *snowflake.Node
	Repo     briefsdomain.Repository
	Executor *metering.Executor
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	clock    clock.Clock
	genID    *snowflake.Node
	repo     briefsdomain.Repository
	executor *metering.Executor
}

func New(p Params) briefsdomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("briefs.service"),
		clock:    p.Clock,
		genID:    p.GenID,
		repo:     p.Repo,
		executor: p.Executor,
	}
}

type briefContent struct {
	Date            string `json:"date"`
	PlanID          string `json:"plan_id"`
	PeriodStart     string `json:"period_start"`
	PeriodEnd       string `json:"period_end"`
	IncludedCredits string `json:"included_credits"`
	Headline        string `json:"headline"`
}

func (s *Service) Run(ctx context.Context, cmd briefsdomain.Command) (metering.Result, error) {
	recipients, err := normalizeRecipients(cmd.Request.Recipients)
	if err != nil {
		return metering.Result{}, err
	}
	date := strings.TrimSpace(cmd.Request.Date)
	if date != "" {
		if _, err := time.Parse(briefsdomain.DateLayout, date); err != nil {
			return metering.Result{}, briefsdomain.ErrInvalidDate
		}
	}

	return s.executor.Execute(ctx, metering.Request{
		TenantID:       cmd.TenantID,
		UserID:         cmd.UserID,
		Endpoint:       endpoint,
		IdempotencyKey: cmd.IdempotencyKey,
		Body:           cmd.Request,
		Permitted:      cmd.Permitted,
		Capability:     entitlementdomain.CapabilityBriefs,
	}, func(ctx context.Context, session *metering.Session) (int, any, error) {
		briefDate := date
		if briefDate == "" {
			briefDate = session.Now().UTC().Format(briefsdomain.DateLayout)
		}
		return s.run(ctx, session, briefDate, recipients)
	})
}

func (s *Service) run(ctx context.Context, session *metering.Session, date string, recipients []string) (int, any, error) {
	tx := session.Tx()
	result := briefsdomain.RunResult{BriefDate: date}

	brief, err := s.repo.FindBrief(ctx, tx, session.TenantID(), date)
	if err != nil {
		return 0, nil, err
	}
	if brief == nil {
		grant, err := session.Reserve(ctx, metering.Reservation{
			EventKey:     catalogdomain.EventDailyBriefGenerated,
			Units:        1,
			ActivityType: dailyquotadomain.ActivityDailyBriefGenerated,
		})
		if err != nil {
			return 0, nil, err
		}

		brief, err = s.generate(session, date)
		if err != nil {
			return 0, nil, err
		}
		if err := s.repo.InsertBrief(ctx, tx, brief); err != nil {
			return 0, nil, err
		}
		if _, err := session.Record(ctx, grant, metering.Usage{Units: 1}); err != nil {
			return 0, nil, err
		}
		result.Created = true
	}
	result.BriefID = brief.ID.String()

	if len(recipients) > 0 {
		if !session.Entitlement().HasCapability(entitlementdomain.CapabilityNotifications) {
			return 0, nil, entitlementdomain.ErrNotEntitled
		}
		enqueued, err := s.enqueue(ctx, session, brief, recipients)
		if err != nil {
			return 0, nil, err
		}
		result.NotificationsEnqueued = enqueued
		result.NotificationsSuppressed = int64(len(recipients)) - enqueued
	}

	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	return status, result, nil
}

// enqueue writes as many notifications as both the credit and the daily
// budgets allow. A full denial suppresses every recipient without failing the run.
func (s *Service) enqueue(ctx context.Context, session *metering.Session, brief *briefsdomain.Brief, recipients []string) (int64, error) {
	grant, err := session.Reserve(ctx, metering.Reservation{
		EventKey:     catalogdomain.EventNotificationQueued,
		Units:        int64(len(recipients)),
		ActivityType: dailyquotadomain.ActivityNotificationEnqueued,
		AllowPartial: true,
	})
	if err != nil {
		if errors.Is(err, quotadomain.ErrQuotaExceeded) {
			s.log.Info("notifications suppressed",
				zap.String("tenant_id", session.TenantID()),
				zap.Int("recipients", len(recipients)),
			)
			return 0, nil
		}
		return 0, err
	}
	if grant.Allowed == 0 {
		return 0, nil
	}

	now := session.Now()
	rows := make([]briefsdomain.Notification, 0, grant.Allowed)
	for _, recipient := range recipients[:grant.Allowed] {
		rows = append(rows, briefsdomain.Notification{
			ID:        s.genID.Generate(),
			TenantID:  session.TenantID(),
			BriefID:   brief.ID,
			Channel:   briefsdomain.NotificationChannelEmail,
			Recipient: recipient,
			Status:    briefsdomain.NotificationStatusPending,
			Payload:   datatypes.JSONMap{"brief_date": brief.BriefDate},
			CreatedAt: now,
		})
	}
	if err := s.repo.InsertNotifications(ctx, session.Tx(), rows); err != nil {
		return 0, err
	}
	if _, err := session.Record(ctx, grant, metering.Usage{Units: int64(len(rows))}); err != nil {
		return 0, err
	}
	return int64(len(rows)), nil
}

func (s *Service) generate(session *metering.Session, date string) (*briefsdomain.Brief, error) {
	ent := session.Entitlement()
	content, err := json.Marshal(briefContent{
		Date:            date,
		PlanID:          ent.Plan.PlanID,
		PeriodStart:     ent.PeriodStart.Format(briefsdomain.DateLayout),
		PeriodEnd:       ent.PeriodEnd.Format(briefsdomain.DateLayout),
		IncludedCredits: ent.IncludedCredits.String(),
		Headline:        "Daily brief for " + date,
	})
	if err != nil {
		return nil, err
	}
	return &briefsdomain.Brief{
		ID:        s.genID.Generate(),
		TenantID:  session.TenantID(),
		BriefDate: date,
		Content:   datatypes.JSON(content),
		CreatedBy: session.UserID(),
		CreatedAt: session.Now(),
	}, nil
}

func (s *Service) Latest(ctx context.Context, tenantID string) (*briefsdomain.Brief, error) {
	brief, err := s.repo.LatestBrief(ctx, s.db, tenantID)
	if err != nil {
		return nil, err
	}
	if brief == nil {
		return nil, briefsdomain.ErrBriefNotFound
	}
	return brief, nil
}

func (s *Service) Get(ctx context.Context, tenantID, date string) (*briefsdomain.Brief, error) {
	if _, err := time.Parse(briefsdomain.DateLayout, date); err != nil {
		return nil, briefsdomain.ErrInvalidDate
	}
	brief, err := s.repo.FindBrief(ctx, s.db, tenantID, date)
	if err != nil {
		return nil, err
	}
	if brief == nil {
		return nil, briefsdomain.ErrBriefNotFound
	}
	return brief, nil
}

func (s *Service) ListOutbox(ctx context.Context, filter briefsdomain.OutboxFilter) ([]briefsdomain.Notification, error) {
	switch filter.Status {
	case "", briefsdomain.NotificationStatusPending, briefsdomain.NotificationStatusSent,
		briefsdomain.NotificationStatusFailed, briefsdomain.NotificationStatusAcked:
	default:
		return nil, briefsdomain.ErrInvalidStatus
	}
	if filter.Date != "" {
		if _, err := time.Parse(briefsdomain.DateLayout, filter.Date); err != nil {
			return nil, briefsdomain.ErrInvalidDate
		}
	}
	if filter.Limit <= 0 {
		filter.Limit = briefsdomain.DefaultOutboxLimit
	}
	if filter.Limit > briefsdomain.MaxOutboxLimit {
		filter.Limit = briefsdomain.MaxOutboxLimit
	}

	rows, err := s.repo.ListOutbox(ctx, s.db, filter)
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []briefsdomain.Notification{}
	}
	return rows, nil
}

func (s *Service) Ack(ctx context.Context, tenantID string, id snowflake.ID) (*briefsdomain.Notification, error) {
	var out *briefsdomain.Notification
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		n, err := s.repo.FindNotification(ctx, tx, tenantID, id)
		if err != nil {
			return err
		}
		if n == nil {
			return briefsdomain.ErrNotificationNotFound
		}
		if n.AckedAt == nil {
			now := s.clock.Now().UTC()
			if err := s.repo.AckNotification(ctx, tx, tenantID, id, now); err != nil {
				return err
			}
			n.AckedAt = &now
		}
		out = n
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func normalizeRecipients(raw []string) ([]string, error) {
	if len(raw) > briefsdomain.MaxRecipients {
		return nil, briefsdomain.ErrTooManyRecipients
	}
	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		addr, err := mail.ParseAddress(strings.TrimSpace(r))
		if err != nil {
			return nil, briefsdomain.ErrInvalidRecipient
		}
		email := strings.ToLower(addr.Address)
		if _, ok := seen[email]; ok {
			continue
		}
		seen[email] = struct{}{}
		out = append(out, email)
	}
	return out, nil
}
