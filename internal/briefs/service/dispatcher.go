package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	briefsdomain "github.com/smallbiznis/railmeter/internal/briefs/domain"
	"github.com/smallbiznis/railmeter/internal/clock"
	"github.com/smallbiznis/railmeter/internal/config"
	"github.com/smallbiznis/railmeter/internal/providers/email"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const briefTemplate = "daily_brief"

type DispatcherParams struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	Clock  clock.Clock
	Repo   briefsdomain.Repository
	Email  email.Provider
	Config config.Config
}

type Dispatcher struct {
	db          *gorm.DB
	log         *zap.Logger
	clock       clock.Clock
	repo        briefsdomain.Repository
	email       email.Provider
	batchSize   int
	maxAttempts int
}

func NewDispatcher(p DispatcherParams) briefsdomain.Dispatcher {
	batch := p.Config.Email.BatchSize
	if batch <= 0 {
		batch = 50
	}
	attempts := p.Config.Email.MaxAttempts
	if attempts <= 0 {
		attempts = 5
	}
	return &Dispatcher{
		db:          p.DB,
		log:         p.Log.Named("briefs.dispatcher"),
		clock:       p.Clock,
		repo:        p.Repo,
		email:       p.Email,
		batchSize:   batch,
		maxAttempts: attempts,
	}
}

// Dispatch claims a batch of pending rows and sends them. Rows are held
// locked for the duration of the pass so concurrent dispatchers skip them.
func (d *Dispatcher) Dispatch(ctx context.Context) (briefsdomain.DispatchReport, error) {
	var report briefsdomain.DispatchReport
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rows, err := d.repo.ListPendingNotifications(ctx, tx, d.batchSize)
		if err != nil {
			return err
		}
		report.Claimed = len(rows)

		for i := range rows {
			n := &rows[i]
			sendErr := d.deliver(ctx, tx, n)
			if errors.Is(sendErr, email.ErrNotConfigured) {
				d.log.Debug("email delivery not configured, leaving outbox pending")
				return nil
			}
			n.Attempts++
			if sendErr == nil {
				now := d.clock.Now()
				n.Status = briefsdomain.NotificationStatusSent
				n.SentAt = &now
				n.LastError = nil
				report.Sent++
			} else {
				msg := sendErr.Error()
				n.LastError = &msg
				if n.Attempts >= d.maxAttempts {
					n.Status = briefsdomain.NotificationStatusFailed
					report.Failed++
				} else {
					report.Retried++
				}
				d.log.Warn("notification delivery failed",
					zap.String("tenant_id", n.TenantID),
					zap.String("notification_id", n.ID.String()),
					zap.Int("attempts", n.Attempts),
					zap.Error(sendErr),
				)
			}
			if err := d.repo.UpdateNotification(ctx, tx, n); err != nil {
				return err
			}
		}
		return nil
	})
	return report, err
}

func (d *Dispatcher) deliver(ctx context.Context, tx *gorm.DB, n *briefsdomain.Notification) error {
	if n.Channel != briefsdomain.NotificationChannelEmail {
		return fmt.Errorf("unsupported notification channel %q", n.Channel)
	}
	brief, err := d.repo.FindBriefByID(ctx, tx, n.TenantID, n.BriefID)
	if err != nil {
		return err
	}
	if brief == nil {
		return fmt.Errorf("brief %s not found", n.BriefID)
	}

	var content briefContent
	if err := json.Unmarshal(brief.Content, &content); err != nil {
		return err
	}
	body, err := d.email.Render(briefTemplate, content)
	if err != nil {
		return err
	}
	return d.email.Send(ctx, email.Message{
		To:       []string{n.Recipient},
		Subject:  "Daily brief for " + brief.BriefDate,
		HTMLBody: body,
	})
}
