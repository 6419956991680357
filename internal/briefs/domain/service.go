package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/railmeter/internal/metering"
	"gorm.io/gorm"
)

const (
	DateLayout    = "2006-01-02"
	MaxRecipients = 100

	DefaultOutboxLimit = 50
	MaxOutboxLimit     = 200
)

var (
	ErrInvalidDate          = errors.New("invalid_brief_date")
	ErrInvalidRecipient     = errors.New("invalid_recipient")
	ErrTooManyRecipients    = errors.New("too_many_recipients")
	ErrInvalidStatus        = errors.New("invalid_notification_status")
	ErrBriefNotFound        = errors.New("brief_not_found")
	ErrNotificationNotFound = errors.New("notification_not_found")
)

type RunRequest struct {
	// Date defaults to the current UTC day.
	Date       string   `json:"date"`
	Recipients []string `json:"recipients"`
}

// Command is a brief run as received from the routing layer.
type Command struct {
	TenantID       string
	UserID         string
	IdempotencyKey string
	Permitted      bool
	Request        RunRequest
}

type RunResult struct {
	BriefID                 string `json:"brief_id"`
	BriefDate               string `json:"brief_date"`
	Created                 bool   `json:"created"`
	NotificationsEnqueued   int64  `json:"notifications_enqueued"`
	NotificationsSuppressed int64  `json:"notifications_suppressed_due_to_quota"`
}

type Repository interface {
	FindBrief(ctx context.Context, db *gorm.DB, tenantID, date string) (*Brief, error)
	InsertBrief(ctx context.Context, db *gorm.DB, b *Brief) error
	InsertNotifications(ctx context.Context, db *gorm.DB, rows []Notification) error
	ListNotifications(ctx context.Context, db *gorm.DB, tenantID string, briefID snowflake.ID) ([]Notification, error)
	FindBriefByID(ctx context.Context, db *gorm.DB, tenantID string, id snowflake.ID) (*Brief, error)
	ListPendingNotifications(ctx context.Context, db *gorm.DB, limit int) ([]Notification, error)
	UpdateNotification(ctx context.Context, db *gorm.DB, n *Notification) error
	LatestBrief(ctx context.Context, db *gorm.DB, tenantID string) (*Brief, error)
	ListOutbox(ctx context.Context, db *gorm.DB, filter OutboxFilter) ([]Notification, error)
	FindNotification(ctx context.Context, db *gorm.DB, tenantID string, id snowflake.ID) (*Notification, error)
	AckNotification(ctx context.Context, db *gorm.DB, tenantID string, id snowflake.ID, at time.Time) error
}

// OutboxFilter narrows a tenant's outbox listing. Date matches the brief date.
type OutboxFilter struct {
	TenantID string
	Status   string
	Date     string
	Limit    int
}

// DispatchReport summarizes one outbox delivery pass.
type DispatchReport struct {
	Claimed int `json:"claimed"`
	Sent    int `json:"sent"`
	Retried int `json:"retried"`
	Failed  int `json:"failed"`
}

// Dispatcher delivers queued notifications. Delivery outcomes never touch
// the usage ledger.
type Dispatcher interface {
	Dispatch(ctx context.Context) (DispatchReport, error)
}

type Service interface {
	// Run generates the brief for a date and enqueues its notifications under metering.
	Run(ctx context.Context, cmd Command) (metering.Result, error)
	// Latest returns the brief with the greatest date.
	Latest(ctx context.Context, tenantID string) (*Brief, error)
	Get(ctx context.Context, tenantID, date string) (*Brief, error)
	ListOutbox(ctx context.Context, filter OutboxFilter) ([]Notification, error)
	// Ack marks a notification as read. Acking twice keeps the first timestamp.
	Ack(ctx context.Context, tenantID string, id snowflake.ID) (*Notification, error)
}
