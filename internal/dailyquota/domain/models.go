package domain

import "time"

const (
	ActivityAssistantQuery       = "assistant_query"
	ActivityToolInvocation       = "tool_invocation"
	ActivityDailyBriefGenerated  = "daily_brief_generated"
	ActivityNotificationEnqueued = "notification_enqueued"
)

// Activities is the fixed set of activity types with a daily counter.
var Activities = []string{
	ActivityAssistantQuery,
	ActivityToolInvocation,
	ActivityDailyBriefGenerated,
	ActivityNotificationEnqueued,
}

func IsActivity(activity string) bool {
	for _, a := range Activities {
		if a == activity {
			return true
		}
	}
	return false
}

// TenantLimit overrides the deployment default for one activity.
type TenantLimit struct {
	TenantID     string    `gorm:"column:tenant_id;type:varchar(64);primaryKey"`
	ActivityType string    `gorm:"column:activity_type;type:varchar(50);primaryKey"`
	DailyLimit   int64     `gorm:"column:daily_limit;not null"`
	UpdatedAt    time.Time `gorm:"column:updated_at;not null"`
}

func (TenantLimit) TableName() string { return "tenant_limits" }

// DailyCounter resets by virtue of its date key.
type DailyCounter struct {
	TenantID     string    `gorm:"column:tenant_id;type:varchar(64);primaryKey"`
	ActivityType string    `gorm:"column:activity_type;type:varchar(50);primaryKey"`
	Day          string    `gorm:"column:usage_date;type:varchar(10);primaryKey"`
	Count        int64     `gorm:"column:count;not null"`
	UpdatedAt    time.Time `gorm:"column:updated_at;not null"`
}

func (DailyCounter) TableName() string { return "daily_usage_counters" }

type ActivityUsage struct {
	ActivityType string `json:"activity_type"`
	Used         int64  `json:"used"`
	Limit        int64  `json:"limit"`
	Remaining    int64  `json:"remaining"`
}
