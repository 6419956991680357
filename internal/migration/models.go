package migration

import (
	apikeydomain "github.com/smallbiznis/railmeter/internal/apikey/domain"
	briefsdomain "github.com/smallbiznis/railmeter/internal/briefs/domain"
	catalogdomain "github.com/smallbiznis/railmeter/internal/catalog/domain"
	dailyquotadomain "github.com/smallbiznis/railmeter/internal/dailyquota/domain"
	entitlementdomain "github.com/smallbiznis/railmeter/internal/entitlement/domain"
	idempotencydomain "github.com/smallbiznis/railmeter/internal/idempotency/domain"
	kpidomain "github.com/smallbiznis/railmeter/internal/kpi/domain"
	rollupdomain "github.com/smallbiznis/railmeter/internal/rollup/domain"
	tenantdomain "github.com/smallbiznis/railmeter/internal/tenant/domain"
	usagedomain "github.com/smallbiznis/railmeter/internal/usage/domain"
	"gorm.io/gorm"
)

// Models lists every table in dependency order.
func Models() []any {
	return []any{
		&tenantdomain.Tenant{},
		&tenantdomain.User{},
		&apikeydomain.APIKey{},
		&catalogdomain.MeteredEventType{},
		&entitlementdomain.Plan{},
		&entitlementdomain.Capability{},
		&entitlementdomain.PlanCapability{},
		&entitlementdomain.PlanEventCap{},
		&entitlementdomain.TenantSubscription{},
		&idempotencydomain.Record{},
		&usagedomain.UsageEvent{},
		&rollupdomain.PeriodRollup{},
		&dailyquotadomain.TenantLimit{},
		&dailyquotadomain.DailyCounter{},
		&briefsdomain.Brief{},
		&briefsdomain.Notification{},
		&kpidomain.Definition{},
		&kpidomain.Point{},
	}
}

// AutoMigrate creates the schema on dialects without embedded SQL.
func AutoMigrate(conn *gorm.DB) error {
	return conn.AutoMigrate(Models()...)
}
