// Package meteringtest wires the full metering stack over an in-memory database.
package meteringtest

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	apikeydomain "github.com/smallbiznis/railmeter/internal/apikey/domain"
	apikeyrepo "github.com/smallbiznis/railmeter/internal/apikey/repository"
	apikeyservice "github.com/smallbiznis/railmeter/internal/apikey/service"
	"github.com/smallbiznis/railmeter/internal/cache"
	catalogdomain "github.com/smallbiznis/railmeter/internal/catalog/domain"
	catalogrepo "github.com/smallbiznis/railmeter/internal/catalog/repository"
	catalogservice "github.com/smallbiznis/railmeter/internal/catalog/service"
	"github.com/smallbiznis/railmeter/internal/clock"
	"github.com/smallbiznis/railmeter/internal/config"
	dailyquotadomain "github.com/smallbiznis/railmeter/internal/dailyquota/domain"
	dailyquotarepo "github.com/smallbiznis/railmeter/internal/dailyquota/repository"
	dailyquotaservice "github.com/smallbiznis/railmeter/internal/dailyquota/service"
	entitlementdomain "github.com/smallbiznis/railmeter/internal/entitlement/domain"
	entitlementrepo "github.com/smallbiznis/railmeter/internal/entitlement/repository"
	entitlementservice "github.com/smallbiznis/railmeter/internal/entitlement/service"
	idempotencydomain "github.com/smallbiznis/railmeter/internal/idempotency/domain"
	idempotencyservice "github.com/smallbiznis/railmeter/internal/idempotency/service"
	"github.com/smallbiznis/railmeter/internal/metering"
	"github.com/smallbiznis/railmeter/internal/migration"
	quotadomain "github.com/smallbiznis/railmeter/internal/quota/domain"
	quotaservice "github.com/smallbiznis/railmeter/internal/quota/service"
	rollupdomain "github.com/smallbiznis/railmeter/internal/rollup/domain"
	rolluprepo "github.com/smallbiznis/railmeter/internal/rollup/repository"
	rollupservice "github.com/smallbiznis/railmeter/internal/rollup/service"
	"github.com/smallbiznis/railmeter/internal/seed"
	tenantdomain "github.com/smallbiznis/railmeter/internal/tenant/domain"
	tenantrepo "github.com/smallbiznis/railmeter/internal/tenant/repository"
	tenantservice "github.com/smallbiznis/railmeter/internal/tenant/service"
	"github.com/smallbiznis/railmeter/internal/testutil"
	usagedomain "github.com/smallbiznis/railmeter/internal/usage/domain"
	usageservice "github.com/smallbiznis/railmeter/internal/usage/service"
	"github.com/smallbiznis/railmeter/pkg/db/uow"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Epoch is the fake clock's starting instant.
var Epoch = time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)

type Options struct {
	Metering config.MeteringConfig
	// WrapIdempotency decorates the idempotency service seen by the executor.
	WrapIdempotency func(idempotencydomain.Service) idempotencydomain.Service
	TxAttempts      int
}

type Stack struct {
	DB          *gorm.DB
	Log         *zap.Logger
	Clock       *clock.FakeClock
	GenID       *snowflake.Node
	Metering    *config.MeteringConfigHolder
	UoW         *uow.UnitOfWork
	Catalog     catalogdomain.Service
	Entitlement entitlementdomain.Service
	Rollup      rollupdomain.Service
	Usage       usagedomain.Service
	Quota       quotadomain.Service
	DailyQuota  dailyquotadomain.Service
	Idempotency idempotencydomain.Service
	APIKeys     apikeydomain.Service
	Tenants     tenantdomain.Service
	Executor    *metering.Executor
}

// New builds a seeded stack with the default metering catalog.
func New(t *testing.T) *Stack {
	return NewWithOptions(t, Options{})
}

func NewWithOptions(t *testing.T, opts Options) *Stack {
	t.Helper()

	if opts.Metering.DefaultPlan == "" {
		opts.Metering = config.DefaultMeteringConfig()
	}
	if opts.TxAttempts == 0 {
		opts.TxAttempts = 3
	}

	conn := testutil.NewDB(t, migration.Models()...)
	log := zap.NewNop()
	clk := clock.NewFakeClock(Epoch)
	node := testutil.NewNode(t)
	holder := config.NewStaticMeteringConfigHolder(opts.Metering)

	s := &Stack{DB: conn, Log: log, Clock: clk, GenID: node, Metering: holder}
	s.UoW = uow.NewWithPolicy(conn, log, opts.TxAttempts, 0)

	s.Catalog = catalogservice.New(catalogservice.Params{
		DB: conn, Log: log, Clock: clk,
		Repo:  catalogrepo.Provide(),
		Cache: cache.NewCatalogCache(),
	})
	s.Entitlement = entitlementservice.New(entitlementservice.Params{
		DB: conn, Log: log, Clock: clk,
		Repo:    entitlementrepo.Provide(),
		Catalog: s.Catalog,
	})
	s.Rollup = rollupservice.New(rollupservice.Params{
		DB: conn, Log: log, Clock: clk,
		Repo:   rolluprepo.Provide(),
		Locker: s.Entitlement,
	})
	s.Usage = usageservice.NewService(usageservice.ServiceParam{
		DB: conn, Log: log, GenID: node, Clock: clk,
		Catalog: s.Catalog,
		Rollup:  s.Rollup,
	})
	s.Quota = quotaservice.New(quotaservice.Params{
		Log: log, Clock: clk,
		Entitlement: s.Entitlement,
		Catalog:     s.Catalog,
		Rollup:      s.Rollup,
	})
	s.DailyQuota = dailyquotaservice.New(dailyquotaservice.Params{
		DB: conn, Log: log, Clock: clk,
		Repo:     dailyquotarepo.Provide(),
		Metering: holder,
	})
	s.Idempotency = idempotencyservice.NewService(idempotencyservice.Params{
		DB: conn, Log: log, Clock: clk,
	})
	s.APIKeys = apikeyservice.New(apikeyservice.Params{
		DB: conn, Log: log, GenID: node, Clock: clk,
		Repo: apikeyrepo.Provide(),
	})
	s.Tenants = tenantservice.New(tenantservice.Params{
		DB: conn, Log: log, Clock: clk,
		Repo:        tenantrepo.Provide(),
		Metering:    holder,
		Entitlement: s.Entitlement,
		DailyQuota:  s.DailyQuota,
		APIKeys:     s.APIKeys,
	})

	idem := s.Idempotency
	if opts.WrapIdempotency != nil {
		idem = opts.WrapIdempotency(idem)
	}
	s.Executor = metering.NewExecutor(metering.Params{
		UoW: s.UoW, Log: log, Clock: clk,
		Idempotency: idem,
		Entitlement: s.Entitlement,
		Quota:       s.Quota,
		DailyQuota:  s.DailyQuota,
		Usage:       s.Usage,
	})

	_, err := seed.EnsureMetering(context.Background(), opts.Metering, s.Catalog, s.Entitlement)
	require.NoError(t, err)
	return s
}

// Provision creates a tenant on planID with an admin user.
func (s *Stack) Provision(t *testing.T, name, planID string) *tenantdomain.ProvisionResult {
	t.Helper()
	res, err := s.Tenants.Provision(context.Background(), tenantdomain.ProvisionRequest{
		Name:       name,
		PlanID:     planID,
		AdminEmail: "admin@" + name + ".test",
		AdminName:  "Admin",
	})
	require.NoError(t, err)
	return res
}

// CreatePlan adds a plan with every seeded capability.
func (s *Stack) CreatePlan(t *testing.T, planID string, included string) {
	t.Helper()
	caps, err := s.Entitlement.ListCapabilities(context.Background())
	require.NoError(t, err)
	keys := make([]string, 0, len(caps))
	for _, c := range caps {
		keys = append(keys, c.Key)
	}
	_, err = s.Entitlement.CreatePlan(context.Background(), entitlementdomain.CreatePlanRequest{
		PlanID:                planID,
		Name:                  planID,
		IncludedCredits:       decimal.RequireFromString(included),
		OveragePricePerCredit: decimal.RequireFromString("0.02"),
		Capabilities:          keys,
	})
	require.NoError(t, err)
}

// Totals returns the tenant's rollup totals for the current period.
func (s *Stack) Totals(t *testing.T, tenantID string) rollupdomain.Totals {
	t.Helper()
	sub, err := s.Entitlement.GetSubscription(context.Background(), tenantID)
	require.NoError(t, err)
	start, end := entitlementdomain.PeriodFor(sub.PeriodAnchor, s.Clock.Now())
	totals, err := s.Rollup.GetTotals(context.Background(), nil, tenantID, start, end)
	require.NoError(t, err)
	return totals
}

// LedgerCredits sums the tenant's usage events directly.
func (s *Stack) LedgerCredits(t *testing.T, tenantID string) (decimal.Decimal, int64) {
	t.Helper()
	var events []usagedomain.UsageEvent
	require.NoError(t, s.DB.Where("tenant_id = ?", tenantID).Find(&events).Error)
	total := decimal.Zero
	for _, e := range events {
		total = total.Add(e.Credits)
	}
	return total, int64(len(events))
}

// Counter reads the legacy daily counter for today.
func (s *Stack) Counter(t *testing.T, tenantID, activity string) int64 {
	t.Helper()
	usage, err := s.DailyQuota.DailyUsage(context.Background(), nil, tenantID, s.Clock.Now())
	require.NoError(t, err)
	for _, u := range usage {
		if u.ActivityType == activity {
			return u.Used
		}
	}
	return 0
}
