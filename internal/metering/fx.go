package metering

import (
	"github.com/smallbiznis/railmeter/internal/catalog"
	"github.com/smallbiznis/railmeter/internal/dailyquota"
	"github.com/smallbiznis/railmeter/internal/entitlement"
	"github.com/smallbiznis/railmeter/internal/idempotency"
	"github.com/smallbiznis/railmeter/internal/quota"
	"github.com/smallbiznis/railmeter/internal/rollup"
	"github.com/smallbiznis/railmeter/internal/usage"
	"github.com/smallbiznis/railmeter/pkg/db/uow"
	"go.uber.org/fx"
)

// Module bundles the metering core: catalog, entitlements, quotas, the
// usage ledger with its rollups, idempotency and the executor that ties
// them into one transaction.
var Module = fx.Module("metering",
	uow.Module,
	idempotency.Module,
	catalog.Module,
	entitlement.Module,
	usage.Module,
	rollup.Module,
	quota.Module,
	dailyquota.Module,
	fx.Provide(NewExecutor),
)
