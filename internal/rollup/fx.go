package rollup

import (
	entitlementdomain "github.com/smallbiznis/railmeter/internal/entitlement/domain"
	rollupdomain "github.com/smallbiznis/railmeter/internal/rollup/domain"
	"github.com/smallbiznis/railmeter/internal/rollup/repository"
	"github.com/smallbiznis/railmeter/internal/rollup/service"
	"go.uber.org/fx"
)

var Module = fx.Module("rollup",
	fx.Provide(repository.Provide),
	fx.Provide(func(ent entitlementdomain.Service) rollupdomain.TenantLocker { return ent }),
	fx.Provide(service.New),
)
