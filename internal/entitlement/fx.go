package entitlement

import (
	"github.com/smallbiznis/railmeter/internal/entitlement/repository"
	"github.com/smallbiznis/railmeter/internal/entitlement/service"
	"go.uber.org/fx"
)

var Module = fx.Module("entitlement",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
