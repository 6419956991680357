package kpi

import (
	"github.com/smallbiznis/railmeter/internal/kpi/repository"
	"github.com/smallbiznis/railmeter/internal/kpi/service"
	"go.uber.org/fx"
)

var Module = fx.Module("kpi",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
