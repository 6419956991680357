package dailyquota

import (
	"github.com/smallbiznis/railmeter/internal/dailyquota/repository"
	"github.com/smallbiznis/railmeter/internal/dailyquota/service"
	"go.uber.org/fx"
)

var Module = fx.Module("dailyquota",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
