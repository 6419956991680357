package briefs

import (
	"github.com/smallbiznis/railmeter/internal/briefs/repository"
	"github.com/smallbiznis/railmeter/internal/briefs/service"
	"github.com/smallbiznis/railmeter/internal/providers/email"
	"go.uber.org/fx"
)

var Module = fx.Module("briefs",
	email.Module,
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
	fx.Provide(service.NewDispatcher),
)
