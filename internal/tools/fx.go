package tools

import (
	"github.com/smallbiznis/railmeter/internal/tools/service"
	"go.uber.org/fx"
)

var Module = fx.Module("tools",
	fx.Provide(service.New),
)
