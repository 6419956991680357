package assistant

import (
	"github.com/smallbiznis/railmeter/internal/assistant/service"
	"go.uber.org/fx"
)

var Module = fx.Module("assistant",
	fx.Provide(service.New),
)
