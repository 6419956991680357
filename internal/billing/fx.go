package billing

import (
	"github.com/smallbiznis/railmeter/internal/billing/service"
	"github.com/smallbiznis/railmeter/internal/providers/pdf"
	"go.uber.org/fx"
)

var Module = fx.Module("billing",
	pdf.Module,
	fx.Provide(service.New),
)
