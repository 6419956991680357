package catalog

import (
	"github.com/smallbiznis/railmeter/internal/cache"
	"github.com/smallbiznis/railmeter/internal/catalog/repository"
	"github.com/smallbiznis/railmeter/internal/catalog/service"
	"go.uber.org/fx"
)

var Module = fx.Module("catalog",
	fx.Provide(repository.Provide),
	fx.Provide(cache.NewCatalogCache),
	fx.Provide(service.New),
)
