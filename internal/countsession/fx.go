package countsession

import (
	"github.com/smallbiznis/stocktake/internal/countsession/repository"
	"github.com/smallbiznis/stocktake/internal/countsession/service"
	"go.uber.org/fx"
)

var Module = fx.Module("countsession.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
