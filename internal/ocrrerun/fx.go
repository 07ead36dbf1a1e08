package ocrrerun

import (
	"github.com/smallbiznis/stocktake/internal/ocrrerun/repository"
	"github.com/smallbiznis/stocktake/internal/ocrrerun/service"
	"go.uber.org/fx"
)

var Module = fx.Module("ocrrerun.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
