package countroll

import (
	"github.com/smallbiznis/stocktake/internal/countroll/repository"
	"github.com/smallbiznis/stocktake/internal/countroll/service"
	"github.com/smallbiznis/stocktake/internal/duplicate"
	"go.uber.org/fx"
)

var Module = fx.Module("countroll.service",
	fx.Provide(repository.Provide),
	fx.Provide(duplicate.NewDetector),
	fx.Provide(service.New),
)
