package triage

import (
	"github.com/smallbiznis/stocktake/internal/triage/service"
	"go.uber.org/fx"
)

var Module = fx.Module("triage.service",
	fx.Provide(service.New),
)
