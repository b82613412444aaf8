package usage

import (
	"github.com/smallbiznis/timesync/internal/usage/service"
	"go.uber.org/fx"
)

var Module = fx.Module("usage.service",
	fx.Provide(service.NewCoordinator),
	fx.Provide(service.NewAggregator),
)
