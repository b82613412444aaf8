package interval

import (
	"github.com/smallbiznis/timesync/internal/interval/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("interval.repository",
	fx.Provide(repository.Provide),
)
