package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/timesync/internal/cache"
	"github.com/smallbiznis/timesync/internal/clock"
	"github.com/smallbiznis/timesync/internal/config"
	"github.com/smallbiznis/timesync/internal/interval"
	"github.com/smallbiznis/timesync/internal/migration"
	"github.com/smallbiznis/timesync/internal/observability"
	"github.com/smallbiznis/timesync/internal/ratelimit"
	"github.com/smallbiznis/timesync/internal/rating"
	"github.com/smallbiznis/timesync/internal/scheduler"
	"github.com/smallbiznis/timesync/internal/server"
	"github.com/smallbiznis/timesync/internal/usage"
	"github.com/smallbiznis/timesync/internal/usagereport"
	"github.com/smallbiznis/timesync/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func main() {
	app := fx.New(
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx")}
		}),

		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,
		cache.Module,
		ratelimit.Module,

		// Functional Domains
		rating.Module,
		interval.Module,
		usagereport.Module,
		usage.Module,
		scheduler.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}
