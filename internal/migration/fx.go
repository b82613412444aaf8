package migration

import (
	"github.com/smallbiznis/timesync/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg db.Config, log *zap.Logger) error {
		if conn.Dialector.Name() != db.TypePostgres {
			log.Info("applying schema via gorm automigrate", zap.String("dialect", conn.Dialector.Name()))
			return AutoMigrate(conn)
		}

		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		log.Info("applying embedded migrations", zap.String("database", cfg.Name))
		return RunMigrations(sqlDB)
	}),
)
