package gorm

import (
	"context"

	"go.uber.org/fx"
	"gorm.io/gorm"

	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/config"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/support/util/logger"
)

// NewDB opens the configured database, or returns nil when persistence is disabled.
// The pool is closed when the application stops.
func NewDB(lc fx.Lifecycle, cfg *config.Config) (*gorm.DB, error) {
	dbCfg := cfg.Controller.Database
	if !dbCfg.Enabled {
		logger.Infof("Database persistence disabled.")
		return nil, nil
	}
	db, err := Open(dbCfg, cfg.Controller.System.Logging.Level)
	if err != nil {
		return nil, err
	}
	logger.Infof("Connected to %s database '%s'.", dbCfg.Type, dbCfg.Database)
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			logger.Debugf("Closing %s database connection.", dbCfg.Type)
			return Close(db)
		},
	})
	return db, nil
}

// Module provides *gorm.DB. Import the dialect packages that should be available.
var Module = fx.Options(
	fx.Provide(NewDB),
)
