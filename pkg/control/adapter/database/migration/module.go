package migration

import (
	"context"

	"go.uber.org/fx"
	"gorm.io/gorm"

	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/config"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/support/util/logger"
)

// RunParams are the dependencies of RunOnStart. DB is nil when persistence is disabled.
type RunParams struct {
	fx.In
	Lifecycle fx.Lifecycle
	Config    *config.Config
	DB        *gorm.DB `optional:"true"`
}

// RunOnStart applies pending migrations before the controller starts scanning.
func RunOnStart(p RunParams) {
	dbCfg := p.Config.Controller.Database
	if p.DB == nil || !dbCfg.Migrate {
		logger.Debugf("Schema migration skipped.")
		return
	}
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return NewMigrator(dbCfg.Type).Up(ctx, p.DB)
		},
	})
}

// Module runs the schema migrations at startup.
var Module = fx.Options(
	fx.Invoke(RunOnStart),
)
