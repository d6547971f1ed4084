// Package app assembles the controller process from the fx modules of pkg/control.
package app

import (
	"go.uber.org/fx"

	"github.com/anoop6543/PharmaVax-sub001/pkg/control/adapter/database/gorm"
	_ "github.com/anoop6543/PharmaVax-sub001/pkg/control/adapter/database/gorm/mysql"
	_ "github.com/anoop6543/PharmaVax-sub001/pkg/control/adapter/database/gorm/postgres"
	_ "github.com/anoop6543/PharmaVax-sub001/pkg/control/adapter/database/gorm/sqlite"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/adapter/database/migration"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/adapter/gateway/nats"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/adapter/historian/influx"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/adapter/storage"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/adapter/storage/gcs"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/adapter/storage/local"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/api"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/component/device"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/component/export"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/config"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/controller"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/infrastructure/metrics"
	sqlrepo "github.com/anoop6543/PharmaVax-sub001/pkg/control/infrastructure/repository/sql"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/infrastructure/telemetry"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/support/util/logger"
)

// Options returns every module of the controller process. raw is the YAML document and
// envFilePath an optional .env file applied before environment overrides.
func Options(raw config.EmbeddedConfig, envFilePath string) fx.Option {
	return fx.Options(
		fx.Supply(
			raw,
			fx.Annotate(envFilePath, fx.ResultTags(`name:"envFilePath"`)),
		),
		logger.Module,
		config.Module,

		telemetry.Module,
		metrics.Module,

		gorm.Module,
		// Migrations must run before the controller starts writing records.
		migration.Module,
		sqlrepo.Module,

		storage.Module,
		local.Module,
		gcs.Module,
		export.Module,

		device.Module,
		nats.Module,
		influx.Module,

		controller.Module,
		api.Module,
	)
}

// New builds the application without starting it.
func New(raw config.EmbeddedConfig, envFilePath string, extra ...fx.Option) *fx.App {
	return fx.New(Options(raw, envFilePath), fx.Options(extra...))
}
