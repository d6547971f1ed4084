package api

import (
	"context"

	"go.uber.org/fx"

	"github.com/anoop6543/PharmaVax-sub001/pkg/control/adapter/storage"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/component/export"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/config"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/controller"
	inframetrics "github.com/anoop6543/PharmaVax-sub001/pkg/control/infrastructure/metrics"
	sqlrepo "github.com/anoop6543/PharmaVax-sub001/pkg/control/infrastructure/repository/sql"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/infrastructure/telemetry"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/support/util/logger"
)

// Params are the fx inputs of NewFromParams.
type Params struct {
	fx.In
	Lifecycle  fx.Lifecycle
	Config     *config.Config
	Controller *controller.Controller
	Repository *sqlrepo.Repository              `optional:"true"`
	Prometheus *inframetrics.PrometheusRecorder `optional:"true"`
	Telemetry  *telemetry.Providers             `optional:"true"`
	Storage    *storage.Resolver                `optional:"true"`
}

// NewFromParams builds the operator API when it is enabled and ties it to the lifecycle.
// It returns nil when the API is disabled.
func NewFromParams(p Params) *Server {
	cc := p.Config.Controller
	if !cc.API.Enabled {
		logger.Infof("Operator API disabled.")
		return nil
	}

	var opts []Option
	if p.Repository != nil {
		opts = append(opts, WithRepository(p.Repository))
	}
	if p.Prometheus != nil {
		opts = append(opts, WithMetricsHandler(p.Prometheus.Handler()))
	}
	if p.Telemetry != nil && cc.Telemetry.Enabled {
		opts = append(opts, WithTracing(cc.Telemetry.ServiceName, p.Telemetry.TracerProvider))
	}
	if p.Storage != nil && cc.Historian.Export.Enabled {
		opts = append(opts, WithHistorianExporter(
			export.NewHistorianExporter(p.Controller.Historian, p.Storage, cc.Historian.Export)))
	}

	s := NewServer(p.Controller, cc.API, opts...)
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return s.Start()
		},
		OnStop: func(ctx context.Context) error {
			return s.Stop(ctx)
		},
	})
	return s
}

// Module provides *Server.
var Module = fx.Options(
	fx.Provide(NewFromParams),
	fx.Invoke(func(*Server) {}),
)
