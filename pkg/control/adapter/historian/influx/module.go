package influx

import (
	"context"

	"go.uber.org/fx"

	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/config"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/historian"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/support/util/logger"
)

// Result contributes the InfluxDB mirror to the historian sink group.
type Result struct {
	fx.Out
	Sinks []historian.Sink `group:"historian_sinks,flatten"`
}

// NewFromConfig builds the mirror when enabled. The worker runs for the life of the application.
func NewFromConfig(lc fx.Lifecycle, cfg *config.Config) Result {
	icfg := cfg.Controller.Influx
	if !icfg.Enabled {
		logger.Debugf("InfluxDB historian mirror disabled.")
		return Result{}
	}
	client := NewClient(icfg)
	sink := NewSink(client.WriteAPIBlocking(icfg.Org, icfg.Bucket), icfg.Measurement, icfg.BufferSize, icfg.WriteTimeout)
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if ok, err := client.Ping(ctx); err != nil || !ok {
				logger.Warnf("InfluxDB at %s is not reachable yet (err: %v); writes fail until it is.", icfg.URL, err)
			}
			sink.Start()
			logger.Infof("InfluxDB historian mirror writing to %s/%s.", icfg.Org, icfg.Bucket)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			err := sink.Stop(ctx)
			client.Close()
			logger.Infof("InfluxDB historian mirror stopped: %d points written, %d dropped.", sink.Written(), sink.Dropped())
			return err
		},
	})
	return Result{Sinks: []historian.Sink{sink}}
}

// Module provides the InfluxDB historian mirror.
var Module = fx.Options(
	fx.Provide(NewFromConfig),
)
