package nats

import (
	"context"

	"go.uber.org/fx"

	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/config"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/gateway"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/support/util/logger"
)

// Result contributes the NATS gateway to the controller's gateway group.
type Result struct {
	fx.Out
	Gateways []gateway.Gateway `group:"gateways,flatten"`
}

// NewFromConfig connects when the NATS gateway is enabled and closes it on stop.
func NewFromConfig(lc fx.Lifecycle, cfg *config.Config) (Result, error) {
	natsCfg := cfg.Controller.Gateway.NATS
	if !natsCfg.Enabled {
		logger.Debugf("NATS gateway disabled.")
		return Result{}, nil
	}
	if natsCfg.Name == "" {
		natsCfg.Name = cfg.Controller.Name
	}
	gw, err := Connect(natsCfg)
	if err != nil {
		return Result{}, err
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return gw.Close()
		},
	})
	return Result{Gateways: []gateway.Gateway{gw}}, nil
}

// Module provides the NATS gateway.
var Module = fx.Options(
	fx.Provide(NewFromConfig),
)
