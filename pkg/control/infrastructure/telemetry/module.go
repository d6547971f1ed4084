package telemetry

import (
	"context"

	"go.uber.org/fx"

	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/config"
)

// NewFromConfig builds the providers and shuts them down with the application.
func NewFromConfig(lc fx.Lifecycle, cfg *config.Config) (*Providers, error) {
	p, err := NewProviders(context.Background(), cfg.Controller.Telemetry)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return p.Shutdown(ctx)
		},
	})
	return p, nil
}

// Module provides *Providers.
var Module = fx.Options(
	fx.Provide(NewFromConfig),
)
