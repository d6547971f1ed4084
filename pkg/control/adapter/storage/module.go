package storage

import (
	"context"

	"go.uber.org/fx"

	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/config"
)

// ProviderGroup collects storage providers contributed by backend modules.
const ProviderGroup = `group:"storage_providers"`

// ResolverParams defines the dependencies of NewResolverFromParams.
type ResolverParams struct {
	fx.In
	Config    *config.Config
	Providers []Provider `group:"storage_providers"`
}

// NewResolverFromParams builds the resolver and closes its connections on shutdown.
func NewResolverFromParams(lc fx.Lifecycle, p ResolverParams) *Resolver {
	r := NewResolver(p.Config.Controller.Storage, p.Providers...)
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return r.CloseAll()
		},
	})
	return r
}

// Module provides the storage Resolver.
var Module = fx.Options(
	fx.Provide(NewResolverFromParams),
)
