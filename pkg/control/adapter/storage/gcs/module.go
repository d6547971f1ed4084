package gcs

import (
	"go.uber.org/fx"

	"github.com/anoop6543/PharmaVax-sub001/pkg/control/adapter/storage"
)

// Module contributes the GCS provider to the storage provider group.
var Module = fx.Options(
	fx.Provide(fx.Annotate(
		NewProvider,
		fx.As(new(storage.Provider)),
		fx.ResultTags(storage.ProviderGroup),
	)),
)
