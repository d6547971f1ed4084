package device

import (
	"go.uber.org/fx"

	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/controller"
)

// NewDefaultRegistry creates a registry on the wall clock.
func NewDefaultRegistry() *Registry {
	return NewRegistry(nil)
}

// Module provides the device registry as the controller's DeviceFactory.
var Module = fx.Options(
	fx.Provide(NewDefaultRegistry),
	fx.Provide(func(r *Registry) controller.DeviceFactory { return r }),
)
