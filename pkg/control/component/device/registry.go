// Package device provides the simulated field equipment used by the demo plant and by tests.
// Devices are created by type name from the unit configuration through a Registry of builders.
package device

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/config"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/controller"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/unit"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/support/util/logger"
)

// Builder creates a device from its configured name and parameter map.
type Builder func(name string, params map[string]interface{}) (unit.Device, error)

// Registry maps device type names to builders.
type Registry struct {
	mu       sync.RWMutex
	builders map[string]Builder
}

// NewRegistry creates a registry with the built-in simulated types registered.
// now is the clock handed to time-dependent devices; nil means time.Now.
func NewRegistry(now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	r := &Registry{builders: make(map[string]Builder)}
	r.RegisterBuilder(TypeFirstOrder, func(name string, params map[string]interface{}) (unit.Device, error) {
		return NewFirstOrderProcess(name, params, now)
	})
	r.RegisterBuilder(TypeStatic, func(name string, params map[string]interface{}) (unit.Device, error) {
		return NewStaticDevice(name, params)
	})
	r.RegisterBuilder(TypeFlaky, func(name string, params map[string]interface{}) (unit.Device, error) {
		return NewFlakyDevice(name, params)
	})
	return r
}

// RegisterBuilder registers or replaces the builder for a device type.
func (r *Registry) RegisterBuilder(deviceType string, b Builder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builders[deviceType] = b
	logger.Debugf("Device type '%s' was registered.", deviceType)
}

// Types returns the registered type names, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.builders))
	for t := range r.builders {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// NewDevice implements controller.DeviceFactory.
func (r *Registry) NewDevice(unitName string, cfg config.DeviceConfig) (unit.Device, error) {
	r.mu.RLock()
	b, ok := r.builders[cfg.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("device %s.%s: unknown device type %q (known: %v)", unitName, cfg.Name, cfg.Type, r.Types())
	}
	d, err := b(cfg.Name, cfg.Params)
	if err != nil {
		return nil, fmt.Errorf("device %s.%s: %w", unitName, cfg.Name, err)
	}
	logger.Debugf("Device %s.%s created (type %s).", unitName, cfg.Name, cfg.Type)
	return d, nil
}

var _ controller.DeviceFactory = (*Registry)(nil)
