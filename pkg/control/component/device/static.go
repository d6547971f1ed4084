package device

import (
	"context"
	"fmt"
	"sync"

	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/unit"
)

// StaticDevice reports fixed diagnostic values. Applied outputs are stored and read back
// under the same keys, which makes it usable as a valve or pump stand-in.
type StaticDevice struct {
	name string

	mu     sync.Mutex
	values map[string]float64
}

// NewStaticDevice builds a device whose params map is its initial diagnostics.
func NewStaticDevice(name string, properties map[string]interface{}) (*StaticDevice, error) {
	values := make(map[string]float64, len(properties))
	for k, raw := range properties {
		v, err := toFloat(raw)
		if err != nil {
			return nil, fmt.Errorf("param %s: %w", k, err)
		}
		values[k] = v
	}
	return &StaticDevice{name: name, values: values}, nil
}

// Name returns the device name.
func (d *StaticDevice) Name() string {
	return d.name
}

// ReadDiagnostics returns a copy of the current values.
func (d *StaticDevice) ReadDiagnostics(ctx context.Context) (map[string]float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]float64, len(d.values))
	for k, v := range d.values {
		out[k] = v
	}
	return out, nil
}

// ApplyOutputs stores the commanded values.
func (d *StaticDevice) ApplyOutputs(ctx context.Context, values map[string]float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for k, v := range values {
		d.values[k] = v
	}
	return nil
}

func toFloat(raw interface{}) (float64, error) {
	switch v := raw.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case uint64:
		return float64(v), nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	}
	return 0, fmt.Errorf("expected a number, got %T", raw)
}

var _ unit.OutputDevice = (*StaticDevice)(nil)
