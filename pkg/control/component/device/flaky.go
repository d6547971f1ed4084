package device

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/unit"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/support/util/configbinder"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/support/util/exception"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/support/util/logger"
)

// FlakyParams configures a FlakyDevice.
type FlakyParams struct {
	Key   string  `yaml:"key"`
	Value float64 `yaml:"value"`
	// FailRate is the probability (0.0 - 1.0) that a read fails.
	FailRate float64 `yaml:"fail_rate"`
	// FailCount fails the first N reads and then always succeeds. 0 means FailRate applies.
	FailCount int `yaml:"fail_count"`
}

// FlakyDevice is a sensor with an unreliable link, used to exercise communication alarms
// and Bad tag quality.
type FlakyDevice struct {
	name   string
	params FlakyParams

	mu    sync.Mutex
	rng   *rand.Rand
	reads int
}

// NewFlakyDevice builds a flaky sensor from a parameter map.
func NewFlakyDevice(name string, properties map[string]interface{}) (*FlakyDevice, error) {
	p := FlakyParams{Key: "pv", FailRate: 0.5}
	if err := configbinder.BindProperties(properties, &p); err != nil {
		return nil, err
	}
	if p.FailRate < 0 || p.FailRate > 1 {
		return nil, fmt.Errorf("fail_rate must be within [0, 1], got %g", p.FailRate)
	}
	return &FlakyDevice{
		name:   name,
		params: p,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// Name returns the device name.
func (d *FlakyDevice) Name() string {
	return d.name
}

// ReadDiagnostics returns the configured value or a transient communication error.
func (d *FlakyDevice) ReadDiagnostics(ctx context.Context) (map[string]float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reads++

	var fail bool
	if d.params.FailCount > 0 {
		fail = d.reads <= d.params.FailCount
	} else {
		fail = d.rng.Float64() < d.params.FailRate
	}
	if fail {
		logger.Debugf("Flaky device %s: read %d failed.", d.name, d.reads)
		return nil, exception.NewControlErrorf("device", exception.KindTransient, "device %s: no response on read %d", d.name, d.reads)
	}
	return map[string]float64{d.params.Key: d.params.Value}, nil
}

var _ unit.Device = (*FlakyDevice)(nil)
