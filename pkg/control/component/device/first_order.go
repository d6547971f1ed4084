package device

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/unit"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/support/util/configbinder"
)

// Device type names accepted in unit configuration.
const (
	TypeFirstOrder = "first_order"
	TypeStatic     = "static"
	TypeFlaky      = "flaky"
)

// FirstOrderParams configures a FirstOrderProcess.
type FirstOrderParams struct {
	// Gain is the steady-state change of PV per unit of input.
	Gain         float64       `yaml:"gain"`
	TimeConstant time.Duration `yaml:"time_constant"`
	Ambient      float64       `yaml:"ambient"`
	// Initial is the starting PV. Nil starts at Ambient.
	Initial  *float64 `yaml:"initial"`
	PVKey    string   `yaml:"pv_key"`
	InputKey string   `yaml:"input_key"`
	// Noise is the amplitude of uniform measurement noise added to reads.
	Noise float64 `yaml:"noise"`
}

// DefaultFirstOrderParams returns a slow heating process.
func DefaultFirstOrderParams() FirstOrderParams {
	return FirstOrderParams{
		Gain:         1,
		TimeConstant: 30 * time.Second,
		Ambient:      20,
		PVKey:        "pv",
		InputKey:     "input",
	}
}

// FirstOrderProcess simulates a first-order lag: PV approaches Ambient + Gain*input with
// the configured time constant. The model advances on every read by the wall time elapsed
// since the previous read.
type FirstOrderProcess struct {
	name   string
	params FirstOrderParams
	now    func() time.Time
	rng    *rand.Rand

	mu    sync.Mutex
	pv    float64
	input float64
	last  time.Time
}

// NewFirstOrderProcess builds a process from a parameter map.
func NewFirstOrderProcess(name string, properties map[string]interface{}, now func() time.Time) (*FirstOrderProcess, error) {
	p := DefaultFirstOrderParams()
	if err := configbinder.BindProperties(properties, &p); err != nil {
		return nil, err
	}
	if p.TimeConstant <= 0 {
		return nil, fmt.Errorf("time_constant must be positive, got %s", p.TimeConstant)
	}
	if p.PVKey == "" || p.InputKey == "" || p.PVKey == p.InputKey {
		return nil, fmt.Errorf("pv_key and input_key must be distinct and non-empty")
	}
	if now == nil {
		now = time.Now
	}
	pv := p.Ambient
	if p.Initial != nil {
		pv = *p.Initial
	}
	return &FirstOrderProcess{
		name:   name,
		params: p,
		now:    now,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		pv:     pv,
	}, nil
}

// Name returns the device name.
func (d *FirstOrderProcess) Name() string {
	return d.name
}

// ReadDiagnostics advances the model and reports PV and the applied input.
func (d *FirstOrderProcess) ReadDiagnostics(ctx context.Context) (map[string]float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.advanceLocked(d.now())
	pv := d.pv
	if d.params.Noise > 0 {
		pv += (d.rng.Float64()*2 - 1) * d.params.Noise
	}
	return map[string]float64{
		d.params.PVKey:    pv,
		d.params.InputKey: d.input,
	}, nil
}

// ApplyOutputs sets the process input. Keys other than the input key are ignored.
func (d *FirstOrderProcess) ApplyOutputs(ctx context.Context, values map[string]float64) error {
	v, ok := values[d.params.InputKey]
	if !ok {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.advanceLocked(d.now())
	d.input = v
	return nil
}

// PV returns the noiseless process value without advancing the model.
func (d *FirstOrderProcess) PV() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pv
}

func (d *FirstOrderProcess) advanceLocked(now time.Time) {
	if d.last.IsZero() {
		d.last = now
		return
	}
	dt := now.Sub(d.last)
	if dt <= 0 {
		return
	}
	d.last = now
	target := d.params.Ambient + d.params.Gain*d.input
	decay := math.Exp(-dt.Seconds() / d.params.TimeConstant.Seconds())
	d.pv = target + (d.pv-target)*decay
}

var _ unit.OutputDevice = (*FirstOrderProcess)(nil)
