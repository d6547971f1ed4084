// Package pid implements the single-input/single-output PID controller used by every
// control loop: derivative on measurement with a first-order filter, back-calculation
// anti-windup, setpoint ramping, output slew limiting and bumpless mode transfer.
package pid

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/anoop6543/PharmaVax-sub001/pkg/control/support/util/exception"
)

const moduleName = "pid"

// Mode is the loop's operating mode.
type Mode string

const (
	ModeManual  Mode = "MANUAL"
	ModeAuto    Mode = "AUTO"
	ModeCascade Mode = "CASCADE"
)

// ParseMode parses a mode name.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToUpper(strings.TrimSpace(s))) {
	case ModeManual:
		return ModeManual, nil
	case ModeAuto:
		return ModeAuto, nil
	case ModeCascade:
		return ModeCascade, nil
	}
	return "", fmt.Errorf("unknown loop mode %q", s)
}

// Action selects the sign of the error. A reverse-acting loop (the usual heating loop)
// raises its output when PV falls below SP.
type Action string

const (
	ActionReverse Action = "REVERSE"
	ActionDirect  Action = "DIRECT"
)

// Config holds a loop's tuning and limits.
type Config struct {
	Name      string  `yaml:"name" validate:"required"`
	Kp        float64 `yaml:"kp" validate:"gte=0"`
	Ki        float64 `yaml:"ki" validate:"gte=0"` // integral gain per second
	Kd        float64 `yaml:"kd" validate:"gte=0"` // derivative gain in seconds
	OutputMin float64 `yaml:"output_min"`
	OutputMax float64 `yaml:"output_max"`
	// RateLimit bounds the output change in units per second. Zero disables it.
	RateLimit float64 `yaml:"rate_limit" validate:"gte=0"`
	// DerivativeFilter is the time constant of the derivative low-pass filter.
	DerivativeFilter time.Duration `yaml:"derivative_filter"`
	// SetpointRamp moves the working setpoint toward the target at this many units per second. Zero steps immediately.
	SetpointRamp    float64 `yaml:"setpoint_ramp" validate:"gte=0"`
	Action          Action  `yaml:"action"`
	InitialSetpoint float64 `yaml:"setpoint"`
	InitialOutput   float64 `yaml:"initial_output"`
	InitialMode     Mode    `yaml:"mode"`
}

// Validate checks the configuration.
func (c Config) Validate() error {
	switch {
	case c.Name == "":
		return fmt.Errorf("loop name is required")
	case c.OutputMax <= c.OutputMin:
		return fmt.Errorf("loop %s: output_max (%g) must exceed output_min (%g)", c.Name, c.OutputMax, c.OutputMin)
	case c.Kp < 0 || c.Ki < 0 || c.Kd < 0:
		return fmt.Errorf("loop %s: gains must be non-negative", c.Name)
	case c.RateLimit < 0 || c.SetpointRamp < 0 || c.DerivativeFilter < 0:
		return fmt.Errorf("loop %s: rate limits and filter constant must be non-negative", c.Name)
	}
	switch c.Action {
	case "", ActionReverse, ActionDirect:
	default:
		return fmt.Errorf("loop %s: unknown action %q", c.Name, c.Action)
	}
	switch c.InitialMode {
	case "", ModeManual, ModeAuto, ModeCascade:
	default:
		return fmt.Errorf("loop %s: unknown mode %q", c.Name, c.InitialMode)
	}
	return nil
}

// Status is a point-in-time view of a loop.
type Status struct {
	Name           string  `json:"name"`
	Mode           Mode    `json:"mode"`
	Enabled        bool    `json:"enabled"`
	Setpoint       float64 `json:"setpoint"`
	TargetSetpoint float64 `json:"target_setpoint"`
	ProcessValue   float64 `json:"process_value"`
	Output         float64 `json:"output"`
	Integral       float64 `json:"integral"`
	Derivative     float64 `json:"derivative"`
	Kp             float64 `json:"kp"`
	Ki             float64 `json:"ki"`
	Kd             float64 `json:"kd"`
	Executions     uint64  `json:"executions"`
}

// Loop is one PID controller. All methods are safe for concurrent use; the scan goroutine
// calls Execute while operator commands change mode, setpoint and tuning.
type Loop struct {
	mu         sync.Mutex
	cfg        Config
	mode       Mode
	enabled    bool
	setpoint   float64
	target     float64
	pv         float64
	output     float64
	integral   float64
	bias       float64
	dFiltered  float64
	lastPV     float64
	havePV     bool
	executions uint64
}

// New creates a Loop from a validated configuration.
//
// Parameters:
//
//	cfg: Gains, limits and initial mode. An empty Action means reverse acting.
//
// Returns:
//
//	The loop, or a KindConfiguration error when cfg fails validation.
func New(cfg Config) (*Loop, error) {
	if err := cfg.Validate(); err != nil {
		return nil, exception.Configuration(moduleName, exception.ErrInvalidConfig, "%v", err)
	}
	if cfg.Action == "" {
		cfg.Action = ActionReverse
	}
	mode := cfg.InitialMode
	if mode == "" {
		mode = ModeManual
	}
	l := &Loop{
		cfg:      cfg,
		mode:     mode,
		enabled:  true,
		setpoint: cfg.InitialSetpoint,
		target:   cfg.InitialSetpoint,
	}
	l.output = l.clamp(cfg.InitialOutput)
	return l, nil
}

// Name returns the loop name.
func (l *Loop) Name() string {
	return l.cfg.Name
}

// Execute runs one control step with the measured pv and the time since the previous step.
// It returns the new output. Non-positive dt leaves the output unchanged.
func (l *Loop) Execute(pv float64, dt time.Duration) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.pv = pv
	seconds := dt.Seconds()
	if !l.enabled || seconds <= 0 || math.IsNaN(pv) || math.IsInf(pv, 0) {
		return l.output
	}
	l.executions++

	if l.mode == ModeManual {
		l.lastPV = pv
		l.havePV = true
		l.dFiltered = 0
		return l.output
	}

	l.rampSetpointLocked(seconds)
	e := l.errorOf(pv)
	p := l.cfg.Kp * e

	rawD := 0.0
	if l.havePV && l.cfg.Kd > 0 {
		rawD = l.cfg.Kd * l.actionSign() * (pv - l.lastPV) / seconds
	}
	if tau := l.cfg.DerivativeFilter.Seconds(); tau > 0 {
		alpha := seconds / (tau + seconds)
		l.dFiltered += alpha * (rawD - l.dFiltered)
	} else {
		l.dFiltered = rawD
	}
	l.lastPV = pv
	l.havePV = true

	if l.cfg.Ki > 0 {
		l.integral += l.cfg.Ki * e * seconds
	} else {
		l.integral = 0
	}

	raw := p + l.integral + l.dFiltered + l.bias
	out := l.clamp(raw)
	if l.cfg.RateLimit > 0 {
		step := l.cfg.RateLimit * seconds
		out = math.Max(l.output-step, math.Min(l.output+step, out))
	}
	if out != raw && l.cfg.Ki > 0 {
		// Back-calculation: the integrator holds exactly what reproduces the delivered output.
		l.integral = out - p - l.dFiltered - l.bias
	}
	l.output = out
	return out
}

// SetMode changes the mode without a step in the output.
func (l *Loop) SetMode(mode Mode) error {
	switch mode {
	case ModeManual, ModeAuto, ModeCascade:
	default:
		return exception.Rejected(moduleName, exception.ErrLoopMode, "loop %s: unknown mode %q", l.cfg.Name, mode)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if mode == l.mode {
		return nil
	}
	l.mode = mode
	if mode != ModeManual {
		l.retrackLocked()
	}
	return nil
}

// Mode returns the current mode.
func (l *Loop) Mode() Mode {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.mode
}

// SetSetpoint sets the operator setpoint target. It is rejected in Cascade, where the
// setpoint belongs to the upstream loop.
func (l *Loop) SetSetpoint(sp float64) error {
	if math.IsNaN(sp) || math.IsInf(sp, 0) {
		return exception.Rejected(moduleName, exception.ErrInvalidConfig, "loop %s: setpoint must be finite", l.cfg.Name)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.mode == ModeCascade {
		return exception.Rejected(moduleName, exception.ErrLoopMode, "loop %s: setpoint is remote in cascade", l.cfg.Name)
	}
	l.target = sp
	if l.cfg.SetpointRamp <= 0 {
		l.setpoint = sp
	}
	return nil
}

// SetCascadeSetpoint is written by the upstream loop. It takes effect immediately and is
// ignored outside Cascade mode.
func (l *Loop) SetCascadeSetpoint(sp float64) {
	if math.IsNaN(sp) || math.IsInf(sp, 0) {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.mode != ModeCascade {
		return
	}
	l.setpoint = sp
	l.target = sp
}

// SetOutput sets the manual output. It is rejected outside Manual mode.
func (l *Loop) SetOutput(out float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.mode != ModeManual {
		return exception.Rejected(moduleName, exception.ErrLoopMode, "loop %s: manual output requires MANUAL mode", l.cfg.Name)
	}
	l.output = l.clamp(out)
	return nil
}

// SetTunings changes the gains. The integrator is re-seeded so the output does not jump.
func (l *Loop) SetTunings(kp, ki, kd float64) error {
	if kp < 0 || ki < 0 || kd < 0 {
		return exception.Rejected(moduleName, exception.ErrInvalidConfig, "loop %s: gains must be non-negative", l.cfg.Name)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cfg.Kp, l.cfg.Ki, l.cfg.Kd = kp, ki, kd
	if l.mode != ModeManual {
		l.retrackLocked()
	}
	return nil
}

// SetEnabled enables or disables execution. A disabled loop holds its output.
func (l *Loop) SetEnabled(enabled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.enabled = enabled
}

// Enabled reports whether the loop executes.
func (l *Loop) Enabled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.enabled
}

// Output returns the last computed output.
func (l *Loop) Output() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.output
}

// Status returns a snapshot.
func (l *Loop) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Status{
		Name:           l.cfg.Name,
		Mode:           l.mode,
		Enabled:        l.enabled,
		Setpoint:       l.setpoint,
		TargetSetpoint: l.target,
		ProcessValue:   l.pv,
		Output:         l.output,
		Integral:       l.integral,
		Derivative:     l.dFiltered,
		Kp:             l.cfg.Kp,
		Ki:             l.cfg.Ki,
		Kd:             l.cfg.Kd,
		Executions:     l.executions,
	}
}

// retrackLocked seeds the integrator (or the manual-reset bias when Ki is zero) so that the
// next Execute reproduces the current output for the current PV.
func (l *Loop) retrackLocked() {
	p := l.cfg.Kp * l.errorOf(l.pv)
	l.dFiltered = 0
	if l.cfg.Ki > 0 {
		l.integral = l.output - p
		l.bias = 0
	} else {
		l.integral = 0
		l.bias = l.output - p
	}
}

func (l *Loop) rampSetpointLocked(seconds float64) {
	if l.setpoint == l.target || l.cfg.SetpointRamp <= 0 {
		l.setpoint = l.target
		return
	}
	step := l.cfg.SetpointRamp * seconds
	if math.Abs(l.target-l.setpoint) <= step {
		l.setpoint = l.target
	} else if l.target > l.setpoint {
		l.setpoint += step
	} else {
		l.setpoint -= step
	}
}

func (l *Loop) errorOf(pv float64) float64 {
	if l.cfg.Action == ActionDirect {
		return pv - l.setpoint
	}
	return l.setpoint - pv
}

// actionSign is d(error)/d(pv).
func (l *Loop) actionSign() float64 {
	if l.cfg.Action == ActionDirect {
		return 1
	}
	return -1
}

func (l *Loop) clamp(v float64) float64 {
	return math.Max(l.cfg.OutputMin, math.Min(l.cfg.OutputMax, v))
}
