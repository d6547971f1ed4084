// Package scan drives the fixed-period control cycle.
package scan

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/alarm"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/gateway"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/historian"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/metrics"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/tag"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/unit"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/support/util/exception"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/support/util/logger"
)

const moduleName = "scan"

// Alarm ids raised by the scheduler.
const (
	AlarmOverrun       = "SCAN_OVERRUN"
	AlarmCycleFault    = "SCAN_CYCLE_FAULT"
	AlarmPublishFailed = "GATEWAY_PUBLISH_FAILED"
)

// Stage names, in execution order.
const (
	StageReadInputs   = "read_inputs"
	StageLoops        = "loops"
	StageSafety       = "safety"
	StageBatch        = "batch"
	StageWriteOutputs = "write_outputs"
	StageAlarms       = "alarms"
	StageHistorian    = "historian"
	StagePublish      = "publish"
)

// Config configures the scheduler.
type Config struct {
	Period        time.Duration `yaml:"period" validate:"gte=0"`
	OverrunFactor float64       `yaml:"overrun_factor" validate:"gte=0"`
	// MaxParallelLoops bounds loop fan-out; zero means unbounded.
	MaxParallelLoops int `yaml:"max_parallel_loops" validate:"gte=0"`
}

// DefaultConfig returns a 100 ms period with the 1.5x overrun threshold.
func DefaultConfig() Config {
	return Config{Period: 100 * time.Millisecond, OverrunFactor: 1.5}
}

// BatchTicker is the part of the batch engine the scheduler drives.
type BatchTicker interface {
	Tick(dt time.Duration)
}

// AlarmManager is what the scheduler needs from the alarm manager.
type AlarmManager interface {
	alarm.Raiser
	Update(now time.Time) []string
}

// Stats are cumulative scheduler counters.
type Stats struct {
	Cycles       uint64        `json:"cycles"`
	MissedScans  uint64        `json:"missed_scans"`
	Faults       uint64        `json:"faults"`
	LastDuration time.Duration `json:"last_duration"`
	MaxDuration  time.Duration `json:"max_duration"`
	LastCycleAt  time.Time     `json:"last_cycle_at"`
	Running      bool          `json:"running"`
}

// Scheduler runs the scan cycle.
type Scheduler struct {
	cfg       Config
	store     *tag.Store
	units     []*unit.Unit
	batch     BatchTicker
	alarms    AlarmManager
	historian *historian.Historian
	gateway   gateway.Gateway
	recorder  metrics.ScanRecorder
	tracer    metrics.Tracer
	clock     Clock
	gate      func() bool

	mu             sync.Mutex
	stats          Stats
	lastCycle      time.Time
	publishFailing bool
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithGate makes cycles run only while gate returns true (e.g. while this node is primary).
func WithGate(gate func() bool) Option {
	return func(s *Scheduler) { s.gate = gate }
}

// WithMetrics sets the recorder and tracer.
func WithMetrics(r metrics.ScanRecorder, t metrics.Tracer) Option {
	return func(s *Scheduler) {
		if r != nil {
			s.recorder = r
		}
		if t != nil {
			s.tracer = t
		}
	}
}

// WithBatch sets the batch engine advanced in the batch stage.
func WithBatch(b BatchTicker) Option {
	return func(s *Scheduler) { s.batch = b }
}

// WithHistorian sets the historian fed in the historian stage.
func WithHistorian(h *historian.Historian) Option {
	return func(s *Scheduler) { s.historian = h }
}

// WithGateway sets the gateway used in the publish stage.
func WithGateway(g gateway.Gateway) Option {
	return func(s *Scheduler) { s.gateway = g }
}

// New creates a scheduler over units. Zero config values take their defaults.
//
// Parameters:
//
//	cfg: Period, overrun threshold and loop fan-out limit.
//	store: The tag store published in the final stage.
//	units: Process units executed each cycle, in order.
//	alarms: Receives overrun, cycle fault and publish alarms.
//	opts: Optional batch engine, historian, gateway, metrics, clock and gate.
//
// Returns: A pointer to the initialized Scheduler.
func New(cfg Config, store *tag.Store, units []*unit.Unit, alarms AlarmManager, opts ...Option) *Scheduler {
	def := DefaultConfig()
	if cfg.Period <= 0 {
		cfg.Period = def.Period
	}
	if cfg.OverrunFactor <= 0 {
		cfg.OverrunFactor = def.OverrunFactor
	}
	s := &Scheduler{
		cfg:      cfg,
		store:    store,
		units:    units,
		alarms:   alarms,
		recorder: metrics.NewNoOpScanRecorder(),
		tracer:   metrics.NewNoOpTracer(),
		clock:    RealClock(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Period returns the configured scan period.
func (s *Scheduler) Period() time.Duration {
	return s.cfg.Period
}

// Run executes cycles until ctx is cancelled. Cancellation is observed between cycles;
// an in-flight cycle always completes. Run returns nil on cancellation.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	s.lastCycle = time.Time{}
	s.mu.Unlock()
	s.setRunning(true)
	defer s.setRunning(false)
	logger.Infof("Scan scheduler started (period %s).", s.cfg.Period)

	for {
		select {
		case <-ctx.Done():
			logger.Infof("Scan scheduler stopped.")
			return nil
		default:
		}

		start := s.clock.Now()
		if s.gate == nil || s.gate() {
			s.safeCycle(context.WithoutCancel(ctx), start)
		}
		residual := s.cfg.Period - s.clock.Now().Sub(start)
		if residual < 0 {
			residual = 0
		}
		select {
		case <-ctx.Done():
			logger.Infof("Scan scheduler stopped.")
			return nil
		case <-s.clock.After(residual):
		}
	}
}

// RunCycle executes one cycle at now. Stage errors and panics are contained: they raise
// SCAN_CYCLE_FAULT and the cycle carries on with the next stage.
func (s *Scheduler) RunCycle(ctx context.Context, now time.Time) {
	s.mu.Lock()
	dt := s.cfg.Period
	if !s.lastCycle.IsZero() {
		dt = now.Sub(s.lastCycle)
	}
	s.lastCycle = now
	cycle := s.stats.Cycles + 1
	s.mu.Unlock()

	ctx, endSpan := s.tracer.StartCycleSpan(ctx, cycle)
	defer endSpan()

	var errs *multierror.Error
	run := func(name string, fn func(ctx context.Context) error) {
		if err := s.stage(ctx, name, fn); err != nil {
			errs = multierror.Append(errs, err)
		}
	}

	run(StageReadInputs, func(ctx context.Context) error {
		for _, u := range s.units {
			u.ReadInputs(ctx, now)
		}
		return nil
	})
	run(StageLoops, func(ctx context.Context) error {
		return s.executeLoops(ctx, dt, now)
	})
	run(StageSafety, func(ctx context.Context) error {
		var failures *multierror.Error
		for _, u := range s.units {
			u.EvaluateSafety(now)
			if err := u.ExecuteInterlocks(ctx); err != nil {
				failures = multierror.Append(failures, err)
			}
		}
		return failures.ErrorOrNil()
	})
	run(StageBatch, func(ctx context.Context) error {
		if s.batch != nil {
			s.batch.Tick(dt)
		}
		return nil
	})
	run(StageWriteOutputs, func(ctx context.Context) error {
		for _, u := range s.units {
			u.WriteOutputs(ctx, now)
		}
		return nil
	})
	run(StageAlarms, func(ctx context.Context) error {
		for _, u := range s.units {
			u.UpdateLimitAlarms()
		}
		s.alarms.Update(now)
		return nil
	})
	run(StageHistorian, func(ctx context.Context) error {
		if s.historian == nil {
			return nil
		}
		var points []historian.DataPoint
		for _, u := range s.units {
			points = append(points, u.HistorianPoints()...)
		}
		s.historian.Append(points...)
		s.historian.Prune(now)
		return nil
	})
	run(StagePublish, func(ctx context.Context) error {
		s.publish(ctx)
		return nil
	})

	duration := s.clock.Now().Sub(now)
	overrun := float64(duration) > s.cfg.OverrunFactor*float64(s.cfg.Period)
	cycleErr := errs.ErrorOrNil()

	s.mu.Lock()
	s.stats.Cycles++
	s.stats.LastDuration = duration
	s.stats.LastCycleAt = now
	if duration > s.stats.MaxDuration {
		s.stats.MaxDuration = duration
	}
	if overrun {
		s.stats.MissedScans++
	}
	if cycleErr != nil {
		s.stats.Faults++
	}
	s.mu.Unlock()

	s.recorder.RecordCycle(ctx, duration, overrun)
	if overrun {
		logger.Warnf("Scan cycle %d overran: %s (period %s).", cycle, duration, s.cfg.Period)
		s.tracer.RecordEvent(ctx, "scan_overrun", map[string]interface{}{"duration_ms": duration.Milliseconds()})
		s.alarms.Raise(AlarmOverrun, fmt.Sprintf("scan cycle took %s, period %s", duration, s.cfg.Period),
			alarm.PriorityMedium, alarm.CategorySystem, moduleName)
	}
	if cycleErr != nil {
		logger.Errorf("Scan cycle %d fault: %v", cycle, cycleErr)
		s.tracer.RecordError(ctx, moduleName, cycleErr)
		s.alarms.Raise(AlarmCycleFault, flatten(errs),
			alarm.PriorityHigh, alarm.CategorySystem, moduleName)
	}
}

// safeCycle runs one cycle and turns a panic escaping it into SCAN_CYCLE_FAULT, so the
// scan loop outlives faults outside the stages themselves.
func (s *Scheduler) safeCycle(ctx context.Context, now time.Time) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		err := exception.FromPanic(moduleName, r)
		s.mu.Lock()
		s.stats.Faults++
		s.mu.Unlock()
		logger.Errorf("Scan cycle fault outside stages: %v", err)
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Errorf("Scan cycle fault could not be alarmed: %v", r)
				}
			}()
			s.alarms.Raise(AlarmCycleFault, err.Error(), alarm.PriorityHigh, alarm.CategorySystem, moduleName)
		}()
	}()
	s.RunCycle(ctx, now)
}

func (s *Scheduler) stage(ctx context.Context, name string, fn func(ctx context.Context) error) (err error) {
	ctx, endSpan := s.tracer.StartStageSpan(ctx, name)
	start := s.clock.Now()
	defer func() {
		if r := recover(); r != nil {
			err = exception.FromPanic(moduleName, r)
		}
		if err != nil {
			err = fmt.Errorf("stage %s: %w", name, err)
		}
		s.recorder.RecordStage(ctx, name, s.clock.Now().Sub(start), err)
		endSpan()
	}()
	return fn(ctx)
}

// executeLoops runs every enabled loop concurrently and waits for all of them.
// Cascade setpoints are captured before the fan-out, so an inner loop always follows its
// outer loop's output from the previous scan.
func (s *Scheduler) executeLoops(ctx context.Context, dt time.Duration, now time.Time) error {
	type job struct {
		binding *unit.LoopBinding
		cascade unit.CascadeInput
	}
	var jobs []job
	for _, u := range s.units {
		for _, b := range u.Loops() {
			jobs = append(jobs, job{binding: b, cascade: b.ReadCascade()})
		}
	}

	var g errgroup.Group
	if s.cfg.MaxParallelLoops > 0 {
		g.SetLimit(s.cfg.MaxParallelLoops)
	}
	var mu sync.Mutex
	var errs *multierror.Error
	for _, j := range jobs {
		b := j.binding
		cascade := j.cascade
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = exception.FromPanic(moduleName, r)
				}
				if err != nil {
					mu.Lock()
					errs = multierror.Append(errs, fmt.Errorf("loop %s: %w", b.Name(), err))
					mu.Unlock()
				}
			}()
			if err := b.RunWith(dt, now, cascade); err != nil {
				return err
			}
			s.recorder.RecordLoopOutput(ctx, b.Name(), b.Loop.Output())
			return nil
		})
	}
	_ = g.Wait()
	return errs.ErrorOrNil()
}

// publish sends the snapshot. A failure raises one alarm per failure episode and is not
// a cycle fault.
func (s *Scheduler) publish(ctx context.Context) {
	if s.gateway == nil {
		return
	}
	start := s.clock.Now()
	err := s.gateway.Publish(ctx, s.store.Snapshot())
	s.recorder.RecordPublish(ctx, s.gateway.Name(), s.clock.Now().Sub(start), err)

	s.mu.Lock()
	wasFailing := s.publishFailing
	s.publishFailing = err != nil
	s.mu.Unlock()

	switch {
	case err != nil && !wasFailing:
		logger.Warnf("Gateway %s publish failed: %v", s.gateway.Name(), err)
		s.alarms.Raise(AlarmPublishFailed, fmt.Sprintf("publish via %s failed: %v", s.gateway.Name(), err),
			alarm.PriorityMedium, alarm.CategoryCommunication, moduleName)
	case err == nil && wasFailing:
		logger.Infof("Gateway %s publish recovered.", s.gateway.Name())
		s.alarms.ReturnToNormal(AlarmPublishFailed)
	}
}

func flatten(errs *multierror.Error) string {
	msgs := make([]string, 0, len(errs.Errors))
	for _, err := range errs.Errors {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Stats returns the cumulative counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// GatewayHealthy reports the configured gateway's health; true when none is configured.
func (s *Scheduler) GatewayHealthy() bool {
	if s.gateway == nil {
		return true
	}
	return s.gateway.Healthy()
}

func (s *Scheduler) setRunning(running bool) {
	s.mu.Lock()
	s.stats.Running = running
	s.mu.Unlock()
}
