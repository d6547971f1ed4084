// Package unit models one piece of process equipment: its devices, the loops and
// interlocks acting on it, the safety modules guarding it and its output routing.
package unit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/alarm"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/historian"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/safety"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/tag"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/support/util/exception"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/support/util/logger"
)

const moduleName = "unit"

// Status is the overall health of a unit.
type Status string

const (
	StatusRunning Status = "RUNNING"
	StatusWarning Status = "WARNING"
	StatusFault   Status = "FAULT"
)

// SafetyBinding feeds a safety module from tag conditions, one condition per channel.
type SafetyBinding struct {
	Module   *safety.Module
	Channels []tag.Condition
}

type deviceState struct {
	device Device
	keys   map[string]struct{}
	failed atomic.Bool
}

// Unit is a process unit. The scan goroutine calls the stage methods; devices, loops,
// interlocks and bindings may be added from elsewhere at any time.
type Unit struct {
	name   string
	store  *tag.Store
	alarms alarm.Raiser

	mu         sync.RWMutex
	devices    []*deviceState
	loops      []*LoopBinding
	interlocks []*interlockState
	safety     []SafetyBinding
	outputs    []OutputBinding
	limitState map[string]tag.LimitState
}

// New creates a unit writing to store and raising alarms through alarms.
func New(name string, store *tag.Store, alarms alarm.Raiser) *Unit {
	return &Unit{
		name:       name,
		store:      store,
		alarms:     alarms,
		limitState: make(map[string]tag.LimitState),
	}
}

// Name returns the unit name.
func (u *Unit) Name() string {
	return u.name
}

// TagName returns the fully qualified tag name for a device key.
func (u *Unit) TagName(device, key string) string {
	return u.name + "." + device + "." + key
}

// DefineTag registers a unit tag with its engineering unit and limits.
func (u *Unit) DefineTag(name, engUnit string, limits tag.Limits) {
	u.store.Define(name, engUnit, limits)
}

// AddDevice attaches a device. Adding a device name twice is a no-op and returns false.
func (u *Unit) AddDevice(d Device) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, ds := range u.devices {
		if ds.device.Name() == d.Name() {
			return false
		}
	}
	u.devices = append(u.devices, &deviceState{device: d, keys: make(map[string]struct{})})
	return true
}

// AddLoop attaches a loop binding. Adding a loop name twice is a no-op and returns false.
func (u *Unit) AddLoop(b *LoopBinding) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, l := range u.loops {
		if l.Name() == b.Name() {
			return false
		}
	}
	b.store = u.store
	u.loops = append(u.loops, b)
	return true
}

// AddInterlock registers an interlock. Adding a name twice is a no-op and returns false.
func (u *Unit) AddInterlock(il Interlock) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, s := range u.interlocks {
		if s.Name == il.Name {
			return false
		}
	}
	u.interlocks = append(u.interlocks, &interlockState{Interlock: il})
	return true
}

// SetInterlockEnabled enables or disables an interlock by name.
func (u *Unit) SetInterlockEnabled(name string, enabled bool) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, s := range u.interlocks {
		if s.Name == name {
			s.Enabled = enabled
			if !enabled {
				s.active = false
			}
			return nil
		}
	}
	return exception.Rejected(moduleName, exception.ErrUnknownInterlock, "unit %s has no interlock %s", u.name, name)
}

// AddSafety attaches a safety module. The number of conditions must match the module's
// channel count.
func (u *Unit) AddSafety(b SafetyBinding) error {
	if len(b.Channels) != b.Module.Architecture().Channels() {
		return exception.Configuration(moduleName, exception.ErrInvalidConfig,
			"unit %s: safety module %s needs %d channel conditions, got %d",
			u.name, b.Module.Name(), b.Module.Architecture().Channels(), len(b.Channels))
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, s := range u.safety {
		if s.Module.Name() == b.Module.Name() {
			return nil
		}
	}
	u.safety = append(u.safety, b)
	return nil
}

// AddOutput routes a tag to an output device key.
func (u *Unit) AddOutput(b OutputBinding) {
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, o := range u.outputs {
		if o.Device == b.Device && o.Key == b.Key {
			return
		}
	}
	u.outputs = append(u.outputs, b)
}

// Loops returns the unit's loop bindings.
func (u *Unit) Loops() []*LoopBinding {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return append([]*LoopBinding(nil), u.loops...)
}

// Loop returns the binding for a loop name.
func (u *Unit) Loop(name string) (*LoopBinding, bool) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	for _, l := range u.loops {
		if l.Name() == name {
			return l, true
		}
	}
	return nil, false
}

// SafetyModules returns the attached safety modules.
func (u *Unit) SafetyModules() []*safety.Module {
	u.mu.RLock()
	defer u.mu.RUnlock()
	out := make([]*safety.Module, 0, len(u.safety))
	for _, s := range u.safety {
		out = append(out, s.Module)
	}
	return out
}

func (u *Unit) commAlarmID(device string) string {
	return u.name + "." + device + "_COMM"
}

// ReadInputs pulls diagnostics from every device into tags. A failing device has its tags
// marked Bad and raises a communication alarm; the remaining devices are still read.
func (u *Unit) ReadInputs(ctx context.Context, now time.Time) {
	u.mu.RLock()
	devices := append([]*deviceState(nil), u.devices...)
	u.mu.RUnlock()

	for _, ds := range devices {
		name := ds.device.Name()
		values, err := readDevice(ctx, ds.device)
		if err != nil {
			for key := range ds.keys {
				u.store.SetQuality(u.TagName(name, key), tag.QualityBad, now)
			}
			if !ds.failed.Swap(true) {
				logger.Warnf("Unit %s: device %s read failed: %v", u.name, name, err)
				u.alarms.Raise(u.commAlarmID(name), fmt.Sprintf("%s read failed: %v", name, err),
					alarm.PriorityMedium, alarm.CategoryCommunication, u.name)
			}
			continue
		}
		for key, v := range values {
			ds.keys[key] = struct{}{}
			u.store.Set(u.TagName(name, key), v, tag.QualityGood, now)
		}
		if ds.failed.Swap(false) {
			u.alarms.ReturnToNormal(u.commAlarmID(name))
			logger.Infof("Unit %s: device %s communication restored.", u.name, name)
		}
	}
}

func readDevice(ctx context.Context, d Device) (values map[string]float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = exception.FromPanic(moduleName, r)
		}
	}()
	return d.ReadDiagnostics(ctx)
}

// ExecuteInterlocks evaluates every enabled interlock and runs its action once on each
// false-to-true transition. Panics in predicates or actions are contained; action failures
// are returned together.
func (u *Unit) ExecuteInterlocks(ctx context.Context) error {
	type pending struct {
		state     *interlockState
		when      Predicate
		do        Action
		name      string
		wasActive bool
	}
	u.mu.RLock()
	interlocks := make([]pending, 0, len(u.interlocks))
	for _, s := range u.interlocks {
		if s.Enabled {
			interlocks = append(interlocks, pending{state: s, when: s.When, do: s.Do, name: s.Name, wasActive: s.active})
		}
	}
	u.mu.RUnlock()

	var errs *multierror.Error
	for _, p := range interlocks {
		holds, err := evaluatePredicate(p.when, u.store)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("interlock %s.%s predicate: %w", u.name, p.name, err))
			continue
		}
		if holds && !p.wasActive {
			logger.Warnf("Unit %s: interlock %s activated.", u.name, p.name)
			if err := runAction(ctx, p.do); err != nil {
				errs = multierror.Append(errs, fmt.Errorf("interlock %s.%s action: %w", u.name, p.name, err))
			}
		}
		u.mu.Lock()
		if p.state.Enabled {
			p.state.active = holds
		}
		u.mu.Unlock()
	}
	return errs.ErrorOrNil()
}

func evaluatePredicate(p Predicate, r tag.Reader) (holds bool, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = exception.FromPanic(moduleName, rec)
		}
	}()
	if p == nil {
		return false, nil
	}
	return p(r), nil
}

func runAction(ctx context.Context, a Action) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = exception.FromPanic(moduleName, rec)
		}
	}()
	if a == nil {
		return nil
	}
	return a(ctx)
}

// EvaluateSafety feeds each safety module from its channel conditions, evaluates it and
// publishes its outputs as 1/0 tags. A channel whose tag is missing or Bad is faulted.
func (u *Unit) EvaluateSafety(now time.Time) {
	u.mu.RLock()
	bindings := append([]SafetyBinding(nil), u.safety...)
	u.mu.RUnlock()

	for _, b := range bindings {
		for i, cond := range b.Channels {
			result, valid := cond.Evaluate(u.store)
			_ = b.Module.SetChannelFault(i, !valid)
			if valid {
				_ = b.Module.SetInput(i, result)
			}
		}
		res := b.Module.Evaluate(now)
		for name, permissive := range res.Outputs {
			v := 0.0
			if permissive {
				v = 1
			}
			u.store.Set(name, v, tag.QualityGood, now)
		}
	}
}

// WriteOutputs pushes bound tag values to output devices. Outputs gated by a tripped
// safety module receive their safe value.
func (u *Unit) WriteOutputs(ctx context.Context, now time.Time) {
	u.mu.RLock()
	outputs := append([]OutputBinding(nil), u.outputs...)
	devices := make(map[string]*deviceState, len(u.devices))
	for _, ds := range u.devices {
		devices[ds.device.Name()] = ds
	}
	tripped := make(map[string]bool, len(u.safety))
	for _, s := range u.safety {
		tripped[s.Module.Name()] = s.Module.Tripped()
	}
	u.mu.RUnlock()

	perDevice := make(map[string]map[string]float64)
	for _, o := range outputs {
		v := o.SafeValue
		if !gated(o, tripped) {
			t, ok := u.store.Get(o.SourceTag)
			if !ok || t.Quality == tag.QualityBad {
				continue
			}
			v = t.Value.Value
		}
		if perDevice[o.Device] == nil {
			perDevice[o.Device] = make(map[string]float64)
		}
		perDevice[o.Device][o.Key] = v
	}

	for name, values := range perDevice {
		ds, ok := devices[name]
		if !ok {
			continue
		}
		od, ok := ds.device.(OutputDevice)
		if !ok {
			continue
		}
		if err := applyOutputs(ctx, od, values); err != nil {
			logger.Warnf("Unit %s: writing outputs to %s failed: %v", u.name, name, err)
			u.alarms.Raise(u.commAlarmID(name), fmt.Sprintf("%s write failed: %v", name, err),
				alarm.PriorityMedium, alarm.CategoryCommunication, u.name)
		}
	}
}

func gated(o OutputBinding, tripped map[string]bool) bool {
	for _, m := range o.GatedBy {
		if tripped[m] {
			return true
		}
	}
	return false
}

func applyOutputs(ctx context.Context, d OutputDevice, values map[string]float64) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = exception.FromPanic(moduleName, r)
		}
	}()
	return d.ApplyOutputs(ctx, values)
}

// UpdateLimitAlarms raises or clears limit alarms for every unit tag whose band changed.
func (u *Unit) UpdateLimitAlarms() {
	for _, t := range u.tags() {
		if t.Limits.IsZero() {
			continue
		}
		state := t.LimitState()
		u.mu.Lock()
		prev := u.limitState[t.Name]
		u.limitState[t.Name] = state
		u.mu.Unlock()
		if state == prev {
			continue
		}
		if prev != tag.LimitNormal {
			u.alarms.ReturnToNormal(LimitAlarmID(t.Name, prev))
		}
		if state != tag.LimitNormal {
			u.alarms.Raise(LimitAlarmID(t.Name, state),
				fmt.Sprintf("%s %s limit: %g %s", t.Name, state, t.Value.Value, t.Unit),
				limitPriority(state), alarm.CategoryProcess, u.name)
		}
	}
}

// LimitAlarmID is the alarm id for a tag in a limit band, e.g. "R1.TT101.PV_HH".
func LimitAlarmID(tagName string, state tag.LimitState) string {
	return tagName + "_" + state.String()
}

func limitPriority(state tag.LimitState) alarm.Priority {
	if state == tag.LimitHighHigh || state == tag.LimitLowLow {
		return alarm.PriorityCritical
	}
	return alarm.PriorityHigh
}

// HistorianPoints returns the unit's current tag values as historian points.
func (u *Unit) HistorianPoints() []historian.DataPoint {
	return historian.FromSnapshot(u.tags())
}

func (u *Unit) tags() []tag.Tag {
	prefix := u.name + "."
	all := u.store.All()
	out := all[:0]
	for _, t := range all {
		if strings.HasPrefix(t.Name, prefix) {
			out = append(out, t)
		}
	}
	return out
}

// Status reports Fault while any attached safety module is tripped, Warning while any
// device is failing, otherwise Running.
func (u *Unit) Status() Status {
	u.mu.RLock()
	defer u.mu.RUnlock()
	for _, s := range u.safety {
		if s.Module.Tripped() {
			return StatusFault
		}
	}
	for _, ds := range u.devices {
		if ds.failed.Load() {
			return StatusWarning
		}
	}
	return StatusRunning
}
