package safety

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/alarm"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/audit"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/support/util/exception"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/support/util/logger"
)

const (
	moduleName = "safety"
	systemUser = "system"
)

// Config describes a voting module.
type Config struct {
	Name         string       `yaml:"name" validate:"required"`
	Architecture Architecture `yaml:"architecture"`
	SIL          SIL          `yaml:"sil"`
	// Outputs are the permissives driven by the module; all are false while tripped.
	Outputs []string `yaml:"outputs"`
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("safety module name is required")
	}
	if _, err := ParseArchitecture(string(c.Architecture)); err != nil {
		return fmt.Errorf("safety module %s: %w", c.Name, err)
	}
	if !c.SIL.Valid() {
		return fmt.Errorf("safety module %s: SIL must be between 1 and 4, got %d", c.Name, c.SIL)
	}
	return nil
}

// ChannelState is the visible state of one input channel.
type ChannelState struct {
	Index       int  `json:"index"`
	Raw         bool `json:"raw"`
	Forced      bool `json:"forced"`
	ForcedValue bool `json:"forced_value"`
	Fault       bool `json:"fault"`
	Effective   bool `json:"effective"`
}

// Result is the outcome of one evaluation.
type Result struct {
	Tripped     bool            `json:"tripped"`
	Demand      bool            `json:"demand"`
	Discrepancy bool            `json:"discrepancy"`
	MasterFault bool            `json:"master_fault"`
	Outputs     map[string]bool `json:"outputs"`
}

// Status is a point-in-time view of a module.
type Status struct {
	Name         string          `json:"name"`
	Architecture Architecture    `json:"architecture"`
	SIL          SIL             `json:"sil"`
	Tripped      bool            `json:"tripped"`
	TripReason   string          `json:"trip_reason,omitempty"`
	MasterFault  bool            `json:"master_fault"`
	Discrepancy  bool            `json:"discrepancy"`
	AnyForced    bool            `json:"any_forced"`
	Channels     []ChannelState  `json:"channels"`
	Outputs      map[string]bool `json:"outputs"`
	LastSelfTest time.Time       `json:"last_self_test"`
	Trips        int             `json:"trips"`
}

// Module is one safety voting function.
type Module struct {
	mu            sync.Mutex
	cfg           Config
	raw           []bool
	faults        []bool
	forced        []bool
	forcedValue   []bool
	tripped       bool
	tripReason    string
	masterFault   bool
	inDiscrepancy bool
	lastSelfTest  time.Time
	trips         int
	selfTest      func() error
	alarms        alarm.Raiser
	auditor       audit.Recorder
	now           func() time.Time
}

// Option configures a Module.
type Option func(*Module)

// WithSelfTest replaces the default diagnostic.
func WithSelfTest(fn func() error) Option {
	return func(m *Module) { m.selfTest = fn }
}

// WithClock overrides the time source used for commands.
func WithClock(now func() time.Time) Option {
	return func(m *Module) { m.now = now }
}

// NewModule creates a module. Inputs start permissive (true) so that a freshly configured
// module does not trip before its first real reading.
//
// Parameters:
//
//	cfg: Voting architecture, SIL level and self-test timing.
//	alarms: Shared alarm handle owned by the controller.
//	auditor: Shared audit handle owned by the controller.
//	opts: Optional clock override.
//
// Returns:
//
//	The module, or a KindConfiguration error when cfg is invalid.
func NewModule(cfg Config, alarms alarm.Raiser, auditor audit.Recorder, opts ...Option) (*Module, error) {
	arch, err := ParseArchitecture(string(cfg.Architecture))
	if err != nil {
		return nil, exception.Configuration(moduleName, exception.ErrInvalidConfig, "module %s: %v", cfg.Name, err)
	}
	cfg.Architecture = arch
	if err := cfg.Validate(); err != nil {
		return nil, exception.Configuration(moduleName, exception.ErrInvalidConfig, "%v", err)
	}
	n := arch.Channels()
	m := &Module{
		cfg:         cfg,
		raw:         make([]bool, n),
		faults:      make([]bool, n),
		forced:      make([]bool, n),
		forcedValue: make([]bool, n),
		alarms:      alarms,
		auditor:     auditor,
		now:         time.Now,
	}
	for i := range m.raw {
		m.raw[i] = true
	}
	m.selfTest = m.defaultSelfTest
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Name returns the module name.
func (m *Module) Name() string {
	return m.cfg.Name
}

// Architecture returns the voting architecture.
func (m *Module) Architecture() Architecture {
	return m.cfg.Architecture
}

// Alarm ids raised by the module.
func (m *Module) TripAlarmID() string        { return m.cfg.Name + "_TRIP" }
func (m *Module) DiscrepancyAlarmID() string { return m.cfg.Name + "_DISCREPANCY" }
func (m *Module) DiagnosticAlarmID() string  { return m.cfg.Name + "_DIAG_FAIL" }
func (m *Module) ResetDeniedAlarmID() string { return m.cfg.Name + "_RESET_DENIED" }
func (m *Module) ForcedAlarmID() string      { return m.cfg.Name + "_FORCED" }

// SetInput stores the raw value of channel i. true means permissive.
func (m *Module) SetInput(i int, permissive bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkChannelLocked(i); err != nil {
		return err
	}
	m.raw[i] = permissive
	return nil
}

// SetInputs stores every channel at once.
func (m *Module) SetInputs(permissive ...bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(permissive) != len(m.raw) {
		return exception.Rejected(moduleName, exception.ErrInvalidChannel, "module %s expects %d inputs, got %d", m.cfg.Name, len(m.raw), len(permissive))
	}
	copy(m.raw, permissive)
	return nil
}

// SetChannelFault sets or clears a channel's fault flag (e.g. bad signal quality).
func (m *Module) SetChannelFault(i int, fault bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkChannelLocked(i); err != nil {
		return err
	}
	m.faults[i] = fault
	return nil
}

// Force pins channel i to value. Forced channels are reported in Status and keep a Low
// priority alarm active until every force is removed.
func (m *Module) Force(i int, value bool, user string) error {
	m.mu.Lock()
	if err := m.checkChannelLocked(i); err != nil {
		m.mu.Unlock()
		return err
	}
	m.forced[i] = true
	m.forcedValue[i] = value
	m.mu.Unlock()

	logger.Warnf("Safety module %s: channel %d forced to %t by %s.", m.cfg.Name, i, value, user)
	m.raise(m.ForcedAlarmID(), fmt.Sprintf("%s has forced inputs", m.cfg.Name), alarm.PriorityLow)
	m.record(user, "SAFETY_INPUT_FORCED", fmt.Sprintf("module %s channel %d forced to %t", m.cfg.Name, i, value), true)
	return nil
}

// Unforce releases channel i.
func (m *Module) Unforce(i int, user string) error {
	m.mu.Lock()
	if err := m.checkChannelLocked(i); err != nil {
		m.mu.Unlock()
		return err
	}
	if !m.forced[i] {
		m.mu.Unlock()
		return exception.Rejected(moduleName, exception.ErrInvalidChannel, "module %s channel %d is not forced", m.cfg.Name, i)
	}
	m.forced[i] = false
	anyForced := m.anyForcedLocked()
	m.mu.Unlock()

	if !anyForced && m.alarms != nil {
		m.alarms.ReturnToNormal(m.ForcedAlarmID())
	}
	m.record(user, "SAFETY_INPUT_UNFORCED", fmt.Sprintf("module %s channel %d released", m.cfg.Name, i), true)
	return nil
}

// Evaluate runs the periodic self-test when due, votes the effective inputs and returns
// the resulting outputs. A trip latches until Reset.
func (m *Module) Evaluate(now time.Time) Result {
	m.mu.Lock()
	var effects []func()

	if m.lastSelfTest.IsZero() || now.Sub(m.lastSelfTest) >= m.cfg.SIL.DiagnosticInterval() {
		m.lastSelfTest = now
		if err := m.runSelfTestLocked(); err != nil {
			if !m.masterFault {
				m.masterFault = true
				msg := fmt.Sprintf("%s diagnostic self-test failed: %v", m.cfg.Name, err)
				effects = append(effects, func() { m.raise(m.DiagnosticAlarmID(), msg, alarm.PriorityCritical) })
			}
		}
	}

	eff := m.effectiveLocked()
	demand := m.cfg.Architecture.demand(eff)
	disc := discrepancy(eff)
	anyFault := false
	for _, f := range m.faults {
		anyFault = anyFault || f
	}

	if disc && !m.inDiscrepancy {
		msg := fmt.Sprintf("%s channel discrepancy %v", m.cfg.Name, eff)
		effects = append(effects, func() { m.raise(m.DiscrepancyAlarmID(), msg, alarm.PriorityHigh) })
	}
	m.inDiscrepancy = disc

	var reasons []string
	if demand {
		reasons = append(reasons, "demand")
	}
	if disc {
		reasons = append(reasons, "discrepancy")
	}
	if anyFault {
		reasons = append(reasons, "channel fault")
	}
	if m.masterFault {
		reasons = append(reasons, "master fault")
	}
	if len(reasons) > 0 && !m.tripped {
		m.tripped = true
		m.trips++
		m.tripReason = strings.Join(reasons, ", ")
		reason := m.tripReason
		effects = append(effects, func() {
			logger.Warnf("Safety module %s tripped: %s", m.cfg.Name, reason)
			m.raise(m.TripAlarmID(), fmt.Sprintf("%s tripped: %s", m.cfg.Name, reason), alarm.PriorityCritical)
			m.record(systemUser, "SAFETY_TRIP", fmt.Sprintf("module %s tripped: %s", m.cfg.Name, reason), true)
		})
	}

	res := Result{
		Tripped:     m.tripped,
		Demand:      demand,
		Discrepancy: disc,
		MasterFault: m.masterFault,
		Outputs:     m.outputsLocked(),
	}
	m.mu.Unlock()

	for _, fn := range effects {
		fn()
	}
	return res
}

// Reset clears a latched trip. It is refused, with a Medium alarm and a failed audit entry,
// while any input is unsafe, any channel is faulted or disagrees, or the master fault is set.
//
// Parameters:
//
//	user: The operator requesting the reset.
//
// Returns:
//
//	A KindRejected error wrapping ErrResetDenied when refused, otherwise nil.
func (m *Module) Reset(user string) error {
	m.mu.Lock()
	blockers := m.resetBlockersLocked()
	if len(blockers) > 0 {
		m.mu.Unlock()
		reason := strings.Join(blockers, ", ")
		logger.Warnf("Safety module %s: reset by %s denied (%s).", m.cfg.Name, user, reason)
		m.raise(m.ResetDeniedAlarmID(), fmt.Sprintf("%s reset denied: %s", m.cfg.Name, reason), alarm.PriorityMedium)
		m.record(user, "SAFETY_RESET", fmt.Sprintf("module %s reset denied: %s", m.cfg.Name, reason), false)
		return exception.NewControlError(moduleName, exception.KindRejected,
			fmt.Sprintf("module %s: %s", m.cfg.Name, reason), exception.ErrResetDenied)
	}
	wasTripped := m.tripped
	m.tripped = false
	m.tripReason = ""
	m.mu.Unlock()

	if m.alarms != nil {
		m.alarms.ReturnToNormal(m.ResetDeniedAlarmID())
		m.alarms.ReturnToNormal(m.TripAlarmID())
	}
	m.record(user, "SAFETY_RESET", fmt.Sprintf("module %s reset (was tripped: %t)", m.cfg.Name, wasTripped), true)
	logger.Infof("Safety module %s reset by %s.", m.cfg.Name, user)
	return nil
}

// ClearMasterFault re-runs the self-test and clears the latched master fault if it passes.
// The trip itself still needs a Reset afterwards.
func (m *Module) ClearMasterFault(user string) error {
	m.mu.Lock()
	if !m.masterFault {
		m.mu.Unlock()
		return nil
	}
	err := m.runSelfTestLocked()
	if err == nil {
		m.masterFault = false
		m.lastSelfTest = m.now()
	}
	m.mu.Unlock()

	if err != nil {
		m.record(user, "SAFETY_MASTER_FAULT_CLEAR", fmt.Sprintf("module %s: self-test still failing: %v", m.cfg.Name, err), false)
		return exception.NewControlError(moduleName, exception.KindRejected,
			fmt.Sprintf("module %s: self-test still failing", m.cfg.Name), exception.ErrResetDenied)
	}
	if m.alarms != nil {
		m.alarms.ReturnToNormal(m.DiagnosticAlarmID())
	}
	m.record(user, "SAFETY_MASTER_FAULT_CLEAR", fmt.Sprintf("module %s master fault cleared", m.cfg.Name), true)
	return nil
}

// Tripped reports whether the module is in the safe state.
func (m *Module) Tripped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tripped
}

// Status returns a snapshot.
func (m *Module) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	eff := m.effectiveLocked()
	channels := make([]ChannelState, len(m.raw))
	for i := range m.raw {
		channels[i] = ChannelState{
			Index:       i,
			Raw:         m.raw[i],
			Forced:      m.forced[i],
			ForcedValue: m.forcedValue[i],
			Fault:       m.faults[i],
			Effective:   eff[i],
		}
	}
	return Status{
		Name:         m.cfg.Name,
		Architecture: m.cfg.Architecture,
		SIL:          m.cfg.SIL,
		Tripped:      m.tripped,
		TripReason:   m.tripReason,
		MasterFault:  m.masterFault,
		Discrepancy:  m.inDiscrepancy,
		AnyForced:    m.anyForcedLocked(),
		Channels:     channels,
		Outputs:      m.outputsLocked(),
		LastSelfTest: m.lastSelfTest,
		Trips:        m.trips,
	}
}

func (m *Module) resetBlockersLocked() []string {
	var blockers []string
	eff := m.effectiveLocked()
	for i, ok := range eff {
		if !ok {
			blockers = append(blockers, fmt.Sprintf("channel %d unsafe", i))
		}
	}
	for i, f := range m.faults {
		if f {
			blockers = append(blockers, fmt.Sprintf("channel %d faulted", i))
		}
	}
	if discrepancy(eff) {
		blockers = append(blockers, "channels disagree")
	}
	if m.masterFault {
		blockers = append(blockers, "master fault latched")
	}
	sort.Strings(blockers)
	return blockers
}

func (m *Module) effectiveLocked() []bool {
	eff := make([]bool, len(m.raw))
	for i := range m.raw {
		if m.forced[i] {
			eff[i] = m.forcedValue[i]
		} else {
			eff[i] = m.raw[i]
		}
	}
	return eff
}

func (m *Module) outputsLocked() map[string]bool {
	out := make(map[string]bool, len(m.cfg.Outputs))
	for _, name := range m.cfg.Outputs {
		out[name] = !m.tripped
	}
	return out
}

func (m *Module) anyForcedLocked() bool {
	for _, f := range m.forced {
		if f {
			return true
		}
	}
	return false
}

func (m *Module) checkChannelLocked(i int) error {
	if i < 0 || i >= len(m.raw) {
		return exception.Rejected(moduleName, exception.ErrInvalidChannel, "module %s has no channel %d", m.cfg.Name, i)
	}
	return nil
}

func (m *Module) runSelfTestLocked() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("self-test panicked: %v", r)
		}
	}()
	return m.selfTest()
}

// defaultSelfTest checks the module's internal bookkeeping. It runs with m.mu held.
func (m *Module) defaultSelfTest() error {
	n := m.cfg.Architecture.Channels()
	if len(m.raw) != n || len(m.faults) != n || len(m.forced) != n || len(m.forcedValue) != n {
		return fmt.Errorf("channel table corrupted: expected %d channels", n)
	}
	return nil
}

func (m *Module) raise(id, msg string, p alarm.Priority) {
	if m.alarms == nil {
		return
	}
	m.alarms.Raise(id, msg, p, alarm.CategorySafety, m.cfg.Name)
}

func (m *Module) record(user, action, description string, success bool) {
	if m.auditor == nil {
		return
	}
	m.auditor.Record(user, action, audit.CategorySafety, description, success)
}
