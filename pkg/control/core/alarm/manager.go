package alarm

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/audit"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/support/util/exception"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/support/util/logger"
)

const moduleName = "alarm"

// Config controls the manager.
type Config struct {
	HistoryCapacity       int           `yaml:"history_capacity"`
	AutoClearAcknowledged bool          `yaml:"auto_clear_acknowledged"`
	AutoClearDelay        time.Duration `yaml:"auto_clear_delay"`
}

// DefaultConfig returns the defaults used when no configuration is given.
func DefaultConfig() Config {
	return Config{HistoryCapacity: 10000}
}

// Manager owns the active-alarm table and the history.
type Manager struct {
	mu        sync.RWMutex
	active    map[string]*Alarm
	history   []Event
	cfg       Config
	auditor   audit.Recorder
	listeners []Listener
	now       func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithListener registers a listener at construction.
func WithListener(l Listener) Option {
	return func(m *Manager) { m.listeners = append(m.listeners, l) }
}

// NewManager creates a Manager. auditor may be nil, in which case operator actions are not audited.
func NewManager(cfg Config, auditor audit.Recorder, opts ...Option) *Manager {
	if cfg.HistoryCapacity <= 0 {
		cfg.HistoryCapacity = DefaultConfig().HistoryCapacity
	}
	m := &Manager{
		active:  make(map[string]*Alarm),
		cfg:     cfg,
		auditor: auditor,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// AddListener registers a listener.
func (m *Manager) AddListener(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

// Raise activates id. Raising an id that is already live never creates a second entry:
// an Active alarm is refreshed, an Acknowledged alarm returns to Active, and a Suppressed
// alarm only counts the occurrence. A Reactivated event is logged for the first two cases.
func (m *Manager) Raise(id, message string, priority Priority, category Category, source string) Alarm {
	now := m.now()
	m.mu.Lock()
	a, ok := m.active[id]
	var ev *Event
	switch {
	case !ok:
		a = &Alarm{
			ID:              id,
			Message:         message,
			Priority:        priority,
			Category:        category,
			Source:          source,
			Status:          StatusActive,
			ActivatedAt:     now,
			LastActivatedAt: now,
			Occurrences:     1,
		}
		m.active[id] = a
		ev = m.appendEventLocked(a, EventActivated, "", now)
	case a.Status == StatusSuppressed:
		a.Occurrences++
		a.LastActivatedAt = now
	default:
		a.Message = message
		a.Priority = priority
		a.Occurrences++
		a.LastActivatedAt = now
		if a.Status == StatusAcknowledged {
			a.Status = StatusActive
			a.AcknowledgedAt = nil
			a.AcknowledgedBy = ""
		}
		ev = m.appendEventLocked(a, EventReactivated, "", now)
	}
	snapshot := *a
	listeners := m.listeners
	m.mu.Unlock()

	if ev != nil {
		if ev.Type == EventActivated {
			logger.Infof("Alarm %s raised (%s/%s): %s", id, priority, category, message)
		} else {
			logger.Debugf("Alarm %s reactivated (occurrences=%d).", id, snapshot.Occurrences)
		}
		notify(listeners, *ev)
	}
	return snapshot
}

// Acknowledge marks an Active alarm acknowledged by user. Unknown ids and alarms that are
// not Active are rejected without an audit entry.
//
// Parameters:
//
//	id: The alarm id.
//	user: The acknowledging operator.
//
// Returns:
//
//	A KindRejected error wrapping ErrUnknownAlarm or ErrAlarmState, or nil.
func (m *Manager) Acknowledge(id, user string) error {
	now := m.now()
	m.mu.Lock()
	a, ok := m.active[id]
	if !ok {
		m.mu.Unlock()
		return exception.Rejected(moduleName, exception.ErrUnknownAlarm, "acknowledge %s", id)
	}
	if a.Status != StatusActive {
		status := a.Status
		m.mu.Unlock()
		return exception.Rejected(moduleName, exception.ErrAlarmState, "acknowledge %s (status %s)", id, status)
	}
	a.Status = StatusAcknowledged
	a.AcknowledgedAt = &now
	a.AcknowledgedBy = user
	ev := m.appendEventLocked(a, EventAcknowledged, user, now)
	listeners := m.listeners
	m.mu.Unlock()

	m.audit(user, "ALARM_ACKNOWLEDGED", fmt.Sprintf("alarm %s acknowledged", id))
	logger.Infof("Alarm %s acknowledged by %s.", id, user)
	notify(listeners, *ev)
	return nil
}

// Clear removes a live alarm from the active table. Unknown ids are rejected without an
// audit entry.
func (m *Manager) Clear(id, user string) error {
	if !m.clear(id, user, true) {
		return exception.Rejected(moduleName, exception.ErrUnknownAlarm, "clear %s", id)
	}
	return nil
}

// ReturnToNormal clears a condition alarm whose cause has gone away. It is system-initiated
// and therefore not audited. Returns false when id is not live.
func (m *Manager) ReturnToNormal(id string) bool {
	return m.clear(id, "", false)
}

func (m *Manager) clear(id, user string, audited bool) bool {
	now := m.now()
	m.mu.Lock()
	a, ok := m.active[id]
	if !ok {
		m.mu.Unlock()
		return false
	}
	a.Status = StatusCleared
	a.ClearedAt = &now
	delete(m.active, id)
	ev := m.appendEventLocked(a, EventCleared, user, now)
	listeners := m.listeners
	m.mu.Unlock()

	if audited {
		m.audit(user, "ALARM_CLEARED", fmt.Sprintf("alarm %s cleared", id))
	}
	logger.Infof("Alarm %s cleared.", id)
	notify(listeners, *ev)
	return true
}

// Suppress hides a live alarm from the active list until Unsuppress.
func (m *Manager) Suppress(id, user string) error {
	return m.setSuppressed(id, user, true)
}

// Unsuppress returns a suppressed alarm to Active.
func (m *Manager) Unsuppress(id, user string) error {
	return m.setSuppressed(id, user, false)
}

func (m *Manager) setSuppressed(id, user string, suppress bool) error {
	now := m.now()
	m.mu.Lock()
	a, ok := m.active[id]
	if !ok {
		m.mu.Unlock()
		return exception.Rejected(moduleName, exception.ErrUnknownAlarm, "suppress %s", id)
	}
	if (a.Status == StatusSuppressed) == suppress {
		status := a.Status
		m.mu.Unlock()
		return exception.Rejected(moduleName, exception.ErrAlarmState, "suppress=%t %s (status %s)", suppress, id, status)
	}
	evType, action := EventUnsuppressed, "ALARM_UNSUPPRESSED"
	if suppress {
		a.Status = StatusSuppressed
		evType, action = EventSuppressed, "ALARM_SUPPRESSED"
	} else {
		a.Status = StatusActive
	}
	ev := m.appendEventLocked(a, evType, user, now)
	listeners := m.listeners
	m.mu.Unlock()

	m.audit(user, action, fmt.Sprintf("alarm %s", id))
	notify(listeners, *ev)
	return nil
}

// Update performs time-driven housekeeping: Acknowledged alarms are cleared once they have
// been acknowledged for longer than the configured auto-clear delay. It returns the ids cleared.
func (m *Manager) Update(now time.Time) []string {
	if !m.cfg.AutoClearAcknowledged {
		return nil
	}
	m.mu.RLock()
	var due []string
	for id, a := range m.active {
		if a.Status == StatusAcknowledged && a.AcknowledgedAt != nil && now.Sub(*a.AcknowledgedAt) >= m.cfg.AutoClearDelay {
			due = append(due, id)
		}
	}
	m.mu.RUnlock()
	sort.Strings(due)
	for _, id := range due {
		m.clear(id, "", false)
	}
	return due
}

// Get returns a live alarm.
func (m *Manager) Get(id string) (Alarm, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.active[id]
	if !ok {
		return Alarm{}, false
	}
	return *a, true
}

// IsActive reports whether id is live and not suppressed.
func (m *Manager) IsActive(id string) bool {
	a, ok := m.Get(id)
	return ok && a.Status != StatusSuppressed
}

// Active returns live, unsuppressed alarms ordered most severe first, then oldest activation first.
func (m *Manager) Active() []Alarm {
	return m.list(false)
}

// All returns every live alarm including suppressed ones, in the same order as Active.
func (m *Manager) All() []Alarm {
	return m.list(true)
}

func (m *Manager) list(includeSuppressed bool) []Alarm {
	m.mu.RLock()
	out := make([]Alarm, 0, len(m.active))
	for _, a := range m.active {
		if a.Status == StatusSuppressed && !includeSuppressed {
			continue
		}
		out = append(out, *a)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority.MoreSevereThan(out[j].Priority)
		}
		if !out[i].ActivatedAt.Equal(out[j].ActivatedAt) {
			return out[i].ActivatedAt.Before(out[j].ActivatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// CountByPriority returns the number of unsuppressed live alarms per priority.
func (m *Manager) CountByPriority() map[Priority]int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[Priority]int)
	for _, a := range m.active {
		if a.Status != StatusSuppressed {
			out[a.Priority]++
		}
	}
	return out
}

// History returns up to limit of the newest events, oldest first. limit <= 0 returns all.
func (m *Manager) History(limit int) []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	start := 0
	if limit > 0 && limit < len(m.history) {
		start = len(m.history) - limit
	}
	out := make([]Event, len(m.history)-start)
	copy(out, m.history[start:])
	return out
}

func (m *Manager) appendEventLocked(a *Alarm, t EventType, user string, now time.Time) *Event {
	ev := Event{
		ID:        uuid.NewString(),
		AlarmID:   a.ID,
		Type:      t,
		Priority:  a.Priority,
		Category:  a.Category,
		Source:    a.Source,
		Message:   a.Message,
		User:      user,
		Timestamp: now,
	}
	m.history = append(m.history, ev)
	if over := len(m.history) - m.cfg.HistoryCapacity; over > 0 {
		m.history = m.history[over:]
	}
	return &ev
}

func (m *Manager) audit(user, action, description string) {
	if m.auditor == nil {
		return
	}
	m.auditor.Record(user, action, audit.CategoryAlarm, description, true)
}

func notify(listeners []Listener, ev Event) {
	for _, l := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Errorf("Alarm listener panicked on event %s/%s: %v", ev.AlarmID, ev.Type, r)
				}
			}()
			l.OnAlarmEvent(ev)
		}()
	}
}
