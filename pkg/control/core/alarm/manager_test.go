package alarm_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/alarm"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/audit"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/support/util/exception"
)

type manualClock struct {
	mu sync.Mutex
	t  time.Time
}

func newManualClock() *manualClock {
	return &manualClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newManager(t *testing.T, cfg alarm.Config) (*alarm.Manager, *audit.Trail, *manualClock) {
	t.Helper()
	clock := newManualClock()
	trail := audit.NewTrail(audit.Config{}, audit.WithClock(clock.Now))
	return alarm.NewManager(cfg, trail, alarm.WithClock(clock.Now)), trail, clock
}

func TestRaise_IdempotentForActiveAlarm(t *testing.T) {
	m, _, clock := newManager(t, alarm.DefaultConfig())

	m.Raise("TIC-101_HI", "temperature high", alarm.PriorityHigh, alarm.CategoryProcess, "R1")
	clock.Advance(time.Second)
	a := m.Raise("TIC-101_HI", "temperature high", alarm.PriorityHigh, alarm.CategoryProcess, "R1")

	assert.Len(t, m.Active(), 1)
	assert.Equal(t, 2, a.Occurrences)
	assert.True(t, a.LastActivatedAt.After(a.ActivatedAt))

	history := m.History(0)
	require.Len(t, history, 2)
	assert.Equal(t, alarm.EventActivated, history[0].Type)
	assert.Equal(t, alarm.EventReactivated, history[1].Type)
}

func TestAcknowledge_UnknownIDFailsWithoutAudit(t *testing.T) {
	m, trail, _ := newManager(t, alarm.DefaultConfig())

	err := m.Acknowledge("NOPE", "operator1")

	require.Error(t, err)
	assert.True(t, errors.Is(err, exception.ErrUnknownAlarm))
	assert.True(t, exception.IsRejected(err))
	assert.Equal(t, 0, trail.Len())
	assert.Error(t, m.Clear("NOPE", "operator1"))
	assert.Equal(t, 0, trail.Len())
	assert.Empty(t, m.History(0))
}

func TestLifecycle_AckThenClear(t *testing.T) {
	m, trail, _ := newManager(t, alarm.DefaultConfig())
	m.Raise("PT-201_HH", "pressure high-high", alarm.PriorityCritical, alarm.CategorySafety, "R1")

	require.NoError(t, m.Acknowledge("PT-201_HH", "operator1"))
	a, ok := m.Get("PT-201_HH")
	require.True(t, ok)
	assert.Equal(t, alarm.StatusAcknowledged, a.Status)
	assert.Equal(t, "operator1", a.AcknowledgedBy)

	err := m.Acknowledge("PT-201_HH", "operator2")
	assert.True(t, errors.Is(err, exception.ErrAlarmState))

	require.NoError(t, m.Clear("PT-201_HH", "operator1"))
	_, ok = m.Get("PT-201_HH")
	assert.False(t, ok)
	assert.Equal(t, 2, trail.Len())

	// A raise after clear is a fresh activation.
	a = m.Raise("PT-201_HH", "pressure high-high", alarm.PriorityCritical, alarm.CategorySafety, "R1")
	assert.Equal(t, 1, a.Occurrences)
	assert.Equal(t, alarm.StatusActive, a.Status)
}

func TestRaise_ReactivatesAcknowledged(t *testing.T) {
	m, _, _ := newManager(t, alarm.DefaultConfig())
	m.Raise("A", "a", alarm.PriorityLow, alarm.CategoryProcess, "")
	require.NoError(t, m.Acknowledge("A", "op"))

	a := m.Raise("A", "a again", alarm.PriorityLow, alarm.CategoryProcess, "")
	assert.Equal(t, alarm.StatusActive, a.Status)
	assert.Nil(t, a.AcknowledgedAt)
	assert.Equal(t, "a again", a.Message)
}

func TestActive_MostSevereFirstThenOldest(t *testing.T) {
	m, _, clock := newManager(t, alarm.DefaultConfig())

	m.Raise("INFO", "i", alarm.PriorityInformation, alarm.CategorySystem, "")
	clock.Advance(time.Second)
	m.Raise("HIGH_OLD", "h", alarm.PriorityHigh, alarm.CategoryProcess, "")
	clock.Advance(time.Second)
	m.Raise("CRIT", "c", alarm.PriorityCritical, alarm.CategorySafety, "")
	clock.Advance(time.Second)
	m.Raise("HIGH_NEW", "h", alarm.PriorityHigh, alarm.CategoryProcess, "")
	clock.Advance(time.Second)
	m.Raise("MED", "m", alarm.PriorityMedium, alarm.CategorySystem, "")

	var ids []string
	for _, a := range m.Active() {
		ids = append(ids, a.ID)
	}
	assert.Equal(t, []string{"CRIT", "HIGH_OLD", "HIGH_NEW", "MED", "INFO"}, ids)
	assert.Equal(t, 2, m.CountByPriority()[alarm.PriorityHigh])
}

func TestSuppress_HidesFromActive(t *testing.T) {
	m, trail, _ := newManager(t, alarm.DefaultConfig())
	m.Raise("S", "s", alarm.PriorityMedium, alarm.CategoryEquipment, "")

	require.NoError(t, m.Suppress("S", "eng"))
	assert.Empty(t, m.Active())
	assert.Len(t, m.All(), 1)
	assert.False(t, m.IsActive("S"))

	a := m.Raise("S", "s", alarm.PriorityMedium, alarm.CategoryEquipment, "")
	assert.Equal(t, alarm.StatusSuppressed, a.Status)
	assert.Equal(t, 2, a.Occurrences)

	assert.Error(t, m.Suppress("S", "eng"))
	require.NoError(t, m.Unsuppress("S", "eng"))
	assert.True(t, m.IsActive("S"))
	assert.Equal(t, 2, trail.Len())
}

func TestUpdate_AutoClearsAcknowledgedAfterDelay(t *testing.T) {
	m, _, clock := newManager(t, alarm.Config{AutoClearAcknowledged: true, AutoClearDelay: 30 * time.Second})
	m.Raise("A", "a", alarm.PriorityLow, alarm.CategoryProcess, "")
	m.Raise("B", "b", alarm.PriorityLow, alarm.CategoryProcess, "")
	require.NoError(t, m.Acknowledge("A", "op"))

	clock.Advance(10 * time.Second)
	assert.Empty(t, m.Update(clock.Now()))

	clock.Advance(25 * time.Second)
	assert.Equal(t, []string{"A"}, m.Update(clock.Now()))
	_, ok := m.Get("A")
	assert.False(t, ok)
	assert.True(t, m.IsActive("B"))
}

func TestReturnToNormal_NotAudited(t *testing.T) {
	m, trail, _ := newManager(t, alarm.DefaultConfig())
	m.Raise("LT_LO", "level low", alarm.PriorityHigh, alarm.CategoryProcess, "")

	assert.True(t, m.ReturnToNormal("LT_LO"))
	assert.False(t, m.ReturnToNormal("LT_LO"))
	assert.Equal(t, 0, trail.Len())
}

func TestHistory_CapacityBounded(t *testing.T) {
	m, _, _ := newManager(t, alarm.Config{HistoryCapacity: 3})
	for _, id := range []string{"A", "B", "C", "D", "E"} {
		m.Raise(id, id, alarm.PriorityLow, alarm.CategoryProcess, "")
	}
	history := m.History(0)
	require.Len(t, history, 3)
	assert.Equal(t, "C", history[0].AlarmID)
	assert.Equal(t, "E", history[2].AlarmID)
	assert.Len(t, m.History(2), 2)
}

func TestListener_ReceivesEventsAndPanicsAreContained(t *testing.T) {
	var got []alarm.EventType
	m, _, _ := newManager(t, alarm.DefaultConfig())
	m.AddListener(alarm.ListenerFunc(func(ev alarm.Event) { panic("listener bug") }))
	m.AddListener(alarm.ListenerFunc(func(ev alarm.Event) { got = append(got, ev.Type) }))

	m.Raise("X", "x", alarm.PriorityLow, alarm.CategoryProcess, "")
	require.NoError(t, m.Acknowledge("X", "op"))

	assert.Equal(t, []alarm.EventType{alarm.EventActivated, alarm.EventAcknowledged}, got)
}

func TestParsePriority(t *testing.T) {
	p, err := alarm.ParsePriority("critical")
	require.NoError(t, err)
	assert.Equal(t, alarm.PriorityCritical, p)
	assert.True(t, alarm.PriorityCritical.MoreSevereThan(alarm.PriorityLow))
	_, err = alarm.ParsePriority("urgent")
	assert.Error(t, err)
}
