package unit_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/alarm"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/audit"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/pid"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/safety"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/tag"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/unit"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/support/util/exception"
)

var t0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

type fakeDevice struct {
	mu      sync.Mutex
	name    string
	values  map[string]float64
	err     error
	applied map[string]float64
}

func (d *fakeDevice) Name() string { return d.name }

func (d *fakeDevice) ReadDiagnostics(ctx context.Context) (map[string]float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	out := make(map[string]float64, len(d.values))
	for k, v := range d.values {
		out[k] = v
	}
	return out, nil
}

func (d *fakeDevice) ApplyOutputs(ctx context.Context, values map[string]float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.applied = values
	return nil
}

type panickingDevice struct{}

func (panickingDevice) Name() string { return "BROKEN" }
func (panickingDevice) ReadDiagnostics(ctx context.Context) (map[string]float64, error) {
	panic("driver crashed")
}

func newUnit(t *testing.T) (*unit.Unit, *tag.Store, *alarm.Manager) {
	t.Helper()
	store := tag.NewStore()
	alarms := alarm.NewManager(alarm.DefaultConfig(), audit.NewTrail(audit.Config{}))
	return unit.New("R1", store, alarms), store, alarms
}

func TestAddDevice_DuplicateIsNoop(t *testing.T) {
	u, _, _ := newUnit(t)
	assert.True(t, u.AddDevice(&fakeDevice{name: "TT101"}))
	assert.False(t, u.AddDevice(&fakeDevice{name: "TT101"}))
}

func TestReadInputs_WritesQualifiedTags(t *testing.T) {
	u, store, _ := newUnit(t)
	u.AddDevice(&fakeDevice{name: "TT101", values: map[string]float64{"PV": 37.2}})

	u.ReadInputs(context.Background(), t0)

	tg, ok := store.Get("R1.TT101.PV")
	require.True(t, ok)
	assert.Equal(t, 37.2, tg.Value.Value)
	assert.Equal(t, tag.QualityGood, tg.Quality)
	assert.Equal(t, t0, tg.Timestamp)
	assert.Equal(t, unit.StatusRunning, u.Status())
}

func TestReadInputs_DeviceFailureMarksTagsBadAndAlarmsOnce(t *testing.T) {
	u, store, alarms := newUnit(t)
	dev := &fakeDevice{name: "TT101", values: map[string]float64{"PV": 37.2}}
	u.AddDevice(dev)
	u.AddDevice(&fakeDevice{name: "PT101", values: map[string]float64{"PV": 1.1}})
	u.ReadInputs(context.Background(), t0)

	dev.err = errors.New("timeout")
	u.ReadInputs(context.Background(), t0.Add(time.Second))
	u.ReadInputs(context.Background(), t0.Add(2*time.Second))

	tg, _ := store.Get("R1.TT101.PV")
	assert.Equal(t, tag.QualityBad, tg.Quality)
	other, _ := store.Get("R1.PT101.PV")
	assert.Equal(t, tag.QualityGood, other.Quality, "healthy devices are still read")

	a, ok := alarms.Get("R1.TT101_COMM")
	require.True(t, ok)
	assert.Equal(t, 1, a.Occurrences)
	assert.Equal(t, alarm.PriorityMedium, a.Priority)
	assert.Equal(t, unit.StatusWarning, u.Status())

	dev.err = nil
	u.ReadInputs(context.Background(), t0.Add(3*time.Second))
	assert.False(t, alarms.IsActive("R1.TT101_COMM"))
	assert.Equal(t, unit.StatusRunning, u.Status())
}

func TestReadInputs_PanickingDeviceIsContained(t *testing.T) {
	u, _, alarms := newUnit(t)
	u.AddDevice(panickingDevice{})

	assert.NotPanics(t, func() { u.ReadInputs(context.Background(), t0) })
	assert.True(t, alarms.IsActive("R1.BROKEN_COMM"))
}

func TestExecuteInterlocks_ActionRunsOncePerTransition(t *testing.T) {
	u, store, _ := newUnit(t)
	calls := 0
	require.True(t, u.AddInterlock(unit.Interlock{
		Name:    "HIGH_TEMP",
		When:    unit.ConditionPredicate(tag.Condition{Tag: "R1.TT101.PV", Op: tag.OpGreater, Value: 80}),
		Do:      func(ctx context.Context) error { calls++; return nil },
		Enabled: true,
	}))
	assert.False(t, u.AddInterlock(unit.Interlock{Name: "HIGH_TEMP"}))

	for _, v := range []float64{70, 85, 90, 95, 60, 88} {
		store.Set("R1.TT101.PV", v, tag.QualityGood, t0)
		require.NoError(t, u.ExecuteInterlocks(context.Background()))
	}
	assert.Equal(t, 2, calls)
}

func TestExecuteInterlocks_DisabledInterlockIsSkipped(t *testing.T) {
	u, store, _ := newUnit(t)
	calls := 0
	u.AddInterlock(unit.Interlock{
		Name:    "HIGH_TEMP",
		When:    func(tag.Reader) bool { return true },
		Do:      func(ctx context.Context) error { calls++; return nil },
		Enabled: false,
	})
	store.Set("X", 1, tag.QualityGood, t0)
	require.NoError(t, u.ExecuteInterlocks(context.Background()))
	assert.Zero(t, calls)

	require.NoError(t, u.SetInterlockEnabled("HIGH_TEMP", true))
	require.NoError(t, u.ExecuteInterlocks(context.Background()))
	assert.Equal(t, 1, calls)

	assert.ErrorIs(t, u.SetInterlockEnabled("NOPE", true), exception.ErrUnknownInterlock)
}

func TestExecuteInterlocks_FaultyActionDoesNotStopOthers(t *testing.T) {
	u, _, _ := newUnit(t)
	secondRan := false
	u.AddInterlock(unit.Interlock{
		Name:    "BAD",
		When:    func(tag.Reader) bool { return true },
		Do:      func(ctx context.Context) error { panic("nil valve") },
		Enabled: true,
	})
	u.AddInterlock(unit.Interlock{
		Name:    "GOOD",
		When:    func(tag.Reader) bool { return true },
		Do:      func(ctx context.Context) error { secondRan = true; return nil },
		Enabled: true,
	})

	err := u.ExecuteInterlocks(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BAD")
	assert.True(t, secondRan)
}

func newSafetyModule(t *testing.T, alarms *alarm.Manager) *safety.Module {
	t.Helper()
	m, err := safety.NewModule(safety.Config{
		Name:         "SIS1",
		Architecture: safety.Architecture1oo2,
		SIL:          2,
		Outputs:      []string{"R1.HEATER_PERMISSIVE"},
	}, alarms, nil)
	require.NoError(t, err)
	return m
}

func TestEvaluateSafety_ChannelsFromConditions(t *testing.T) {
	u, store, alarms := newUnit(t)
	m := newSafetyModule(t, alarms)
	require.NoError(t, u.AddSafety(unit.SafetyBinding{
		Module: m,
		Channels: []tag.Condition{
			{Tag: "R1.TT101A.PV", Op: tag.OpLess, Value: 90},
			{Tag: "R1.TT101B.PV", Op: tag.OpLess, Value: 90},
		},
	}))
	store.Set("R1.TT101A.PV", 40, tag.QualityGood, t0)
	store.Set("R1.TT101B.PV", 41, tag.QualityGood, t0)

	u.EvaluateSafety(t0)
	out, _ := store.Get("R1.HEATER_PERMISSIVE")
	assert.Equal(t, 1.0, out.Value.Value)

	store.SetQuality("R1.TT101B.PV", tag.QualityBad, t0)
	u.EvaluateSafety(t0.Add(time.Second))
	out, _ = store.Get("R1.HEATER_PERMISSIVE")
	assert.Equal(t, 0.0, out.Value.Value)
	assert.True(t, m.Status().Channels[1].Fault)
	assert.Equal(t, unit.StatusFault, u.Status())
}

func TestAddSafety_ChannelCountMustMatch(t *testing.T) {
	u, _, alarms := newUnit(t)
	err := u.AddSafety(unit.SafetyBinding{Module: newSafetyModule(t, alarms), Channels: []tag.Condition{{Tag: "A", Op: tag.OpLess, Value: 1}}})
	assert.True(t, exception.IsConfiguration(err))
}

func TestWriteOutputs_GatedByTrippedModule(t *testing.T) {
	u, store, alarms := newUnit(t)
	heater := &fakeDevice{name: "HTR1"}
	u.AddDevice(heater)
	m := newSafetyModule(t, alarms)
	require.NoError(t, u.AddSafety(unit.SafetyBinding{
		Module: m,
		Channels: []tag.Condition{
			{Tag: "R1.TT101A.PV", Op: tag.OpLess, Value: 90},
			{Tag: "R1.TT101B.PV", Op: tag.OpLess, Value: 90},
		},
	}))
	u.AddOutput(unit.OutputBinding{Device: "HTR1", Key: "POWER", SourceTag: "R1.TIC101.OUT", GatedBy: []string{"SIS1"}})
	store.Set("R1.TIC101.OUT", 65, tag.QualityGood, t0)
	store.Set("R1.TT101A.PV", 40, tag.QualityGood, t0)
	store.Set("R1.TT101B.PV", 40, tag.QualityGood, t0)

	u.EvaluateSafety(t0)
	u.WriteOutputs(context.Background(), t0)
	assert.Equal(t, map[string]float64{"POWER": 65}, heater.applied)

	store.Set("R1.TT101A.PV", 95, tag.QualityGood, t0)
	u.EvaluateSafety(t0.Add(time.Second))
	u.WriteOutputs(context.Background(), t0.Add(time.Second))
	assert.Equal(t, map[string]float64{"POWER": 0}, heater.applied)
}

func TestUpdateLimitAlarms_RaisesAndClearsBands(t *testing.T) {
	u, store, alarms := newUnit(t)
	u.DefineTag("R1.TT101.PV", "degC", tag.Limits{High: tag.Float(80), HighHigh: tag.Float(95)})

	store.Set("R1.TT101.PV", 85, tag.QualityGood, t0)
	u.UpdateLimitAlarms()
	assert.True(t, alarms.IsActive("R1.TT101.PV_HI"))

	store.Set("R1.TT101.PV", 97, tag.QualityGood, t0)
	u.UpdateLimitAlarms()
	assert.False(t, alarms.IsActive("R1.TT101.PV_HI"))
	hh, ok := alarms.Get("R1.TT101.PV_HH")
	require.True(t, ok)
	assert.Equal(t, alarm.PriorityCritical, hh.Priority)

	store.Set("R1.TT101.PV", 50, tag.QualityGood, t0)
	u.UpdateLimitAlarms()
	assert.Empty(t, alarms.Active())
}

func TestLoopBinding_RunWritesOutputTag(t *testing.T) {
	u, store, _ := newUnit(t)
	loop, err := pid.New(pid.Config{Name: "TIC101", Kp: 2, OutputMin: 0, OutputMax: 100, InitialSetpoint: 50, InitialMode: pid.ModeAuto})
	require.NoError(t, err)
	b := &unit.LoopBinding{Loop: loop, PVTag: "R1.TT101.PV", OutputTag: "R1.TIC101.OUT"}
	require.True(t, u.AddLoop(b))
	assert.False(t, u.AddLoop(&unit.LoopBinding{Loop: loop}))

	store.Set("R1.TT101.PV", 45, tag.QualityGood, t0)
	require.NoError(t, b.Run(100*time.Millisecond, t0))
	out, ok := store.Get("R1.TIC101.OUT")
	require.True(t, ok)
	assert.InDelta(t, 10.0, out.Value.Value, 1e-9)

	store.SetQuality("R1.TT101.PV", tag.QualityBad, t0)
	require.NoError(t, b.Run(100*time.Millisecond, t0))
	out, _ = store.Get("R1.TIC101.OUT")
	assert.Equal(t, tag.QualityUncertain, out.Quality)
	assert.InDelta(t, 10.0, out.Value.Value, 1e-9)
}

func TestHistorianPoints_OnlyUnitTags(t *testing.T) {
	u, store, _ := newUnit(t)
	store.Set("R1.TT101.PV", 1, tag.QualityGood, t0)
	store.Set("R2.TT201.PV", 2, tag.QualityGood, t0)

	points := u.HistorianPoints()
	require.Len(t, points, 1)
	assert.Equal(t, "R1.TT101.PV", points[0].Tag)
}
