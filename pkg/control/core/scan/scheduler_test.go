package scan_test

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
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/historian"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/metrics"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/pid"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/scan"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/tag"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/unit"
)

type fakeClock struct {
	mu      sync.Mutex
	t       time.Time
	waits   []time.Duration
	onAfter func(n int)
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.waits = append(c.waits, d)
	n := len(c.waits)
	now := c.t
	hook := c.onAfter
	c.mu.Unlock()
	if hook != nil {
		hook(n)
	}
	ch := make(chan time.Time, 1)
	ch <- now
	return ch
}

type trace struct {
	mu    sync.Mutex
	steps []string
}

func (tr *trace) add(s string) {
	tr.mu.Lock()
	tr.steps = append(tr.steps, s)
	tr.mu.Unlock()
}

func (tr *trace) all() []string {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return append([]string(nil), tr.steps...)
}

// sensor reports a fixed PV and optionally burns clock time.
type sensor struct {
	clock *fakeClock
	cost  time.Duration
	trace *trace
	reads int
	onRead func(n int)
}

func (s *sensor) Name() string { return "TT101" }

func (s *sensor) ReadDiagnostics(ctx context.Context) (map[string]float64, error) {
	s.reads++
	if s.trace != nil {
		s.trace.add("read")
	}
	if s.cost > 0 {
		s.clock.Advance(s.cost)
	}
	if s.onRead != nil {
		s.onRead(s.reads)
	}
	return map[string]float64{"PV": 45}, nil
}

type heater struct {
	trace *trace
}

func (h *heater) Name() string { return "HTR1" }

func (h *heater) ReadDiagnostics(ctx context.Context) (map[string]float64, error) {
	return map[string]float64{}, nil
}

func (h *heater) ApplyOutputs(ctx context.Context, values map[string]float64) error {
	h.trace.add("write")
	return nil
}

type batchRecorder struct {
	trace *trace
	dts   []time.Duration
}

func (b *batchRecorder) Tick(dt time.Duration) {
	if b.trace != nil {
		b.trace.add("batch")
	}
	b.dts = append(b.dts, dt)
}

type stubGateway struct {
	trace *trace
	err   error
	calls int
}

func (g *stubGateway) Name() string { return "stub" }

func (g *stubGateway) Publish(ctx context.Context, snapshot map[string]tag.Value) error {
	g.calls++
	if g.trace != nil {
		g.trace.add("publish")
	}
	return g.err
}

func (g *stubGateway) Healthy() bool { return g.err == nil }

type fixture struct {
	clock  *fakeClock
	store  *tag.Store
	alarms *alarm.Manager
	unit   *unit.Unit
	sensor *sensor
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	clock := newFakeClock()
	store := tag.NewStore()
	alarms := alarm.NewManager(alarm.DefaultConfig(), audit.NewTrail(audit.Config{}), alarm.WithClock(clock.Now))
	u := unit.New("R1", store, alarms)
	s := &sensor{clock: clock}
	u.AddDevice(s)
	return fixture{clock: clock, store: store, alarms: alarms, unit: u, sensor: s}
}

func (f fixture) scheduler(opts ...scan.Option) *scan.Scheduler {
	opts = append([]scan.Option{scan.WithClock(f.clock)}, opts...)
	return scan.New(scan.DefaultConfig(), f.store, []*unit.Unit{f.unit}, f.alarms, opts...)
}

func TestRunCycle_StagesRunInOrder(t *testing.T) {
	f := newFixture(t)
	tr := &trace{}
	f.sensor.trace = tr

	loop, err := pid.New(pid.Config{Name: "TIC101", Kp: 1, OutputMax: 100, InitialSetpoint: 50, InitialMode: pid.ModeAuto})
	require.NoError(t, err)
	f.unit.AddLoop(&unit.LoopBinding{Loop: loop, PVTag: "R1.TT101.PV", OutputTag: "R1.TIC101.OUT"})
	f.unit.AddInterlock(unit.Interlock{
		Name: "SEES_LOOP_OUTPUT",
		When: func(r tag.Reader) bool {
			_, ok := r.Get("R1.TIC101.OUT")
			return ok
		},
		Do:      func(ctx context.Context) error { tr.add("interlock"); return nil },
		Enabled: true,
	})
	f.unit.AddDevice(&heater{trace: tr})
	f.unit.AddOutput(unit.OutputBinding{Device: "HTR1", Key: "POWER", SourceTag: "R1.TIC101.OUT"})
	h := historian.New(historian.DefaultConfig())

	s := f.scheduler(
		scan.WithBatch(&batchRecorder{trace: tr}),
		scan.WithGateway(&stubGateway{trace: tr}),
		scan.WithHistorian(h),
	)
	s.RunCycle(context.Background(), f.clock.Now())

	assert.Equal(t, []string{"read", "interlock", "batch", "write", "publish"}, tr.all())
	latest, ok := h.Latest("R1.TIC101.OUT")
	require.True(t, ok)
	assert.InDelta(t, 5.0, latest.Value, 1e-9)
	assert.Equal(t, uint64(1), s.Stats().Cycles)
	assert.Zero(t, s.Stats().Faults)
}

func TestRunCycle_OverrunRaisesAlarmAndCounts(t *testing.T) {
	f := newFixture(t)
	f.sensor.cost = 200 * time.Millisecond
	s := f.scheduler()

	s.RunCycle(context.Background(), f.clock.Now())

	st := s.Stats()
	assert.Equal(t, uint64(1), st.MissedScans)
	assert.Equal(t, 200*time.Millisecond, st.LastDuration)
	a, ok := f.alarms.Get(scan.AlarmOverrun)
	require.True(t, ok)
	assert.Equal(t, alarm.PriorityMedium, a.Priority)

	f.sensor.cost = 140 * time.Millisecond
	s.RunCycle(context.Background(), f.clock.Now())
	assert.Equal(t, uint64(1), s.Stats().MissedScans, "1.4x period is not an overrun")
	assert.Equal(t, uint64(2), s.Stats().Cycles)
}

func TestRunCycle_StageFaultIsContained(t *testing.T) {
	f := newFixture(t)
	f.unit.AddInterlock(unit.Interlock{
		Name:    "BROKEN",
		When:    func(tag.Reader) bool { return true },
		Do:      func(ctx context.Context) error { panic("nil pointer in action") },
		Enabled: true,
	})
	gw := &stubGateway{}
	s := f.scheduler(scan.WithGateway(gw))

	assert.NotPanics(t, func() { s.RunCycle(context.Background(), f.clock.Now()) })

	a, ok := f.alarms.Get(scan.AlarmCycleFault)
	require.True(t, ok)
	assert.Equal(t, alarm.PriorityHigh, a.Priority)
	assert.Contains(t, a.Message, "BROKEN")
	assert.Equal(t, 1, gw.calls, "later stages still run")
	assert.Equal(t, uint64(1), s.Stats().Faults)
}

func TestRun_ContinuesAfterOverrunAndStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	f.sensor.cost = 200 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.sensor.onRead = func(n int) {
		if n == 3 {
			cancel()
		}
	}
	s := f.scheduler()

	require.NoError(t, s.Run(ctx))

	st := s.Stats()
	assert.Equal(t, uint64(3), st.Cycles, "the in-flight cycle completes after cancel")
	assert.Equal(t, uint64(3), st.MissedScans)
	assert.False(t, st.Running)
	for _, w := range f.clock.waits {
		assert.Zero(t, w, "no residual delay after an overrun")
	}
}

func TestRun_WaitsResidualOfPeriod(t *testing.T) {
	f := newFixture(t)
	f.sensor.cost = 30 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.clock.onAfter = func(n int) {
		if n == 2 {
			cancel()
		}
	}
	s := f.scheduler()

	require.NoError(t, s.Run(ctx))
	require.NotEmpty(t, f.clock.waits)
	assert.Equal(t, 70*time.Millisecond, f.clock.waits[0])
}

func TestRun_GateClosedSkipsCycles(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.clock.onAfter = func(n int) {
		if n == 3 {
			cancel()
		}
	}
	s := f.scheduler(scan.WithGate(func() bool { return false }))

	require.NoError(t, s.Run(ctx))
	assert.Zero(t, s.Stats().Cycles)
	assert.Zero(t, f.sensor.reads)
}

func TestRunCycle_BatchReceivesElapsedTime(t *testing.T) {
	f := newFixture(t)
	b := &batchRecorder{}
	s := f.scheduler(scan.WithBatch(b))

	start := f.clock.Now()
	s.RunCycle(context.Background(), start)
	s.RunCycle(context.Background(), start.Add(250*time.Millisecond))

	assert.Equal(t, []time.Duration{100 * time.Millisecond, 250 * time.Millisecond}, b.dts)
}

func TestRunCycle_PublishFailureAlarmsOncePerEpisode(t *testing.T) {
	f := newFixture(t)
	gw := &stubGateway{err: errors.New("broker unreachable")}
	s := f.scheduler(scan.WithGateway(gw))

	for i := 0; i < 3; i++ {
		s.RunCycle(context.Background(), f.clock.Now())
		f.clock.Advance(100 * time.Millisecond)
	}
	a, ok := f.alarms.Get(scan.AlarmPublishFailed)
	require.True(t, ok)
	assert.Equal(t, 1, a.Occurrences)
	assert.Zero(t, s.Stats().Faults, "publish failures are not cycle faults")
	assert.False(t, s.GatewayHealthy())

	gw.err = nil
	s.RunCycle(context.Background(), f.clock.Now())
	assert.False(t, f.alarms.IsActive(scan.AlarmPublishFailed))
}

type panickingRecorder struct {
	metrics.NoOpScanRecorder
}

func (*panickingRecorder) RecordCycle(ctx context.Context, duration time.Duration, overrun bool) {
	panic("exporter closed")
}

func TestRunCycle_CascadeUsesPreviousScanOutput(t *testing.T) {
	f := newFixture(t)
	outer, err := pid.New(pid.Config{Name: "TIC101", Kp: 1, OutputMax: 100, InitialSetpoint: 50, InitialMode: pid.ModeAuto})
	require.NoError(t, err)
	inner, err := pid.New(pid.Config{Name: "TIC102", Kp: 1, OutputMax: 100, InitialSetpoint: 40, InitialMode: pid.ModeCascade})
	require.NoError(t, err)
	f.unit.AddLoop(&unit.LoopBinding{Loop: outer, PVTag: "R1.TT101.PV", OutputTag: "R1.TIC101.OUT"})
	f.unit.AddLoop(&unit.LoopBinding{Loop: inner, PVTag: "R1.TT101.PV", OutputTag: "R1.TIC102.OUT", CascadeFrom: "R1.TIC101.OUT"})
	s := f.scheduler()

	// First scan: no upstream output exists yet, so the inner loop keeps its own setpoint.
	s.RunCycle(context.Background(), f.clock.Now())
	assert.Equal(t, 40.0, inner.Status().Setpoint)
	assert.InDelta(t, 5.0, outer.Output(), 1e-9)

	require.NoError(t, outer.SetSetpoint(60))
	for i := 0; i < 50; i++ {
		s.RunCycle(context.Background(), f.clock.Now().Add(time.Duration(i+1)*100*time.Millisecond))
		assert.InDelta(t, 15.0, outer.Output(), 1e-9)
		if i == 0 {
			assert.InDelta(t, 5.0, inner.Status().Setpoint, 1e-9, "inner loop follows the previous scan")
		} else {
			assert.InDelta(t, 15.0, inner.Status().Setpoint, 1e-9)
		}
	}
}

func TestRun_PanicOutsideStagesDoesNotStopScanning(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.sensor.onRead = func(n int) {
		if n == 3 {
			cancel()
		}
	}
	s := f.scheduler(scan.WithMetrics(&panickingRecorder{}, nil))

	assert.NotPanics(t, func() { require.NoError(t, s.Run(ctx)) })

	st := s.Stats()
	assert.Equal(t, uint64(3), st.Cycles)
	assert.Equal(t, uint64(3), st.Faults)
	a, ok := f.alarms.Get(scan.AlarmCycleFault)
	require.True(t, ok)
	assert.Contains(t, a.Message, "exporter closed")
}

func TestRun_RestartDoesNotCarryDowntimeIntoFirstCycle(t *testing.T) {
	f := newFixture(t)
	b := &batchRecorder{}
	s := f.scheduler(scan.WithBatch(b))

	ctx, cancel := context.WithCancel(context.Background())
	f.sensor.onRead = func(n int) { cancel() }
	require.NoError(t, s.Run(ctx))

	f.clock.Advance(time.Hour)
	ctx, cancel = context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Run(ctx))

	require.Len(t, b.dts, 2)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 100 * time.Millisecond}, b.dts)
}
