// Package controller assembles the control kernel from configuration and exposes the
// operator commands that the API and the CLI drive.
package controller

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/alarm"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/audit"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/batch"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/config"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/gateway"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/historian"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/metrics"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/pid"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/redundancy"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/safety"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/scan"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/tag"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/unit"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/support/util/exception"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/support/util/logger"
)

const moduleName = "controller"

// DeviceFactory instantiates the devices named in unit configuration.
type DeviceFactory interface {
	NewDevice(unitName string, cfg config.DeviceConfig) (unit.Device, error)
}

// Dependencies are the pluggable collaborators of a Controller. Every field is optional
// except Devices when the configuration declares devices.
type Dependencies struct {
	Devices        DeviceFactory
	Gateways       []gateway.Gateway
	Recorder       metrics.ScanRecorder
	Tracer         metrics.Tracer
	Peer           redundancy.HealthChecker
	Archiver       audit.Archiver
	AuditSinks     []audit.Sink
	HistorianSinks []historian.Sink
	AlarmListeners []alarm.Listener
	BatchListeners []batch.Listener
	// Clock drives the scheduler; nil uses wall time.
	Clock scan.Clock
}

// Controller owns every kernel component.
type Controller struct {
	cfg *config.Config

	Store      *tag.Store
	Audit      *audit.Trail
	Alarms     *alarm.Manager
	Historian  *historian.Historian
	Batch      *batch.Engine
	Scheduler  *scan.Scheduler
	Redundancy *redundancy.Monitor

	units   []*unit.Unit
	loops   map[string]*unit.LoopBinding
	modules map[string]*safety.Module
	now     func() time.Time

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// New builds a controller from a validated configuration.
//
// Parameters:
//
//	cfg: The loaded configuration.
//	deps: Device factory, sinks, gateways, listeners and metrics wired by the application.
//
// Returns:
//
//	The assembled controller, or a KindConfiguration error listing every component that failed to build.
func New(cfg *config.Config, deps Dependencies) (*Controller, error) {
	cc := cfg.Controller
	c := &Controller{
		cfg:     cfg,
		Store:   tag.NewStore(),
		loops:   make(map[string]*unit.LoopBinding),
		modules: make(map[string]*safety.Module),
		now:     time.Now,
	}
	if deps.Clock != nil {
		c.now = deps.Clock.Now
	}

	auditOpts := []audit.Option{audit.WithClock(c.now)}
	if deps.Archiver != nil {
		auditOpts = append(auditOpts, audit.WithArchiver(deps.Archiver))
	}
	for _, s := range deps.AuditSinks {
		auditOpts = append(auditOpts, audit.WithSink(s))
	}
	c.Audit = audit.NewTrail(cc.Audit.Config, auditOpts...)

	alarmOpts := []alarm.Option{alarm.WithClock(c.now)}
	for _, l := range deps.AlarmListeners {
		alarmOpts = append(alarmOpts, alarm.WithListener(l))
	}
	if deps.Recorder != nil {
		alarmOpts = append(alarmOpts, alarm.WithListener(metrics.AlarmListener(deps.Recorder)))
	}
	c.Alarms = alarm.NewManager(cc.Alarms, c.Audit, alarmOpts...)

	histOpts := []historian.Option{historian.WithClock(c.now)}
	for _, s := range deps.HistorianSinks {
		histOpts = append(histOpts, historian.WithSink(s))
	}
	c.Historian = historian.New(cc.Historian.Config, histOpts...)

	batchOpts := []batch.Option{batch.WithClock(c.now)}
	for _, l := range deps.BatchListeners {
		batchOpts = append(batchOpts, batch.WithListener(l))
	}
	if deps.Recorder != nil {
		batchOpts = append(batchOpts, batch.WithListener(metrics.BatchListener(deps.Recorder)))
	}
	c.Batch = batch.NewEngine(cc.Batch, &plantOps{c: c, source: "batch"}, c.Store, c.Alarms, c.Audit, batchOpts...)

	var errs *multierror.Error
	for _, r := range cc.Recipes {
		if err := c.Batch.AddRecipe(r); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	for _, uc := range cc.Units {
		u, err := c.buildUnit(uc, deps.Devices)
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		c.units = append(c.units, u)
	}
	if err := errs.ErrorOrNil(); err != nil {
		return nil, exception.Configuration(moduleName, exception.ErrInvalidConfig, "failed to build controller: %v", err)
	}

	peer := deps.Peer
	if peer == nil && cc.Redundancy.Enabled {
		peer = redundancy.NewHTTPPeer(cc.Redundancy.PeerURL, &http.Client{Timeout: cc.Redundancy.Timeout})
	}
	c.Redundancy = redundancy.NewMonitor(cc.Redundancy, peer, c.Audit)

	schedOpts := []scan.Option{
		scan.WithGate(c.Redundancy.IsPrimary),
		scan.WithBatch(c.Batch),
		scan.WithHistorian(c.Historian),
	}
	if deps.Clock != nil {
		schedOpts = append(schedOpts, scan.WithClock(deps.Clock))
	}
	if deps.Recorder != nil || deps.Tracer != nil {
		schedOpts = append(schedOpts, scan.WithMetrics(deps.Recorder, deps.Tracer))
	}
	if gw := c.gateway(deps.Gateways); gw != nil {
		schedOpts = append(schedOpts, scan.WithGateway(gw))
	}
	c.Scheduler = scan.New(cc.Scan, c.Store, c.units, c.Alarms, schedOpts...)

	c.Audit.Record("system", "CONTROLLER_CONFIGURED", audit.CategoryConfiguration,
		fmt.Sprintf("%s: %d units, %d loops, %d safety modules, %d recipes",
			cc.Name, len(c.units), len(c.loops), len(c.modules), len(cc.Recipes)), true)
	logger.Infof("Controller %s built: %d units, %d loops, %d safety modules.", cc.Name, len(c.units), len(c.loops), len(c.modules))
	return c, nil
}

func (c *Controller) gateway(extra []gateway.Gateway) gateway.Gateway {
	var gws []gateway.Gateway
	if c.cfg.Controller.Gateway.Log {
		gws = append(gws, gateway.NewLogGateway())
	}
	gws = append(gws, extra...)
	switch len(gws) {
	case 0:
		return nil
	case 1:
		return gws[0]
	default:
		return gateway.NewMultiGateway(gws...)
	}
}

func (c *Controller) buildUnit(uc config.UnitConfig, devices DeviceFactory) (*unit.Unit, error) {
	u := unit.New(uc.Name, c.Store, c.Alarms)
	var errs *multierror.Error

	for _, tc := range uc.Tags {
		u.DefineTag(tc.Name, tc.Unit, tc.Limits)
	}
	for _, dc := range uc.Devices {
		if devices == nil {
			errs = multierror.Append(errs, fmt.Errorf("unit %s: no device factory for device %s", uc.Name, dc.Name))
			continue
		}
		d, err := devices.NewDevice(uc.Name, dc)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("unit %s device %s: %w", uc.Name, dc.Name, err))
			continue
		}
		if !u.AddDevice(d) {
			errs = multierror.Append(errs, fmt.Errorf("unit %s: duplicate device %s", uc.Name, dc.Name))
		}
	}
	for _, lc := range uc.Loops {
		loop, err := pid.New(lc.Config)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("unit %s: %w", uc.Name, err))
			continue
		}
		b := &unit.LoopBinding{Loop: loop, PVTag: lc.PV, OutputTag: lc.Output, CascadeFrom: lc.CascadeFrom}
		if _, dup := c.loops[lc.Name]; dup || !u.AddLoop(b) {
			errs = multierror.Append(errs, fmt.Errorf("unit %s: duplicate loop %s", uc.Name, lc.Name))
			continue
		}
		c.loops[lc.Name] = b
	}
	for _, sc := range uc.Safety {
		m, err := safety.NewModule(sc.Config, c.Alarms, c.Audit, safety.WithClock(c.now))
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		if _, dup := c.modules[m.Name()]; dup {
			errs = multierror.Append(errs, fmt.Errorf("duplicate safety module %s", m.Name()))
			continue
		}
		if err := u.AddSafety(unit.SafetyBinding{Module: m, Channels: sc.Channels}); err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		c.modules[m.Name()] = m
	}
	for _, ic := range uc.Interlocks {
		il := unit.Interlock{
			Name:    ic.Name,
			When:    unit.ConditionPredicate(ic.When),
			Do:      c.interlockAction(ic),
			Enabled: !ic.Disabled,
		}
		if !u.AddInterlock(il) {
			errs = multierror.Append(errs, fmt.Errorf("unit %s: duplicate interlock %s", uc.Name, ic.Name))
		}
	}
	for _, o := range uc.Outputs {
		u.AddOutput(o)
	}
	return u, errs.ErrorOrNil()
}

// interlockAction applies every configured operation even when an earlier one fails.
func (c *Controller) interlockAction(ic config.InterlockConfig) unit.Action {
	ops := &plantOps{c: c, source: "interlock:" + ic.Name}
	actions := append([]batch.Operation(nil), ic.Actions...)
	return func(ctx context.Context) error {
		logger.Warnf("Interlock %s tripped (%s).", ic.Name, ic.When)
		var errs *multierror.Error
		for _, op := range actions {
			if err := batch.Apply(ops, op); err != nil {
				errs = multierror.Append(errs, err)
			}
		}
		c.Audit.Record("system", "INTERLOCK_ACTIVATED", audit.CategorySafety,
			fmt.Sprintf("interlock %s: %s", ic.Name, ic.When), errs.ErrorOrNil() == nil)
		return errs.ErrorOrNil()
	}
}

// Config returns the configuration the controller was built from.
func (c *Controller) Config() *config.Config {
	return c.cfg
}

// Units returns the process units in configuration order.
func (c *Controller) Units() []*unit.Unit {
	return append([]*unit.Unit(nil), c.units...)
}

// Unit looks up a process unit.
func (c *Controller) Unit(name string) (*unit.Unit, error) {
	for _, u := range c.units {
		if u.Name() == name {
			return u, nil
		}
	}
	return nil, exception.Rejected(moduleName, exception.ErrUnknownUnit, "unit %s", name)
}

// Loop looks up a control loop by name.
func (c *Controller) Loop(name string) (*pid.Loop, error) {
	b, ok := c.loops[name]
	if !ok {
		return nil, exception.Rejected(moduleName, exception.ErrUnknownLoop, "loop %s", name)
	}
	return b.Loop, nil
}

// LoopStatuses returns every loop's status sorted by name.
func (c *Controller) LoopStatuses() []pid.Status {
	out := make([]pid.Status, 0, len(c.loops))
	for _, b := range c.loops {
		out = append(out, b.Loop.Status())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Name < out[j].Name
	})
	return out
}

// SafetyModule looks up a safety module by name.
func (c *Controller) SafetyModule(name string) (*safety.Module, error) {
	m, ok := c.modules[name]
	if !ok {
		return nil, exception.Rejected(moduleName, exception.ErrUnknownModule, "safety module %s", name)
	}
	return m, nil
}

// SafetyStatuses returns every safety module's status sorted by name.
func (c *Controller) SafetyStatuses() []safety.Status {
	out := make([]safety.Status, 0, len(c.modules))
	for _, m := range c.modules {
		out = append(out, m.Status())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Name < out[j].Name
	})
	return out
}
