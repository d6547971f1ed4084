package controller

import (
	"fmt"

	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/audit"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/batch"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/pid"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/redundancy"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/scan"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/unit"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/support/util/logger"
)

// SetLoopMode changes a loop's mode on behalf of an operator.
func (c *Controller) SetLoopMode(user, loop string, mode pid.Mode) error {
	l, err := c.Loop(loop)
	if err != nil {
		return err
	}
	from := l.Mode()
	err = l.SetMode(mode)
	c.Audit.Record(user, "LOOP_MODE_CHANGE", audit.CategoryControl,
		fmt.Sprintf("loop %s: %s -> %s", loop, from, mode), err == nil)
	return err
}

// SetLoopSetpoint changes a loop's setpoint on behalf of an operator.
func (c *Controller) SetLoopSetpoint(user, loop string, setpoint float64) error {
	l, err := c.Loop(loop)
	if err != nil {
		return err
	}
	from := l.Status().TargetSetpoint
	err = l.SetSetpoint(setpoint)
	c.Audit.Record(user, "SETPOINT_CHANGE", audit.CategoryControl,
		fmt.Sprintf("loop %s: %g -> %g", loop, from, setpoint), err == nil)
	return err
}

// SetLoopOutput sets a Manual loop's output on behalf of an operator.
func (c *Controller) SetLoopOutput(user, loop string, output float64) error {
	l, err := c.Loop(loop)
	if err != nil {
		return err
	}
	from := l.Output()
	err = l.SetOutput(output)
	c.Audit.Record(user, "MANUAL_OUTPUT_CHANGE", audit.CategoryControl,
		fmt.Sprintf("loop %s: %g -> %g", loop, from, output), err == nil)
	return err
}

// SetInterlockEnabled enables or bypasses an interlock.
func (c *Controller) SetInterlockEnabled(user, unitName, interlock string, enabled bool) error {
	u, err := c.Unit(unitName)
	if err != nil {
		return err
	}
	err = u.SetInterlockEnabled(interlock, enabled)
	action := "INTERLOCK_BYPASS"
	if enabled {
		action = "INTERLOCK_ENABLE"
	}
	c.Audit.Record(user, action, audit.CategorySafety, fmt.Sprintf("%s/%s", unitName, interlock), err == nil)
	return err
}

// ForceSafetyInput forces a safety channel. The module raises and audits the force itself.
func (c *Controller) ForceSafetyInput(user, module string, channel int, value bool) error {
	m, err := c.SafetyModule(module)
	if err != nil {
		return err
	}
	return m.Force(channel, value, user)
}

// UnforceSafetyInput releases a forced safety channel.
func (c *Controller) UnforceSafetyInput(user, module string, channel int) error {
	m, err := c.SafetyModule(module)
	if err != nil {
		return err
	}
	return m.Unforce(channel, user)
}

// ResetSafety attempts to reset a tripped safety module.
func (c *Controller) ResetSafety(user, module string) error {
	m, err := c.SafetyModule(module)
	if err != nil {
		return err
	}
	return m.Reset(user)
}

// ClearSafetyFault clears a latched diagnostic fault so that a reset becomes possible.
func (c *Controller) ClearSafetyFault(user, module string) error {
	m, err := c.SafetyModule(module)
	if err != nil {
		return err
	}
	return m.ClearMasterFault(user)
}

// StartBatch starts a recipe. An empty batch id is generated by the engine.
func (c *Controller) StartBatch(user, recipe, batchID string) (batch.Instance, error) {
	return c.Batch.Start(recipe, batchID, user)
}

// Promote makes this node primary. The scheduler is gated on the role and picks up on the next cycle.
func (c *Controller) Promote(user string, force bool) error {
	if err := c.Redundancy.Promote(user, force); err != nil {
		return err
	}
	logger.Warnf("Controller promoted to PRIMARY by %s.", user)
	return nil
}

// UnitStatus pairs a unit with its health.
type UnitStatus struct {
	Name   string      `json:"name"`
	Status unit.Status `json:"status"`
}

// Status is an overall controller snapshot.
type Status struct {
	Name           string            `json:"name"`
	Redundancy     redundancy.Status `json:"redundancy"`
	Scan           scan.Stats        `json:"scan"`
	Units          []UnitStatus      `json:"units"`
	ActiveAlarms   int               `json:"active_alarms"`
	AlarmCounts    map[string]int    `json:"alarm_counts"`
	BatchState     batch.State       `json:"batch_state"`
	GatewayHealthy bool              `json:"gateway_healthy"`
	Tags           int               `json:"tags"`
}

// Status returns an overall snapshot.
func (c *Controller) Status() Status {
	s := Status{
		Name:           c.cfg.Controller.Name,
		Redundancy:     c.Redundancy.Status(),
		Scan:           c.Scheduler.Stats(),
		ActiveAlarms:   len(c.Alarms.Active()),
		AlarmCounts:    map[string]int{},
		BatchState:     c.Batch.State(),
		GatewayHealthy: c.Scheduler.GatewayHealthy(),
		Tags:           c.Store.Len(),
	}
	for p, n := range c.Alarms.CountByPriority() {
		s.AlarmCounts[p.String()] = n
	}
	for _, u := range c.units {
		s.Units = append(s.Units, UnitStatus{Name: u.Name(), Status: u.Status()})
	}
	return s
}
