package controller

import (
	"fmt"

	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/alarm"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/batch"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/pid"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/tag"
)

// plantOps applies recipe and interlock operations to the plant. source names the caller in
// raised alarms.
type plantOps struct {
	c      *Controller
	source string
}

var _ batch.OperationContext = (*plantOps)(nil)

func (o *plantOps) SetLoopSetpoint(loop string, value float64) error {
	l, err := o.c.Loop(loop)
	if err != nil {
		return err
	}
	return l.SetSetpoint(value)
}

func (o *plantOps) SetLoopMode(loop string, mode pid.Mode) error {
	l, err := o.c.Loop(loop)
	if err != nil {
		return err
	}
	return l.SetMode(mode)
}

func (o *plantOps) SetLoopOutput(loop string, value float64) error {
	l, err := o.c.Loop(loop)
	if err != nil {
		return err
	}
	if err := l.SetMode(pid.ModeManual); err != nil {
		return err
	}
	return l.SetOutput(value)
}

func (o *plantOps) WriteTag(name string, value float64) error {
	if name == "" {
		return fmt.Errorf("write_tag needs a tag name")
	}
	o.c.Store.Set(name, value, tag.QualityGood, o.c.now())
	return nil
}

func (o *plantOps) RaiseAlarm(id, message string, priority alarm.Priority) error {
	category := alarm.CategoryProcess
	if o.source == "batch" {
		category = alarm.CategoryBatch
	}
	o.c.Alarms.Raise(id, message, priority, category, o.source)
	return nil
}
