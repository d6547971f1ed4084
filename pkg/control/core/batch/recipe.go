package batch

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/alarm"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/pid"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/tag"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/support/util/exception"
)

// OperationType selects what an Operation does when its phase starts.
type OperationType string

const (
	OperationSetpoint OperationType = "setpoint"
	OperationMode     OperationType = "mode"
	OperationOutput   OperationType = "output"
	OperationWriteTag OperationType = "write_tag"
	OperationAlarm    OperationType = "alarm"
)

// Operation is an effect applied once at phase start.
type Operation struct {
	Type OperationType `yaml:"type" json:"type"`
	// Target is a loop name for setpoint, mode and output, a tag name for write_tag and an alarm id for alarm.
	Target   string  `yaml:"target" json:"target"`
	Value    float64 `yaml:"value" json:"value,omitempty"`
	Mode     string  `yaml:"mode" json:"mode,omitempty"`
	Message  string  `yaml:"message" json:"message,omitempty"`
	Priority string  `yaml:"priority" json:"priority,omitempty"`
}

// Validate checks that the operation carries what its type needs.
func (o Operation) Validate() error {
	if o.Target == "" {
		return fmt.Errorf("%s operation has no target", o.Type)
	}
	switch o.Type {
	case OperationSetpoint, OperationOutput, OperationWriteTag:
		return nil
	case OperationMode:
		_, err := pid.ParseMode(o.Mode)
		return err
	case OperationAlarm:
		if o.Priority == "" {
			return nil
		}
		_, err := alarm.ParsePriority(o.Priority)
		return err
	default:
		return fmt.Errorf("unknown operation type %q", o.Type)
	}
}

// Phase is one step of a recipe. It completes when Duration has elapsed on the batch clock
// or, when Duration is zero, when CompleteWhen holds.
type Phase struct {
	Name         string         `yaml:"name" json:"name"`
	Duration     time.Duration  `yaml:"duration" json:"duration"`
	CompleteWhen *tag.Condition `yaml:"complete_when" json:"complete_when,omitempty"`
	Operations   []Operation    `yaml:"operations" json:"operations"`
}

// Recipe is a named, versioned ordered list of phases.
type Recipe struct {
	ID          string  `yaml:"id" json:"id"`
	Name        string  `yaml:"name" json:"name"`
	Version     int     `yaml:"version" json:"version"`
	Description string  `yaml:"description" json:"description,omitempty"`
	Phases      []Phase `yaml:"phases" json:"phases"`
}

// Validate reports every problem in the recipe at once.
func (r Recipe) Validate() error {
	var errs *multierror.Error
	if r.Name == "" {
		errs = multierror.Append(errs, fmt.Errorf("recipe name is required"))
	}
	if len(r.Phases) == 0 {
		errs = multierror.Append(errs, fmt.Errorf("recipe %s has no phases", r.Name))
	}
	for i, p := range r.Phases {
		if p.Name == "" {
			errs = multierror.Append(errs, fmt.Errorf("phase %d has no name", i))
		}
		switch {
		case p.Duration < 0:
			errs = multierror.Append(errs, fmt.Errorf("phase %s: negative duration", p.Name))
		case p.Duration == 0 && p.CompleteWhen == nil:
			errs = multierror.Append(errs, fmt.Errorf("phase %s needs a duration or a completion condition", p.Name))
		case p.Duration == 0:
			if err := p.CompleteWhen.Validate(); err != nil {
				errs = multierror.Append(errs, fmt.Errorf("phase %s: %w", p.Name, err))
			}
		}
		for j, op := range p.Operations {
			if err := op.Validate(); err != nil {
				errs = multierror.Append(errs, fmt.Errorf("phase %s operation %d: %w", p.Name, j, err))
			}
		}
	}
	if err := errs.ErrorOrNil(); err != nil {
		return exception.NewControlError("batch", exception.KindConfiguration,
			fmt.Sprintf("recipe %s: %v", r.Name, err), fmt.Errorf("%w: %w", exception.ErrInvalidRecipe, err))
	}
	return nil
}

// Clone returns a deep copy with a new id. Version is kept; callers bump it when editing.
func (r Recipe) Clone() Recipe {
	c := r.deepCopy()
	c.ID = uuid.NewString()
	return c
}

// TotalDuration sums the fixed phase durations. Condition-driven phases count as zero.
func (r Recipe) TotalDuration() time.Duration {
	var d time.Duration
	for _, p := range r.Phases {
		d += p.Duration
	}
	return d
}

func (r Recipe) deepCopy() Recipe {
	c := r
	c.Phases = make([]Phase, len(r.Phases))
	for i, p := range r.Phases {
		cp := p
		if p.CompleteWhen != nil {
			cond := *p.CompleteWhen
			cp.CompleteWhen = &cond
		}
		cp.Operations = append([]Operation(nil), p.Operations...)
		c.Phases[i] = cp
	}
	return c
}
