package unit

import (
	"context"

	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/tag"
)

// Predicate decides whether an interlock condition holds.
type Predicate func(r tag.Reader) bool

// Action is run once each time an interlock's predicate becomes true.
type Action func(ctx context.Context) error

// Interlock is a named predicate/action pair.
type Interlock struct {
	Name    string
	When    Predicate
	Do      Action
	Enabled bool
}

// ConditionPredicate adapts a tag condition. A missing or Bad tag never satisfies it.
func ConditionPredicate(c tag.Condition) Predicate {
	return func(r tag.Reader) bool {
		result, valid := c.Evaluate(r)
		return valid && result
	}
}

type interlockState struct {
	Interlock
	active bool
}
