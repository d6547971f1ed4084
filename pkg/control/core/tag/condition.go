package tag

import (
	"fmt"
	"strings"
)

// Operator is a comparison used by conditions configured in YAML.
type Operator string

const (
	OpGreater      Operator = ">"
	OpGreaterEqual Operator = ">="
	OpLess         Operator = "<"
	OpLessEqual    Operator = "<="
	OpEqual        Operator = "=="
	OpNotEqual     Operator = "!="
)

// Condition compares a tag's value to a constant. It is the declarative form of interlock
// predicates, safety channel sources and phase completion predicates.
type Condition struct {
	Tag   string   `yaml:"tag" json:"tag" validate:"required"`
	Op    Operator `yaml:"op" json:"op" validate:"required,oneof=> >= < <= == !="`
	Value float64  `yaml:"value" json:"value"`
}

// Validate checks the operator.
func (c Condition) Validate() error {
	if c.Tag == "" {
		return fmt.Errorf("condition has no tag")
	}
	switch c.Op {
	case OpGreater, OpGreaterEqual, OpLess, OpLessEqual, OpEqual, OpNotEqual:
		return nil
	}
	return fmt.Errorf("condition on %s: unsupported operator %q", c.Tag, c.Op)
}

// Compare applies the operator to v.
func (c Condition) Compare(v float64) bool {
	switch c.Op {
	case OpGreater:
		return v > c.Value
	case OpGreaterEqual:
		return v >= c.Value
	case OpLess:
		return v < c.Value
	case OpLessEqual:
		return v <= c.Value
	case OpEqual:
		return v == c.Value
	case OpNotEqual:
		return v != c.Value
	}
	return false
}

// Evaluate reads the tag and compares it. The second result is false when the tag is
// missing or its quality is Bad, in which case the comparison result is meaningless.
func (c Condition) Evaluate(r Reader) (result bool, valid bool) {
	t, ok := r.Get(c.Tag)
	if !ok || t.Quality == QualityBad {
		return false, false
	}
	return c.Compare(t.Value.Value), true
}

func (c Condition) String() string {
	return strings.Join([]string{c.Tag, string(c.Op), fmt.Sprintf("%g", c.Value)}, " ")
}
