// Package safety implements SIL-rated voting modules that force their outputs to the
// de-energized state on demand, discrepancy, channel fault or failed self-test.
package safety

import (
	"fmt"
	"strings"
	"time"
)

// Architecture is the channel voting arrangement.
type Architecture string

const (
	ArchitectureSingle Architecture = "1oo1"
	Architecture1oo2   Architecture = "1oo2"
	Architecture2oo3   Architecture = "2oo3"
)

// ParseArchitecture accepts "single", "1oo1", "1oo2" and "2oo3".
func ParseArchitecture(s string) (Architecture, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "single", "1oo1":
		return ArchitectureSingle, nil
	case "1oo2":
		return Architecture1oo2, nil
	case "2oo3":
		return Architecture2oo3, nil
	}
	return "", fmt.Errorf("unknown safety architecture %q", s)
}

// Channels returns the number of input channels the architecture votes over.
func (a Architecture) Channels() int {
	switch a {
	case Architecture1oo2:
		return 2
	case Architecture2oo3:
		return 3
	default:
		return 1
	}
}

// demand reports whether the (permissive=true) inputs vote for a trip.
func (a Architecture) demand(inputs []bool) bool {
	unsafe := 0
	for _, ok := range inputs {
		if !ok {
			unsafe++
		}
	}
	switch a {
	case Architecture2oo3:
		return unsafe >= 2
	default:
		// Single and 1oo2 both trip on any one unsafe channel.
		return unsafe >= 1
	}
}

// discrepancy reports whether redundant channels disagree.
func discrepancy(inputs []bool) bool {
	for i := 1; i < len(inputs); i++ {
		if inputs[i] != inputs[0] {
			return true
		}
	}
	return false
}

// SIL is the safety integrity level, 1 through 4.
type SIL int

// DiagnosticInterval is the self-test period for the level. Higher levels test more often.
func (s SIL) DiagnosticInterval() time.Duration {
	switch s {
	case 4:
		return 500 * time.Millisecond
	case 3:
		return time.Second
	case 2:
		return 5 * time.Second
	default:
		return 10 * time.Second
	}
}

// Valid reports whether s is 1..4.
func (s SIL) Valid() bool {
	return s >= 1 && s <= 4
}
