// Package alarm implements priority-based alarm management: a table of live alarms keyed by
// id plus a bounded, append-only event history.
package alarm

import (
	"fmt"
	"strings"
	"time"
)

// Priority orders alarms by severity. Lower values are more severe.
type Priority int

const (
	PriorityCritical    Priority = 1
	PriorityHigh        Priority = 2
	PriorityMedium      Priority = 3
	PriorityLow         Priority = 4
	PriorityInformation Priority = 5
)

func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "CRITICAL"
	case PriorityHigh:
		return "HIGH"
	case PriorityMedium:
		return "MEDIUM"
	case PriorityLow:
		return "LOW"
	case PriorityInformation:
		return "INFORMATION"
	}
	return fmt.Sprintf("PRIORITY(%d)", int(p))
}

// MoreSevereThan reports whether p outranks other.
func (p Priority) MoreSevereThan(other Priority) bool {
	return p < other
}

// ParsePriority parses a priority name as used in configuration.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "CRITICAL":
		return PriorityCritical, nil
	case "HIGH":
		return PriorityHigh, nil
	case "MEDIUM":
		return PriorityMedium, nil
	case "LOW":
		return PriorityLow, nil
	case "INFORMATION", "INFO":
		return PriorityInformation, nil
	}
	return 0, fmt.Errorf("unknown alarm priority %q", s)
}

// Category is the functional area an alarm belongs to.
type Category string

const (
	CategoryProcess       Category = "PROCESS"
	CategorySafety        Category = "SAFETY"
	CategorySystem        Category = "SYSTEM"
	CategoryEquipment     Category = "EQUIPMENT"
	CategoryBatch         Category = "BATCH"
	CategoryCommunication Category = "COMMUNICATION"
)

// Status is the lifecycle state of an alarm.
type Status string

const (
	StatusActive       Status = "ACTIVE"
	StatusAcknowledged Status = "ACKNOWLEDGED"
	StatusCleared      Status = "CLEARED"
	StatusSuppressed   Status = "SUPPRESSED"
)

// EventType identifies an entry in the alarm history.
type EventType string

const (
	EventActivated    EventType = "ACTIVATED"
	EventReactivated  EventType = "REACTIVATED"
	EventAcknowledged EventType = "ACKNOWLEDGED"
	EventCleared      EventType = "CLEARED"
	EventSuppressed   EventType = "SUPPRESSED"
	EventUnsuppressed EventType = "UNSUPPRESSED"
)

// Alarm is the live state of one alarm id.
type Alarm struct {
	ID              string     `json:"id"`
	Message         string     `json:"message"`
	Priority        Priority   `json:"priority"`
	Category        Category   `json:"category"`
	Source          string     `json:"source"`
	Status          Status     `json:"status"`
	ActivatedAt     time.Time  `json:"activated_at"`
	LastActivatedAt time.Time  `json:"last_activated_at"`
	AcknowledgedAt  *time.Time `json:"acknowledged_at,omitempty"`
	AcknowledgedBy  string     `json:"acknowledged_by,omitempty"`
	ClearedAt       *time.Time `json:"cleared_at,omitempty"`
	// Occurrences counts raises since the alarm was last cleared.
	Occurrences int `json:"occurrences"`
}

// Event is an immutable alarm history record.
type Event struct {
	ID        string    `json:"id"`
	AlarmID   string    `json:"alarm_id"`
	Type      EventType `json:"type"`
	Priority  Priority  `json:"priority"`
	Category  Category  `json:"category"`
	Source    string    `json:"source"`
	Message   string    `json:"message"`
	User      string    `json:"user,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Listener is notified of every alarm event.
type Listener interface {
	OnAlarmEvent(ev Event)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(ev Event)

// OnAlarmEvent calls f(ev).
func (f ListenerFunc) OnAlarmEvent(ev Event) { f(ev) }

// Raiser is the narrow handle components use to raise and clear condition alarms.
type Raiser interface {
	Raise(id, message string, priority Priority, category Category, source string) Alarm
	ReturnToNormal(id string) bool
}
