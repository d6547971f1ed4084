// Package exception provides the controller's error taxonomy.
// Every failure surfaced by a component is classified into one of a small number of kinds so
// that callers (the operator API, the scan scheduler) can decide whether to reject a command,
// raise an alarm, or force the safe state.
package exception

import (
	"errors"
	"fmt"
	"runtime"
)

// Kind classifies a ControlError.
type Kind int

const (
	// KindUnknown is used for errors that were not produced by this package.
	KindUnknown Kind = iota
	// KindRejected is an operator or API command that was refused without mutating state.
	KindRejected
	// KindTransient is a recoverable device or process fault.
	KindTransient
	// KindCycle is an error caught at the scan-cycle boundary.
	KindCycle
	// KindSafety is a safety-critical fault that forces the de-energized state.
	KindSafety
	// KindConfiguration is a validation failure detected before execution begins.
	KindConfiguration
)

// String returns the kind name used in logs and API responses.
func (k Kind) String() string {
	switch k {
	case KindRejected:
		return "REJECTED"
	case KindTransient:
		return "TRANSIENT"
	case KindCycle:
		return "CYCLE"
	case KindSafety:
		return "SAFETY"
	case KindConfiguration:
		return "CONFIGURATION"
	default:
		return "UNKNOWN"
	}
}

// Sentinel errors wrapped by ControlError values. Compare with errors.Is.
var (
	ErrUnknownAlarm      = errors.New("unknown alarm id")
	ErrAlarmState        = errors.New("alarm is not in a state that permits this operation")
	ErrBatchActive       = errors.New("a batch is already running or paused")
	ErrBatchFaulted      = errors.New("batch faulted")
	ErrInvalidTransition = errors.New("batch state transition not permitted")
	ErrResetDenied       = errors.New("safety reset denied")
	ErrInvalidRecipe     = errors.New("invalid recipe")
	ErrUnknownRecipe     = errors.New("unknown recipe")
	ErrUnknownLoop       = errors.New("unknown control loop")
	ErrLoopMode          = errors.New("operation not permitted in current loop mode")
	ErrUnknownTag        = errors.New("unknown tag")
	ErrUnknownModule     = errors.New("unknown safety module")
	ErrUnknownInterlock  = errors.New("unknown interlock")
	ErrUnknownUnit       = errors.New("unknown process unit")
	ErrInvalidChannel    = errors.New("invalid safety channel")
	ErrPromotionDenied   = errors.New("promotion denied")
	ErrInvalidConfig     = errors.New("invalid configuration")
)

// ControlError is the error type produced by controller components.
type ControlError struct {
	// Module names the component that produced the error (e.g. "alarm", "batch", "safety").
	Module string
	// Kind classifies the error.
	Kind Kind
	// Message is a concise description of the error.
	Message string
	// OriginalErr is the wrapped cause, usually one of the sentinels above.
	OriginalErr error
	// StackTrace is captured only for cycle-level errors, where it is the only clue left after a recovered panic.
	StackTrace string
}

// NewControlError creates a new ControlError.
func NewControlError(module string, kind Kind, message string, originalErr error) *ControlError {
	e := &ControlError{
		Module:      module,
		Kind:        kind,
		Message:     message,
		OriginalErr: originalErr,
	}
	if kind == KindCycle {
		buf := make([]byte, 4096)
		n := runtime.Stack(buf, false)
		e.StackTrace = string(buf[:n])
	}
	return e
}

// NewControlErrorf creates a ControlError with a formatted message.
// If the last argument is an error it is used as OriginalErr and excluded from formatting.
//
// Example:
//
//	NewControlErrorf("batch", KindRejected, "cannot pause batch %s", id, ErrInvalidTransition)
func NewControlErrorf(module string, kind Kind, format string, a ...interface{}) *ControlError {
	var originalErr error
	args := a
	if len(args) > 0 {
		if err, ok := args[len(args)-1].(error); ok {
			originalErr = err
			args = args[:len(args)-1]
		}
	}
	return NewControlError(module, kind, fmt.Sprintf(format, args...), originalErr)
}

// Rejected is shorthand for a KindRejected error wrapping cause.
func Rejected(module string, cause error, format string, a ...interface{}) *ControlError {
	return NewControlError(module, KindRejected, fmt.Sprintf(format, a...), cause)
}

// Configuration is shorthand for a KindConfiguration error wrapping cause.
func Configuration(module string, cause error, format string, a ...interface{}) *ControlError {
	return NewControlError(module, KindConfiguration, fmt.Sprintf(format, a...), cause)
}

// Error implements the error interface.
func (e *ControlError) Error() string {
	if e.OriginalErr != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Module, e.Message, e.OriginalErr)
	}
	return fmt.Sprintf("[%s] %s", e.Module, e.Message)
}

// Unwrap returns the original error for errors.Is and errors.As.
func (e *ControlError) Unwrap() error {
	return e.OriginalErr
}

// KindOf returns the kind of the first ControlError in err's chain.
func KindOf(err error) Kind {
	var ce *ControlError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindUnknown
}

// IsRejected reports whether err is a rejected command.
func IsRejected(err error) bool {
	return KindOf(err) == KindRejected
}

// IsSafety reports whether err is a safety-critical fault.
func IsSafety(err error) bool {
	return KindOf(err) == KindSafety
}

// IsConfiguration reports whether err is a configuration validation failure.
func IsConfiguration(err error) bool {
	return KindOf(err) == KindConfiguration
}

// FromPanic converts a recovered panic value into a cycle-level ControlError.
func FromPanic(module string, recovered interface{}) *ControlError {
	if err, ok := recovered.(error); ok {
		return NewControlError(module, KindCycle, "recovered from panic", err)
	}
	return NewControlError(module, KindCycle, fmt.Sprintf("recovered from panic: %v", recovered), nil)
}

// ExtractErrorMessage returns the innermost message of err, used in API responses.
func ExtractErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	var ce *ControlError
	if errors.As(err, &ce) {
		if ce.OriginalErr != nil {
			return fmt.Sprintf("%s: %v", ce.Message, ce.OriginalErr)
		}
		return ce.Message
	}
	return err.Error()
}
