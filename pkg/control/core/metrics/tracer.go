package metrics

import (
	"context"
)

// Tracer is an abstract interface for distributed tracing of scan cycles.
type Tracer interface {
	// StartCycleSpan starts a span covering one scan cycle.
	//
	// ctx: The parent context.
	// cycle: The cycle sequence number.
	//
	// Returns: A context with the new span set, and a function to end the span.
	StartCycleSpan(ctx context.Context, cycle uint64) (context.Context, func())

	// StartStageSpan starts a span for one stage within a cycle.
	//
	// ctx: The parent context (typically a context with a cycle span).
	// stage: The stage name.
	//
	// Returns: A context with the new span set, and a function to end the span.
	StartStageSpan(ctx context.Context, stage string) (context.Context, func())

	// RecordError records an error in the current span.
	//
	// ctx: The context with the current span.
	// module: The component where the error occurred (e.g., "scan", "unit").
	// err: The error to record.
	RecordError(ctx context.Context, module string, err error)

	// RecordEvent records an event in the current span.
	//
	// ctx: The context with the current span.
	// name: The event name (e.g., "scan_overrun").
	// attributes: Additional attributes to associate with the event.
	RecordEvent(ctx context.Context, name string, attributes map[string]interface{})
}
