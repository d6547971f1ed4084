package metrics

import (
	"context"
	"time"

	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/alarm"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/batch"
)

// ScanRecorder is an abstract interface for recording controller metrics.
//
// This interface decouples the scan cycle and its listeners from a concrete metrics
// backend (e.g., Prometheus, OpenTelemetry Metrics).
type ScanRecorder interface {
	// RecordCycle records one completed scan cycle.
	//
	// ctx: The context for the operation.
	// duration: Wall-clock duration of the cycle.
	// overrun: Whether the cycle exceeded the overrun threshold.
	RecordCycle(ctx context.Context, duration time.Duration, overrun bool)

	// RecordStage records one stage of a scan cycle.
	//
	// ctx: The context for the operation.
	// stage: The stage name (e.g., "read_inputs", "loops").
	// duration: Duration of the stage.
	// err: The error the stage produced, or nil.
	RecordStage(ctx context.Context, stage string, duration time.Duration, err error)

	// RecordLoopOutput records the output of a control loop after execution.
	//
	// ctx: The context for the operation.
	// loop: The loop name.
	// output: The computed output.
	RecordLoopOutput(ctx context.Context, loop string, output float64)

	// RecordAlarmEvent records an alarm state change.
	//
	// ctx: The context for the operation.
	// ev: The alarm event.
	RecordAlarmEvent(ctx context.Context, ev alarm.Event)

	// RecordBatchEvent records a batch event.
	//
	// ctx: The context for the operation.
	// ev: The batch event.
	RecordBatchEvent(ctx context.Context, ev batch.Event)

	// RecordPublish records a gateway publish attempt.
	//
	// ctx: The context for the operation.
	// gateway: The gateway name.
	// duration: Duration of the publish call.
	// err: The publish error, or nil.
	RecordPublish(ctx context.Context, gateway string, duration time.Duration, err error)
}
