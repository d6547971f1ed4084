package metrics

import (
	"context"
	"time"

	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/alarm"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/batch"
)

// NoOpScanRecorder is a ScanRecorder that does nothing.
// It is used when metrics are disabled or during testing.
type NoOpScanRecorder struct{}

// NewNoOpScanRecorder creates a new NoOpScanRecorder.
func NewNoOpScanRecorder() ScanRecorder {
	return &NoOpScanRecorder{}
}

// RecordCycle does nothing.
func (r *NoOpScanRecorder) RecordCycle(ctx context.Context, duration time.Duration, overrun bool) {
}

// RecordStage does nothing.
func (r *NoOpScanRecorder) RecordStage(ctx context.Context, stage string, duration time.Duration, err error) {
}

// RecordLoopOutput does nothing.
func (r *NoOpScanRecorder) RecordLoopOutput(ctx context.Context, loop string, output float64) {
}

// RecordAlarmEvent does nothing.
func (r *NoOpScanRecorder) RecordAlarmEvent(ctx context.Context, ev alarm.Event) {
}

// RecordBatchEvent does nothing.
func (r *NoOpScanRecorder) RecordBatchEvent(ctx context.Context, ev batch.Event) {
}

// RecordPublish does nothing.
func (r *NoOpScanRecorder) RecordPublish(ctx context.Context, gateway string, duration time.Duration, err error) {
}

var _ ScanRecorder = (*NoOpScanRecorder)(nil)

// --- NoOpTracer ---

// NoOpTracer is a Tracer that does nothing.
type NoOpTracer struct{}

// NewNoOpTracer creates a new NoOpTracer.
func NewNoOpTracer() Tracer {
	return &NoOpTracer{}
}

// StartCycleSpan returns ctx unchanged.
func (t *NoOpTracer) StartCycleSpan(ctx context.Context, cycle uint64) (context.Context, func()) {
	return ctx, func() {}
}

// StartStageSpan returns ctx unchanged.
func (t *NoOpTracer) StartStageSpan(ctx context.Context, stage string) (context.Context, func()) {
	return ctx, func() {}
}

// RecordError does nothing.
func (t *NoOpTracer) RecordError(ctx context.Context, module string, err error) {}

// RecordEvent does nothing.
func (t *NoOpTracer) RecordEvent(ctx context.Context, name string, attributes map[string]interface{}) {
}

var _ Tracer = (*NoOpTracer)(nil)
