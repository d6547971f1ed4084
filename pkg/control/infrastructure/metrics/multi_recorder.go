package metrics

import (
	"context"
	"time"

	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/alarm"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/batch"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/metrics"
)

// MultiRecorder forwards every call to each wrapped recorder in order.
type MultiRecorder struct {
	recorders []metrics.ScanRecorder
}

// NewMultiRecorder combines recorders.
func NewMultiRecorder(recorders ...metrics.ScanRecorder) *MultiRecorder {
	return &MultiRecorder{recorders: recorders}
}

func (m *MultiRecorder) RecordCycle(ctx context.Context, duration time.Duration, overrun bool) {
	for _, r := range m.recorders {
		r.RecordCycle(ctx, duration, overrun)
	}
}

func (m *MultiRecorder) RecordStage(ctx context.Context, stage string, duration time.Duration, err error) {
	for _, r := range m.recorders {
		r.RecordStage(ctx, stage, duration, err)
	}
}

func (m *MultiRecorder) RecordLoopOutput(ctx context.Context, loop string, output float64) {
	for _, r := range m.recorders {
		r.RecordLoopOutput(ctx, loop, output)
	}
}

func (m *MultiRecorder) RecordAlarmEvent(ctx context.Context, ev alarm.Event) {
	for _, r := range m.recorders {
		r.RecordAlarmEvent(ctx, ev)
	}
}

func (m *MultiRecorder) RecordBatchEvent(ctx context.Context, ev batch.Event) {
	for _, r := range m.recorders {
		r.RecordBatchEvent(ctx, ev)
	}
}

func (m *MultiRecorder) RecordPublish(ctx context.Context, gateway string, duration time.Duration, err error) {
	for _, r := range m.recorders {
		r.RecordPublish(ctx, gateway, duration, err)
	}
}

var _ metrics.ScanRecorder = (*MultiRecorder)(nil)
