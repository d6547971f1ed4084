package metrics

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/alarm"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/batch"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/metrics"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/support/util/logger"
)

// RecordEvent is one queued recorder call.
type RecordEvent struct {
	Type     string
	Name     string // stage, loop or gateway name
	Duration time.Duration
	Value    float64
	Overrun  bool
	Err      error
	Alarm    alarm.Event
	Batch    batch.Event
}

// Record event type constants
const (
	RecordEventTypeCycle      = "cycle"
	RecordEventTypeStage      = "stage"
	RecordEventTypeLoopOutput = "loop_output"
	RecordEventTypeAlarm      = "alarm"
	RecordEventTypeBatch      = "batch"
	RecordEventTypePublish    = "publish"
)

const defaultAsyncBufferSize = 100

// AsyncRecorder queues recorder calls and replays them on a worker goroutine, so the scan
// cycle never blocks on a metrics backend. Calls arriving while the queue is full are discarded.
type AsyncRecorder struct {
	eventQueue   chan RecordEvent
	stopCh       chan struct{}
	stopOnce     sync.Once
	wg           sync.WaitGroup
	syncRecorder metrics.ScanRecorder
	discarded    atomic.Int64
}

// NewAsyncRecorder starts the worker. A bufferSize of 0 or less uses the default.
func NewAsyncRecorder(bufferSize int, syncRec metrics.ScanRecorder) *AsyncRecorder {
	if bufferSize <= 0 {
		bufferSize = defaultAsyncBufferSize
	}
	r := &AsyncRecorder{
		eventQueue:   make(chan RecordEvent, bufferSize),
		stopCh:       make(chan struct{}),
		syncRecorder: syncRec,
	}
	r.wg.Add(1)
	go r.run()
	logger.Debugf("AsyncRecorder: worker started (buffer size: %d).", bufferSize)
	return r
}

func (r *AsyncRecorder) run() {
	defer r.wg.Done()
	for {
		select {
		case event := <-r.eventQueue:
			r.processEvent(event)
		case <-r.stopCh:
			remaining := len(r.eventQueue)
			for i := 0; i < remaining; i++ {
				r.processEvent(<-r.eventQueue)
			}
			logger.Debugf("AsyncRecorder: worker stopped, flushed %d queued events.", remaining)
			return
		}
	}
}

func (r *AsyncRecorder) processEvent(event RecordEvent) {
	ctx := context.Background()
	switch event.Type {
	case RecordEventTypeCycle:
		r.syncRecorder.RecordCycle(ctx, event.Duration, event.Overrun)
	case RecordEventTypeStage:
		r.syncRecorder.RecordStage(ctx, event.Name, event.Duration, event.Err)
	case RecordEventTypeLoopOutput:
		r.syncRecorder.RecordLoopOutput(ctx, event.Name, event.Value)
	case RecordEventTypeAlarm:
		r.syncRecorder.RecordAlarmEvent(ctx, event.Alarm)
	case RecordEventTypeBatch:
		r.syncRecorder.RecordBatchEvent(ctx, event.Batch)
	case RecordEventTypePublish:
		r.syncRecorder.RecordPublish(ctx, event.Name, event.Duration, event.Err)
	default:
		logger.Warnf("AsyncRecorder: unknown event type: %s", event.Type)
	}
}

// Close stops the worker after replaying every queued call. It is safe to call twice.
func (r *AsyncRecorder) Close() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
		r.wg.Wait()
	})
}

// Discarded returns the number of calls dropped because the queue was full.
func (r *AsyncRecorder) Discarded() int64 {
	return r.discarded.Load()
}

func (r *AsyncRecorder) sendEvent(event RecordEvent) {
	select {
	case <-r.stopCh:
		return
	default:
	}
	select {
	case r.eventQueue <- event:
	default:
		if r.discarded.Add(1) == 1 {
			logger.Warnf("AsyncRecorder: event queue is full (type: %s). Events are being discarded.", event.Type)
		}
	}
}

func (r *AsyncRecorder) RecordCycle(ctx context.Context, duration time.Duration, overrun bool) {
	r.sendEvent(RecordEvent{Type: RecordEventTypeCycle, Duration: duration, Overrun: overrun})
}

func (r *AsyncRecorder) RecordStage(ctx context.Context, stage string, duration time.Duration, err error) {
	r.sendEvent(RecordEvent{Type: RecordEventTypeStage, Name: stage, Duration: duration, Err: err})
}

func (r *AsyncRecorder) RecordLoopOutput(ctx context.Context, loop string, output float64) {
	r.sendEvent(RecordEvent{Type: RecordEventTypeLoopOutput, Name: loop, Value: output})
}

func (r *AsyncRecorder) RecordAlarmEvent(ctx context.Context, ev alarm.Event) {
	r.sendEvent(RecordEvent{Type: RecordEventTypeAlarm, Alarm: ev})
}

func (r *AsyncRecorder) RecordBatchEvent(ctx context.Context, ev batch.Event) {
	r.sendEvent(RecordEvent{Type: RecordEventTypeBatch, Batch: ev})
}

func (r *AsyncRecorder) RecordPublish(ctx context.Context, gateway string, duration time.Duration, err error) {
	r.sendEvent(RecordEvent{Type: RecordEventTypePublish, Name: gateway, Duration: duration, Err: err})
}

var _ metrics.ScanRecorder = (*AsyncRecorder)(nil)
