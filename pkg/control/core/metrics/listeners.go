package metrics

import (
	"context"

	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/alarm"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/batch"
)

// AlarmListener forwards alarm events to a recorder.
func AlarmListener(r ScanRecorder) alarm.Listener {
	return alarm.ListenerFunc(func(ev alarm.Event) {
		r.RecordAlarmEvent(context.Background(), ev)
	})
}

// BatchListener forwards batch events to a recorder.
func BatchListener(r ScanRecorder) batch.Listener {
	return batch.ListenerFunc(func(ev batch.Event) {
		r.RecordBatchEvent(context.Background(), ev)
	})
}
