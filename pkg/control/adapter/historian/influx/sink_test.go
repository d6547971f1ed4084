package influx_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anoop6543/PharmaVax-sub001/pkg/control/adapter/historian/influx"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/historian"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/tag"
)

type recordingWriter struct {
	mu      sync.Mutex
	points  []*write.Point
	err     error
	release chan struct{}
}

func (w *recordingWriter) WritePoint(ctx context.Context, point ...*write.Point) error {
	if w.release != nil {
		<-w.release
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.points = append(w.points, point...)
	return nil
}

func (w *recordingWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.points)
}

func samples(n int) []historian.DataPoint {
	ts := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	out := make([]historian.DataPoint, n)
	for i := range out {
		out[i] = historian.DataPoint{
			Tag:       "TT-101",
			Timestamp: ts.Add(time.Duration(i) * time.Second),
			Value:     float64(i),
			Quality:   tag.QualityGood,
			Unit:      "degC",
		}
	}
	return out
}

func TestToPoint(t *testing.T) {
	dp := samples(1)[0]
	p := influx.ToPoint("process_value", dp)

	assert.Equal(t, "process_value", p.Name())
	assert.Equal(t, dp.Timestamp, p.Time())

	tags := map[string]string{}
	for _, tg := range p.TagList() {
		tags[tg.Key] = tg.Value
	}
	assert.Equal(t, map[string]string{"tag": "TT-101", "quality": "GOOD", "unit": "degC"}, tags)
	require.Len(t, p.FieldList(), 1)
	assert.Equal(t, "value", p.FieldList()[0].Key)
}

func TestSink_InlineBeforeStart(t *testing.T) {
	w := &recordingWriter{}
	s := influx.NewSink(w, "", 4, time.Second)

	require.NoError(t, s.WritePoints(context.Background(), samples(3)))
	assert.Equal(t, 3, w.count())
	assert.Equal(t, int64(3), s.Written())

	w.err = errors.New("unauthorized")
	err := s.WritePoints(context.Background(), samples(1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unauthorized")
}

func TestSink_AsyncDrainsOnStop(t *testing.T) {
	w := &recordingWriter{}
	s := influx.NewSink(w, "pv", 8, time.Second)
	s.Start()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.WritePoints(context.Background(), samples(2)))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	assert.Equal(t, 10, w.count())
	assert.Zero(t, s.Dropped())
}

func TestSink_DropsWhenQueueFull(t *testing.T) {
	w := &recordingWriter{release: make(chan struct{})}
	s := influx.NewSink(w, "pv", 1, time.Second)
	s.Start()

	// The worker takes the first batch and blocks; the second fills the queue.
	require.NoError(t, s.WritePoints(context.Background(), samples(1)))
	require.Eventually(t, func() bool {
		return s.WritePoints(context.Background(), samples(1)) != nil
	}, time.Second, 5*time.Millisecond)
	assert.Positive(t, s.Dropped())

	close(w.release)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
}

func TestSink_EmptyBatchIgnored(t *testing.T) {
	w := &recordingWriter{}
	s := influx.NewSink(w, "pv", 1, time.Second)
	require.NoError(t, s.WritePoints(context.Background(), nil))
	assert.Zero(t, w.count())
}
