// Package influx mirrors historian points to InfluxDB v2.
package influx

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/config"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/historian"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/support/util/logger"
)

// Writer is the part of api.WriteAPIBlocking used by the sink.
type Writer interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

// Sink implements historian.Sink. Points are queued and written by a background worker
// after Start so the scan cycle never waits on the network. Before Start they are written inline.
type Sink struct {
	writer      Writer
	measurement string
	timeout     time.Duration
	bufferSize  int

	mu      sync.Mutex
	queue   chan []*write.Point
	wg      sync.WaitGroup
	dropped atomic.Int64
	written atomic.Int64
}

// NewSink creates a sink that writes through writer. bufferSize counts batches, one per cycle.
func NewSink(writer Writer, measurement string, bufferSize int, timeout time.Duration) *Sink {
	if measurement == "" {
		measurement = "process_value"
	}
	if bufferSize <= 0 {
		bufferSize = 1
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Sink{
		writer:      writer,
		measurement: measurement,
		timeout:     timeout,
		bufferSize:  bufferSize,
	}
}

// ToPoint converts a historian sample to a line-protocol point tagged by tag name and quality.
func ToPoint(measurement string, dp historian.DataPoint) *write.Point {
	tags := map[string]string{
		"tag":     dp.Tag,
		"quality": string(dp.Quality),
	}
	if dp.Unit != "" {
		tags["unit"] = dp.Unit
	}
	return influxdb2.NewPoint(measurement, tags, map[string]interface{}{"value": dp.Value}, dp.Timestamp)
}

// WritePoints implements historian.Sink.
func (s *Sink) WritePoints(ctx context.Context, points []historian.DataPoint) error {
	if len(points) == 0 {
		return nil
	}
	batch := make([]*write.Point, 0, len(points))
	for _, dp := range points {
		batch = append(batch, ToPoint(s.measurement, dp))
	}

	s.mu.Lock()
	q := s.queue
	if q != nil {
		defer s.mu.Unlock()
		select {
		case q <- batch:
			return nil
		default:
			s.dropped.Add(int64(len(batch)))
			return fmt.Errorf("influx queue full, dropped %d points", len(batch))
		}
	}
	s.mu.Unlock()
	return s.write(ctx, batch)
}

func (s *Sink) write(ctx context.Context, batch []*write.Point) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.writer.WritePoint(ctx, batch...); err != nil {
		return fmt.Errorf("influx write of %d points failed: %w", len(batch), err)
	}
	s.written.Add(int64(len(batch)))
	return nil
}

// Start launches the background writer.
func (s *Sink) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queue != nil {
		return
	}
	s.queue = make(chan []*write.Point, s.bufferSize)
	s.wg.Add(1)
	go func(q <-chan []*write.Point) {
		defer s.wg.Done()
		for batch := range q {
			if err := s.write(context.Background(), batch); err != nil {
				logger.Warnf("Historian mirror: %v", err)
			}
		}
	}(s.queue)
}

// Stop drains queued batches, or gives up when ctx is done.
func (s *Sink) Stop(ctx context.Context) error {
	s.mu.Lock()
	q := s.queue
	s.queue = nil
	s.mu.Unlock()
	if q == nil {
		return nil
	}
	close(q)
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Written returns the number of points accepted by InfluxDB.
func (s *Sink) Written() int64 { return s.written.Load() }

// Dropped returns the number of points discarded because the queue was full.
func (s *Sink) Dropped() int64 { return s.dropped.Load() }

// NewClient creates an InfluxDB client for cfg.
func NewClient(cfg config.InfluxConfig) influxdb2.Client {
	opts := influxdb2.DefaultOptions()
	if cfg.WriteTimeout > 0 {
		opts.SetHTTPRequestTimeout(uint(cfg.WriteTimeout.Seconds() + 0.5))
	}
	return influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)
}

var _ historian.Sink = (*Sink)(nil)
