// Package historian stores bounded per-tag time series for trending, reporting and export.
package historian

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/tag"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/support/util/logger"
)

// DataPoint is one historical sample.
type DataPoint struct {
	Tag       string      `json:"tag"`
	Timestamp time.Time   `json:"timestamp"`
	Value     float64     `json:"value"`
	Quality   tag.Quality `json:"quality"`
	Unit      string      `json:"unit,omitempty"`
}

// Sink mirrors accepted points to an external time-series store.
type Sink interface {
	WritePoints(ctx context.Context, points []DataPoint) error
}

// Config controls buffer sizing and retention.
type Config struct {
	// CapacityPerTag bounds each tag's buffer by count.
	CapacityPerTag int `yaml:"capacity_per_tag"`
	// Retention, when positive, also evicts points older than now-Retention.
	Retention time.Duration `yaml:"retention"`
}

// DefaultConfig keeps one hour of 1 Hz data per tag.
func DefaultConfig() Config {
	return Config{CapacityPerTag: 3600}
}

// TagStats summarizes one tag's buffer.
type TagStats struct {
	Tag    string    `json:"tag"`
	Count  int       `json:"count"`
	Oldest time.Time `json:"oldest"`
	Newest time.Time `json:"newest"`
}

// Stats summarizes the whole historian.
type Stats struct {
	Tags    int       `json:"tags"`
	Points  int       `json:"points"`
	Oldest  time.Time `json:"oldest"`
	Newest  time.Time `json:"newest"`
	Evicted uint64    `json:"evicted"`
}

// Historian is a set of per-tag ring buffers.
type Historian struct {
	mu      sync.RWMutex
	buffers map[string]*ring
	cfg     Config
	sinks   []Sink
	now     func() time.Time
	evicted uint64
}

// Option configures a Historian.
type Option func(*Historian)

// WithClock overrides the time source used for retention.
func WithClock(now func() time.Time) Option {
	return func(h *Historian) { h.now = now }
}

// WithSink adds a mirror sink.
func WithSink(s Sink) Option {
	return func(h *Historian) { h.sinks = append(h.sinks, s) }
}

// New creates a Historian.
//
// Parameters:
//
//	cfg: Buffer sizing and retention. A non-positive CapacityPerTag takes the default.
//	opts: Optional clock and mirror sinks.
//
// Returns:
//
//	An empty Historian.
func New(cfg Config, opts ...Option) *Historian {
	if cfg.CapacityPerTag <= 0 {
		cfg.CapacityPerTag = DefaultConfig().CapacityPerTag
	}
	h := &Historian{
		buffers: make(map[string]*ring),
		cfg:     cfg,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// AddSink registers a mirror sink.
func (h *Historian) AddSink(s Sink) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sinks = append(h.sinks, s)
}

// Append ingests points in any timestamp order and returns how many were accepted.
// Points without a tag name, and points already outside the retention window, are dropped.
func (h *Historian) Append(points ...DataPoint) int {
	if len(points) == 0 {
		return 0
	}
	var cutoff time.Time
	if h.cfg.Retention > 0 {
		cutoff = h.now().Add(-h.cfg.Retention)
	}
	accepted := make([]DataPoint, 0, len(points))

	h.mu.Lock()
	for _, p := range points {
		if p.Tag == "" || (!cutoff.IsZero() && p.Timestamp.Before(cutoff)) {
			continue
		}
		buf, ok := h.buffers[p.Tag]
		if !ok {
			buf = newRing(h.cfg.CapacityPerTag)
			h.buffers[p.Tag] = buf
		}
		if buf.put(p) {
			h.evicted++
		}
		accepted = append(accepted, p)
	}
	sinks := h.sinks
	h.mu.Unlock()

	if len(accepted) > 0 {
		for _, s := range sinks {
			if err := s.WritePoints(context.Background(), accepted); err != nil {
				logger.Warnf("Historian: sink failed to accept %d points: %v", len(accepted), err)
			}
		}
	}
	return len(accepted)
}

// Prune applies the retention window. It is cheap when nothing is due.
func (h *Historian) Prune(now time.Time) int {
	if h.cfg.Retention <= 0 {
		return 0
	}
	cutoff := now.Add(-h.cfg.Retention)
	removed := 0
	h.mu.Lock()
	defer h.mu.Unlock()
	for name, buf := range h.buffers {
		removed += buf.dropBefore(cutoff)
		if buf.size == 0 {
			delete(h.buffers, name)
		}
	}
	h.evicted += uint64(removed)
	if removed > 0 {
		logger.Debugf("Historian: retention removed %d points older than %s.", removed, cutoff.Format(time.RFC3339))
	}
	return removed
}

// Query returns a tag's points with start <= timestamp <= end, ordered by timestamp.
func (h *Historian) Query(tagName string, start, end time.Time) []DataPoint {
	h.mu.RLock()
	buf, ok := h.buffers[tagName]
	var out []DataPoint
	if ok {
		out = buf.between(start, end)
	}
	h.mu.RUnlock()
	return out
}

// Latest returns the point with the newest timestamp for a tag.
func (h *Historian) Latest(tagName string) (DataPoint, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.latestLocked(tagName)
}

// LatestMany returns the latest point for each requested tag that has data.
func (h *Historian) LatestMany(tagNames []string) map[string]DataPoint {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string]DataPoint, len(tagNames))
	for _, name := range tagNames {
		if p, ok := h.latestLocked(name); ok {
			out[name] = p
		}
	}
	return out
}

func (h *Historian) latestLocked(tagName string) (DataPoint, bool) {
	buf, ok := h.buffers[tagName]
	if !ok || buf.size == 0 {
		return DataPoint{}, false
	}
	return buf.newest(), true
}

// TagStats summarizes one tag.
func (h *Historian) TagStats(tagName string) (TagStats, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	buf, ok := h.buffers[tagName]
	if !ok {
		return TagStats{}, false
	}
	return statsOf(tagName, buf), true
}

// Stats summarizes every buffer.
func (h *Historian) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s := Stats{Tags: len(h.buffers), Evicted: h.evicted}
	for name, buf := range h.buffers {
		ts := statsOf(name, buf)
		s.Points += ts.Count
		if ts.Count == 0 {
			continue
		}
		if s.Oldest.IsZero() || ts.Oldest.Before(s.Oldest) {
			s.Oldest = ts.Oldest
		}
		if ts.Newest.After(s.Newest) {
			s.Newest = ts.Newest
		}
	}
	return s
}

// Tags returns the names of tags with data, sorted.
func (h *Historian) Tags() []string {
	h.mu.RLock()
	out := make([]string, 0, len(h.buffers))
	for name := range h.buffers {
		out = append(out, name)
	}
	h.mu.RUnlock()
	sort.Strings(out)
	return out
}

func statsOf(name string, buf *ring) TagStats {
	ts := TagStats{Tag: name, Count: buf.size}
	if buf.size > 0 {
		ts.Oldest = buf.oldest().Timestamp
		ts.Newest = buf.newest().Timestamp
	}
	return ts
}

// FromSnapshot converts a tag snapshot into points stamped with each tag's own timestamp.
func FromSnapshot(tags []tag.Tag) []DataPoint {
	out := make([]DataPoint, 0, len(tags))
	for _, t := range tags {
		if t.Timestamp.IsZero() {
			continue
		}
		out = append(out, DataPoint{
			Tag:       t.Name,
			Timestamp: t.Timestamp,
			Value:     t.Value.Value,
			Quality:   t.Quality,
			Unit:      t.Unit,
		})
	}
	return out
}
