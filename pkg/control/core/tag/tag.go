// Package tag holds the controller's process-value store: named numeric values carrying
// quality, timestamp, engineering unit and optional alarm limits.
package tag

import (
	"sort"
	"sync"
	"time"
)

// Quality is the OPC-style quality of a process value.
type Quality string

const (
	QualityGood      Quality = "GOOD"
	QualityBad       Quality = "BAD"
	QualityUncertain Quality = "UNCERTAIN"
)

// LimitState is the alarm band a value currently sits in.
type LimitState int

const (
	LimitNormal LimitState = iota
	LimitLow
	LimitHigh
	LimitLowLow
	LimitHighHigh
)

func (s LimitState) String() string {
	switch s {
	case LimitLow:
		return "LO"
	case LimitHigh:
		return "HI"
	case LimitLowLow:
		return "LL"
	case LimitHighHigh:
		return "HH"
	default:
		return "NORMAL"
	}
}

// Limits are optional alarm thresholds. A nil field is not checked.
type Limits struct {
	HighHigh *float64 `yaml:"high_high" json:"high_high,omitempty"`
	High     *float64 `yaml:"high" json:"high,omitempty"`
	Low      *float64 `yaml:"low" json:"low,omitempty"`
	LowLow   *float64 `yaml:"low_low" json:"low_low,omitempty"`
}

// IsZero reports whether no limit is configured.
func (l Limits) IsZero() bool {
	return l.HighHigh == nil && l.High == nil && l.Low == nil && l.LowLow == nil
}

// Evaluate returns the most severe band v falls in.
func (l Limits) Evaluate(v float64) LimitState {
	switch {
	case l.HighHigh != nil && v >= *l.HighHigh:
		return LimitHighHigh
	case l.LowLow != nil && v <= *l.LowLow:
		return LimitLowLow
	case l.High != nil && v >= *l.High:
		return LimitHigh
	case l.Low != nil && v <= *l.Low:
		return LimitLow
	default:
		return LimitNormal
	}
}

// Float is a helper for building Limits literals.
func Float(v float64) *float64 {
	return &v
}

// Value is the published part of a tag: what the gateway and historian see.
type Value struct {
	Value     float64   `json:"value"`
	Quality   Quality   `json:"quality"`
	Timestamp time.Time `json:"timestamp"`
}

// Tag is a named process value with its metadata.
type Tag struct {
	Name        string `json:"name"`
	Unit        string `json:"unit,omitempty"`
	Description string `json:"description,omitempty"`
	Limits      Limits `json:"limits"`
	Value
}

// LimitState evaluates the tag's limits against its current value.
// Values that are not Good never report a limit violation.
func (t Tag) LimitState() LimitState {
	if t.Quality != QualityGood {
		return LimitNormal
	}
	return t.Limits.Evaluate(t.Value.Value)
}

// Reader is the read side of the store, handed to interlock predicates and batch conditions.
type Reader interface {
	Get(name string) (Tag, bool)
}

// Store is a concurrency-safe tag table. The scan goroutine writes it every cycle while
// command handlers read it, so critical sections are kept to a single map access.
type Store struct {
	mu   sync.RWMutex
	tags map[string]*Tag
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{tags: make(map[string]*Tag)}
}

// Define registers a tag's metadata. Redefining an existing tag keeps its current value.
func (s *Store) Define(name, unit string, limits Limits) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tags[name]; ok {
		t.Unit = unit
		t.Limits = limits
		return
	}
	s.tags[name] = &Tag{
		Name:   name,
		Unit:   unit,
		Limits: limits,
		Value:  Value{Quality: QualityUncertain},
	}
}

// Set writes a value. Tags that were never defined are created on first write.
func (s *Store) Set(name string, value float64, quality Quality, ts time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tags[name]
	if !ok {
		t = &Tag{Name: name}
		s.tags[name] = t
	}
	t.Value = Value{Value: value, Quality: quality, Timestamp: ts}
}

// SetQuality changes only the quality of an existing tag.
func (s *Store) SetQuality(name string, quality Quality, ts time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tags[name]
	if !ok {
		return false
	}
	t.Quality = quality
	t.Timestamp = ts
	return true
}

// Get returns a copy of the named tag.
func (s *Store) Get(name string) (Tag, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tags[name]
	if !ok {
		return Tag{}, false
	}
	return *t, true
}

// Snapshot copies every tag's published value.
func (s *Store) Snapshot() map[string]Value {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Value, len(s.tags))
	for name, t := range s.tags {
		out[name] = t.Value
	}
	return out
}

// All returns copies of every tag, sorted by name.
func (s *Store) All() []Tag {
	s.mu.RLock()
	out := make([]Tag, 0, len(s.tags))
	for _, t := range s.tags {
		out = append(out, *t)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names returns all tag names, sorted.
func (s *Store) Names() []string {
	s.mu.RLock()
	out := make([]string, 0, len(s.tags))
	for name := range s.tags {
		out = append(out, name)
	}
	s.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Len returns the number of tags.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tags)
}
