package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/anoop6543/PharmaVax-sub001/pkg/control/support/util/logger"
)

// Recorder is the handle components receive to write audit entries.
// The alarm manager, batch engine and safety modules all share one Trail through it.
type Recorder interface {
	Record(user, action string, category Category, description string, success bool) Entry
}

// Archiver receives entries trimmed from the in-memory trail.
type Archiver interface {
	Archive(ctx context.Context, entries []Entry) error
}

// Sink receives every entry after it is signed (e.g. a database repository).
type Sink interface {
	AppendAuditEntry(ctx context.Context, entry Entry) error
}

// Config controls the in-memory trail.
type Config struct {
	// Capacity is the number of entries kept in memory. Zero means unbounded.
	Capacity int `yaml:"capacity"`
	// SigningKey switches signatures to HMAC-SHA256 when set.
	SigningKey string `yaml:"signing_key"`
	// ArchiveRequired keeps entries in memory when archiving fails instead of dropping them.
	ArchiveRequired bool `yaml:"archive_required"`
}

// VerifyReport summarizes a verification pass.
type VerifyReport struct {
	Checked    int      `json:"checked"`
	Valid      int      `json:"valid"`
	InvalidIDs []string `json:"invalid_ids,omitempty"`
}

// OK reports whether every checked entry verified.
func (r VerifyReport) OK() bool {
	return len(r.InvalidIDs) == 0
}

// Trail is the bounded, append-only audit log.
type Trail struct {
	mu       sync.Mutex
	entries  []Entry
	cfg      Config
	signer   *Signer
	archiver Archiver
	sinks    []Sink
	now      func() time.Time
	archived uint64
}

// Option configures a Trail.
type Option func(*Trail)

// WithArchiver sets the destination for trimmed entries.
func WithArchiver(a Archiver) Option {
	return func(t *Trail) { t.archiver = a }
}

// WithSink adds a sink notified for every entry.
func WithSink(s Sink) Option {
	return func(t *Trail) { t.sinks = append(t.sinks, s) }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(t *Trail) { t.now = now }
}

// NewTrail creates a Trail.
//
// Parameters:
//
//	cfg: Capacity, signing key and archive behaviour.
//	opts: Optional clock, sinks and archiver.
//
// Returns: A pointer to the initialized Trail.
func NewTrail(cfg Config, opts ...Option) *Trail {
	t := &Trail{
		cfg:    cfg,
		signer: NewSigner(cfg.SigningKey),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Signer exposes the trail's signer so persisted entries can be verified with the same key.
func (t *Trail) Signer() *Signer {
	return t.signer
}

// SetArchiver replaces the archiver after construction.
func (t *Trail) SetArchiver(a Archiver) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.archiver = a
}

// AddSink registers an additional sink.
func (t *Trail) AddSink(s Sink) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sinks = append(t.sinks, s)
}

// Record appends a signed entry and returns it.
//
// Parameters:
//
//	user: The operator or component responsible for the action.
//	action: Short action code (e.g., "ALARM_ACK", "BATCH_START").
//	category: The audit category.
//	description: Free text describing the action.
//	success: Whether the action took effect.
//
// Returns:
//
//	The stored entry, including its sequence number and signature.
func (t *Trail) Record(user, action string, category Category, description string, success bool) Entry {
	e := Entry{
		ID: uuid.NewString(),
		// Microsecond precision survives every supported database column type.
		Timestamp:   t.now().UTC().Truncate(time.Microsecond),
		User:        user,
		Action:      action,
		Category:    category,
		Description: description,
		Success:     success,
	}
	e.Signature = t.signer.Sign(e)

	t.mu.Lock()
	t.entries = append(t.entries, e)
	sinks := t.sinks
	overflow := t.takeOverflowLocked()
	t.mu.Unlock()

	ctx := context.Background()
	for _, s := range sinks {
		if err := s.AppendAuditEntry(ctx, e); err != nil {
			logger.Errorf("Audit: sink failed to persist entry %s (%s): %v", e.ID, e.Action, err)
		}
	}
	if len(overflow) > 0 {
		t.archive(ctx, overflow)
	}
	logger.Debugf("Audit: %s %s by %s (success=%t)", category, action, user, success)
	return e
}

// takeOverflowLocked removes the entries above capacity. Trimming takes an extra tenth of
// capacity so archive uploads happen in batches rather than once per entry.
func (t *Trail) takeOverflowLocked() []Entry {
	if t.cfg.Capacity <= 0 || len(t.entries) <= t.cfg.Capacity {
		return nil
	}
	n := len(t.entries) - t.cfg.Capacity + t.cfg.Capacity/10
	if n > len(t.entries) {
		n = len(t.entries)
	}
	overflow := make([]Entry, n)
	copy(overflow, t.entries[:n])
	t.entries = append(t.entries[:0:0], t.entries[n:]...)
	return overflow
}

func (t *Trail) archive(ctx context.Context, overflow []Entry) {
	t.mu.Lock()
	archiver := t.archiver
	t.mu.Unlock()
	if archiver == nil {
		t.mu.Lock()
		t.archived += uint64(len(overflow))
		t.mu.Unlock()
		logger.Debugf("Audit: trimmed %d entries (no archiver configured).", len(overflow))
		return
	}
	if err := archiver.Archive(ctx, overflow); err != nil {
		logger.Errorf("Audit: failed to archive %d trimmed entries: %v", len(overflow), err)
		if t.cfg.ArchiveRequired {
			t.mu.Lock()
			t.entries = append(overflow, t.entries...)
			t.mu.Unlock()
		}
		return
	}
	t.mu.Lock()
	t.archived += uint64(len(overflow))
	t.mu.Unlock()
	logger.Infof("Audit: archived and trimmed %d entries.", len(overflow))
}

// Entries returns a copy of the retained entries, oldest first.
func (t *Trail) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Recent returns up to limit of the newest entries, newest first.
func (t *Trail) Recent(limit int) []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	if limit <= 0 || limit > len(t.entries) {
		limit = len(t.entries)
	}
	out := make([]Entry, 0, limit)
	for i := len(t.entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, t.entries[i])
	}
	return out
}

// Len returns the number of retained entries.
func (t *Trail) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Archived returns how many entries have left memory through trimming.
func (t *Trail) Archived() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.archived
}

// Verify checks a single entry with the trail's signer.
func (t *Trail) Verify(e Entry) bool {
	return t.signer.Verify(e)
}

// VerifyAll checks every retained entry.
func (t *Trail) VerifyAll() VerifyReport {
	return VerifyEntries(t.signer, t.Entries())
}

// VerifyEntries checks arbitrary entries, e.g. those loaded back from a repository or archive.
func VerifyEntries(signer *Signer, entries []Entry) VerifyReport {
	report := VerifyReport{Checked: len(entries)}
	for _, e := range entries {
		if signer.Verify(e) {
			report.Valid++
		} else {
			report.InvalidIDs = append(report.InvalidIDs, e.ID)
		}
	}
	return report
}

// ExportJSONLines writes the retained entries to w, one JSON object per line.
func (t *Trail) ExportJSONLines(w io.Writer) error {
	enc := json.NewEncoder(w)
	for _, e := range t.Entries() {
		if err := enc.Encode(e); err != nil {
			return fmt.Errorf("failed to export audit entry %s: %w", e.ID, err)
		}
	}
	return nil
}
