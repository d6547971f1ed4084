package audit_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/audit"
)

type recordingArchiver struct {
	mu      sync.Mutex
	batches [][]audit.Entry
	err     error
}

func (a *recordingArchiver) Archive(ctx context.Context, entries []audit.Entry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.batches = append(a.batches, entries)
	return nil
}

type recordingSink struct {
	entries []audit.Entry
}

func (s *recordingSink) AppendAuditEntry(ctx context.Context, e audit.Entry) error {
	s.entries = append(s.entries, e)
	return nil
}

func fixedClock() func() time.Time {
	t := time.Date(2026, 3, 1, 8, 0, 0, 123456789, time.UTC)
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

func TestTrail_RecordSignsAndVerifies(t *testing.T) {
	sink := &recordingSink{}
	trail := audit.NewTrail(audit.Config{}, audit.WithClock(fixedClock()), audit.WithSink(sink))

	e := trail.Record("operator1", "ALARM_ACKNOWLEDGED", audit.CategoryAlarm, "TIC-101_HI acknowledged", true)

	assert.NotEmpty(t, e.ID)
	assert.Len(t, e.Signature, 64)
	assert.Equal(t, 0, e.Timestamp.Nanosecond()%1000)
	assert.True(t, trail.Verify(e))
	assert.Len(t, sink.entries, 1)
	assert.True(t, trail.VerifyAll().OK())
}

func TestTrail_AnyFieldMutationFailsVerification(t *testing.T) {
	trail := audit.NewTrail(audit.Config{}, audit.WithClock(fixedClock()))
	orig := trail.Record("qa", "BATCH_STARTED", audit.CategoryBatch, "batch B-1 recipe R1", true)

	mutations := map[string]func(e *audit.Entry){
		"id":          func(e *audit.Entry) { e.ID = e.ID + "x" },
		"timestamp":   func(e *audit.Entry) { e.Timestamp = e.Timestamp.Add(time.Microsecond) },
		"user":        func(e *audit.Entry) { e.User = "qb" },
		"action":      func(e *audit.Entry) { e.Action = "BATCH_ABORTED" },
		"category":    func(e *audit.Entry) { e.Category = audit.CategorySystem },
		"description": func(e *audit.Entry) { e.Description = "batch B-1 recipe R2" },
		"success":     func(e *audit.Entry) { e.Success = false },
		"signature":   func(e *audit.Entry) { e.Signature = strings.Repeat("0", 64) },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			e := orig
			mutate(&e)
			assert.False(t, trail.Verify(e))
		})
	}
	assert.True(t, trail.Verify(orig))
}

func TestSigner_FieldBoundariesMatter(t *testing.T) {
	s := audit.NewSigner("")
	a := audit.Entry{User: "ab", Action: "c"}
	b := audit.Entry{User: "a", Action: "bc"}
	assert.NotEqual(t, s.Sign(a), s.Sign(b))
}

func TestSigner_KeyedSignaturesDiffer(t *testing.T) {
	e := audit.Entry{ID: "1", User: "u", Action: "a"}
	plain := audit.NewSigner("").Sign(e)
	keyed := audit.NewSigner("secret").Sign(e)
	assert.NotEqual(t, plain, keyed)

	e.Signature = keyed
	assert.True(t, audit.NewSigner("secret").Verify(e))
	assert.False(t, audit.NewSigner("other").Verify(e))
}

func TestTrail_ArchiveAndTruncateKeepsEntriesVerifiable(t *testing.T) {
	archiver := &recordingArchiver{}
	trail := audit.NewTrail(audit.Config{Capacity: 10}, audit.WithClock(fixedClock()), audit.WithArchiver(archiver))

	for i := 0; i < 11; i++ {
		trail.Record("op", "TAG_WRITE", audit.CategoryControl, "write", true)
	}

	// 11 entries with capacity 10 trims the overflow plus a tenth of capacity.
	assert.Equal(t, 9, trail.Len())
	require.Len(t, archiver.batches, 1)
	assert.Len(t, archiver.batches[0], 2)
	assert.Equal(t, uint64(2), trail.Archived())

	signer := trail.Signer()
	assert.True(t, audit.VerifyEntries(signer, archiver.batches[0]).OK())
	assert.True(t, trail.VerifyAll().OK())
}

func TestTrail_ArchiveRequiredRetainsOnFailure(t *testing.T) {
	archiver := &recordingArchiver{err: errors.New("bucket unavailable")}
	trail := audit.NewTrail(audit.Config{Capacity: 5, ArchiveRequired: true}, audit.WithArchiver(archiver))

	for i := 0; i < 6; i++ {
		trail.Record("op", "X", audit.CategorySystem, "", true)
	}
	assert.Equal(t, 6, trail.Len())
	assert.Equal(t, uint64(0), trail.Archived())
}

func TestTrail_RecentAndExport(t *testing.T) {
	trail := audit.NewTrail(audit.Config{}, audit.WithClock(fixedClock()))
	trail.Record("a", "FIRST", audit.CategorySystem, "", true)
	trail.Record("b", "SECOND", audit.CategorySystem, "", false)

	recent := trail.Recent(1)
	require.Len(t, recent, 1)
	assert.Equal(t, "SECOND", recent[0].Action)

	var buf bytes.Buffer
	require.NoError(t, trail.ExportJSONLines(&buf))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var decoded audit.Entry
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &decoded))
	assert.Equal(t, "b", decoded.User)
	assert.False(t, decoded.Success)
	assert.True(t, trail.Verify(decoded))
}
