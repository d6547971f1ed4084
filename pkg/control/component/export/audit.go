package export

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/anoop6543/PharmaVax-sub001/pkg/control/adapter/storage"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/audit"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/config"
)

// AuditRecord is the parquet row of an audit entry. The timestamp keeps nanoseconds so that
// archived entries still verify against their signatures.
type AuditRecord struct {
	ID          string `parquet:"name=id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Timestamp   int64  `parquet:"name=timestamp_nanos, type=INT64"`
	User        string `parquet:"name=user, type=BYTE_ARRAY, convertedtype=UTF8"`
	Action      string `parquet:"name=action, type=BYTE_ARRAY, convertedtype=UTF8"`
	Category    string `parquet:"name=category, type=BYTE_ARRAY, convertedtype=UTF8"`
	Description string `parquet:"name=description, type=BYTE_ARRAY, convertedtype=UTF8"`
	Success     bool   `parquet:"name=success, type=BOOLEAN"`
	Signature   string `parquet:"name=signature, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// NewAuditRecord converts an entry.
func NewAuditRecord(e audit.Entry) AuditRecord {
	return AuditRecord{
		ID:          e.ID,
		Timestamp:   e.Timestamp.UnixNano(),
		User:        e.User,
		Action:      e.Action,
		Category:    string(e.Category),
		Description: e.Description,
		Success:     e.Success,
		Signature:   e.Signature,
	}
}

// Entry converts the record back to an audit entry.
func (r AuditRecord) Entry() audit.Entry {
	return audit.Entry{
		ID:          r.ID,
		Timestamp:   time.Unix(0, r.Timestamp).UTC(),
		User:        r.User,
		Action:      r.Action,
		Category:    audit.Category(r.Category),
		Description: r.Description,
		Success:     r.Success,
		Signature:   r.Signature,
	}
}

// dayPartition is the Hive-style date partition of a record.
func dayPartition(nanos int64) string {
	return "dt=" + time.Unix(0, nanos).UTC().Format("2006-01-02")
}

// AuditArchiver implements audit.Archiver by writing trimmed entries to storage, one
// object per day partition.
type AuditArchiver struct {
	resolver *storage.Resolver
	cfg      config.ArchiveConfig
}

// NewAuditArchiver creates an archiver for cfg.
func NewAuditArchiver(resolver *storage.Resolver, cfg config.ArchiveConfig) *AuditArchiver {
	return &AuditArchiver{resolver: resolver, cfg: cfg}
}

// Archive writes entries. The storage connection is resolved on first use.
func (a *AuditArchiver) Archive(ctx context.Context, entries []audit.Entry) error {
	conn, err := a.resolver.Resolve(ctx, a.cfg.Storage)
	if err != nil {
		return err
	}
	w, err := NewParquetWriter("audit", conn, a.cfg, new(AuditRecord), func(r AuditRecord) string {
		return dayPartition(r.Timestamp)
	})
	if err != nil {
		return err
	}
	records := make([]AuditRecord, len(entries))
	for i, e := range entries {
		records[i] = NewAuditRecord(e)
	}
	_, err = w.Write(ctx, records)
	return err
}

var _ audit.Archiver = (*AuditArchiver)(nil)

// LoadArchivedEntries reads every archived audit entry below the configured prefix, in
// object-name order.
func LoadArchivedEntries(ctx context.Context, conn storage.Connection, cfg config.ArchiveConfig) ([]audit.Entry, error) {
	names, err := listParquet(ctx, conn, cfg)
	if err != nil {
		return nil, err
	}
	var entries []audit.Entry
	for _, name := range names {
		records, err := readObject(ctx, conn, cfg.Bucket, name, new(AuditRecord))
		if err != nil {
			return nil, err
		}
		for _, r := range records {
			entries = append(entries, r.Entry())
		}
	}
	return entries, nil
}

func listParquet(ctx context.Context, conn storage.Connection, cfg config.ArchiveConfig) ([]string, error) {
	var names []string
	err := conn.ListObjects(ctx, cfg.Bucket, cfg.Prefix, func(name string) error {
		if strings.HasSuffix(name, ".parquet") {
			names = append(names, name)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

func readObject[T any](ctx context.Context, conn storage.Connection, bucket, name string, prototype *T) ([]T, error) {
	rc, err := conn.Download(ctx, bucket, name)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	records, err := Decode(data, prototype)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return records, nil
}
