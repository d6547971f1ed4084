package export

import (
	"context"
	"sort"
	"time"

	"github.com/anoop6543/PharmaVax-sub001/pkg/control/adapter/storage"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/config"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/historian"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/tag"
)

// PointRecord is the parquet row of a historian sample.
type PointRecord struct {
	Tag       string  `parquet:"name=tag, type=BYTE_ARRAY, convertedtype=UTF8"`
	Timestamp int64   `parquet:"name=timestamp, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	Value     float64 `parquet:"name=value, type=DOUBLE"`
	Quality   string  `parquet:"name=quality, type=BYTE_ARRAY, convertedtype=UTF8"`
	Unit      string  `parquet:"name=unit, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// NewPointRecord converts a data point.
func NewPointRecord(p historian.DataPoint) PointRecord {
	return PointRecord{
		Tag:       p.Tag,
		Timestamp: p.Timestamp.UnixMilli(),
		Value:     p.Value,
		Quality:   string(p.Quality),
		Unit:      p.Unit,
	}
}

// DataPoint converts the record back.
func (r PointRecord) DataPoint() historian.DataPoint {
	return historian.DataPoint{
		Tag:       r.Tag,
		Timestamp: time.UnixMilli(r.Timestamp).UTC(),
		Value:     r.Value,
		Quality:   tag.Quality(r.Quality),
		Unit:      r.Unit,
	}
}

// HistorianExporter writes historian ranges to storage, partitioned by tag and day.
type HistorianExporter struct {
	historian *historian.Historian
	resolver  *storage.Resolver
	cfg       config.ArchiveConfig
}

// NewHistorianExporter creates an exporter for cfg.
func NewHistorianExporter(h *historian.Historian, resolver *storage.Resolver, cfg config.ArchiveConfig) *HistorianExporter {
	return &HistorianExporter{historian: h, resolver: resolver, cfg: cfg}
}

// Export writes [start, end] for the given tags, or for every tag when tags is empty.
// It returns the object names written.
func (e *HistorianExporter) Export(ctx context.Context, tags []string, start, end time.Time) ([]string, error) {
	if len(tags) == 0 {
		tags = e.historian.Tags()
	}
	sort.Strings(tags)
	var records []PointRecord
	for _, name := range tags {
		for _, p := range e.historian.Query(name, start, end) {
			records = append(records, NewPointRecord(p))
		}
	}
	if len(records) == 0 {
		return nil, nil
	}

	conn, err := e.resolver.Resolve(ctx, e.cfg.Storage)
	if err != nil {
		return nil, err
	}
	w, err := NewParquetWriter("historian", conn, e.cfg, new(PointRecord), func(r PointRecord) string {
		return "tag=" + r.Tag + "/" + dayPartition(r.Timestamp*int64(time.Millisecond))
	})
	if err != nil {
		return nil, err
	}
	return w.Write(ctx, records)
}

// LoadExportedPoints reads every exported point below the configured prefix.
func LoadExportedPoints(ctx context.Context, conn storage.Connection, cfg config.ArchiveConfig) ([]historian.DataPoint, error) {
	names, err := listParquet(ctx, conn, cfg)
	if err != nil {
		return nil, err
	}
	var points []historian.DataPoint
	for _, name := range names {
		records, err := readObject(ctx, conn, cfg.Bucket, name, new(PointRecord))
		if err != nil {
			return nil, err
		}
		for _, r := range records {
			points = append(points, r.DataPoint())
		}
	}
	return points, nil
}
