// Package export writes audit entries and historian ranges as parquet files to object storage.
package export

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/xitongsys/parquet-go-source/buffer"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/anoop6543/PharmaVax-sub001/pkg/control/adapter/storage"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/config"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/support/util/exception"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/support/util/logger"
)

const (
	moduleName  = "export"
	contentType = "application/octet-stream"
	// parallelism is the number of goroutines parquet-go uses to marshal and unmarshal rows.
	parallelism = 4
)

// ParquetWriter writes records of type T, grouped by a partition key, one parquet object
// per partition and call: <prefix>/<partition>/<name>_<timestamp>_<id>.parquet.
type ParquetWriter[T any] struct {
	name      string
	conn      storage.Connection
	bucket    string
	baseDir   string
	codec     parquet.CompressionCodec
	prototype *T
	partition func(T) string
	now       func() time.Time
}

// NewParquetWriter creates a writer. prototype is a pointer to a zero T used for schema reflection.
func NewParquetWriter[T any](name string, conn storage.Connection, cfg config.ArchiveConfig, prototype *T, partition func(T) string) (*ParquetWriter[T], error) {
	codec, err := compressionCodec(cfg.Compression)
	if err != nil {
		return nil, exception.Configuration(moduleName, exception.ErrInvalidConfig, "parquet writer %s: %v", name, err)
	}
	return &ParquetWriter[T]{
		name:      name,
		conn:      conn,
		bucket:    cfg.Bucket,
		baseDir:   cfg.Prefix,
		codec:     codec,
		prototype: prototype,
		partition: partition,
		now:       time.Now,
	}, nil
}

// Write encodes and uploads items. It returns the names of the objects written. A failing
// partition does not stop the others; all failures are returned together.
func (w *ParquetWriter[T]) Write(ctx context.Context, items []T) ([]string, error) {
	if len(items) == 0 {
		return nil, nil
	}
	partitions := make(map[string][]T)
	for _, item := range items {
		key := w.partition(item)
		partitions[key] = append(partitions[key], item)
	}
	keys := make([]string, 0, len(partitions))
	for k := range partitions {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var (
		written []string
		errs    *multierror.Error
	)
	stamp := w.now().UTC().Format("20060102T150405")
	for _, key := range keys {
		data, err := encode(partitions[key], w.prototype, w.codec)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("partition %s: %w", key, err))
			continue
		}
		objectName := path.Join(w.baseDir, key, fmt.Sprintf("%s_%s_%s.parquet", w.name, stamp, uuid.NewString()[:8]))
		if err := w.conn.Upload(ctx, w.bucket, objectName, bytes.NewReader(data), contentType); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("partition %s: upload %s: %w", key, objectName, err))
			continue
		}
		logger.Infof("Export %s: wrote %d records to %s.", w.name, len(partitions[key]), objectName)
		written = append(written, objectName)
	}
	return written, errs.ErrorOrNil()
}

// encode marshals items into an in-memory parquet file. parquet-go panics on some schema
// errors, so panics are converted to errors.
func encode[T any](items []T, prototype *T, codec parquet.CompressionCodec) (data []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = exception.FromPanic(moduleName, r)
		}
	}()
	buf := new(bytes.Buffer)
	pw, err := writer.NewParquetWriterFromWriter(buf, prototype, parallelism)
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet writer: %w", err)
	}
	pw.CompressionType = codec
	for _, item := range items {
		if err := pw.Write(item); err != nil {
			return nil, fmt.Errorf("failed to write record: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("failed to finalize parquet file: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode reads every record of a parquet file produced by ParquetWriter.
func Decode[T any](data []byte, prototype *T) (records []T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = exception.FromPanic(moduleName, r)
		}
	}()
	pf, err := buffer.NewBufferFile(data)
	if err != nil {
		return nil, fmt.Errorf("failed to open parquet buffer: %w", err)
	}
	pr, err := reader.NewParquetReader(pf, prototype, parallelism)
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet reader: %w", err)
	}
	defer pr.ReadStop()
	records = make([]T, int(pr.GetNumRows()))
	if err := pr.Read(&records); err != nil {
		return nil, fmt.Errorf("failed to read parquet records: %w", err)
	}
	return records, nil
}

func compressionCodec(name string) (parquet.CompressionCodec, error) {
	switch strings.ToUpper(name) {
	case "SNAPPY", "":
		return parquet.CompressionCodec_SNAPPY, nil
	case "GZIP":
		return parquet.CompressionCodec_GZIP, nil
	case "NONE":
		return parquet.CompressionCodec_UNCOMPRESSED, nil
	}
	return 0, fmt.Errorf("unsupported compression type: %s", name)
}
