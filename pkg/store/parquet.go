package store

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/parquet-go/parquet-go"
	"github.com/soundprediction/newsdedup/pkg/types"
)

// DefaultParquetBatch is the number of buffered tuples that triggers a file write.
const DefaultParquetBatch = 500

// ParquetSink buffers tuples and writes them to numbered Parquet files in a
// directory. Close writes whatever is still buffered.
type ParquetSink struct {
	dir       string
	batchSize int
	logger    *slog.Logger

	id  string
	mu  sync.Mutex
	buf []types.RecordTuple
	seq int
}

// NewParquetSink creates dir if needed.
func NewParquetSink(dir string, batchSize int, logger *slog.Logger) (*ParquetSink, error) {
	if dir == "" {
		return nil, fmt.Errorf("parquet store needs a directory")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	if batchSize <= 0 {
		batchSize = DefaultParquetBatch
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ParquetSink{
		dir:       dir,
		batchSize: batchSize,
		logger:    logger,
		id:        uuid.NewString()[:8],
	}, nil
}

// Write implements Sink.
func (s *ParquetSink) Write(_ context.Context, tuples []types.RecordTuple) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = append(s.buf, tuples...)
	if len(s.buf) >= s.batchSize {
		return s.flushLocked()
	}
	return nil
}

// Flush writes buffered tuples to a new file.
func (s *ParquetSink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked()
}

func (s *ParquetSink) flushLocked() error {
	if len(s.buf) == 0 {
		return nil
	}
	s.seq++
	name := fmt.Sprintf("records_%s_%s_%04d.parquet",
		time.Now().UTC().Format("20060102T150405"), s.id, s.seq)
	path := filepath.Join(s.dir, name)
	if err := parquet.WriteFile(path, s.buf); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	s.logger.Debug("records persisted to parquet", "file", name, "records", len(s.buf))
	s.buf = s.buf[:0]
	return nil
}

// Load implements Store. Buffered tuples are flushed first.
func (s *ParquetSink) Load(ctx context.Context) ([]types.RecordTuple, error) {
	if err := s.Flush(); err != nil {
		return nil, err
	}
	files, err := filepath.Glob(filepath.Join(s.dir, "*.parquet"))
	if err != nil {
		return nil, err
	}
	var out []types.RecordTuple
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rows, err := parquet.ReadFile[types.RecordTuple](f)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", f, err)
		}
		out = append(out, rows...)
	}
	sortTuples(out)
	return out, nil
}

// Close implements Store.
func (s *ParquetSink) Close() error {
	return s.Flush()
}

func sortTuples(ts []types.RecordTuple) {
	slices.SortStableFunc(ts, func(a, b types.RecordTuple) int {
		if a.Ticker != b.Ticker {
			if a.Ticker < b.Ticker {
				return -1
			}
			return 1
		}
		return a.RecordID - b.RecordID
	})
}
