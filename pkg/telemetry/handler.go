// Package telemetry records error-level log entries for later analysis.
//
// Handlers wrap another slog.Handler: every record is passed on unchanged and
// records at error level or above are also kept, either in Parquet files or in
// a SQLite table.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/parquet-go/parquet-go"
	"github.com/soundprediction/newsdedup/pkg/types"
)

// DefaultBatchSize is the number of records buffered before a Parquet file is written.
const DefaultBatchSize = 100

// LogRecord represents a single log entry for Parquet storage
type LogRecord struct {
	ID            string    `parquet:"id"`
	Timestamp     time.Time `parquet:"timestamp"`
	Level         string    `parquet:"level"`
	Message       string    `parquet:"message"`
	RequestID     string    `parquet:"request_id"`
	RequestSource string    `parquet:"request_source"`
	Ticker        string    `parquet:"ticker"`
	SourceFile    string    `parquet:"source_file"`
	LineNumber    int       `parquet:"line_number"`
	Attributes    string    `parquet:"attributes"` // JSON string
}

// newLogRecord captures r together with the request values found on ctx.
// attrs are the handler-level attributes added through WithAttrs.
func newLogRecord(ctx context.Context, r slog.Record, attrs []slog.Attr) LogRecord {
	str := func(k types.ContextKey) string {
		v, _ := ctx.Value(k).(string)
		return v
	}

	all := make(map[string]any, r.NumAttrs()+len(attrs))
	for _, a := range attrs {
		all[a.Key] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		v := a.Value.Any()
		if err, ok := v.(error); ok {
			v = err.Error()
		}
		all[a.Key] = v
		return true
	})
	attrsJSON, _ := json.Marshal(all)

	var file string
	var line int
	if r.PC != 0 {
		f, _ := runtime.CallersFrames([]uintptr{r.PC}).Next()
		file, line = f.File, f.Line
	}

	ticker := str(types.ContextKeyTicker)
	if ticker == "" {
		if t, ok := all["ticker"].(string); ok {
			ticker = t
		}
	}

	return LogRecord{
		ID:            uuid.New().String(),
		Timestamp:     r.Time.UTC(),
		Level:         r.Level.String(),
		Message:       r.Message,
		RequestID:     str(types.ContextKeyRequestID),
		RequestSource: str(types.ContextKeyRequestSource),
		Ticker:        ticker,
		SourceFile:    file,
		LineNumber:    line,
		Attributes:    string(attrsJSON),
	}
}

// parquetBuffer is shared by a handler and all handlers derived from it.
type parquetBuffer struct {
	mu        sync.Mutex
	outputDir string
	batchSize int
	records   []LogRecord
}

// flush writes the buffered records to a new Parquet file.
// Caller must hold the lock.
func (b *parquetBuffer) flush() error {
	if len(b.records) == 0 {
		return nil
	}
	now := time.Now()
	name := fmt.Sprintf("dedup_errors_%s_%d.parquet", now.Format("20060102_150405"), now.UnixNano())
	if err := parquet.WriteFile(filepath.Join(b.outputDir, name), b.records); err != nil {
		fmt.Fprintf(os.Stderr, "failed to write telemetry parquet file: %v\n", err)
		return err
	}
	b.records = b.records[:0]
	return nil
}

// ParquetHandler is a slog.Handler that writes error logs to Parquet files
type ParquetHandler struct {
	next  slog.Handler
	buf   *parquetBuffer
	attrs []slog.Attr
}

// NewParquetHandler creates a new ParquetHandler
func NewParquetHandler(next slog.Handler, outputDir string) (*ParquetHandler, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create telemetry directory: %w", err)
	}
	return &ParquetHandler{
		next: next,
		buf: &parquetBuffer{
			outputDir: outputDir,
			batchSize: DefaultBatchSize,
			records:   make([]LogRecord, 0, DefaultBatchSize),
		},
	}, nil
}

// Enabled implements slog.Handler
func (h *ParquetHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

// Handle implements slog.Handler
func (h *ParquetHandler) Handle(ctx context.Context, r slog.Record) error {
	if err := h.next.Handle(ctx, r); err != nil {
		return err
	}
	if r.Level < slog.LevelError {
		return nil
	}

	rec := newLogRecord(ctx, r, h.attrs)

	h.buf.mu.Lock()
	defer h.buf.mu.Unlock()
	h.buf.records = append(h.buf.records, rec)
	if len(h.buf.records) >= h.buf.batchSize {
		return h.buf.flush()
	}
	return nil
}

// Flush writes any buffered records.
func (h *ParquetHandler) Flush() error {
	h.buf.mu.Lock()
	defer h.buf.mu.Unlock()
	return h.buf.flush()
}

// Close flushes the buffer.
func (h *ParquetHandler) Close() error { return h.Flush() }

// WithAttrs implements slog.Handler
func (h *ParquetHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ParquetHandler{
		next:  h.next.WithAttrs(attrs),
		buf:   h.buf,
		attrs: append(append([]slog.Attr(nil), h.attrs...), attrs...),
	}
}

// WithGroup implements slog.Handler
func (h *ParquetHandler) WithGroup(name string) slog.Handler {
	return &ParquetHandler{
		next:  h.next.WithGroup(name),
		buf:   h.buf,
		attrs: h.attrs,
	}
}
