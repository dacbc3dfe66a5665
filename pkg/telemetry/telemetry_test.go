package telemetry

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/parquet-go/parquet-go"
	"github.com/soundprediction/newsdedup/pkg/config"
	"github.com/soundprediction/newsdedup/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParquetHandlerWritesErrorsOnly(t *testing.T) {
	dir := t.TempDir()
	var out bytes.Buffer
	h, err := NewParquetHandler(slog.NewTextHandler(&out, nil), dir)
	require.NoError(t, err)

	log := slog.New(h).With("component", "engine")
	ctx := context.WithValue(context.Background(), types.ContextKeyRequestID, "req-1")
	log.InfoContext(ctx, "news accepted")
	log.ErrorContext(ctx, "partition marked corrupted", "ticker", "SBER", "error", errors.New("disk full"))
	require.NoError(t, h.Close())

	assert.Contains(t, out.String(), "news accepted", "records still reach the next handler")

	files, err := filepath.Glob(filepath.Join(dir, "*.parquet"))
	require.NoError(t, err)
	require.Len(t, files, 1)

	rows, err := parquet.ReadFile[LogRecord](files[0])
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "partition marked corrupted", rows[0].Message)
	assert.Equal(t, "req-1", rows[0].RequestID)
	assert.Equal(t, "SBER", rows[0].Ticker)
	assert.Contains(t, rows[0].Attributes, `"component":"engine"`)
	assert.Contains(t, rows[0].Attributes, `"error":"disk full"`)
}

func TestParquetHandlerFlushEmpty(t *testing.T) {
	h, err := NewParquetHandler(slog.NewTextHandler(&bytes.Buffer{}, nil), t.TempDir())
	require.NoError(t, err)
	assert.NoError(t, h.Flush())
}

func TestSQLHandler(t *testing.T) {
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "telemetry.db"))
	require.NoError(t, err)
	defer db.Close()

	h := NewSQLHandler(slog.NewTextHandler(&bytes.Buffer{}, nil), db)

	ctx := context.WithValue(context.Background(), types.ContextKeyTicker, "GAZP")
	log := slog.New(h)
	log.WarnContext(ctx, "relation classifier failed")
	log.ErrorContext(ctx, "record sink write failed", "records", 2)

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM dedup_errors`).Scan(&n))
	assert.Equal(t, 1, n)

	var msg, ticker string
	require.NoError(t, db.QueryRow(`SELECT message, ticker FROM dedup_errors`).Scan(&msg, &ticker))
	assert.Equal(t, "record sink write failed", msg)
	assert.Equal(t, "GAZP", ticker)
}

func TestWrap(t *testing.T) {
	dir := t.TempDir()
	var out bytes.Buffer
	h, closeFn, err := Wrap(slog.NewTextHandler(&out, nil), config.TelemetryConfig{
		ParquetPath: filepath.Join(dir, "parquet"),
		SQLitePath:  filepath.Join(dir, "telemetry.db"),
	})
	require.NoError(t, err)

	slog.New(h).Error("boom")
	require.NoError(t, closeFn())
	assert.Contains(t, out.String(), "boom")

	files, err := filepath.Glob(filepath.Join(dir, "parquet", "*.parquet"))
	require.NoError(t, err)
	assert.Len(t, files, 1)
}

func TestWrapDisabled(t *testing.T) {
	next := slog.NewTextHandler(&bytes.Buffer{}, nil)
	h, closeFn, err := Wrap(next, config.TelemetryConfig{})
	require.NoError(t, err)
	assert.Same(t, next, h)
	assert.NoError(t, closeFn())
}
