package telemetry

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"

	_ "modernc.org/sqlite"
)

const errorsSchema = `CREATE TABLE IF NOT EXISTS dedup_errors (
	id             TEXT PRIMARY KEY,
	timestamp      TIMESTAMP NOT NULL,
	level          TEXT NOT NULL,
	message        TEXT NOT NULL,
	request_id     TEXT,
	request_source TEXT,
	ticker         TEXT,
	source_file    TEXT,
	line_number    INTEGER,
	attributes     TEXT
)`

const errorsIndex = `CREATE INDEX IF NOT EXISTS dedup_errors_ticker ON dedup_errors (ticker, timestamp)`

const insertError = `INSERT INTO dedup_errors
	(id, timestamp, level, message, request_id, request_source, ticker, source_file, line_number, attributes)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// OpenSQLite opens the SQLite file at path, creating it and the dedup_errors
// table when missing.
func OpenSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open telemetry db %s: %w", path, err)
	}
	// a single writer avoids SQLITE_BUSY between partition workers
	db.SetMaxOpenConns(1)
	for _, stmt := range []string{`PRAGMA busy_timeout = 5000`, errorsSchema, errorsIndex} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("prepare telemetry db %s: %w", path, err)
		}
	}
	return db, nil
}

// SQLHandler passes records to next and inserts error-level ones into the
// dedup_errors table. Insert failures go to stderr and never fail logging.
type SQLHandler struct {
	next  slog.Handler
	db    *sql.DB
	attrs []slog.Attr
}

// NewSQLHandler wraps next. db must have been opened with OpenSQLite.
func NewSQLHandler(next slog.Handler, db *sql.DB) *SQLHandler {
	return &SQLHandler{next: next, db: db}
}

func (h *SQLHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *SQLHandler) Handle(ctx context.Context, r slog.Record) error {
	if err := h.next.Handle(ctx, r); err != nil || r.Level < slog.LevelError {
		return err
	}
	rec := newLogRecord(ctx, r, h.attrs)
	_, err := h.db.ExecContext(context.WithoutCancel(ctx), insertError,
		rec.ID, rec.Timestamp, rec.Level, rec.Message,
		rec.RequestID, rec.RequestSource, rec.Ticker,
		rec.SourceFile, rec.LineNumber, rec.Attributes)
	if err != nil {
		fmt.Fprintf(os.Stderr, "telemetry: insert error record: %v\n", err)
	}
	return nil
}

func (h *SQLHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &SQLHandler{
		next:  h.next.WithAttrs(attrs),
		db:    h.db,
		attrs: append(append([]slog.Attr(nil), h.attrs...), attrs...),
	}
}

func (h *SQLHandler) WithGroup(name string) slog.Handler {
	return &SQLHandler{next: h.next.WithGroup(name), db: h.db, attrs: h.attrs}
}
