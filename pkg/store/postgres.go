package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/soundprediction/newsdedup/pkg/types"
)

const createNewsTable = `
	CREATE TABLE IF NOT EXISTS news (
		ticker      TEXT        NOT NULL,
		record_id   INTEGER     NOT NULL,
		text        TEXT        NOT NULL,
		polarity    TEXT        NOT NULL,
		intensity   SMALLINT    NOT NULL,
		minhash     BYTEA       NOT NULL,
		embedding   REAL[]      NOT NULL,
		verb        TEXT        NOT NULL DEFAULT '',
		object      TEXT        NOT NULL DEFAULT '',
		created_at  TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (ticker, record_id)
	)`

// PostgresStore writes tuples to the news table.
type PostgresStore struct {
	db     *pgxpool.Pool
	logger *slog.Logger
}

// OpenPostgres connects to dsn and ensures the news table exists.
func OpenPostgres(ctx context.Context, dsn string, logger *slog.Logger) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, createNewsTable); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create news table: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresStore{db: pool, logger: logger}, nil
}

// Write implements Sink using one pgx batch. Rows already present are kept.
func (s *PostgresStore) Write(ctx context.Context, tuples []types.RecordTuple) error {
	if len(tuples) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, t := range tuples {
		batch.Queue(`
			INSERT INTO news (ticker, record_id, text, polarity, intensity, minhash, embedding, verb, object, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (ticker, record_id) DO NOTHING
		`, t.Ticker, t.RecordID, t.Text, string(t.Polarity), t.Intensity, t.Signature, t.Embedding, t.Verb, t.Object, t.CreatedAt)
	}

	results := s.db.SendBatch(ctx, batch)
	defer results.Close()

	conflicts := 0
	for range tuples {
		ct, err := results.Exec()
		if err != nil {
			return fmt.Errorf("insert news: %w", err)
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}
	s.logger.Debug("records persisted to postgres", "records", len(tuples), "conflicts", conflicts)
	return nil
}

// Load implements Store.
func (s *PostgresStore) Load(ctx context.Context) ([]types.RecordTuple, error) {
	rows, err := s.db.Query(ctx, `
		SELECT ticker, record_id, text, polarity, intensity, minhash, embedding, verb, object, created_at
		FROM news
		ORDER BY ticker, record_id`)
	if err != nil {
		return nil, fmt.Errorf("query news: %w", err)
	}
	defer rows.Close()

	var out []types.RecordTuple
	for rows.Next() {
		var t types.RecordTuple
		var polarity string
		if err := rows.Scan(&t.Ticker, &t.RecordID, &t.Text, &polarity, &t.Intensity,
			&t.Signature, &t.Embedding, &t.Verb, &t.Object, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan news: %w", err)
		}
		t.Polarity = types.Polarity(polarity)
		out = append(out, t)
	}
	return out, rows.Err()
}

// Close implements Store.
func (s *PostgresStore) Close() error {
	s.db.Close()
	return nil
}
