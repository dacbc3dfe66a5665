// Package store persists the record tuples produced by the dedup engine and
// reads them back so partitions can be rebuilt after a restart.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/soundprediction/newsdedup/pkg/config"
	"github.com/soundprediction/newsdedup/pkg/types"
)

// Sink receives tuples for every record the engine inserts.
type Sink interface {
	Write(ctx context.Context, tuples []types.RecordTuple) error
}

// Store is a Sink that can also return everything written to it, ordered by
// ticker and record id.
type Store interface {
	Sink
	Load(ctx context.Context) ([]types.RecordTuple, error)
	Close() error
}

// Open creates the store selected by cfg.Driver. The "none" driver returns a
// store that discards writes.
func Open(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch strings.ToLower(cfg.Driver) {
	case "", "none":
		return Discard{}, nil
	case "badger":
		return OpenBadger(cfg.Path, logger)
	case "parquet":
		return NewParquetSink(cfg.Path, DefaultParquetBatch, logger)
	case "postgres":
		return OpenPostgres(ctx, cfg.DSN, logger)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// Discard drops every write.
type Discard struct{}

func (Discard) Write(context.Context, []types.RecordTuple) error    { return nil }
func (Discard) Load(context.Context) ([]types.RecordTuple, error) { return nil, nil }
func (Discard) Close() error                                       { return nil }
