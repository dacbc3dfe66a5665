package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"
	"github.com/soundprediction/newsdedup/pkg/types"
)

const recordPrefix = "rec/"

// BadgerStore keeps tuples in an embedded badger database keyed by
// ticker and record id.
type BadgerStore struct {
	db     *badger.DB
	logger *slog.Logger
}

// OpenBadger opens the database at dir. An empty dir keeps data in memory.
func OpenBadger(dir string, logger *slog.Logger) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %q: %w", dir, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BadgerStore{db: db, logger: logger}, nil
}

// recordKey orders keys by ticker, then by record id.
func recordKey(ticker string, id int) []byte {
	key := make([]byte, 0, len(recordPrefix)+len(ticker)+1+8)
	key = append(key, recordPrefix...)
	key = append(key, ticker...)
	key = append(key, 0)
	return binary.BigEndian.AppendUint64(key, uint64(id))
}

// Write implements Sink. All tuples are written in one transaction.
func (s *BadgerStore) Write(_ context.Context, tuples []types.RecordTuple) error {
	if len(tuples) == 0 {
		return nil
	}
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, t := range tuples {
		val, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("encode record %s/%d: %w", t.Ticker, t.RecordID, err)
		}
		if err := wb.Set(recordKey(t.Ticker, t.RecordID), val); err != nil {
			return fmt.Errorf("write record %s/%d: %w", t.Ticker, t.RecordID, err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("flush badger batch: %w", err)
	}
	s.logger.Debug("records persisted to badger", "records", len(tuples))
	return nil
}

// Load implements Store.
func (s *BadgerStore) Load(ctx context.Context) ([]types.RecordTuple, error) {
	var out []types.RecordTuple
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(recordPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var t types.RecordTuple
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &t)
			})
			if err != nil {
				return fmt.Errorf("decode %q: %w", it.Item().Key(), err)
			}
			out = append(out, t)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Close implements Store.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}
