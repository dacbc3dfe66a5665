// Package partition holds the per-ticker dedup state: the records seen for a
// ticker together with their lexical and semantic indexes.
//
// Partitions are independent. Evaluation runs on a candidate snapshot taken
// under a read lock; insertion takes the write lock and succeeds only if no
// record was added since the snapshot. Otherwise the newer records are
// evaluated and the insert is retried, so two concurrent submissions of the
// same text cannot both be accepted.
package partition

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/soundprediction/newsdedup/pkg/ann"
	"github.com/soundprediction/newsdedup/pkg/lsh"
	"github.com/soundprediction/newsdedup/pkg/pipeline"
	"github.com/soundprediction/newsdedup/pkg/types"
)

// ErrPartitionCorrupted is returned by every operation on a partition whose
// semantic index failed an insert.
var ErrPartitionCorrupted = errors.New("partition corrupted")

// Partition is the dedup state of one ticker.
type Partition struct {
	ticker string
	annK   int
	now    func() time.Time
	logger *slog.Logger

	mu      sync.RWMutex
	lex     *lsh.Index
	sem     ann.Index
	records []types.DuplicateRecord
	failure error
}

// Snapshot is a set of candidate records and the partition size they were
// read at.
type Snapshot struct {
	Records []types.DuplicateRecord
	Version int
}

// Outcome is the result of Admit. Record is set when the probe was inserted.
type Outcome struct {
	Verdict pipeline.Verdict
	Record  *types.DuplicateRecord
	// Retries counts re-evaluations caused by concurrent inserts.
	Retries int
}

// Ticker returns the partition key.
func (p *Partition) Ticker() string { return p.ticker }

// Len returns the number of stored records.
func (p *Partition) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.records)
}

// Err returns the corruption cause, if any.
func (p *Partition) Err() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.failure
}

// Records returns a deep copy of the stored records in id order.
func (p *Partition) Records() []types.DuplicateRecord {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]types.DuplicateRecord, len(p.records))
	for i, r := range p.records {
		out[i] = r.Clone()
	}
	return out
}

// Candidates returns the records with id >= since that share an LSH bucket
// with probe or are among its annK nearest neighbours.
func (p *Partition) Candidates(probe pipeline.Probe, since int) (Snapshot, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.failure != nil {
		return Snapshot{}, p.failure
	}
	snap := Snapshot{Version: len(p.records)}
	if since >= len(p.records) {
		return snap, nil
	}

	ids := p.lex.Query(probe.Signature)
	if len(probe.Embedding) > 0 && p.sem.Len() > 0 {
		near, err := p.sem.Search(probe.Embedding, p.annK)
		if err != nil {
			return Snapshot{}, fmt.Errorf("semantic search in %s: %w", p.ticker, err)
		}
		ids = append(ids, near...)
	}
	slices.Sort(ids)
	ids = slices.Compact(ids)

	for _, id := range ids {
		if id >= since && id < len(p.records) {
			snap.Records = append(snap.Records, p.records[id])
		}
	}
	return snap, nil
}

// Commit inserts rec if the partition still has version records. It reports
// false, without error, when newer records exist.
func (p *Partition) Commit(rec types.DuplicateRecord, version int) (types.DuplicateRecord, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.failure != nil {
		return types.DuplicateRecord{}, false, p.failure
	}
	if len(p.records) != version {
		return types.DuplicateRecord{}, false, nil
	}
	rec.ID = len(p.records)
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = p.now()
	}
	if err := p.insertLocked(rec); err != nil {
		return types.DuplicateRecord{}, false, err
	}
	return rec, true, nil
}

// Restore appends a previously stored record. Its id must be the next id.
func (p *Partition) Restore(rec types.DuplicateRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.failure != nil {
		return p.failure
	}
	if rec.ID != len(p.records) {
		return fmt.Errorf("restore %s: record id %d out of sequence, want %d", p.ticker, rec.ID, len(p.records))
	}
	return p.insertLocked(rec)
}

func (p *Partition) insertLocked(rec types.DuplicateRecord) error {
	if err := p.sem.Insert(rec.ID, rec.Embedding); err != nil {
		p.failure = fmt.Errorf("%w: %s: semantic insert of record %d: %w", ErrPartitionCorrupted, p.ticker, rec.ID, err)
		p.logger.Error("partition marked corrupted", "ticker", p.ticker, "record_id", rec.ID, "error", err)
		return p.failure
	}
	if err := p.lex.Insert(rec.ID, rec.Signature); err != nil {
		p.failure = fmt.Errorf("%w: %s: lexical insert of record %d: %w", ErrPartitionCorrupted, p.ticker, rec.ID, err)
		p.logger.Error("partition marked corrupted", "ticker", p.ticker, "record_id", rec.ID, "error", err)
		return p.failure
	}
	p.records = append(p.records, rec)
	return nil
}

// Admit evaluates probe and inserts it when unique. Inserts racing with this
// call are evaluated before the probe is committed.
func (p *Partition) Admit(ctx context.Context, pl *pipeline.Pipeline, probe pipeline.Probe) (Outcome, error) {
	var out Outcome
	since := 0
	for {
		snap, err := p.Candidates(probe, since)
		if err != nil {
			return Outcome{}, err
		}
		v, err := pl.Evaluate(ctx, probe, snap.Records)
		if err != nil {
			return Outcome{}, err
		}
		if since > 0 {
			v.Candidates += out.Verdict.Candidates
		}
		out.Verdict = v
		if v.Duplicate {
			return out, nil
		}

		rec, ok, err := p.Commit(probe.Record(), snap.Version)
		if err != nil {
			return Outcome{}, err
		}
		if ok {
			out.Record = &rec
			return out, nil
		}
		out.Retries++
		since = snap.Version
	}
}

// Close releases the semantic index.
func (p *Partition) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sem.Close()
}
