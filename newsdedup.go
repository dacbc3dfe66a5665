package newsdedup

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/soundprediction/newsdedup/pkg/ann"
	"github.com/soundprediction/newsdedup/pkg/embedder"
	"github.com/soundprediction/newsdedup/pkg/partition"
	"github.com/soundprediction/newsdedup/pkg/pipeline"
	"github.com/soundprediction/newsdedup/pkg/relation"
	"github.com/soundprediction/newsdedup/pkg/sentiment"
	"github.com/soundprediction/newsdedup/pkg/sketch"
	"github.com/soundprediction/newsdedup/pkg/types"
	"github.com/soundprediction/newsdedup/pkg/utils"
)

// Deduplicator is the per-ticker near-duplicate detector.
type Deduplicator interface {
	// AddNews evaluates item against every requested ticker and stores it in
	// the partitions where it is unique.
	AddNews(ctx context.Context, item types.NewsItem) (*AddResult, error)

	// Add is AddNews reduced to "was the text accepted for any ticker".
	Add(ctx context.Context, text string, tickers []string, polarity types.Polarity, intensity int) (bool, error)

	// GetUnique returns the accepted entries in insertion order.
	GetUnique() []types.AcceptedNewsEntry

	// HasPartition reports whether a partition exists for ticker.
	HasPartition(ticker string) bool

	// PartitionSize returns the number of records stored for ticker.
	PartitionSize(ticker string) int

	// Partitions returns the known tickers, sorted.
	Partitions() []string

	// Records returns the records stored for ticker in id order.
	Records(ticker string) []types.DuplicateRecord

	// Restore rebuilds partitions from stored tuples without re-embedding.
	Restore(ctx context.Context, tuples []types.RecordTuple) error

	// Close releases the semantic indexes.
	Close() error
}

// AddResult describes the outcome of one AddNews call.
type AddResult struct {
	Accepted        bool                        `json:"accepted"`
	AcceptedTickers []string                    `json:"accepted_tickers"`
	Rejected        []string                    `json:"rejected"`
	Failed          map[string]error            `json:"-"`
	Verdicts        map[string]pipeline.Verdict `json:"verdicts"`
	Entry           *types.AcceptedNewsEntry    `json:"entry,omitempty"`
}

// Err joins the per-ticker failures, or returns nil.
func (r *AddResult) Err() error {
	if len(r.Failed) == 0 {
		return nil
	}
	tickers := make([]string, 0, len(r.Failed))
	for t := range r.Failed {
		tickers = append(tickers, t)
	}
	slices.Sort(tickers)
	errs := make([]error, 0, len(tickers))
	for _, t := range tickers {
		errs = append(errs, fmt.Errorf("%s: %w", t, r.Failed[t]))
	}
	return errors.Join(errs...)
}

// Engine implements Deduplicator.
type Engine struct {
	cfg        Config
	embedder   embedder.Client
	hasher     *sketch.Hasher
	pipeline   *pipeline.Pipeline
	registry   *partition.Registry
	escalator  *relation.Escalator
	annFactory ann.Factory
	sink       Sink
	logger     *slog.Logger
	now        func() time.Time

	seedTickers []string

	mu      sync.Mutex
	entries []types.AcceptedNewsEntry
}

var _ Deduplicator = (*Engine)(nil)

// New creates an Engine. emb is required; everything else is optional.
func New(emb embedder.Client, cfg Config, opts ...Option) (*Engine, error) {
	if emb == nil {
		return nil, errors.New("embedder is required")
	}
	e := &Engine{
		cfg:      cfg,
		embedder: emb,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.annFactory == nil {
		hc := ann.DefaultHNSWConfig()
		hc.Dimensions = emb.Dimensions()
		e.annFactory = ann.NewHNSWFactory(hc)
	}
	if e.cfg.MaxConcurrency <= 0 {
		e.cfg.MaxConcurrency = utils.GetSemaphoreLimit()
	}

	e.hasher = sketch.NewHasher(cfg.NumPerm, cfg.ShingleSize, cfg.Seed)
	e.cfg.NumPerm, e.cfg.ShingleSize = e.hasher.NumPerm(), e.hasher.ShingleSize()

	pl, err := pipeline.New(cfg.Policy, sentiment.NewGate(cfg.SentimentDiffThresh), e.escalator, e.logger)
	if err != nil {
		return nil, err
	}
	e.pipeline = pl

	reg, err := partition.NewRegistry(partition.Config{
		LSHThreshold: cfg.Policy.ThresholdJaccard,
		NumPerm:      e.cfg.NumPerm,
		ANNK:         cfg.ANNK,
		Now:          e.now,
	}, e.annFactory, e.logger)
	if err != nil {
		return nil, err
	}
	e.registry = reg

	for _, t := range e.seedTickers {
		if _, err := reg.GetOrCreate(t); err != nil {
			return nil, fmt.Errorf("seed ticker %q: %w", t, err)
		}
	}

	e.logger.Info("dedup engine ready",
		"tiered", pl.Tiered(),
		"num_perm", e.cfg.NumPerm,
		"shingle_size", e.cfg.ShingleSize,
		"partitions", reg.Len())
	return e, nil
}

type tickerOutcome struct {
	ticker string
	out    partition.Outcome
}

// AddNews validates item, computes its signature, embedding and verb/object
// once, then evaluates each ticker partition independently. Validation and
// embedding failures return an error before any partition is modified;
// per-ticker failures are reported in AddResult.Failed.
func (e *Engine) AddNews(ctx context.Context, item types.NewsItem) (*AddResult, error) {
	if err := item.Validate(e.cfg.ShingleSize); err != nil {
		return nil, err
	}
	tickers := item.UniqueTickers()

	probe, err := e.probe(ctx, item)
	if err != nil {
		return nil, err
	}

	fns := make([]func() (tickerOutcome, error), len(tickers))
	for i, ticker := range tickers {
		fns[i] = func() (tickerOutcome, error) {
			p, err := e.registry.GetOrCreate(ticker)
			if err != nil {
				return tickerOutcome{ticker: ticker}, err
			}
			out, err := p.Admit(ctx, e.pipeline, probe)
			return tickerOutcome{ticker: ticker, out: out}, err
		}
	}
	outcomes, errs := utils.SemaphoreGatherWithResults(ctx, e.cfg.MaxConcurrency, fns...)

	res := &AddResult{
		Failed:   make(map[string]error),
		Verdicts: make(map[string]pipeline.Verdict, len(tickers)),
	}
	var inserted []types.RecordTuple
	for i, ticker := range tickers {
		if errs[i] != nil {
			res.Failed[ticker] = errs[i]
			e.logger.Warn("ticker evaluation failed", "ticker", ticker, "error", errs[i])
			continue
		}
		out := outcomes[i].out
		res.Verdicts[ticker] = out.Verdict
		e.logger.Debug("verdict",
			"ticker", ticker,
			"duplicate", out.Verdict.Duplicate,
			"match_id", out.Verdict.MatchID,
			"tier", out.Verdict.Tier,
			"jaccard", out.Verdict.Jaccard,
			"cosine", out.Verdict.Cosine,
			"alpha", out.Verdict.Alpha,
			"relation", out.Verdict.Relation,
			"candidates", out.Verdict.Candidates,
			"retries", out.Retries)

		if out.Record == nil {
			res.Rejected = append(res.Rejected, ticker)
			continue
		}
		res.AcceptedTickers = append(res.AcceptedTickers, ticker)
		tuple, err := types.NewRecordTuple(ticker, *out.Record)
		if err != nil {
			e.logger.Error("encode record tuple", "ticker", ticker, "error", err)
			continue
		}
		inserted = append(inserted, tuple)
	}

	if len(res.AcceptedTickers) == 0 {
		return res, nil
	}

	entry := types.AcceptedNewsEntry{
		ID:         uuid.New(),
		Text:       item.Text,
		Tickers:    slices.Clone(res.AcceptedTickers),
		AcceptedAt: e.now(),
	}
	e.mu.Lock()
	e.entries = append(e.entries, entry)
	e.mu.Unlock()
	res.Accepted = true
	res.Entry = &entry

	e.logger.Info("news accepted", "id", entry.ID, "tickers", entry.Tickers, "rejected", res.Rejected)
	e.emit(ctx, inserted)
	return res, nil
}

func (e *Engine) probe(ctx context.Context, item types.NewsItem) (pipeline.Probe, error) {
	vec, err := e.embedder.EmbedSingle(ctx, item.Text)
	if err != nil {
		if errors.Is(err, ErrEmbeddingUnavailable) {
			return pipeline.Probe{}, err
		}
		return pipeline.Probe{}, fmt.Errorf("%w: %w", ErrEmbeddingUnavailable, err)
	}
	if err := ann.CheckDimension(e.embedder.Dimensions(), len(vec)); err != nil {
		return pipeline.Probe{}, fmt.Errorf("%w: %w", ErrEmbeddingUnavailable, err)
	}
	unit := utils.Normalize(vec)
	if unit == nil {
		return pipeline.Probe{}, fmt.Errorf("%w: %w", ErrEmbeddingUnavailable, ann.ErrZeroVector)
	}

	var vo relation.VerbObject
	if e.escalator != nil {
		vo = e.escalator.Extract(ctx, item.Text)
	}
	return pipeline.Probe{
		Text:       item.Text,
		Sentiment:  item.Sentiment(),
		Signature:  e.hasher.Sketch(item.Text),
		Embedding:  unit,
		VerbObject: vo,
	}, nil
}

func (e *Engine) emit(ctx context.Context, tuples []types.RecordTuple) {
	if e.sink == nil || len(tuples) == 0 {
		return
	}
	if err := e.sink.Write(ctx, tuples); err != nil {
		e.logger.Error("record sink write failed", "records", len(tuples), "error", err)
		return
	}
	e.logger.Debug("records persisted", "records", len(tuples))
}

// Add implements Deduplicator. The error joins per-ticker failures.
func (e *Engine) Add(ctx context.Context, text string, tickers []string, polarity types.Polarity, intensity int) (bool, error) {
	res, err := e.AddNews(ctx, types.NewsItem{
		Text:      text,
		Tickers:   tickers,
		Polarity:  polarity,
		Intensity: intensity,
	})
	if err != nil {
		return false, err
	}
	return res.Accepted, res.Err()
}

// GetUnique implements Deduplicator.
func (e *Engine) GetUnique() []types.AcceptedNewsEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]types.AcceptedNewsEntry, len(e.entries))
	for i, entry := range e.entries {
		entry.Tickers = slices.Clone(entry.Tickers)
		out[i] = entry
	}
	return out
}

// HasPartition implements Deduplicator.
func (e *Engine) HasPartition(ticker string) bool {
	_, ok := e.registry.Get(ticker)
	return ok
}

// PartitionSize implements Deduplicator.
func (e *Engine) PartitionSize(ticker string) int {
	p, ok := e.registry.Get(ticker)
	if !ok {
		return 0
	}
	return p.Len()
}

// Partitions implements Deduplicator.
func (e *Engine) Partitions() []string {
	return e.registry.Tickers()
}

// Records implements Deduplicator.
func (e *Engine) Records(ticker string) []types.DuplicateRecord {
	p, ok := e.registry.Get(ticker)
	if !ok {
		return nil
	}
	return p.Records()
}

// PartitionErr returns the corruption cause of ticker's partition, if any.
func (e *Engine) PartitionErr(ticker string) error {
	p, ok := e.registry.Get(ticker)
	if !ok {
		return nil
	}
	return p.Err()
}

// Restore implements Deduplicator. Tuples are applied per ticker in record id
// order; ids must continue the partition's sequence. Every tuple is decoded
// and its signature checked against the engine's hasher before any partition
// changes.
func (e *Engine) Restore(ctx context.Context, tuples []types.RecordTuple) error {
	sorted := slices.Clone(tuples)
	slices.SortStableFunc(sorted, func(a, b types.RecordTuple) int {
		if c := cmp.Compare(a.Ticker, b.Ticker); c != 0 {
			return c
		}
		return cmp.Compare(a.RecordID, b.RecordID)
	})

	recs := make([]types.DuplicateRecord, len(sorted))
	for i, t := range sorted {
		rec, err := t.Record()
		if err != nil {
			return fmt.Errorf("restore %s/%d: %w", t.Ticker, t.RecordID, err)
		}
		if sig := rec.Signature; !e.hasher.Produced(sig) {
			return fmt.Errorf("restore %s/%d: %w: family %d seed %d shingle %d perm %d, engine uses family %d seed %d shingle %d perm %d",
				t.Ticker, t.RecordID, sketch.ErrIncompatible,
				sig.Family, sig.Seed, sig.ShingleSize, sig.NumPerm(),
				sketch.FamilyXXHashUniversal32, e.hasher.Seed(), e.hasher.ShingleSize(), e.hasher.NumPerm())
		}
		if rec.Embedding = utils.Normalize(rec.Embedding); rec.Embedding == nil {
			return fmt.Errorf("restore %s/%d: %w", t.Ticker, t.RecordID, ann.ErrZeroVector)
		}
		recs[i] = rec
	}

	restored := 0
	for i, t := range sorted {
		if err := ctx.Err(); err != nil {
			return err
		}
		p, err := e.registry.GetOrCreate(t.Ticker)
		if err != nil {
			return err
		}
		if err := p.Restore(recs[i]); err != nil {
			return err
		}
		restored++
	}
	e.logger.Info("partitions restored", "records", restored, "partitions", e.registry.Len())
	return nil
}

// Close implements Deduplicator.
func (e *Engine) Close() error {
	return e.registry.Close()
}
