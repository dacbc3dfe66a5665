package partition

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/soundprediction/newsdedup/pkg/ann"
	"github.com/soundprediction/newsdedup/pkg/lsh"
)

// Config describes how new partitions are built.
type Config struct {
	// LSHThreshold is the Jaccard threshold the band layout is tuned for.
	LSHThreshold float64
	NumPerm      int
	// ANNK is the number of semantic neighbours fetched per lookup.
	ANNK int
	// Now stamps new records; nil means time.Now.
	Now func() time.Time
}

// Registry maps tickers to partitions, creating them on first use.
type Registry struct {
	cfg     Config
	bands   int
	rows    int
	factory ann.Factory
	logger  *slog.Logger
	now     func() time.Time

	mu    sync.RWMutex
	parts map[string]*Partition
}

// NewRegistry creates an empty registry. The LSH band layout is computed once
// and shared by all partitions.
func NewRegistry(cfg Config, factory ann.Factory, logger *slog.Logger) (*Registry, error) {
	if factory == nil {
		return nil, errors.New("ann factory is required")
	}
	if cfg.ANNK <= 0 {
		cfg.ANNK = ann.DefaultK
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	probe, err := lsh.New(cfg.LSHThreshold, cfg.NumPerm)
	if err != nil {
		return nil, fmt.Errorf("lsh layout: %w", err)
	}
	bands, rows := probe.Params()
	logger.Debug("lsh layout", "threshold", cfg.LSHThreshold, "num_perm", cfg.NumPerm, "bands", bands, "rows", rows)

	return &Registry{
		cfg:     cfg,
		bands:   bands,
		rows:    rows,
		factory: factory,
		logger:  logger,
		now:     cfg.Now,
		parts:   make(map[string]*Partition),
	}, nil
}

// Get returns the partition for ticker if it exists.
func (r *Registry) Get(ticker string) (*Partition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.parts[normalize(ticker)]
	return p, ok
}

// GetOrCreate returns the partition for ticker, creating it if absent.
func (r *Registry) GetOrCreate(ticker string) (*Partition, error) {
	key := normalize(ticker)
	if key == "" {
		return nil, errors.New("ticker cannot be empty")
	}
	if p, ok := r.Get(key); ok {
		return p, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.parts[key]; ok {
		return p, nil
	}
	p, err := r.newPartition(key)
	if err != nil {
		return nil, err
	}
	r.parts[key] = p
	r.logger.Debug("partition created", "ticker", key)
	return p, nil
}

func (r *Registry) newPartition(ticker string) (*Partition, error) {
	lex, err := lsh.NewWithParams(r.bands, r.rows, r.cfg.NumPerm)
	if err != nil {
		return nil, fmt.Errorf("create partition %s: %w", ticker, err)
	}
	sem, err := r.factory(ticker)
	if err != nil {
		return nil, fmt.Errorf("create partition %s: %w", ticker, err)
	}
	return &Partition{
		ticker: ticker,
		annK:   r.cfg.ANNK,
		now:    r.now,
		logger: r.logger,
		lex:    lex,
		sem:    sem,
	}, nil
}

// Tickers returns the partition keys in sorted order.
func (r *Registry) Tickers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.parts))
	for k := range r.parts {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

// Len returns the number of partitions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.parts)
}

// Close closes every partition.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for k, p := range r.parts {
		if err := p.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close partition %s: %w", k, err))
		}
	}
	return errors.Join(errs...)
}

func normalize(ticker string) string {
	return strings.TrimSpace(ticker)
}
