// Package vamana adapts the horosvec Vamana+RaBitQ engine to ann.Index.
//
// Each partition gets its own SQLite database (modernc.org/sqlite, pure Go).
// horosvec builds its graph in bulk, so vectors are first kept in a small
// exact buffer that is searched by brute force. Once the buffer reaches
// BuildThreshold the graph is built from it; later inserts go straight to
// the graph.
package vamana

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/hazyhaar/horosvec"
	"github.com/soundprediction/newsdedup/pkg/ann"
	"github.com/soundprediction/newsdedup/pkg/utils"

	_ "modernc.org/sqlite"
)

// DefaultBuildThreshold is the buffer size that triggers the initial build.
const DefaultBuildThreshold = 64

// Config configures the SQLite-backed index.
type Config struct {
	// Dir holds one database file per partition. Empty uses in-memory databases.
	Dir string
	// BuildThreshold is the number of buffered vectors that triggers Build.
	BuildThreshold int
	// Dimensions fixes the vector length; 0 takes it from the first insert.
	Dimensions int
	// Horosvec is passed through to the engine.
	Horosvec horosvec.Config
	Logger   *slog.Logger
}

// DefaultConfig returns in-memory storage with horosvec defaults.
func DefaultConfig() Config {
	return Config{
		BuildThreshold: DefaultBuildThreshold,
		Horosvec:       horosvec.DefaultConfig(),
	}
}

type entry struct {
	id  int
	vec []float32
}

// Index is an ann.Index backed by horosvec.
type Index struct {
	mu      sync.RWMutex
	cfg     Config
	db      *sql.DB
	engine  *horosvec.Index
	built   bool
	pending []entry
	ids     map[int]struct{}
	dim     int
	logger  *slog.Logger
	closed  bool
}

var _ ann.Index = (*Index)(nil)

// Open creates the index for partition.
func Open(partition string, cfg Config) (*Index, error) {
	if cfg.BuildThreshold <= 0 {
		cfg.BuildThreshold = DefaultBuildThreshold
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	dsn := ":memory:"
	if cfg.Dir != "" {
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("create index dir: %w", err)
		}
		dsn = filepath.Join(cfg.Dir, fileName(partition))
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A :memory: database lives on a single connection.
	db.SetMaxOpenConns(1)

	engine, err := horosvec.New(db, cfg.Horosvec)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create horosvec index: %w", err)
	}

	return &Index{
		cfg:    cfg,
		db:     db,
		engine: engine,
		ids:    make(map[int]struct{}),
		dim:    cfg.Dimensions,
		logger: cfg.Logger.With("component", "vamana", "partition", partition),
	}, nil
}

// NewFactory returns an ann.Factory opening one Index per partition.
func NewFactory(cfg Config) ann.Factory {
	return func(partition string) (ann.Index, error) {
		return Open(partition, cfg)
	}
}

// Len returns the number of inserted vectors.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.ids)
}

// Insert adds a normalized copy of vec.
func (x *Index) Insert(id int, vec []float32) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.closed {
		return ann.ErrClosed
	}
	if _, ok := x.ids[id]; ok {
		return fmt.Errorf("%w: %d", ann.ErrDuplicateID, id)
	}
	if x.dim == 0 {
		x.dim = len(vec)
	}
	if err := ann.CheckDimension(x.dim, len(vec)); err != nil {
		return err
	}
	q := utils.Normalize(vec)
	if q == nil {
		return ann.ErrZeroVector
	}

	if x.built {
		if err := x.engine.Insert([][]float32{q}, [][]byte{encodeID(id)}); err != nil {
			return fmt.Errorf("horosvec insert: %w", err)
		}
		x.ids[id] = struct{}{}
		return nil
	}

	x.pending = append(x.pending, entry{id: id, vec: q})
	x.ids[id] = struct{}{}
	if len(x.pending) >= x.cfg.BuildThreshold {
		if err := x.build(); err != nil {
			// The buffer still serves searches; retry on the next insert.
			x.logger.Warn("horosvec build failed", "error", err, "buffered", len(x.pending))
		}
	}
	return nil
}

func (x *Index) build() error {
	it := &bufferIterator{entries: x.pending}
	if err := x.engine.Build(context.Background(), it); err != nil {
		return err
	}
	x.logger.Debug("horosvec graph built", "vectors", len(x.pending))
	x.built = true
	x.pending = nil
	return nil
}

// Search returns up to k ids ordered by decreasing similarity.
func (x *Index) Search(vec []float32, k int) ([]int, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if x.closed {
		return nil, ann.ErrClosed
	}
	if k <= 0 || len(x.ids) == 0 {
		return nil, nil
	}
	if err := ann.CheckDimension(x.dim, len(vec)); err != nil {
		return nil, err
	}
	q := utils.Normalize(vec)
	if q == nil {
		return nil, ann.ErrZeroVector
	}

	if !x.built {
		items := make([]utils.ScoredItem[int], len(x.pending))
		for i, e := range x.pending {
			items[i] = utils.ScoredItem[int]{Item: e.id, Score: utils.DotProduct(q, e.vec)}
		}
		top := utils.TopKByScore(items, k)
		out := make([]int, len(top))
		for i, it := range top {
			out[i] = it.Item
		}
		return out, nil
	}

	results, err := x.engine.Search(q, k)
	if err != nil {
		return nil, fmt.Errorf("horosvec search: %w", err)
	}
	out := make([]int, 0, len(results))
	for _, r := range results {
		if len(r.ID) != 8 {
			continue
		}
		out = append(out, decodeID(r.ID))
	}
	return out, nil
}

// Close closes the engine and the database.
func (x *Index) Close() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return nil
	}
	x.closed = true
	err := x.engine.Close()
	if cerr := x.db.Close(); err == nil {
		err = cerr
	}
	return err
}

type bufferIterator struct {
	entries []entry
	pos     int
}

func (it *bufferIterator) Next() ([]byte, []float32, bool) {
	if it.pos >= len(it.entries) {
		return nil, nil, false
	}
	e := it.entries[it.pos]
	it.pos++
	return encodeID(e.id), e.vec, true
}

func (it *bufferIterator) Reset() error {
	it.pos = 0
	return nil
}

func encodeID(id int) []byte {
	return binary.BigEndian.AppendUint64(nil, uint64(id))
}

func decodeID(b []byte) int {
	return int(binary.BigEndian.Uint64(b))
}

// fileName maps a ticker to a safe file name. The readable prefix may be
// shared by several tickers; the hash of the raw ticker keeps names distinct.
func fileName(partition string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		}
		return '_'
	}, partition)
	return fmt.Sprintf("%s-%016x.db", safe, xxhash.Sum64String(partition))
}
