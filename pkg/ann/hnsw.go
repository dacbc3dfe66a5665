package ann

import (
	"container/heap"
	"fmt"
	"math"
	"math/rand/v2"
	"slices"
	"sync/atomic"

	"github.com/soundprediction/newsdedup/pkg/utils"
)

// HNSWConfig tunes the hierarchical navigable small world graph.
type HNSWConfig struct {
	// M is the number of links per node on upper layers; layer 0 keeps 2*M.
	M int `mapstructure:"m"`
	// EfConstruction is the candidate list size used while inserting.
	EfConstruction int `mapstructure:"ef_construction"`
	// EfSearch is the minimum candidate list size used while searching.
	EfSearch int `mapstructure:"ef_search"`
	// Seed drives the level generator.
	Seed uint64 `mapstructure:"seed"`
	// Dimensions fixes the vector length; 0 takes it from the first insert.
	Dimensions int `mapstructure:"dimensions"`
}

// DefaultHNSWConfig returns M=16, efConstruction=200, efSearch=64.
func DefaultHNSWConfig() HNSWConfig {
	return HNSWConfig{
		M:              16,
		EfConstruction: 200,
		EfSearch:       64,
		Seed:           42,
	}
}

type hnswNode struct {
	id      int
	vec     []float32
	friends [][]int32
}

// HNSW is an in-memory HNSW graph using cosine distance on normalized vectors.
// Insert requires exclusive access; Search is read-only.
type HNSW struct {
	cfg      HNSWConfig
	dim      int
	levelMul float64
	rng      *rand.Rand
	nodes    []*hnswNode
	slots    map[int]int32
	entry    int32
	maxLevel int
	closed   atomic.Bool
}

// NewHNSW creates an empty graph. Zero fields in cfg fall back to defaults.
func NewHNSW(cfg HNSWConfig) *HNSW {
	def := DefaultHNSWConfig()
	if cfg.M <= 0 {
		cfg.M = def.M
	}
	if cfg.EfConstruction <= 0 {
		cfg.EfConstruction = def.EfConstruction
	}
	if cfg.EfSearch <= 0 {
		cfg.EfSearch = def.EfSearch
	}
	return &HNSW{
		cfg:      cfg,
		dim:      cfg.Dimensions,
		levelMul: 1 / math.Log(float64(max(cfg.M, 2))),
		rng:      rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
		slots:    make(map[int]int32),
		entry:    -1,
	}
}

// NewHNSWFactory returns a Factory producing graphs with cfg.
func NewHNSWFactory(cfg HNSWConfig) Factory {
	return func(string) (Index, error) { return NewHNSW(cfg), nil }
}

// Len returns the number of nodes.
func (h *HNSW) Len() int { return len(h.nodes) }

// Close drops the graph.
func (h *HNSW) Close() error {
	h.closed.Store(true)
	h.nodes = nil
	h.slots = nil
	return nil
}

// Insert normalizes a copy of vec and links it into the graph.
func (h *HNSW) Insert(id int, vec []float32) error {
	if h.closed.Load() {
		return ErrClosed
	}
	if _, ok := h.slots[id]; ok {
		return fmt.Errorf("%w: %d", ErrDuplicateID, id)
	}
	if h.dim == 0 {
		h.dim = len(vec)
	}
	if err := CheckDimension(h.dim, len(vec)); err != nil {
		return err
	}
	q := utils.Normalize(vec)
	if q == nil {
		return ErrZeroVector
	}

	level := h.randomLevel()
	slot := int32(len(h.nodes))
	node := &hnswNode{id: id, vec: q, friends: make([][]int32, level+1)}
	h.nodes = append(h.nodes, node)
	h.slots[id] = slot

	if h.entry < 0 {
		h.entry = slot
		h.maxLevel = level
		return nil
	}

	ep := h.entry
	for lc := h.maxLevel; lc > level; lc-- {
		ep = h.greedy(q, ep, lc)
	}

	for lc := min(level, h.maxLevel); lc >= 0; lc-- {
		found := h.searchLayer(q, ep, h.cfg.EfConstruction, lc)
		neighbours := closest(found, h.maxLinks(lc))
		node.friends[lc] = neighbours
		for _, n := range neighbours {
			h.link(n, slot, lc)
		}
		ep = found[0].slot
	}

	if level > h.maxLevel {
		h.maxLevel = level
		h.entry = slot
	}
	return nil
}

// Search returns up to k ids ordered by decreasing cosine similarity.
func (h *HNSW) Search(vec []float32, k int) ([]int, error) {
	if h.closed.Load() {
		return nil, ErrClosed
	}
	if k <= 0 || h.entry < 0 {
		return nil, nil
	}
	if err := CheckDimension(h.dim, len(vec)); err != nil {
		return nil, err
	}
	q := utils.Normalize(vec)
	if q == nil {
		return nil, ErrZeroVector
	}

	ep := h.entry
	for lc := h.maxLevel; lc > 0; lc-- {
		ep = h.greedy(q, ep, lc)
	}
	found := h.searchLayer(q, ep, max(h.cfg.EfSearch, k), 0)
	if len(found) > k {
		found = found[:k]
	}
	ids := make([]int, len(found))
	for i, c := range found {
		ids[i] = h.nodes[c.slot].id
	}
	return ids, nil
}

func (h *HNSW) randomLevel() int {
	u := h.rng.Float64()
	for u == 0 {
		u = h.rng.Float64()
	}
	return int(math.Floor(-math.Log(u) * h.levelMul))
}

func (h *HNSW) maxLinks(level int) int {
	if level == 0 {
		return 2 * h.cfg.M
	}
	return h.cfg.M
}

func (h *HNSW) distance(q []float32, slot int32) float32 {
	return float32(1 - utils.DotProduct(q, h.nodes[slot].vec))
}

// greedy walks layer lc towards q and returns the closest node reached.
func (h *HNSW) greedy(q []float32, ep int32, lc int) int32 {
	cur := ep
	curDist := h.distance(q, cur)
	for changed := true; changed; {
		changed = false
		for _, n := range h.nodes[cur].friends[lc] {
			if d := h.distance(q, n); d < curDist {
				cur, curDist = n, d
				changed = true
			}
		}
	}
	return cur
}

// searchLayer returns up to ef nodes of layer lc nearest to q, sorted by
// ascending distance.
func (h *HNSW) searchLayer(q []float32, ep int32, ef int, lc int) []candidate {
	visited := map[int32]struct{}{ep: {}}
	start := candidate{slot: ep, dist: h.distance(q, ep)}
	cands := &nearestFirst{start}
	results := &furthestFirst{start}

	for cands.Len() > 0 {
		c := heap.Pop(cands).(candidate)
		if c.dist > (*results)[0].dist && results.Len() >= ef {
			break
		}
		node := h.nodes[c.slot]
		if lc >= len(node.friends) {
			continue
		}
		for _, n := range node.friends[lc] {
			if _, seen := visited[n]; seen {
				continue
			}
			visited[n] = struct{}{}
			d := h.distance(q, n)
			if results.Len() < ef || d < (*results)[0].dist {
				heap.Push(cands, candidate{slot: n, dist: d})
				heap.Push(results, candidate{slot: n, dist: d})
				if results.Len() > ef {
					heap.Pop(results)
				}
			}
		}
	}

	out := make([]candidate, results.Len())
	copy(out, *results)
	slices.SortFunc(out, func(a, b candidate) int {
		switch {
		case a.dist < b.dist:
			return -1
		case a.dist > b.dist:
			return 1
		}
		return int(a.slot - b.slot)
	})
	return out
}

func closest(sorted []candidate, m int) []int32 {
	n := min(m, len(sorted))
	out := make([]int32, n)
	for i := 0; i < n; i++ {
		out[i] = sorted[i].slot
	}
	return out
}

// link adds a back-edge from slot to target, pruning to the closest links
// when the layer's capacity is exceeded.
func (h *HNSW) link(slot, target int32, lc int) {
	node := h.nodes[slot]
	node.friends[lc] = append(node.friends[lc], target)
	limit := h.maxLinks(lc)
	if len(node.friends[lc]) <= limit {
		return
	}
	cands := make([]candidate, len(node.friends[lc]))
	for i, n := range node.friends[lc] {
		cands[i] = candidate{slot: n, dist: h.distance(node.vec, n)}
	}
	slices.SortFunc(cands, func(a, b candidate) int {
		switch {
		case a.dist < b.dist:
			return -1
		case a.dist > b.dist:
			return 1
		}
		return 0
	})
	node.friends[lc] = closest(cands, limit)
}
