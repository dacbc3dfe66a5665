// Package lsh buckets MinHash signatures into bands for sub-linear candidate
// retrieval.
//
// An Index splits every signature into b bands of r rows and hashes each band
// into a band-local bucket. A query returns every stored id that shares at
// least one bucket with the query signature. The result is a superset expected
// to contain the true matches at or above the configured Jaccard threshold;
// false positives are filtered downstream by exact signature comparison.
package lsh

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/cespare/xxhash/v2"
	"github.com/soundprediction/newsdedup/pkg/sketch"
)

var (
	// ErrDuplicateID is returned when an id is inserted twice.
	ErrDuplicateID = errors.New("id already indexed")
	// ErrNumPermMismatch is returned for signatures of the wrong length.
	ErrNumPermMismatch = errors.New("signature length does not match index")
)

// integrationSteps is the number of Simpson intervals used when scoring (b, r).
const integrationSteps = 100

// Index is a banded LSH index. It is not safe for concurrent use; callers
// serialize access (the partition does).
type Index struct {
	threshold float64
	numPerm   int
	bands     int
	rows      int
	tables    []map[uint64][]int
	ids       map[int]struct{}
}

// New creates an index whose band layout minimises the equally weighted sum of
// false-positive and false-negative probability mass around threshold.
func New(threshold float64, numPerm int) (*Index, error) {
	if threshold <= 0 || threshold >= 1 {
		return nil, fmt.Errorf("threshold must be in (0, 1), got %v", threshold)
	}
	if numPerm < 2 {
		return nil, fmt.Errorf("numPerm must be at least 2, got %d", numPerm)
	}
	b, r := OptimalParams(threshold, numPerm, 0.5, 0.5)
	idx, err := NewWithParams(b, r, numPerm)
	if err != nil {
		return nil, err
	}
	idx.threshold = threshold
	return idx, nil
}

// NewWithParams creates an index with an explicit band layout.
func NewWithParams(bands, rows, numPerm int) (*Index, error) {
	if bands <= 0 || rows <= 0 || bands*rows > numPerm {
		return nil, fmt.Errorf("invalid band layout b=%d r=%d for numPerm=%d", bands, rows, numPerm)
	}
	tables := make([]map[uint64][]int, bands)
	for i := range tables {
		tables[i] = make(map[uint64][]int)
	}
	return &Index{
		numPerm: numPerm,
		bands:   bands,
		rows:    rows,
		tables:  tables,
		ids:     make(map[int]struct{}),
	}, nil
}

// Params returns the band count and rows per band.
func (x *Index) Params() (bands, rows int) { return x.bands, x.rows }

// Threshold returns the Jaccard threshold the layout was tuned for (0 when
// created with NewWithParams).
func (x *Index) Threshold() float64 { return x.threshold }

// Len returns the number of inserted ids, including unbucketed empty signatures.
func (x *Index) Len() int { return len(x.ids) }

// Insert adds id to the buckets of each band of sig. Empty signatures are
// recorded but never bucketed.
func (x *Index) Insert(id int, sig sketch.Signature) error {
	if _, ok := x.ids[id]; ok {
		return fmt.Errorf("%w: %d", ErrDuplicateID, id)
	}
	if sig.Empty() {
		x.ids[id] = struct{}{}
		return nil
	}
	if sig.NumPerm() != x.numPerm {
		return fmt.Errorf("%w: got %d, want %d", ErrNumPermMismatch, sig.NumPerm(), x.numPerm)
	}
	x.ids[id] = struct{}{}
	for band := 0; band < x.bands; band++ {
		key := x.bandKey(sig, band)
		x.tables[band][key] = append(x.tables[band][key], id)
	}
	return nil
}

// Query returns the sorted ids sharing at least one band with sig.
func (x *Index) Query(sig sketch.Signature) []int {
	if sig.Empty() || sig.NumPerm() != x.numPerm {
		return nil
	}
	seen := make(map[int]struct{})
	for band := 0; band < x.bands; band++ {
		for _, id := range x.tables[band][x.bandKey(sig, band)] {
			seen[id] = struct{}{}
		}
	}
	out := make([]int, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

func (x *Index) bandKey(sig sketch.Signature, band int) uint64 {
	var buf [4]byte
	d := xxhash.New()
	start := band * x.rows
	for _, v := range sig.Values[start : start+x.rows] {
		binary.LittleEndian.PutUint32(buf[:], v)
		_, _ = d.Write(buf[:])
	}
	return d.Sum64()
}

// OptimalParams searches every (b, r) with b*r <= numPerm for the layout that
// minimises fpWeight*FP + fnWeight*FN, where FP is the area under the
// collision curve 1-(1-s^r)^b below threshold and FN the area above it that
// the curve misses.
func OptimalParams(threshold float64, numPerm int, fpWeight, fnWeight float64) (bands, rows int) {
	minError := math.Inf(1)
	for b := 1; b <= numPerm; b++ {
		for r := 1; r <= numPerm/b; r++ {
			fp := falsePositive(threshold, b, r)
			fn := falseNegative(threshold, b, r)
			if e := fp*fpWeight + fn*fnWeight; e < minError {
				minError = e
				bands, rows = b, r
			}
		}
	}
	return bands, rows
}

func collision(s float64, b, r int) float64 {
	return 1 - math.Pow(1-math.Pow(s, float64(r)), float64(b))
}

func falsePositive(threshold float64, b, r int) float64 {
	return simpson(func(s float64) float64 { return collision(s, b, r) }, 0, threshold)
}

func falseNegative(threshold float64, b, r int) float64 {
	return simpson(func(s float64) float64 { return 1 - collision(s, b, r) }, threshold, 1)
}

func simpson(f func(float64) float64, a, b float64) float64 {
	h := (b - a) / integrationSteps
	sum := f(a) + f(b)
	for i := 1; i < integrationSteps; i++ {
		x := a + float64(i)*h
		if i%2 == 1 {
			sum += 4 * f(x)
		} else {
			sum += 2 * f(x)
		}
	}
	return sum * h / 3
}
