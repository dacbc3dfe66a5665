// Package ann provides approximate nearest-neighbour indexes over unit-norm
// embeddings.
//
// Indexes are incrementally updatable: a vector is visible to Search as soon
// as Insert returns. Implementations are not required to be safe for
// concurrent writers; Search may run concurrently with other Search calls.
package ann

import (
	"errors"
	"fmt"
)

// DefaultK is the number of neighbours requested per candidate lookup.
const DefaultK = 20

var (
	// ErrDimensionMismatch is returned when a vector does not match the index dimension.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	// ErrDuplicateID is returned when an id is inserted twice.
	ErrDuplicateID = errors.New("id already indexed")
	// ErrZeroVector is returned for vectors with zero magnitude.
	ErrZeroVector = errors.New("zero-magnitude vector")
	// ErrClosed is returned by operations on a closed index.
	ErrClosed = errors.New("index closed")
)

// Index is a semantic nearest-neighbour index keyed by integer ids.
type Index interface {
	// Insert adds vec under id.
	Insert(id int, vec []float32) error
	// Search returns up to k ids ordered by decreasing similarity.
	Search(vec []float32, k int) ([]int, error)
	// Len returns the number of indexed vectors.
	Len() int
	// Close releases resources held by the index.
	Close() error
}

// Factory creates a fresh index for a partition.
type Factory func(partition string) (Index, error)

// CheckDimension reports ErrDimensionMismatch when got differs from want.
// A zero want accepts any dimension.
func CheckDimension(want, got int) error {
	if want != 0 && want != got {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, got, want)
	}
	return nil
}
