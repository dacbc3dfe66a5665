package newsdedup

import (
	"github.com/soundprediction/newsdedup/pkg/ann"
	"github.com/soundprediction/newsdedup/pkg/embedder"
	"github.com/soundprediction/newsdedup/pkg/partition"
	"github.com/soundprediction/newsdedup/pkg/relation"
	"github.com/soundprediction/newsdedup/pkg/types"
)

// Errors returned by the engine. They alias the package-level sentinels so
// errors.Is works with either name.
var (
	// ErrEmbeddingUnavailable means the embedding provider failed or returned
	// an unusable vector. The call fails before any partition is touched.
	ErrEmbeddingUnavailable = embedder.ErrUnavailable

	// ErrRelationClassifierUnavailable is reported per ticker when the
	// classifier fails under the propagate policy.
	ErrRelationClassifierUnavailable = relation.ErrClassifierUnavailable

	// ErrPartitionCorrupted is reported for a ticker whose semantic index
	// failed an insert. Other partitions are unaffected.
	ErrPartitionCorrupted = partition.ErrPartitionCorrupted

	// ErrDimensionMismatch is returned for embeddings of the wrong size.
	ErrDimensionMismatch = ann.ErrDimensionMismatch

	ErrInvalidNews      = types.ErrInvalidNews
	ErrTextTooShort     = types.ErrTextTooShort
	ErrNoTickers        = types.ErrNoTickers
	ErrEmptyTicker      = types.ErrEmptyTicker
	ErrInvalidIntensity = types.ErrInvalidIntensity
	ErrInvalidPolarity  = types.ErrInvalidPolarity
)
