package ann

import (
	"math/rand/v2"
	"sort"
	"testing"

	"github.com/soundprediction/newsdedup/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomVectors(n, dim int, seed uint64) [][]float32 {
	r := rand.New(rand.NewPCG(seed, seed))
	out := make([][]float32, n)
	for i := range out {
		v := make([]float32, dim)
		for j := range v {
			v[j] = r.Float32() - 0.5
		}
		out[i] = utils.Normalize(v)
	}
	return out
}

func bruteForce(vecs [][]float32, q []float32, k int) []int {
	ids := make([]int, len(vecs))
	for i := range ids {
		ids[i] = i
	}
	sort.SliceStable(ids, func(a, b int) bool {
		return utils.DotProduct(vecs[ids[a]], q) > utils.DotProduct(vecs[ids[b]], q)
	})
	if len(ids) > k {
		ids = ids[:k]
	}
	return ids
}

func TestHNSWEmpty(t *testing.T) {
	h := NewHNSW(DefaultHNSWConfig())
	ids, err := h.Search([]float32{1, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, ids)
	assert.Equal(t, 0, h.Len())
}

func TestHNSWReadAfterWrite(t *testing.T) {
	h := NewHNSW(DefaultHNSWConfig())
	vecs := randomVectors(50, 16, 7)
	for i, v := range vecs {
		require.NoError(t, h.Insert(i, v))
		ids, err := h.Search(v, 1)
		require.NoError(t, err)
		require.Len(t, ids, 1)
		assert.Equal(t, i, ids[0], "vector %d must be its own nearest neighbour", i)
	}
	assert.Equal(t, 50, h.Len())
}

func TestHNSWRecall(t *testing.T) {
	const (
		n   = 500
		dim = 32
		k   = 10
	)
	h := NewHNSW(DefaultHNSWConfig())
	vecs := randomVectors(n, dim, 1)
	for i, v := range vecs {
		require.NoError(t, h.Insert(i, v))
	}

	queries := randomVectors(20, dim, 99)
	hits := 0
	for _, q := range queries {
		got, err := h.Search(q, k)
		require.NoError(t, err)
		want := bruteForce(vecs, q, k)
		for _, id := range got {
			for _, w := range want {
				if id == w {
					hits++
					break
				}
			}
		}
	}
	recall := float64(hits) / float64(len(queries)*k)
	assert.GreaterOrEqual(t, recall, 0.9)
}

func TestHNSWOrderedBySimilarity(t *testing.T) {
	h := NewHNSW(DefaultHNSWConfig())
	require.NoError(t, h.Insert(10, []float32{1, 0, 0}))
	require.NoError(t, h.Insert(11, []float32{0.9, 0.1, 0}))
	require.NoError(t, h.Insert(12, []float32{0, 1, 0}))
	require.NoError(t, h.Insert(13, []float32{-1, 0, 0}))

	ids, err := h.Search([]float32{1, 0, 0}, 4)
	require.NoError(t, err)
	assert.Equal(t, []int{10, 11, 12, 13}, ids)
}

func TestHNSWErrors(t *testing.T) {
	h := NewHNSW(DefaultHNSWConfig())
	require.NoError(t, h.Insert(0, []float32{1, 0, 0}))

	assert.ErrorIs(t, h.Insert(0, []float32{0, 1, 0}), ErrDuplicateID)
	assert.ErrorIs(t, h.Insert(1, []float32{1, 0}), ErrDimensionMismatch)
	assert.ErrorIs(t, h.Insert(2, []float32{0, 0, 0}), ErrZeroVector)

	_, err := h.Search([]float32{1, 0}, 1)
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	require.NoError(t, h.Close())
	assert.ErrorIs(t, h.Insert(3, []float32{0, 0, 1}), ErrClosed)
}

func TestHNSWFixedDimensions(t *testing.T) {
	cfg := DefaultHNSWConfig()
	cfg.Dimensions = 4
	idx, err := NewHNSWFactory(cfg)("AAPL")
	require.NoError(t, err)
	assert.ErrorIs(t, idx.Insert(0, []float32{1, 0, 0}), ErrDimensionMismatch)
	assert.NoError(t, idx.Insert(0, []float32{1, 0, 0, 0}))
}
