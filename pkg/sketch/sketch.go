package sketch

import (
	"errors"
	"math"
	"math/bits"
	"math/rand/v2"
	"slices"

	"github.com/cespare/xxhash/v2"
)

const (
	// FamilyXXHashUniversal32 is xxhash64 truncated to 32 bits, permuted with
	// (a*x + b) mod (2^61 - 1) and masked to 32 bits.
	FamilyXXHashUniversal32 uint8 = 1

	DefaultNumPerm     = 256
	DefaultShingleSize = 4
	DefaultSeed        = 1

	mersennePrime uint64 = (1 << 61) - 1
	maxHash       uint64 = (1 << 32) - 1
)

// ErrIncompatible is returned when two signatures come from different hash
// families, seeds or permutation counts.
var ErrIncompatible = errors.New("signatures are not comparable")

// Hasher produces signatures for one fixed permutation set. It is safe for
// concurrent use.
type Hasher struct {
	numPerm     int
	shingleSize int
	seed        uint64
	a           []uint64
	b           []uint64
}

// NewHasher creates a hasher. Non-positive arguments fall back to the defaults.
func NewHasher(numPerm, shingleSize int, seed uint64) *Hasher {
	if numPerm <= 0 {
		numPerm = DefaultNumPerm
	}
	if shingleSize <= 0 {
		shingleSize = DefaultShingleSize
	}
	a, b := permutations(numPerm, seed)
	return &Hasher{
		numPerm:     numPerm,
		shingleSize: shingleSize,
		seed:        seed,
		a:           a,
		b:           b,
	}
}

// permutations derives the (a, b) coefficients from seed, a in [1, p) and b in [0, p).
func permutations(numPerm int, seed uint64) ([]uint64, []uint64) {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	a := make([]uint64, numPerm)
	b := make([]uint64, numPerm)
	for i := 0; i < numPerm; i++ {
		a[i] = rng.Uint64N(mersennePrime-1) + 1
	}
	for i := 0; i < numPerm; i++ {
		b[i] = rng.Uint64N(mersennePrime)
	}
	return a, b
}

// NumPerm returns the signature length.
func (h *Hasher) NumPerm() int { return h.numPerm }

// ShingleSize returns the shingle width in runes.
func (h *Hasher) ShingleSize() int { return h.shingleSize }

// Seed returns the seed of the permutation set.
func (h *Hasher) Seed() uint64 { return h.seed }

// Produced reports whether sig could have been computed by h: same hash
// family, seed, shingle size and permutation count. Empty signatures only
// need the family, seed and shingle size to agree.
func (h *Hasher) Produced(sig Signature) bool {
	if sig.Family != FamilyXXHashUniversal32 || sig.Seed != h.seed || sig.ShingleSize != h.shingleSize {
		return false
	}
	return sig.Empty() || sig.NumPerm() == h.numPerm
}

// Shingles returns the distinct shingles of text in first-seen order.
func (h *Hasher) Shingles(text string) []string {
	runes := []rune(text)
	if len(runes) < h.shingleSize {
		return nil
	}
	seen := make(map[string]struct{}, len(runes))
	out := make([]string, 0, len(runes)-h.shingleSize+1)
	for i := 0; i+h.shingleSize <= len(runes); i++ {
		s := string(runes[i : i+h.shingleSize])
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// Sketch computes the signature of text.
func (h *Hasher) Sketch(text string) Signature {
	sig := Signature{
		Family:      FamilyXXHashUniversal32,
		Seed:        h.seed,
		ShingleSize: h.shingleSize,
	}
	shingles := h.Shingles(text)
	if len(shingles) == 0 {
		return sig
	}

	values := make([]uint32, h.numPerm)
	for i := range values {
		values[i] = math.MaxUint32
	}
	for _, s := range shingles {
		x := xxhash.Sum64String(s) & maxHash
		for i := 0; i < h.numPerm; i++ {
			if v := uint32(h.permute(i, x)); v < values[i] {
				values[i] = v
			}
		}
	}
	sig.Values = values
	return sig
}

func (h *Hasher) permute(i int, x uint64) uint64 {
	hi, lo := bits.Mul64(h.a[i], x)
	lo, carry := bits.Add64(lo, h.b[i], 0)
	hi += carry
	_, rem := bits.Div64(hi, lo, mersennePrime)
	return rem & maxHash
}

// Signature is a MinHash signature. A signature with no values is empty:
// it came from a text shorter than the shingle size.
type Signature struct {
	Family      uint8
	Seed        uint64
	ShingleSize int
	Values      []uint32
}

// Clone returns a copy of s that shares no memory with it.
func (s Signature) Clone() Signature {
	s.Values = slices.Clone(s.Values)
	return s
}

// Empty reports whether the signature has no values.
func (s Signature) Empty() bool { return len(s.Values) == 0 }

// NumPerm returns the number of hash values.
func (s Signature) NumPerm() int { return len(s.Values) }

// Compatible reports whether s and o were built by the same permutation set.
func (s Signature) Compatible(o Signature) bool {
	return s.Family == o.Family && s.Seed == o.Seed && len(s.Values) == len(o.Values)
}

// Equal reports whether both signatures carry identical values.
func (s Signature) Equal(o Signature) bool {
	if !s.Compatible(o) || s.ShingleSize != o.ShingleSize {
		return false
	}
	for i := range s.Values {
		if s.Values[i] != o.Values[i] {
			return false
		}
	}
	return true
}

// Jaccard estimates the Jaccard similarity of the two shingle sets as the
// fraction of equal positions. Empty signatures never match: the result is 0.
func Jaccard(a, b Signature) (float64, error) {
	if a.Empty() || b.Empty() {
		return 0, nil
	}
	if !a.Compatible(b) {
		return 0, ErrIncompatible
	}
	equal := 0
	for i := range a.Values {
		if a.Values[i] == b.Values[i] {
			equal++
		}
	}
	return float64(equal) / float64(len(a.Values)), nil
}
