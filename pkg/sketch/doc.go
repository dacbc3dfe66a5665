// Package sketch builds MinHash signatures over character shingles.
//
// A Hasher slides a window of ShingleSize runes over a text (step 1), hashes
// every distinct shingle with xxhash64 truncated to 32 bits, and keeps the
// minimum of NumPerm universal permutations of those hashes. Two texts with
// identical shingle sets produce identical signatures, and the fraction of
// equal positions between two signatures estimates the Jaccard similarity of
// the shingle sets.
//
// Texts shorter than ShingleSize have no shingles. They produce an empty
// signature, which never matches anything:
//
//	h := sketch.NewHasher(256, 4, 1)
//	sig := h.Sketch("hi")
//	sig.Empty() // true
//
// # Serialization
//
// Signatures implement encoding.BinaryMarshaler with an explicit, versioned
// layout (little-endian):
//
//	"MHSG" | version u8 | family u8 | seed u64 | num_perm u32 | shingle_size u16 | num_perm x u32
//
// The family id and seed identify the permutation set, so a signature can be
// decoded and compared by any implementation that reproduces the family.
package sketch
