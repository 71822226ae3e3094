// Package lsh implements a locality-sensitive-hashing bucket index over
// 32-byte binary (ORB) descriptors, backing the ORB-features index: a
// single hash table with key_size = log2(rows / descriptorsPerBucket),
// targeting a bucket size around 128 descriptors.
package lsh

import (
	"math/bits"
	"math/rand"
)

const descriptorsPerBucket = 128

// Index buckets 32-byte descriptors by a random-projection key derived
// from a fixed subset of bit positions, approximating LSH over Hamming
// space.
type Index struct {
	keyBits []int // bit positions (0..255) sampled to form the bucket key
	buckets map[uint32][]uint32
	built   int // number of rows folded into buckets so far, for incremental chunking
}

// New builds an LSH index sized for an expected row count, choosing
// key_size = log2(rows / descriptorsPerBucket), with a minimum of 1 bit
// (for inputs of at most descriptorsPerBucket rows) and a maximum of 24
// (so very large inputs cannot produce more than 2^24 buckets).
func New(expectedRows int, seed int64) *Index {
	keySize := bitsForRows(expectedRows)
	rng := rand.New(rand.NewSource(seed))
	bitsUsed := make(map[int]bool)
	keyBits := make([]int, 0, keySize)
	for len(keyBits) < keySize {
		b := rng.Intn(256)
		if !bitsUsed[b] {
			bitsUsed[b] = true
			keyBits = append(keyBits, b)
		}
	}
	return &Index{keyBits: keyBits, buckets: make(map[uint32][]uint32)}
}

func bitsForRows(rows int) int {
	if rows <= descriptorsPerBucket {
		return 1
	}
	n := rows / descriptorsPerBucket
	size := 0
	for n > 1 {
		n >>= 1
		size++
	}
	if size < 1 {
		size = 1
	}
	if size > 24 {
		size = 24
	}
	return size
}

func (idx *Index) key(descriptor []byte) uint32 {
	var key uint32
	for i, bitPos := range idx.keyBits {
		byteIdx := bitPos / 8
		bitIdx := uint(bitPos % 8)
		if byteIdx < len(descriptor) && descriptor[byteIdx]&(1<<bitIdx) != 0 {
			key |= 1 << uint(i)
		}
	}
	return key
}

// AddChunk incrementally inserts rows [startRow, startRow+n) of descriptors,
// a matrix (32 bytes per row) holding every row inserted so far (not just
// the new chunk). Callers build the index in chunks so large batches don't
// require materializing the whole matrix at once. rowIDFor maps a row index
// to its media id; rows for which it returns 0 (tombstoned) are skipped.
func (idx *Index) AddChunk(descriptors []byte, startRow, n int, rowIDFor func(row int) uint32) {
	for r := 0; r < n; r++ {
		row := startRow + r
		d := descriptors[row*32 : row*32+32]
		id := rowIDFor(row)
		if id == 0 {
			continue
		}
		k := idx.key(d)
		idx.buckets[k] = append(idx.buckets[k], uint32(row))
	}
	idx.built += n
}

// Hit is one kNN match: the matched row index and its Hamming distance.
type Hit struct {
	Row      uint32
	Distance int
}

// KNN returns up to k descriptors in the same bucket as needle with
// Hamming distance < maxDistance, sorted ascending by distance.
func (idx *Index) KNN(needle []byte, descriptors []byte, k, maxDistance int) []Hit {
	bucket := idx.buckets[idx.key(needle)]
	hits := make([]Hit, 0, len(bucket))
	for _, row := range bucket {
		d := descriptors[row*32 : row*32+32]
		dist := hamming(needle, d)
		if dist < maxDistance {
			hits = append(hits, Hit{Row: row, Distance: dist})
		}
	}
	sortHitsByDistance(hits)
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

func hamming(a, b []byte) int {
	dist := 0
	for i := range a {
		dist += bits.OnesCount8(a[i] ^ b[i])
	}
	return dist
}

func sortHitsByDistance(hits []Hit) {
	// Small k (<=10 after truncation upstream uses full bucket first);
	// insertion sort keeps this allocation-free for the common case.
	for i := 1; i < len(hits); i++ {
		for j := i; j > 0 && hits[j].Distance < hits[j-1].Distance; j-- {
			hits[j], hits[j-1] = hits[j-1], hits[j]
		}
	}
}
