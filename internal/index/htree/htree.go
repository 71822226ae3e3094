// Package htree implements a Hamming-tree metric index over 64-bit hashes:
// a binary tree partitioning hash space by a pivot (the first entry of each
// node's set) and median distance, supporting epsilon-radius search and k-NN queries by
// Hamming distance. It backs both the DCT-features index and the
// aggregate per-frame video index.
package htree

import (
	"math/bits"
	"sort"
)

// Entry is one (value, payload) pair stored in the tree; payload is
// typically a media id or a (mediaID, frameNumber) composite encoded by
// the caller.
type Entry struct {
	Value   uint64
	Payload uint32
}

// Hit is a query result: the matched entry's payload and its Hamming
// distance from the query value.
type Hit struct {
	Payload  uint32
	Value    uint64
	Distance int
}

// Tree is a static Hamming-tree built from a batch of entries. It is
// rebuilt wholesale on Insert rather than extended incrementally, which is
// simplest and correct; incremental extension is an optimization this repo
// does not need at the target scale.
type Tree struct {
	entries []Entry
	root    *node
}

type node struct {
	pivot       uint64
	radius      int
	left, right *node
	leaf        []Entry // populated only at leaves
}

const leafSize = 32

// New builds a Hamming tree from entries (which may be empty).
func New(entries []Entry) *Tree {
	t := &Tree{entries: append([]Entry(nil), entries...)}
	t.root = build(t.entries)
	return t
}

// Insert rebuilds the tree with additional entries appended. Tombstoned
// entries (payload == 0) are kept in the backing slice but filtered out of
// query results by the caller's media lookup, so insert does not need to
// compact.
func (t *Tree) Insert(entries []Entry) {
	t.entries = append(t.entries, entries...)
	t.root = build(t.entries)
}

// Len returns the number of entries, including tombstones.
func (t *Tree) Len() int { return len(t.entries) }

func build(entries []Entry) *node {
	if len(entries) <= leafSize {
		return &node{leaf: entries}
	}
	pivot := entries[0].Value
	dists := make([]int, len(entries))
	for i, e := range entries {
		dists[i] = bits.OnesCount64(e.Value ^ pivot)
	}
	sorted := append([]int(nil), dists...)
	sort.Ints(sorted)
	median := sorted[len(sorted)/2]

	var left, right []Entry
	for i, e := range entries {
		if dists[i] <= median {
			left = append(left, e)
		} else {
			right = append(right, e)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		// Degenerate split (all entries equidistant); store as a leaf to
		// guarantee termination.
		return &node{leaf: entries}
	}
	return &node{pivot: pivot, radius: median, left: build(left), right: build(right)}
}

// SearchRadius returns every entry within Hamming distance radius of
// query.
func (t *Tree) SearchRadius(query uint64, radius int) []Hit {
	var out []Hit
	searchRadius(t.root, query, radius, &out)
	return out
}

func searchRadius(n *node, query uint64, radius int, out *[]Hit) {
	if n == nil {
		return
	}
	if n.leaf != nil {
		for _, e := range n.leaf {
			d := bits.OnesCount64(e.Value ^ query)
			if d <= radius {
				*out = append(*out, Hit{Payload: e.Payload, Value: e.Value, Distance: d})
			}
		}
		return
	}
	dq := bits.OnesCount64(query ^ n.pivot)
	// Triangle inequality pruning: only descend into a branch that could
	// contain a point within `radius` of query.
	if dq-radius <= n.radius {
		searchRadius(n.left, query, radius, out)
	}
	if dq+radius > n.radius {
		searchRadius(n.right, query, radius, out)
	}
}

// KNN returns up to k nearest entries to query sorted by ascending
// distance, considering only entries within maxRadius.
func (t *Tree) KNN(query uint64, k int, maxRadius int) []Hit {
	hits := t.SearchRadius(query, maxRadius)
	sort.Slice(hits, func(i, j int) bool { return hits[i].Distance < hits[j].Distance })
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits
}
