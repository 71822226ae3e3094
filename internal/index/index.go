// Package index implements the five search indexes behind a single
// interface, each owning its own in-memory structures and SQL schema: no
// storage is shared between implementations.
package index

import (
	"context"

	"github.com/dupfind/dupfind/internal/media"
	"github.com/dupfind/dupfind/internal/store"
)

// Match is one (media_id, score) search result; lower score is better.
type Match struct {
	MediaID    uint32
	Score      float64
	MatchRange *media.MatchRange
}

// Params parameterizes a Find call; not every field is used by every
// index kind.
type Params struct {
	DCTThresh        int     // dct, fdct keypoint radius
	CVThresh         int     // orb descriptor distance threshold
	ColorThresh      float64 // color distance threshold
	MinFramesMatched int     // video
	MinFramesNear    float64 // video, percent [0,100]
	MaxResults       int
}

// DefaultParams returns the tunables this repo uses as its defaults.
func DefaultParams() Params {
	return Params{
		DCTThresh:        5,
		CVThresh:         25,
		ColorThresh:      64,
		MinFramesMatched: 30,
		MinFramesNear:    60,
		MaxResults:       100,
	}
}

// Index is the common contract every search index implements.
type Index interface {
	// CreateTables idempotently creates this index's SQL schema. Fatal on
	// SQL error.
	CreateTables(ctx context.Context, db *store.DB) error

	// AddRecords persists the descriptors of the media in batch that have
	// the needed data. Fatal on SQL error.
	AddRecords(ctx context.Context, db *store.DB, batch []*media.Media) error

	// RemoveRecords deletes rows by id. Fatal on SQL error.
	RemoveRecords(ctx context.Context, db *store.DB, ids []uint32) error

	// Count returns the number of in-memory entries, which may include
	// tombstones.
	Count() int

	// MemoryUsage approximates bytes held in memory.
	MemoryUsage() int64

	// IsLoaded reports whether in-memory structures are built.
	IsLoaded() bool

	// Load populates in-memory state from cache if fresh, else from SQL,
	// rewriting the cache afterward. Fatal on I/O error.
	Load(ctx context.Context, db *store.DB, cachePath, dataPath string) error

	// Save writes in-memory state to the cache file every time it is called;
	// it does not check whether the cache is already fresh.
	Save(cachePath string) error

	// Add merges new entries into in-memory state without touching SQL.
	Add(batch []*media.Media)

	// Remove tombstones ids in-memory (id <- 0) without touching SQL.
	Remove(ids []uint32)

	// Find returns candidate matches for needle under params.
	Find(needle *media.Media, params Params) ([]Match, error)

	// FindIndexData populates missing index-owned fields on m. Returns
	// whether any data was found.
	FindIndexData(m *media.Media) bool

	// Slice returns a new Index restricted to the given id set, for
	// subset searches.
	Slice(ids map[uint32]bool) Index

	// Kind identifies which algorithm this index implements.
	Kind() media.IndexKind
}
