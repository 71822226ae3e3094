package index

import (
	"context"
	"encoding/binary"
	"os"
	"sync"

	"github.com/dupfind/dupfind/internal/diskfmt"
	"github.com/dupfind/dupfind/internal/fingerprint"
	"github.com/dupfind/dupfind/internal/media"
	"github.com/dupfind/dupfind/internal/store"
)

// entry64 is the packed (id, hash) representation shared by the DCT index's
// cache file.
type entry64 struct {
	ID   uint32
	Hash uint64
}

// DCTIndex is the DCT-whole-image index: a linear scan over a packed (id,
// u64 hash) array returning all candidates within dctThresh Hamming
// distance.
type DCTIndex struct {
	mu      sync.RWMutex
	entries []entry64
	loaded  bool
}

// NewDCTIndex returns an empty, unloaded DCT index.
func NewDCTIndex() *DCTIndex { return &DCTIndex{} }

func (x *DCTIndex) Kind() media.IndexKind { return media.IndexDCT }

func (x *DCTIndex) CreateTables(ctx context.Context, db *store.DB) error {
	return db.CreateTableIfNotExists(ctx, `CREATE TABLE IF NOT EXISTS hash (
		media_id INTEGER PRIMARY KEY,
		dct_hash INTEGER NOT NULL
	)`)
}

func (x *DCTIndex) AddRecords(ctx context.Context, db *store.DB, batch []*media.Media) error {
	for _, m := range batch {
		if !m.HasDCT() || m.ID == 0 {
			continue
		}
		if _, err := db.Exec(ctx,
			`INSERT OR REPLACE INTO hash (media_id, dct_hash) VALUES (?, ?)`, m.ID, int64(m.DCTHash)); err != nil {
			return err
		}
	}
	return nil
}

func (x *DCTIndex) RemoveRecords(ctx context.Context, db *store.DB, ids []uint32) error {
	for _, id := range ids {
		if _, err := db.Exec(ctx, `DELETE FROM hash WHERE media_id = ?`, id); err != nil {
			return err
		}
	}
	return nil
}

func (x *DCTIndex) Count() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.entries)
}

func (x *DCTIndex) MemoryUsage() int64 {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return int64(len(x.entries)) * 12
}

func (x *DCTIndex) IsLoaded() bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.loaded
}

func (x *DCTIndex) Load(ctx context.Context, db *store.DB, cachePath, dataPath string) error {
	marker := diskfmt.TouchMarker{Path: cachePath + ".touch"}
	if marker.IsFresh(db.Path()) {
		if entries, err := loadDCTCache(dataPath); err == nil {
			x.mu.Lock()
			x.entries = entries
			x.loaded = true
			x.mu.Unlock()
			return nil
		}
		// Corrupt/truncated cache: fall through to SQL rebuild.
	}
	return x.rebuildFromSQL(ctx, db, dataPath, marker)
}

// loadDCTCache reads the raw (id,hash) pairs written by Save. A truncated
// file (length not a multiple of the 12-byte record size) is treated as
// corrupt.
func loadDCTCache(path string) ([]entry64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data)%12 != 0 {
		return nil, errCorruptCache(path)
	}
	n := len(data) / 12
	out := make([]entry64, n)
	for i := 0; i < n; i++ {
		off := i * 12
		out[i] = entry64{
			ID:   binary.LittleEndian.Uint32(data[off : off+4]),
			Hash: binary.LittleEndian.Uint64(data[off+4 : off+12]),
		}
	}
	return out, nil
}

func (x *DCTIndex) rebuildFromSQL(ctx context.Context, db *store.DB, dataPath string, marker diskfmt.TouchMarker) error {
	rows, err := db.QueryRows(ctx, `SELECT media_id, dct_hash FROM hash`)
	if err != nil {
		return err
	}
	defer rows.Close()
	var entries []entry64
	for rows.Next() {
		var e entry64
		var hash int64
		if err := rows.Scan(&e.ID, &hash); err != nil {
			return err
		}
		e.Hash = uint64(hash)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	x.mu.Lock()
	x.entries = entries
	x.loaded = true
	x.mu.Unlock()
	if err := x.Save(dataPath); err == nil {
		_ = marker.Touch()
	}
	return nil
}

func (x *DCTIndex) Save(dataPath string) error {
	x.mu.RLock()
	entries := append([]entry64(nil), x.entries...)
	x.mu.RUnlock()
	return diskfmt.AtomicWriteFile(dataPath, func(f *os.File) error {
		buf := make([]byte, len(entries)*12)
		for i, e := range entries {
			binary.LittleEndian.PutUint32(buf[i*12:i*12+4], e.ID)
			binary.LittleEndian.PutUint64(buf[i*12+4:i*12+12], e.Hash)
		}
		_, err := f.Write(buf)
		return err
	})
}

func (x *DCTIndex) Add(batch []*media.Media) {
	x.mu.Lock()
	defer x.mu.Unlock()
	for _, m := range batch {
		if !m.HasDCT() {
			continue
		}
		x.entries = append(x.entries, entry64{ID: m.ID, Hash: uint64(m.DCTHash)})
	}
	x.loaded = true
}

func (x *DCTIndex) Remove(ids []uint32) {
	idSet := make(map[uint32]bool, len(ids))
	for _, id := range ids {
		idSet[id] = true
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	for i := range x.entries {
		if idSet[x.entries[i].ID] {
			x.entries[i].ID = 0 // tombstone: kept in place, filtered at query time
		}
	}
}

func (x *DCTIndex) Find(needle *media.Media, params Params) ([]Match, error) {
	if !needle.HasDCT() {
		return nil, nil
	}
	thresh := params.DCTThresh
	if thresh <= 0 {
		thresh = DefaultParams().DCTThresh
	}
	x.mu.RLock()
	defer x.mu.RUnlock()
	var out []Match
	for _, e := range x.entries {
		if e.ID == 0 || e.ID == needle.ID {
			continue
		}
		d := fingerprint.HammingDistance(e.Hash, uint64(needle.DCTHash))
		if d <= thresh {
			score := float64(d)
			if e.Hash == uint64(needle.DCTHash) {
				score = 0
			}
			out = append(out, Match{MediaID: e.ID, Score: score})
		}
	}
	return out, nil
}

func (x *DCTIndex) FindIndexData(m *media.Media) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	for _, e := range x.entries {
		if e.ID == m.ID && e.ID != 0 {
			m.DCTHash = int64(e.Hash)
			return true
		}
	}
	return false
}

func (x *DCTIndex) Slice(ids map[uint32]bool) Index {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := &DCTIndex{loaded: x.loaded}
	for _, e := range x.entries {
		if ids[e.ID] {
			out.entries = append(out.entries, e)
		}
	}
	return out
}
