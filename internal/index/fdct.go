package index

import (
	"context"
	"encoding/binary"
	"os"
	"sort"
	"sync"

	"github.com/dupfind/dupfind/internal/diskfmt"
	"github.com/dupfind/dupfind/internal/index/htree"
	"github.com/dupfind/dupfind/internal/media"
	"github.com/dupfind/dupfind/internal/store"
)

// FDCTIndex is the DCT-features index: a Hamming-tree over keypoint hashes.
// Find accumulates per-media hit counts across a needle's keypoint hashes
// and scores each candidate as median(hit distances) * 1000 / hit_count.
type FDCTIndex struct {
	mu     sync.RWMutex
	tree   *htree.Tree
	ids    map[uint32]bool // tracks which media ids have at least one live entry, for Remove/Slice
	loaded bool
}

func NewFDCTIndex() *FDCTIndex {
	return &FDCTIndex{tree: htree.New(nil), ids: make(map[uint32]bool)}
}

func (x *FDCTIndex) Kind() media.IndexKind { return media.IndexFDCT }

func (x *FDCTIndex) CreateTables(ctx context.Context, db *store.DB) error {
	return db.CreateTableIfNotExists(ctx, `CREATE TABLE IF NOT EXISTS kphash (
		media_id INTEGER PRIMARY KEY,
		hashes BLOB NOT NULL
	)`)
}

func (x *FDCTIndex) AddRecords(ctx context.Context, db *store.DB, batch []*media.Media) error {
	for _, m := range batch {
		if len(m.KeypointHashes) == 0 || m.ID == 0 {
			continue
		}
		blob := make([]byte, len(m.KeypointHashes)*8)
		for i, h := range m.KeypointHashes {
			binary.LittleEndian.PutUint64(blob[i*8:i*8+8], h)
		}
		if _, err := db.Exec(ctx,
			`INSERT OR REPLACE INTO kphash (media_id, hashes) VALUES (?, ?)`, m.ID, blob); err != nil {
			return err
		}
	}
	return nil
}

func (x *FDCTIndex) RemoveRecords(ctx context.Context, db *store.DB, ids []uint32) error {
	for _, id := range ids {
		if _, err := db.Exec(ctx, `DELETE FROM kphash WHERE media_id = ?`, id); err != nil {
			return err
		}
	}
	return nil
}

func (x *FDCTIndex) Count() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.tree.Len()
}

func (x *FDCTIndex) MemoryUsage() int64 {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return int64(x.tree.Len()) * 12
}

func (x *FDCTIndex) IsLoaded() bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.loaded
}

func (x *FDCTIndex) Load(ctx context.Context, db *store.DB, cachePath, dataPath string) error {
	marker := diskfmt.TouchMarker{Path: cachePath + ".touch"}
	if marker.IsFresh(db.Path()) {
		if entries, err := loadFDCTCache(dataPath); err == nil {
			x.setEntries(entries)
			return nil
		}
	}
	rows, err := db.QueryRows(ctx, `SELECT media_id, hashes FROM kphash`)
	if err != nil {
		return err
	}
	defer rows.Close()
	var entries []htree.Entry
	for rows.Next() {
		var id uint32
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return err
		}
		for i := 0; i+8 <= len(blob); i += 8 {
			entries = append(entries, htree.Entry{Value: binary.LittleEndian.Uint64(blob[i : i+8]), Payload: id})
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	x.setEntries(entries)
	if err := x.Save(dataPath); err == nil {
		_ = marker.Touch()
	}
	return nil
}

func (x *FDCTIndex) setEntries(entries []htree.Entry) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.tree = htree.New(entries)
	x.ids = make(map[uint32]bool)
	for _, e := range entries {
		if e.Payload != 0 {
			x.ids[e.Payload] = true
		}
	}
	x.loaded = true
}

func (x *FDCTIndex) Save(dataPath string) error {
	x.mu.RLock()
	hits := x.tree.SearchRadius(0, 64) // radius 64 returns every entry regardless of value
	x.mu.RUnlock()
	return diskfmt.AtomicWriteFile(dataPath, func(f *os.File) error {
		buf := make([]byte, len(hits)*12)
		for i, h := range hits {
			binary.LittleEndian.PutUint32(buf[i*12:i*12+4], h.Payload)
			binary.LittleEndian.PutUint64(buf[i*12+4:i*12+12], h.Value)
		}
		_, err := f.Write(buf)
		return err
	})
}

func loadFDCTCache(path string) ([]htree.Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data)%12 != 0 {
		return nil, errCorruptCache(path)
	}
	n := len(data) / 12
	out := make([]htree.Entry, n)
	for i := 0; i < n; i++ {
		off := i * 12
		out[i] = htree.Entry{
			Payload: binary.LittleEndian.Uint32(data[off : off+4]),
			Value:   binary.LittleEndian.Uint64(data[off+4 : off+12]),
		}
	}
	return out, nil
}

func (x *FDCTIndex) Add(batch []*media.Media) {
	var entries []htree.Entry
	for _, m := range batch {
		for _, h := range m.KeypointHashes {
			entries = append(entries, htree.Entry{Value: h, Payload: m.ID})
		}
	}
	if len(entries) == 0 {
		return
	}
	x.mu.Lock()
	x.tree.Insert(entries)
	for _, e := range entries {
		x.ids[e.Payload] = true
	}
	x.loaded = true
	x.mu.Unlock()
}

func (x *FDCTIndex) Remove(ids []uint32) {
	idSet := make(map[uint32]bool, len(ids))
	for _, id := range ids {
		idSet[id] = true
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	all := x.tree.SearchRadius(0, 64)
	rebuilt := make([]htree.Entry, len(all))
	for i, h := range all {
		payload := h.Payload
		if idSet[payload] {
			payload = 0
		}
		rebuilt[i] = htree.Entry{Value: h.Value, Payload: payload}
	}
	x.tree = htree.New(rebuilt)
	for id := range idSet {
		delete(x.ids, id)
	}
}

const fdctPerHashResultCap = 10

// Find scores candidates: for each needle keypoint hash, fetch up to 10
// nearest entries within radius; accumulate per-media hit counts and
// distances; score = median(hit distances) * 1000 / hit_count.
func (x *FDCTIndex) Find(needle *media.Media, params Params) ([]Match, error) {
	if len(needle.KeypointHashes) == 0 {
		return nil, nil
	}
	thresh := params.DCTThresh
	if thresh <= 0 {
		thresh = DefaultParams().DCTThresh
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	hitsByMedia := make(map[uint32][]int)
	for _, h := range needle.KeypointHashes {
		hits := x.tree.KNN(h, fdctPerHashResultCap, thresh)
		for _, hit := range hits {
			if hit.Payload == 0 || hit.Payload == needle.ID {
				continue
			}
			hitsByMedia[hit.Payload] = append(hitsByMedia[hit.Payload], hit.Distance)
		}
	}

	out := make([]Match, 0, len(hitsByMedia))
	for id, dists := range hitsByMedia {
		sort.Ints(dists)
		median := dists[len(dists)/2]
		score := float64(median) * 1000 / float64(len(dists))
		out = append(out, Match{MediaID: id, Score: score})
	}
	return out, nil
}

func (x *FDCTIndex) FindIndexData(m *media.Media) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	hits := x.tree.SearchRadius(0, 64)
	var hashes []uint64
	for _, h := range hits {
		if h.Payload == m.ID && h.Payload != 0 {
			hashes = append(hashes, h.Value)
		}
	}
	if len(hashes) == 0 {
		return false
	}
	m.KeypointHashes = hashes
	return true
}

func (x *FDCTIndex) Slice(ids map[uint32]bool) Index {
	x.mu.RLock()
	defer x.mu.RUnlock()
	var entries []htree.Entry
	for _, h := range x.tree.SearchRadius(0, 64) {
		if ids[h.Payload] {
			entries = append(entries, htree.Entry{Value: h.Value, Payload: h.Payload})
		}
	}
	out := NewFDCTIndex()
	out.setEntries(entries)
	return out
}
