package index

import (
	"context"
	"sort"
	"sync"

	"github.com/dupfind/dupfind/internal/diskfmt"
	"github.com/dupfind/dupfind/internal/index/lsh"
	"github.com/dupfind/dupfind/internal/media"
	"github.com/dupfind/dupfind/internal/store"
)

// ORBIndex is the ORB-features index: an LSH bucket index over a single
// concatenated matrix of 32-byte rotated-BRIEF descriptors, one row per
// keypoint, with an id<->offset map recording which rows belong to which
// media.
type ORBIndex struct {
	mu sync.RWMutex

	descriptors []byte   // concatenated rows, 32 bytes each
	rowID       []uint32 // row -> media id, 0 for tombstoned rows
	idStart     map[uint32]int
	idCount     map[uint32]int

	lsh    *lsh.Index
	loaded bool
}

func NewORBIndex() *ORBIndex {
	return &ORBIndex{idStart: make(map[uint32]int), idCount: make(map[uint32]int)}
}

func (x *ORBIndex) Kind() media.IndexKind { return media.IndexORB }

func (x *ORBIndex) CreateTables(ctx context.Context, db *store.DB) error {
	return db.CreateTableIfNotExists(ctx, `CREATE TABLE IF NOT EXISTS matrix (
		media_id INTEGER PRIMARY KEY,
		rows INTEGER NOT NULL,
		descriptors BLOB NOT NULL
	)`)
}

func (x *ORBIndex) AddRecords(ctx context.Context, db *store.DB, batch []*media.Media) error {
	for _, m := range batch {
		if !m.HasORB() || m.ID == 0 {
			continue
		}
		if _, err := db.Exec(ctx,
			`INSERT OR REPLACE INTO matrix (media_id, rows, descriptors) VALUES (?, ?, ?)`,
			m.ID, m.DescriptorRows, m.Descriptors); err != nil {
			return err
		}
	}
	return nil
}

func (x *ORBIndex) RemoveRecords(ctx context.Context, db *store.DB, ids []uint32) error {
	for _, id := range ids {
		if _, err := db.Exec(ctx, `DELETE FROM matrix WHERE media_id = ?`, id); err != nil {
			return err
		}
	}
	return nil
}

func (x *ORBIndex) Count() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.rowID)
}

func (x *ORBIndex) MemoryUsage() int64 {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return int64(len(x.descriptors)) + int64(len(x.rowID))*4
}

func (x *ORBIndex) IsLoaded() bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.loaded
}

func (x *ORBIndex) Load(ctx context.Context, db *store.DB, cachePath, dataPath string) error {
	marker := diskfmt.TouchMarker{Path: cachePath + ".touch"}
	mapPathID, mapPathOffset := dataPath+".idmap", dataPath+".offmap"
	if marker.IsFresh(db.Path()) {
		if ok := x.loadCache(dataPath, mapPathID, mapPathOffset); ok {
			return nil
		}
		// Corrupt/truncated cache: fall through to SQL rebuild.
	}
	return x.rebuildFromSQL(ctx, db, dataPath, mapPathID, mapPathOffset, marker)
}

func (x *ORBIndex) loadCache(dataPath, mapPathID, mapPathOffset string) bool {
	m, err := diskfmt.ReadMatrix(dataPath)
	if err != nil {
		return false
	}
	idToOffset, numDescriptors, err := diskfmt.ReadIDToOffsetMap(mapPathID)
	if err != nil {
		return false
	}
	offsetToID, err := diskfmt.ReadOffsetToIDMap(mapPathOffset, numDescriptors)
	if err != nil {
		return false
	}
	rowID := make([]uint32, m.Rows)
	for off, id := range offsetToID {
		if int(off) < len(rowID) {
			rowID[off] = id
		}
	}
	idStart := make(map[uint32]int, len(idToOffset))
	for id, off := range idToOffset {
		idStart[id] = int(off)
	}
	x.setState(m.Data, rowID, idStart)
	return true
}

func (x *ORBIndex) rebuildFromSQL(ctx context.Context, db *store.DB, dataPath, mapPathID, mapPathOffset string, marker diskfmt.TouchMarker) error {
	rows, err := db.QueryRows(ctx, `SELECT media_id, rows, descriptors FROM matrix`)
	if err != nil {
		return err
	}
	defer rows.Close()

	var descriptors []byte
	var rowID []uint32
	idStart := make(map[uint32]int)
	for rows.Next() {
		var id uint32
		var n int
		var blob []byte
		if err := rows.Scan(&id, &n, &blob); err != nil {
			return err
		}
		idStart[id] = len(rowID)
		descriptors = append(descriptors, blob...)
		for i := 0; i < n; i++ {
			rowID = append(rowID, id)
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	x.setState(descriptors, rowID, idStart)
	if err := x.Save(dataPath); err == nil {
		_ = marker.Touch()
	}
	return nil
}

func (x *ORBIndex) setState(descriptors []byte, rowID []uint32, idStart map[uint32]int) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.descriptors = descriptors
	x.rowID = rowID
	x.idStart = idStart
	x.idCount = make(map[uint32]int, len(idStart))
	for _, id := range rowID {
		if id != 0 {
			x.idCount[id]++
		}
	}
	x.lsh = lsh.New(len(rowID), 1) // seed is fixed: bucket assignment need not vary run to run
	x.lsh.AddChunk(x.descriptors, 0, len(rowID), func(row int) uint32 { return rowID[row] })
	x.loaded = true
}

func (x *ORBIndex) Save(dataPath string) error {
	x.mu.RLock()
	descriptors := append([]byte(nil), x.descriptors...)
	rowID := append([]uint32(nil), x.rowID...)
	idStart := make(map[uint32]int, len(x.idStart))
	for k, v := range x.idStart {
		idStart[k] = v
	}
	x.mu.RUnlock()

	rows := len(rowID)
	m := diskfmt.Matrix{Rows: int32(rows), Cols: 32, Type: 0, Stride: 32, Data: descriptors}
	if err := diskfmt.WriteMatrix(dataPath, m); err != nil {
		return err
	}
	idToOffset := make(map[uint32]uint32, len(idStart))
	for id, off := range idStart {
		idToOffset[id] = uint32(off)
	}
	offsetToID := make(map[uint32]uint32, rows)
	for row, id := range rowID {
		if id != 0 {
			offsetToID[uint32(row)] = id
		}
	}
	if err := diskfmt.WriteIDToOffsetMap(dataPath+".idmap", idToOffset, uint32(rows)); err != nil {
		return err
	}
	return diskfmt.WriteOffsetToIDMap(dataPath+".offmap", offsetToID, uint32(rows))
}

func (x *ORBIndex) Add(batch []*media.Media) {
	x.mu.Lock()
	defer x.mu.Unlock()
	startRow := len(x.rowID)
	for _, m := range batch {
		if !m.HasORB() {
			continue
		}
		x.idStart[m.ID] = len(x.rowID)
		x.idCount[m.ID] = m.DescriptorRows
		x.descriptors = append(x.descriptors, m.Descriptors...)
		for i := 0; i < m.DescriptorRows; i++ {
			x.rowID = append(x.rowID, m.ID)
		}
	}
	n := len(x.rowID) - startRow
	if n > 0 {
		if x.lsh == nil {
			x.lsh = lsh.New(len(x.rowID), 1)
		}
		x.lsh.AddChunk(x.descriptors, startRow, n, func(row int) uint32 { return x.rowID[row] })
	}
	x.loaded = true
}

func (x *ORBIndex) Remove(ids []uint32) {
	idSet := make(map[uint32]bool, len(ids))
	for _, id := range ids {
		idSet[id] = true
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	for i, id := range x.rowID {
		if idSet[id] {
			x.rowID[i] = 0
		}
	}
	for _, id := range ids {
		delete(x.idStart, id)
		delete(x.idCount, id)
	}
}

const orbPerDescriptorResultCap = 10

// Find implements ORB matching: for each needle descriptor row, kNN (k=10)
// within cvThresh Hamming distance; accumulate per-media hit distances;
// score = median(hit distances) * 1000 / hit_count, mirroring the fdct
// scoring convention.
func (x *ORBIndex) Find(needle *media.Media, params Params) ([]Match, error) {
	if !needle.HasORB() {
		return nil, nil
	}
	thresh := params.CVThresh
	if thresh <= 0 {
		thresh = DefaultParams().CVThresh
	}

	x.mu.RLock()
	defer x.mu.RUnlock()
	if x.lsh == nil {
		return nil, nil
	}

	hitsByMedia := make(map[uint32][]int)
	for r := 0; r < needle.DescriptorRows; r++ {
		row := needle.Descriptors[r*32 : r*32+32]
		hits := x.lsh.KNN(row, x.descriptors, orbPerDescriptorResultCap, thresh)
		for _, hit := range hits {
			id := x.rowID[hit.Row]
			if id == 0 || id == needle.ID {
				continue
			}
			hitsByMedia[id] = append(hitsByMedia[id], hit.Distance)
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

func (x *ORBIndex) FindIndexData(m *media.Media) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	start, ok := x.idStart[m.ID]
	count := x.idCount[m.ID]
	if !ok || count == 0 {
		return false
	}
	m.Descriptors = append([]byte(nil), x.descriptors[start*32:(start+count)*32]...)
	m.DescriptorRows = count
	return true
}

func (x *ORBIndex) Slice(ids map[uint32]bool) Index {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := NewORBIndex()
	var descriptors []byte
	var rowID []uint32
	idStart := make(map[uint32]int)
	for id, start := range x.idStart {
		if !ids[id] {
			continue
		}
		count := x.idCount[id]
		idStart[id] = len(rowID)
		descriptors = append(descriptors, x.descriptors[start*32:(start+count)*32]...)
		for i := 0; i < count; i++ {
			rowID = append(rowID, id)
		}
	}
	out.setState(descriptors, rowID, idStart)
	return out
}
