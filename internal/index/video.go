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

// VideoIndex is the per-frame video hash index: an aggregate Hamming tree
// over every media's per-frame DCT-64 hashes, with tree payloads pointing
// into a side table of (media id, frame number) so Find can reconstruct
// the matched frame alignment as a MatchRange.
type VideoIndex struct {
	mu sync.RWMutex

	tree *htree.Tree

	entryMediaID []uint32
	entryFrame   []uint16
	loaded       bool
}

func NewVideoIndex() *VideoIndex {
	return &VideoIndex{tree: htree.New(nil)}
}

func (x *VideoIndex) Kind() media.IndexKind { return media.IndexVideo }

func (x *VideoIndex) CreateTables(ctx context.Context, db *store.DB) error {
	return db.CreateTableIfNotExists(ctx, `CREATE TABLE IF NOT EXISTS video_index (
		media_id INTEGER PRIMARY KEY,
		frames BLOB NOT NULL,
		hashes BLOB NOT NULL
	)`)
}

func (x *VideoIndex) AddRecords(ctx context.Context, db *store.DB, batch []*media.Media) error {
	for _, m := range batch {
		if !m.HasVideoIndex() || m.ID == 0 {
			continue
		}
		frames := make([]byte, len(m.VideoIndex.Frames)*2)
		for i, fr := range m.VideoIndex.Frames {
			binary.LittleEndian.PutUint16(frames[i*2:i*2+2], fr)
		}
		hashes := make([]byte, len(m.VideoIndex.Hashes)*8)
		for i, h := range m.VideoIndex.Hashes {
			binary.LittleEndian.PutUint64(hashes[i*8:i*8+8], h)
		}
		if _, err := db.Exec(ctx,
			`INSERT OR REPLACE INTO video_index (media_id, frames, hashes) VALUES (?, ?, ?)`,
			m.ID, frames, hashes); err != nil {
			return err
		}
	}
	return nil
}

func (x *VideoIndex) RemoveRecords(ctx context.Context, db *store.DB, ids []uint32) error {
	for _, id := range ids {
		if _, err := db.Exec(ctx, `DELETE FROM video_index WHERE media_id = ?`, id); err != nil {
			return err
		}
	}
	return nil
}

func (x *VideoIndex) Count() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.tree.Len()
}

func (x *VideoIndex) MemoryUsage() int64 {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return int64(x.tree.Len()) * 14
}

func (x *VideoIndex) IsLoaded() bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.loaded
}

func (x *VideoIndex) Load(ctx context.Context, db *store.DB, cachePath, dataPath string) error {
	marker := diskfmt.TouchMarker{Path: cachePath + ".touch"}
	if marker.IsFresh(db.Path()) {
		if ids, frames, hashes, err := loadVideoCache(dataPath); err == nil {
			x.setEntries(ids, frames, hashes)
			return nil
		}
		// Corrupt/truncated cache: fall through to SQL rebuild.
	}
	rows, err := db.QueryRows(ctx, `SELECT media_id, frames, hashes FROM video_index`)
	if err != nil {
		return err
	}
	defer rows.Close()
	var ids []uint32
	var frames []uint16
	var hashes []uint64
	for rows.Next() {
		var id uint32
		var frameBlob, hashBlob []byte
		if err := rows.Scan(&id, &frameBlob, &hashBlob); err != nil {
			return err
		}
		n := len(frameBlob) / 2
		for i := 0; i < n; i++ {
			ids = append(ids, id)
			frames = append(frames, binary.LittleEndian.Uint16(frameBlob[i*2:i*2+2]))
			hashes = append(hashes, binary.LittleEndian.Uint64(hashBlob[i*8:i*8+8]))
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	x.setEntries(ids, frames, hashes)
	if err := x.Save(dataPath); err == nil {
		_ = marker.Touch()
	}
	return nil
}

func (x *VideoIndex) setEntries(ids []uint32, frames []uint16, hashes []uint64) {
	entries := make([]htree.Entry, len(ids))
	for i := range ids {
		entries[i] = htree.Entry{Value: hashes[i], Payload: uint32(i)}
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	x.tree = htree.New(entries)
	x.entryMediaID = ids
	x.entryFrame = frames
	x.loaded = true
}

func (x *VideoIndex) Save(dataPath string) error {
	x.mu.RLock()
	ids := append([]uint32(nil), x.entryMediaID...)
	frames := append([]uint16(nil), x.entryFrame...)
	hits := x.tree.SearchRadius(0, 64)
	hashes := make([]uint64, len(ids))
	for _, h := range hits {
		if int(h.Payload) < len(hashes) {
			hashes[h.Payload] = h.Value
		}
	}
	x.mu.RUnlock()
	return diskfmt.AtomicWriteFile(dataPath, func(f *os.File) error {
		buf := make([]byte, len(ids)*14)
		for i := range ids {
			off := i * 14
			binary.LittleEndian.PutUint32(buf[off:off+4], ids[i])
			binary.LittleEndian.PutUint16(buf[off+4:off+6], frames[i])
			binary.LittleEndian.PutUint64(buf[off+6:off+14], hashes[i])
		}
		_, err := f.Write(buf)
		return err
	})
}

func loadVideoCache(path string) ([]uint32, []uint16, []uint64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, nil, err
	}
	if len(data)%14 != 0 {
		return nil, nil, nil, errCorruptCache(path)
	}
	n := len(data) / 14
	ids := make([]uint32, n)
	frames := make([]uint16, n)
	hashes := make([]uint64, n)
	for i := 0; i < n; i++ {
		off := i * 14
		ids[i] = binary.LittleEndian.Uint32(data[off : off+4])
		frames[i] = binary.LittleEndian.Uint16(data[off+4 : off+6])
		hashes[i] = binary.LittleEndian.Uint64(data[off+6 : off+14])
	}
	return ids, frames, hashes, nil
}

func (x *VideoIndex) Add(batch []*media.Media) {
	var entries []htree.Entry
	x.mu.Lock()
	defer x.mu.Unlock()
	for _, m := range batch {
		if !m.HasVideoIndex() {
			continue
		}
		for i, h := range m.VideoIndex.Hashes {
			idx := uint32(len(x.entryMediaID))
			x.entryMediaID = append(x.entryMediaID, m.ID)
			x.entryFrame = append(x.entryFrame, m.VideoIndex.Frames[i])
			entries = append(entries, htree.Entry{Value: h, Payload: idx})
		}
	}
	if len(entries) > 0 {
		x.tree.Insert(entries)
	}
	x.loaded = true
}

func (x *VideoIndex) Remove(ids []uint32) {
	idSet := make(map[uint32]bool, len(ids))
	for _, id := range ids {
		idSet[id] = true
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	for i, id := range x.entryMediaID {
		if idSet[id] {
			x.entryMediaID[i] = 0
		}
	}
}

// Find implements video matching: per needle frame, search the aggregate
// tree within dctThresh; bucket hits by (candidate media, frame offset) to
// find the alignment with the most matched frames; report the aligned
// frame span as MatchRange; accept candidates meeting minFramesMatched or
// minFramesNear (percent of needle frames).
func (x *VideoIndex) Find(needle *media.Media, params Params) ([]Match, error) {
	if !needle.HasVideoIndex() {
		return nil, nil
	}
	thresh := params.DCTThresh
	if thresh <= 0 {
		thresh = DefaultParams().DCTThresh
	}
	minMatched := params.MinFramesMatched
	if minMatched <= 0 {
		minMatched = DefaultParams().MinFramesMatched
	}
	minNear := params.MinFramesNear
	if minNear <= 0 {
		minNear = DefaultParams().MinFramesNear
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	type alignment struct {
		needleFrames map[int]int // needle hash index -> candidate frame number
	}
	byCandidateOffset := make(map[uint32]map[int]*alignment)

	for i, h := range needle.VideoIndex.Hashes {
		hits := x.tree.SearchRadius(h, thresh)
		for _, hit := range hits {
			candID := x.entryMediaID[hit.Payload]
			if candID == 0 || candID == needle.ID {
				continue
			}
			candFrame := int(x.entryFrame[hit.Payload])
			offset := candFrame - int(needle.VideoIndex.Frames[i])
			offsets, ok := byCandidateOffset[candID]
			if !ok {
				offsets = make(map[int]*alignment)
				byCandidateOffset[candID] = offsets
			}
			a, ok := offsets[offset]
			if !ok {
				a = &alignment{needleFrames: make(map[int]int)}
				offsets[offset] = a
			}
			if _, seen := a.needleFrames[i]; !seen {
				a.needleFrames[i] = candFrame
			}
		}
	}

	totalNeedleFrames := len(needle.VideoIndex.Hashes)
	var out []Match
	for candID, offsets := range byCandidateOffset {
		var bestAlign *alignment
		for _, a := range offsets {
			if bestAlign == nil || len(a.needleFrames) > len(bestAlign.needleFrames) {
				bestAlign = a
			}
		}
		matched := len(bestAlign.needleFrames)
		percent := float64(matched) / float64(totalNeedleFrames) * 100
		if matched < minMatched && percent < minNear {
			continue
		}

		srcIn, dstIn, length := contiguousRun(bestAlign.needleFrames)
		score := 100 - percent
		out = append(out, Match{
			MediaID: candID,
			Score:   score,
			MatchRange: &media.MatchRange{
				SrcIn: int(needle.VideoIndex.Frames[srcIn]),
				DstIn: dstIn,
				Len:   length,
			},
		})
	}
	return out, nil
}

// contiguousRun finds the longest run of consecutive needle hash indices
// present in matched (as keys), and returns its start as a needle hash index
// and as the candidate frame number matched to it, plus its length.
func contiguousRun(matched map[int]int) (srcIn, dstIn, length int) {
	keys := make([]int, 0, len(matched))
	for k := range matched {
		keys = append(keys, k)
	}
	sort.Ints(keys)

	bestStart, bestLen := keys[0], 1
	curStart, curLen := keys[0], 1
	for i := 1; i < len(keys); i++ {
		if keys[i] == keys[i-1]+1 {
			curLen++
		} else {
			if curLen > bestLen {
				bestStart, bestLen = curStart, curLen
			}
			curStart, curLen = keys[i], 1
		}
	}
	if curLen > bestLen {
		bestStart, bestLen = curStart, curLen
	}
	return bestStart, matched[bestStart], bestLen
}

func (x *VideoIndex) FindIndexData(m *media.Media) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	var frames []uint16
	var hashes []uint64
	hits := x.tree.SearchRadius(0, 64)
	sort.Slice(hits, func(i, j int) bool { return hits[i].Payload < hits[j].Payload })
	for _, h := range hits {
		if x.entryMediaID[h.Payload] == m.ID {
			frames = append(frames, x.entryFrame[h.Payload])
			hashes = append(hashes, h.Value)
		}
	}
	if len(frames) == 0 {
		return false
	}
	m.VideoIndex = &media.VideoIndex{Frames: frames, Hashes: hashes}
	return true
}

func (x *VideoIndex) Slice(ids map[uint32]bool) Index {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := NewVideoIndex()
	var outIDs []uint32
	var outFrames []uint16
	var outHashes []uint64
	hits := x.tree.SearchRadius(0, 64)
	for _, h := range hits {
		id := x.entryMediaID[h.Payload]
		if !ids[id] {
			continue
		}
		outIDs = append(outIDs, id)
		outFrames = append(outFrames, x.entryFrame[h.Payload])
		outHashes = append(outHashes, h.Value)
	}
	out.setEntries(outIDs, outFrames, outHashes)
	return out
}
