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

// colorEntry is one media's color descriptor, kept alongside its id for the
// linear scan Find performs.
type colorEntry struct {
	ID         uint32
	Descriptor *media.ColorDescriptor
}

// ColorIndex is the color-histogram index: a linear scan, since descriptor
// counts are small (<=32 entries) and there is no natural metric-tree split
// over asymmetric, variable-length descriptors.
type ColorIndex struct {
	mu      sync.RWMutex
	entries []colorEntry
	loaded  bool
}

func NewColorIndex() *ColorIndex { return &ColorIndex{} }

func (x *ColorIndex) Kind() media.IndexKind { return media.IndexColor }

func (x *ColorIndex) CreateTables(ctx context.Context, db *store.DB) error {
	return db.CreateTableIfNotExists(ctx, `CREATE TABLE IF NOT EXISTS color (
		media_id INTEGER PRIMARY KEY,
		descriptor BLOB NOT NULL
	)`)
}

func (x *ColorIndex) AddRecords(ctx context.Context, db *store.DB, batch []*media.Media) error {
	for _, m := range batch {
		if !m.HasColor() || m.ID == 0 {
			continue
		}
		if _, err := db.Exec(ctx,
			`INSERT OR REPLACE INTO color (media_id, descriptor) VALUES (?, ?)`,
			m.ID, encodeColorDescriptor(m.ColorDescriptor)); err != nil {
			return err
		}
	}
	return nil
}

func (x *ColorIndex) RemoveRecords(ctx context.Context, db *store.DB, ids []uint32) error {
	for _, id := range ids {
		if _, err := db.Exec(ctx, `DELETE FROM color WHERE media_id = ?`, id); err != nil {
			return err
		}
	}
	return nil
}

func (x *ColorIndex) Count() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.entries)
}

func (x *ColorIndex) MemoryUsage() int64 {
	x.mu.RLock()
	defer x.mu.RUnlock()
	var n int64
	for _, e := range x.entries {
		n += int64(len(e.Descriptor.Colors))*8 + 4
	}
	return n
}

func (x *ColorIndex) IsLoaded() bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.loaded
}

func (x *ColorIndex) Load(ctx context.Context, db *store.DB, cachePath, dataPath string) error {
	marker := diskfmt.TouchMarker{Path: cachePath + ".touch"}
	if marker.IsFresh(db.Path()) {
		if entries, err := loadColorCache(dataPath); err == nil {
			x.mu.Lock()
			x.entries = entries
			x.loaded = true
			x.mu.Unlock()
			return nil
		}
		// Corrupt/truncated cache: fall through to SQL rebuild.
	}
	rows, err := db.QueryRows(ctx, `SELECT media_id, descriptor FROM color`)
	if err != nil {
		return err
	}
	defer rows.Close()
	var entries []colorEntry
	for rows.Next() {
		var id uint32
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return err
		}
		desc, err := decodeColorDescriptor(blob)
		if err != nil {
			return err
		}
		entries = append(entries, colorEntry{ID: id, Descriptor: desc})
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

// encodeColorDescriptor serializes a ColorDescriptor as a u16 count followed
// by count*(L,U,V,Weight) u16 quadruples, little-endian.
func encodeColorDescriptor(d *media.ColorDescriptor) []byte {
	buf := make([]byte, 2+len(d.Colors)*8)
	binary.LittleEndian.PutUint16(buf[0:2], uint16(len(d.Colors)))
	for i, c := range d.Colors {
		off := 2 + i*8
		binary.LittleEndian.PutUint16(buf[off:off+2], c.L)
		binary.LittleEndian.PutUint16(buf[off+2:off+4], c.U)
		binary.LittleEndian.PutUint16(buf[off+4:off+6], c.V)
		binary.LittleEndian.PutUint16(buf[off+6:off+8], c.Weight)
	}
	return buf
}

func decodeColorDescriptor(blob []byte) (*media.ColorDescriptor, error) {
	if len(blob) < 2 {
		return nil, errCorruptCache("color descriptor blob")
	}
	n := int(binary.LittleEndian.Uint16(blob[0:2]))
	if len(blob) != 2+n*8 {
		return nil, errCorruptCache("color descriptor blob")
	}
	d := &media.ColorDescriptor{Colors: make([]media.ColorEntry, n)}
	for i := 0; i < n; i++ {
		off := 2 + i*8
		d.Colors[i] = media.ColorEntry{
			L:      binary.LittleEndian.Uint16(blob[off : off+2]),
			U:      binary.LittleEndian.Uint16(blob[off+2 : off+4]),
			V:      binary.LittleEndian.Uint16(blob[off+4 : off+6]),
			Weight: binary.LittleEndian.Uint16(blob[off+6 : off+8]),
		}
	}
	return d, nil
}

func loadColorCache(path string) ([]colorEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var entries []colorEntry
	off := 0
	for off < len(data) {
		if off+6 > len(data) {
			return nil, errCorruptCache(path)
		}
		id := binary.LittleEndian.Uint32(data[off : off+4])
		n := int(binary.LittleEndian.Uint16(data[off+4 : off+6]))
		recLen := 6 + n*8
		if off+recLen > len(data) {
			return nil, errCorruptCache(path)
		}
		desc, err := decodeColorDescriptor(data[off+4 : off+recLen])
		if err != nil {
			return nil, err
		}
		entries = append(entries, colorEntry{ID: id, Descriptor: desc})
		off += recLen
	}
	return entries, nil
}

func (x *ColorIndex) Save(dataPath string) error {
	x.mu.RLock()
	entries := append([]colorEntry(nil), x.entries...)
	x.mu.RUnlock()
	return diskfmt.AtomicWriteFile(dataPath, func(f *os.File) error {
		for _, e := range entries {
			var hdr [4]byte
			binary.LittleEndian.PutUint32(hdr[:], e.ID)
			if _, err := f.Write(hdr[:]); err != nil {
				return err
			}
			if _, err := f.Write(encodeColorDescriptor(e.Descriptor)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (x *ColorIndex) Add(batch []*media.Media) {
	x.mu.Lock()
	defer x.mu.Unlock()
	for _, m := range batch {
		if !m.HasColor() {
			continue
		}
		x.entries = append(x.entries, colorEntry{ID: m.ID, Descriptor: m.ColorDescriptor})
	}
	x.loaded = true
}

func (x *ColorIndex) Remove(ids []uint32) {
	idSet := make(map[uint32]bool, len(ids))
	for _, id := range ids {
		idSet[id] = true
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	for i := range x.entries {
		if idSet[x.entries[i].ID] {
			x.entries[i].ID = 0
		}
	}
}

// Find performs a linear scan, keeping candidates where ColorDistance(needle,
// candidate) <= colorThresh.
func (x *ColorIndex) Find(needle *media.Media, params Params) ([]Match, error) {
	if !needle.HasColor() {
		return nil, nil
	}
	thresh := params.ColorThresh
	if thresh <= 0 {
		thresh = DefaultParams().ColorThresh
	}
	x.mu.RLock()
	defer x.mu.RUnlock()
	var out []Match
	for _, e := range x.entries {
		if e.ID == 0 || e.ID == needle.ID {
			continue
		}
		d := fingerprint.ColorDistance(needle.ColorDescriptor, e.Descriptor)
		if d <= thresh {
			out = append(out, Match{MediaID: e.ID, Score: d})
		}
	}
	return out, nil
}

func (x *ColorIndex) FindIndexData(m *media.Media) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	for _, e := range x.entries {
		if e.ID == m.ID && e.ID != 0 {
			m.ColorDescriptor = e.Descriptor
			return true
		}
	}
	return false
}

func (x *ColorIndex) Slice(ids map[uint32]bool) Index {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := &ColorIndex{loaded: x.loaded}
	for _, e := range x.entries {
		if ids[e.ID] {
			out.entries = append(out.entries, e)
		}
	}
	return out
}
