package diskfmt

import (
	"encoding/binary"
	"math"
	"os"
)

// recordSize is the size in bytes of one (u32, u32) record in a .map file.
const recordSize = 8

// IDMap is the pair of sentinel-terminated maps this package persists:
// id->offset and offset->id, each a concatenation of raw (u32, u32) records
// with no header, terminated by the sentinels (UINT32_MAX, numDescriptors)
// and (numDescriptors, 0) respectively.
type IDMap struct {
	IDToOffset map[uint32]uint32
	OffsetToID map[uint32]uint32
}

// NewIDMap returns an empty IDMap.
func NewIDMap() *IDMap {
	return &IDMap{IDToOffset: make(map[uint32]uint32), OffsetToID: make(map[uint32]uint32)}
}

// WriteIDToOffsetMap atomically writes the id->offset map, sentinel
// terminated with (UINT32_MAX, numDescriptors).
func WriteIDToOffsetMap(path string, m map[uint32]uint32, numDescriptors uint32) error {
	return AtomicWriteFile(path, func(f *os.File) error {
		buf := make([]byte, 0, (len(m)+1)*recordSize)
		for id, off := range m {
			buf = appendRecord(buf, id, off)
		}
		buf = appendRecord(buf, math.MaxUint32, numDescriptors)
		_, err := f.Write(buf)
		return err
	})
}

// WriteOffsetToIDMap atomically writes the offset->id map, sentinel
// terminated with (numDescriptors, 0).
func WriteOffsetToIDMap(path string, m map[uint32]uint32, numDescriptors uint32) error {
	return AtomicWriteFile(path, func(f *os.File) error {
		buf := make([]byte, 0, (len(m)+1)*recordSize)
		for off, id := range m {
			buf = appendRecord(buf, off, id)
		}
		buf = appendRecord(buf, numDescriptors, 0)
		_, err := f.Write(buf)
		return err
	})
}

func appendRecord(buf []byte, a, b uint32) []byte {
	var rec [recordSize]byte
	binary.LittleEndian.PutUint32(rec[0:4], a)
	binary.LittleEndian.PutUint32(rec[4:8], b)
	return append(buf, rec[:]...)
}

// ReadMap reads a sentinel-terminated (u32,u32) record file, with its size
// inferred from the file length. It returns all records including the
// trailing sentinel; callers that need just the live entries should use
// ReadIDToOffsetMap/ReadOffsetToIDMap below.
func ReadMap(path string) ([][2]uint32, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	n := len(data) / recordSize
	out := make([][2]uint32, 0, n)
	for i := 0; i < n; i++ {
		off := i * recordSize
		a := binary.LittleEndian.Uint32(data[off : off+4])
		b := binary.LittleEndian.Uint32(data[off+4 : off+8])
		out = append(out, [2]uint32{a, b})
	}
	return out, nil
}

// ReadIDToOffsetMap reads path and returns the live id->offset entries
// (everything before the UINT32_MAX sentinel) plus the declared
// numDescriptors from the sentinel record. A truncated/corrupt file (no
// sentinel found) returns an error.
func ReadIDToOffsetMap(path string) (map[uint32]uint32, uint32, error) {
	records, err := ReadMap(path)
	if err != nil {
		return nil, 0, err
	}
	out := make(map[uint32]uint32, len(records))
	for _, r := range records {
		if r[0] == math.MaxUint32 {
			return out, r[1], nil
		}
		out[r[0]] = r[1]
	}
	return nil, 0, errNoSentinel(path)
}

// ReadOffsetToIDMap reads path and returns the live offset->id entries
// (everything before the (numDescriptors, 0) sentinel).
func ReadOffsetToIDMap(path string, numDescriptors uint32) (map[uint32]uint32, error) {
	records, err := ReadMap(path)
	if err != nil {
		return nil, err
	}
	out := make(map[uint32]uint32, len(records))
	for _, r := range records {
		if r[0] == numDescriptors && r[1] == 0 {
			return out, nil
		}
		out[r[0]] = r[1]
	}
	return nil, errNoSentinel(path)
}

type mapFormatError struct{ path string }

func (e mapFormatError) Error() string { return "idmap " + e.path + ": missing sentinel record" }

func errNoSentinel(path string) error { return mapFormatError{path: path} }
