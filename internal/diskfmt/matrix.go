package diskfmt

import (
	"encoding/binary"
	"fmt"
	"os"
)

// MatrixHeaderSize is the 20-byte header of a .mat file:
// { u32 id; i32 rows; i32 cols; i32 type; i32 stride }, little-endian.
const MatrixHeaderSize = 20

// Matrix is an in-memory feature-descriptor matrix cache entry.
type Matrix struct {
	ID     uint32
	Rows   int32
	Cols   int32
	Type   int32
	Stride int32
	Data   []byte // Rows * Stride bytes, row-major
}

// WriteMatrix atomically writes m to path in the .mat format.
func WriteMatrix(path string, m Matrix) error {
	return AtomicWriteFile(path, func(f *os.File) error {
		var hdr [MatrixHeaderSize]byte
		binary.LittleEndian.PutUint32(hdr[0:4], m.ID)
		binary.LittleEndian.PutUint32(hdr[4:8], uint32(m.Rows))
		binary.LittleEndian.PutUint32(hdr[8:12], uint32(m.Cols))
		binary.LittleEndian.PutUint32(hdr[12:16], uint32(m.Type))
		binary.LittleEndian.PutUint32(hdr[16:20], uint32(m.Stride))
		if _, err := f.Write(hdr[:]); err != nil {
			return err
		}
		want := int(m.Rows) * int(m.Stride)
		if len(m.Data) != want {
			return fmt.Errorf("matrix data length %d does not match rows*stride %d", len(m.Data), want)
		}
		_, err := f.Write(m.Data)
		return err
	})
}

// ReadMatrix reads a .mat file. A file shorter than its declared header+data
// length is treated as corrupt/truncated and returns an error so the
// caller can fall back to rebuilding from SQL.
func ReadMatrix(path string) (Matrix, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Matrix{}, err
	}
	if len(data) < MatrixHeaderSize {
		return Matrix{}, fmt.Errorf("matrix file %s too short for header", path)
	}
	m := Matrix{
		ID:     binary.LittleEndian.Uint32(data[0:4]),
		Rows:   int32(binary.LittleEndian.Uint32(data[4:8])),
		Cols:   int32(binary.LittleEndian.Uint32(data[8:12])),
		Type:   int32(binary.LittleEndian.Uint32(data[12:16])),
		Stride: int32(binary.LittleEndian.Uint32(data[16:20])),
	}
	want := int(m.Rows) * int(m.Stride)
	body := data[MatrixHeaderSize:]
	if len(body) < want {
		return Matrix{}, fmt.Errorf("matrix file %s truncated: have %d bytes, want %d", path, len(body), want)
	}
	m.Data = body[:want]
	return m, nil
}
