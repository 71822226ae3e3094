package diskfmt

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/dupfind/dupfind/internal/media"
)

// vdxMagicV2 flags a newer, self-describing variant of the .vdx format.
// Version 1 files have no magic: they start directly with a u16 count.
// ReadVideoIndex recognises v2 by the first three bytes "VDX", which a v1
// file can also start with (count 0x4456 followed by a first frame whose
// low byte is 'X'); such a v1 file is misread as v2.
var vdxMagicV2 = [4]byte{'V', 'D', 'X', 2}

// WriteVideoIndex atomically writes v in the version-1 .vdx format: u16
// count, then count u16 frame numbers, then count u64 hashes.
func WriteVideoIndex(path string, v *media.VideoIndex) error {
	if len(v.Frames) != len(v.Hashes) {
		return fmt.Errorf("vdx: frames/hashes length mismatch: %d vs %d", len(v.Frames), len(v.Hashes))
	}
	return AtomicWriteFile(path, func(f *os.File) error {
		count := uint16(len(v.Frames))
		buf := make([]byte, 2+int(count)*2+int(count)*8)
		binary.LittleEndian.PutUint16(buf[0:2], count)
		off := 2
		for _, fr := range v.Frames {
			binary.LittleEndian.PutUint16(buf[off:off+2], fr)
			off += 2
		}
		for _, h := range v.Hashes {
			binary.LittleEndian.PutUint64(buf[off:off+8], h)
			off += 8
		}
		_, err := f.Write(buf)
		return err
	})
}

// ReadVideoIndex reads a .vdx file. Files shorter than their declared
// length are treated as empty rather than erroring, and get regenerated on
// the next indexing pass.
func ReadVideoIndex(path string) (*media.VideoIndex, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) >= 4 && data[0] == vdxMagicV2[0] && data[1] == vdxMagicV2[1] && data[2] == vdxMagicV2[2] {
		return readVideoIndexV2(data[4:])
	}
	return readVideoIndexV1(data), nil
}

func readVideoIndexV1(data []byte) *media.VideoIndex {
	if len(data) < 2 {
		return &media.VideoIndex{}
	}
	count := int(binary.LittleEndian.Uint16(data[0:2]))
	framesEnd := 2 + count*2
	hashesEnd := framesEnd + count*8
	if len(data) < hashesEnd {
		return &media.VideoIndex{}
	}
	idx := &media.VideoIndex{
		Frames: make([]uint16, count),
		Hashes: make([]uint64, count),
	}
	for i := 0; i < count; i++ {
		idx.Frames[i] = binary.LittleEndian.Uint16(data[2+i*2 : 4+i*2])
	}
	for i := 0; i < count; i++ {
		off := framesEnd + i*8
		idx.Hashes[i] = binary.LittleEndian.Uint64(data[off : off+8])
	}
	return idx
}

// readVideoIndexV2 is a placeholder for a future format revision; this repo
// only ever writes v1, but a reader is provided so a foreign v2 producer's
// files don't crash the loader. It uses the same layout as v1 after the
// magic, keeping the decoder simple while still being self-describing.
func readVideoIndexV2(body []byte) (*media.VideoIndex, error) {
	return readVideoIndexV1(body), nil
}
