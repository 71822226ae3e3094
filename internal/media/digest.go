package media

import (
	"crypto/md5"
	"encoding/hex"
	"io"
)

// jpeg marker bytes we care about while locating the canonical digest range.
const (
	markerStart   = 0xFF
	markerSOI     = 0xD8
	markerSOS     = 0xDA // scan start; everything from here on is compressed data
	markerEXIFLo  = 0xE1
	markerEXIFHi  = 0xEF
	markerEOI     = 0xD9
)

// Digest computes a content digest that stays stable across metadata edits:
// for JPEGs, the hex MD5 of the byte stream with EXIF application segments
// (0xFFE1..0xFFEF) removed, starting at the first scan-start marker
// (0xFFDA); for anything else, the hex MD5 of the whole file.
func Digest(r io.Reader, isJPEG bool) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	if !isJPEG {
		sum := md5.Sum(data)
		return hex.EncodeToString(sum[:]), nil
	}
	canonical := canonicalJPEGBytes(data)
	sum := md5.Sum(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// canonicalJPEGBytes strips EXIF (APP1-APP15) segments from a JPEG byte
// stream and returns everything from the first scan-start marker onward,
// so that re-saving EXIF metadata without touching pixels does not change
// the digest.
func canonicalJPEGBytes(data []byte) []byte {
	if len(data) < 4 || data[0] != markerStart || data[1] != markerSOI {
		// Not structurally a JPEG; fall back to whole-file digest semantics.
		return data
	}

	out := make([]byte, 0, len(data))
	i := 2
	sosSeen := false
	for i < len(data) {
		if sosSeen {
			// Past scan-start: copy verbatim, including any later markers,
			// since compressed scan data may legitimately contain 0xFF bytes.
			out = append(out, data[i:]...)
			break
		}
		if data[i] != markerStart {
			// Shouldn't happen in a well-formed stream before SOS; bail safe.
			out = append(out, data[i:]...)
			break
		}
		marker := data[i+1]
		switch {
		case marker == 0x01 || (marker >= 0xD0 && marker <= 0xD9):
			// No-payload markers (TEM, RSTn, SOI/EOI).
			out = append(out, data[i], data[i+1])
			i += 2
			if marker == markerEOI {
				return out
			}
		case marker == markerSOS:
			// The digest range starts here: drop the header segments kept so far.
			out = append(out[:0], data[i], data[i+1])
			i += 2
			sosSeen = true
		default:
			if i+4 > len(data) {
				out = append(out, data[i:]...)
				i = len(data)
				break
			}
			segLen := int(data[i+2])<<8 | int(data[i+3])
			segEnd := i + 2 + segLen
			if segEnd > len(data) {
				segEnd = len(data)
			}
			if marker >= markerEXIFLo && marker <= markerEXIFHi {
				// Drop the whole EXIF/APPn segment.
			} else {
				out = append(out, data[i:segEnd]...)
			}
			i = segEnd
		}
	}
	return out
}

// IsJPEGExtension reports whether a file suffix (without dot) names a JPEG.
func IsJPEGExtension(suffix string) bool {
	switch suffix {
	case "jpg", "jpeg", "jpe", "jfif":
		return true
	default:
		return false
	}
}
