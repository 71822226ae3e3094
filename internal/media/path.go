package media

import (
	"encoding/hex"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// archiveSuffixes lists the container extensions recognized as archive-path
// boundaries: ARCHIVE_PATH ends in .zip or .cbz (case-insensitive).
var archiveSuffixes = []string{".zip:", ".cbz:"}

// ParentPath returns the directory portion of a path, matching QFileInfo::path().
func ParentPath(path string) string {
	dir := filepath.Dir(path)
	if dir == "." {
		return ""
	}
	return dir
}

// Name returns the final path component including its suffix.
func Name(path string) string {
	return filepath.Base(path)
}

// Suffix returns the extension without the leading dot, lower-cased, e.g.
// "jpg". Returns "" if there is no dot in the base name.
func Suffix(path string) string {
	base := Name(path)
	idx := strings.LastIndex(base, ".")
	if idx < 0 {
		return ""
	}
	return strings.ToLower(base[idx+1:])
}

// CompleteBaseName returns the file name with its final suffix stripped.
func CompleteBaseName(path string) string {
	base := Name(path)
	idx := strings.LastIndex(base, ".")
	if idx < 0 {
		return base
	}
	return base[:idx]
}

// IsArchiveMember reports whether path is a virtual archive-member path.
func IsArchiveMember(path string) bool {
	_, _, ok := SplitArchivePath(path)
	return ok
}

// SplitArchivePath splits a virtual path of the form "ARCHIVE_PATH:MEMBER_PATH"
// on the first case-insensitive ".zip:" or ".cbz:" boundary.
func SplitArchivePath(path string) (archivePath, memberPath string, ok bool) {
	lower := strings.ToLower(path)
	bestIdx := -1
	bestSuffixLen := 0
	for _, suf := range archiveSuffixes {
		if idx := strings.Index(lower, suf); idx >= 0 {
			if bestIdx == -1 || idx < bestIdx {
				bestIdx = idx
				bestSuffixLen = len(suf)
			}
		}
	}
	if bestIdx < 0 {
		return "", "", false
	}
	return path[:bestIdx+bestSuffixLen-1], path[bestIdx+bestSuffixLen:], true
}

// JoinArchivePath builds a virtual archive-member path from an archive path
// and a member path inside it. archivePath must already end in .zip or .cbz.
func JoinArchivePath(archivePath, memberPath string) string {
	return archivePath + ":" + memberPath
}

const qimageScheme = "qimage://"

// NewSyntheticPath mints a fresh "qimage://HEX" path for an in-memory-only
// needle image that was never read from disk.
func NewSyntheticPath() string {
	return qimageScheme + hex.EncodeToString(uuidBytes())
}

func uuidBytes() []byte {
	id := uuid.New()
	return id[:]
}

// IsSyntheticPath reports whether path uses the qimage:// scheme.
func IsSyntheticPath(path string) bool {
	return strings.HasPrefix(path, qimageScheme)
}
