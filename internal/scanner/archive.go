package scanner

import (
	"archive/zip"
	"fmt"
	"io"

	"github.com/dupfind/dupfind/internal/media"
)

// archiveMember is one image found inside a .zip/.cbz container, addressed
// by the virtual ARCHIVE_PATH:MEMBER_PATH scheme.
type archiveMember struct {
	VirtualPath string
	size        int64
}

// listArchiveImages enumerates the image members of a zip/cbz archive
// without decompressing them. No archive library exists anywhere in the
// retrieved pack, so this uses the standard library's archive/zip —
// justified stdlib-only (see DESIGN.md).
func listArchiveImages(archivePath string) ([]archiveMember, error) {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return nil, fmt.Errorf("open archive %s: %w", archivePath, err)
	}
	defer r.Close()

	var members []archiveMember
	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if _, ok := Classify(f.Name); !ok {
			continue
		}
		members = append(members, archiveMember{
			VirtualPath: media.JoinArchivePath(archivePath, f.Name),
			size:        int64(f.UncompressedSize64),
		})
	}
	return members, nil
}

// readArchiveMember decompresses one member of a zip/cbz archive by its
// member path (the part after the ":" in a virtual path).
func readArchiveMember(archivePath, memberPath string) ([]byte, error) {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return nil, fmt.Errorf("open archive %s: %w", archivePath, err)
	}
	defer r.Close()

	for _, f := range r.File {
		if f.Name != memberPath {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open archive member %s: %w", memberPath, err)
		}
		defer rc.Close()
		return io.ReadAll(rc)
	}
	return nil, fmt.Errorf("archive member not found: %s", memberPath)
}
