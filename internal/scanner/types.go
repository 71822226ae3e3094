// Package scanner implements the directory walk, archive expansion, bounded
// job scheduler, and batched database sink.
package scanner

import (
	"github.com/dupfind/dupfind/internal/media"
)

// extension sets recognized by the walker, grounded on
// original_source/scanner.cpp's _imageTypes/_videoTypes/_archiveTypes,
// trimmed to formats this repo's decoders (image/jpeg, image/png,
// golang.org/x/image/{bmp,tiff,webp}) actually support.
var (
	imageExts = map[string]bool{
		"jpg": true, "jpeg": true, "jfif": true, "png": true,
		"bmp": true, "tiff": true, "tif": true, "webp": true,
	}
	videoExts = map[string]bool{
		"mp4": true, "wmv": true, "asf": true, "flv": true, "mpg": true,
		"mpeg": true, "mov": true, "webm": true, "m4v": true, "avi": true,
		"qt": true, "mkv": true,
	}
	archiveExts = map[string]bool{"zip": true, "cbz": true}
)

// Classify reports what kind of work item a regular-file path represents.
func Classify(path string) (media.Type, bool) {
	suffix := media.Suffix(path)
	switch {
	case imageExts[suffix]:
		return media.TypeImage, true
	case videoExts[suffix]:
		return media.TypeVideo, true
	default:
		return media.TypeUnknown, false
	}
}

// IsArchive reports whether path's suffix marks it as an archive to expand
// (zip/cbz containers, addressed by the ARCHIVE_PATH:MEMBER_PATH scheme).
func IsArchive(path string) bool {
	return archiveExts[media.Suffix(path)]
}
