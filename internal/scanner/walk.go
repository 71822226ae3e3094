package scanner

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/dupfind/dupfind/internal/media"
)

// Job is one unit of scan work: a real or archive-virtual path to decode
// and fingerprint.
type Job struct {
	Path string
	Type media.Type
	Size int64
}

// WalkResult is the output of Walk: the image and video work queues.
type WalkResult struct {
	ImageJobs []Job
	VideoJobs []Job
}

// Walk walks root (recursively if params.Recursive), classifying regular
// files into {image, video, archive, ignored} and expanding archives into
// virtual per-member paths. expected is mutated in place: every path Walk
// sees is removed from it, so on return it holds exactly the paths that
// were expected but not found (removed/missing files). A zero
// modifiedSince disables the mtime filter.
func Walk(root string, expected map[string]bool, modifiedSince time.Time, params Params, errs *ErrorMap) (WalkResult, error) {
	var result WalkResult

	walkFn := func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			errs.Add(path, ErrorOpen, err.Error())
			return nil
		}
		if d.IsDir() {
			if !params.Recursive && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 && !params.FollowSymlinks {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			errs.Add(path, ErrorOpen, err.Error())
			return nil
		}
		if info.Size() < params.MinFileSize {
			delete(expected, path)
			errs.Add(path, ErrorTooSmall, "below minimum file size")
			return nil
		}

		switch {
		case IsArchive(path):
			members, err := listArchiveImages(path)
			if err != nil {
				errs.Add(path, ErrorOpen, err.Error())
				return nil
			}
			for _, m := range members {
				wasExpected := expected[m.VirtualPath]
				delete(expected, m.VirtualPath)
				if !shouldEnqueue(wasExpected, modifiedSince, info) {
					continue
				}
				result.ImageJobs = append(result.ImageJobs, Job{Path: m.VirtualPath, Type: media.TypeImage, Size: m.size})
			}
		default:
			wasExpected := expected[path]
			delete(expected, path)
			if !shouldEnqueue(wasExpected, modifiedSince, info) {
				return nil
			}
			typ, ok := Classify(path)
			if !ok {
				errs.Add(path, ErrorUnsupported, "extension not recognized")
				return nil
			}
			job := Job{Path: path, Type: typ, Size: info.Size()}
			if typ == media.TypeVideo {
				result.VideoJobs = append(result.VideoJobs, job)
			} else {
				result.ImageJobs = append(result.ImageJobs, job)
			}
		}
		return nil
	}

	if err := filepath.WalkDir(root, walkFn); err != nil {
		return result, err
	}

	if params.EstimateCost {
		sort.Slice(result.VideoJobs, func(i, j int) bool {
			return result.VideoJobs[i].Size > result.VideoJobs[j].Size
		})
	}

	return result, nil
}

// shouldEnqueue reports whether a file should be (re)scanned: either it
// wasn't in the expected set coming in (new file) or its mtime is newer
// than modifiedSince.
func shouldEnqueue(wasExpected bool, modifiedSince time.Time, info os.FileInfo) bool {
	if !wasExpected {
		return true
	}
	if modifiedSince.IsZero() {
		return false
	}
	return info.ModTime().After(modifiedSince)
}
