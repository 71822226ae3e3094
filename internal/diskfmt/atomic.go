// Package diskfmt implements the binary on-disk cache formats: the
// feature-descriptor matrix cache (.mat), the sentinel-terminated
// id<->offset maps (.map), the per-frame video index (.vdx), and the
// touch-file freshness marker, plus the atomic write helper they all share.
package diskfmt

import (
	"fmt"
	"os"
	"path/filepath"
)

// AtomicWriteFile writes data to path via write-to-temp -> fsync -> rename.
// Any failure is returned as a plain error; callers retry on the next save
// cycle rather than treating it as fatal.
func AtomicWriteFile(path string, write func(f *os.File) error) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("atomic write %s: create temp: %w", path, err)
	}
	tmpPath := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	if err := write(tmp); err != nil {
		return fmt.Errorf("atomic write %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("atomic write %s: fsync: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("atomic write %s: close: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("atomic write %s: rename: %w", path, err)
	}
	cleanup = false
	return nil
}
