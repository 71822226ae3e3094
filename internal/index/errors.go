package index

import "fmt"

// errCorruptCache wraps a cache-format error. Cache staleness or corruption
// is never fatal: callers catch this and fall back to rebuilding from SQL.
func errCorruptCache(path string) error {
	return fmt.Errorf("corrupt or truncated cache file: %s", path)
}
