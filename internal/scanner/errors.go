package scanner

import "sync"

// ErrorKind is the per-file error taxonomy. Every non-fatal scan error is
// tagged with one of these before being recorded in the shared error map.
type ErrorKind string

const (
	ErrorOpen            ErrorKind = "open error"
	ErrorLoad            ErrorKind = "format error"
	ErrorJpegTruncated   ErrorKind = "truncated jpeg"
	ErrorTooSmall        ErrorKind = "skip small file"
	ErrorUnsupported     ErrorKind = "unsupported file type"
	ErrorDecodeCancelled ErrorKind = "decode cancelled"
)

// FileError pairs a taxonomy tag with the underlying message, matching
// original_source/scanner.h's "errors() : QMap<path, QStringList>" shape.
type FileError struct {
	Kind    ErrorKind
	Message string
}

// ErrorMap is the shared, mutex-protected per-path error list: per-file
// errors are logged to a map keyed by path with a list of error entries,
// and the scan continues.
type ErrorMap struct {
	mu     sync.Mutex
	errors map[string][]FileError
}

func NewErrorMap() *ErrorMap {
	return &ErrorMap{errors: make(map[string][]FileError)}
}

// Add records an error for path without interrupting the scan.
func (e *ErrorMap) Add(path string, kind ErrorKind, message string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.errors[path] = append(e.errors[path], FileError{Kind: kind, Message: message})
}

// Snapshot returns a copy of the error map, safe to inspect after a scan.
func (e *ErrorMap) Snapshot() map[string][]FileError {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string][]FileError, len(e.errors))
	for k, v := range e.errors {
		out[k] = append([]FileError(nil), v...)
	}
	return out
}
