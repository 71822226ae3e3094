// Package logctx wraps github.com/charmbracelet/log with a task-local
// context stack, so a worker can push a short description of what it is
// doing (e.g. "scan:<path>", "query:<needle>") and have it show up as a
// structured field on every subsequent log line without a global
// thread_local or a logger instance threaded through every call.
package logctx

import (
	"sync"

	"github.com/charmbracelet/log"
)

// Logger is a *log.Logger plus its own context stack. Safe for concurrent
// use by a single goroutine's worker loop; callers that fan out should
// create one Logger per worker via New, not share one across goroutines.
type Logger struct {
	base  *log.Logger
	mu    sync.Mutex
	stack []string
}

// New wraps base (or the package default if nil) with an empty context stack.
func New(base *log.Logger) *Logger {
	if base == nil {
		base = log.Default()
	}
	return &Logger{base: base}
}

// Push appends a context frame, returning a function that pops it. Typical
// use: `defer l.Push("scan:" + path)()`.
func (l *Logger) Push(frame string) func() {
	l.mu.Lock()
	l.stack = append(l.stack, frame)
	l.mu.Unlock()
	return func() {
		l.mu.Lock()
		if len(l.stack) > 0 {
			l.stack = l.stack[:len(l.stack)-1]
		}
		l.mu.Unlock()
	}
}

func (l *Logger) context() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.stack) == 0 {
		return ""
	}
	return l.stack[len(l.stack)-1]
}

func (l *Logger) Info(msg string, kv ...any)  { l.base.With("ctx", l.context()).Info(msg, kv...) }
func (l *Logger) Warn(msg string, kv ...any)  { l.base.With("ctx", l.context()).Warn(msg, kv...) }
func (l *Logger) Error(msg string, kv ...any) { l.base.With("ctx", l.context()).Error(msg, kv...) }
func (l *Logger) Debug(msg string, kv ...any) { l.base.With("ctx", l.context()).Debug(msg, kv...) }
