// Package cancel provides cooperative-cancellation primitives: a Reader
// that checks a context before every underlying read, and a Token the
// scanner can use to ask long-running per-file work to stop early without
// tearing down the whole worker pool.
package cancel

import (
	"context"
	"io"
)

// Reader wraps r so every Read first checks ctx, returning ctx.Err()
// immediately once cancelled rather than blocking in the underlying I/O.
type Reader struct {
	Ctx context.Context
	R   io.Reader
}

func (c Reader) Read(p []byte) (int, error) {
	if err := c.Ctx.Err(); err != nil {
		return 0, err
	}
	return c.R.Read(p)
}

// Token is a cancellation signal that can be fired by whoever holds it,
// separately from any context. The scanner keeps one per Scanner and fires
// it from Flush, which cancels every in-flight job of the current scan.
type Token struct {
	done chan struct{}
}

// NewToken returns a live (not yet cancelled) Token.
func NewToken() *Token { return &Token{done: make(chan struct{})} }

// Cancel marks the token cancelled. Safe to call more than once.
func (t *Token) Cancel() {
	select {
	case <-t.done:
	default:
		close(t.done)
	}
}

// Cancelled reports whether Cancel has been called.
func (t *Token) Cancelled() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Done returns a channel closed when the token is cancelled, for use in a
// select alongside other cancellation sources.
func (t *Token) Done() <-chan struct{} { return t.done }
