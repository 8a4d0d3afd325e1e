package triggercapture

import (
	"context"
	"sync"
	"sync/atomic"
)

// CancelToken is a one-shot cancellation flag shared between a signal
// handler and the capture loop. The zero value is not usable; call
// NewCancelToken.
type CancelToken struct {
	cancelled atomic.Bool
	once      sync.Once
	done      chan struct{}
}

// NewCancelToken returns an uncancelled token.
func NewCancelToken() *CancelToken {
	return &CancelToken{done: make(chan struct{})}
}

// Cancel sets the token. It is safe to call from any goroutine, any number
// of times.
func (t *CancelToken) Cancel() {
	t.cancelled.Store(true)
	t.once.Do(func() { close(t.done) })
}

// Cancelled reports whether Cancel has been called.
func (t *CancelToken) Cancelled() bool {
	return t.cancelled.Load()
}

// Done is closed when the token is cancelled.
func (t *CancelToken) Done() <-chan struct{} {
	return t.done
}

// Context derives a context from parent that is also cancelled by the token.
func (t *CancelToken) Context(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		select {
		case <-t.done:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
