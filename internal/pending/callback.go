package pending

import (
	"context"
	"sync"
)

// Callback is the sending half of a one-shot completion signal.
//
// The tracker holds the Callback, the caller holds the receive-only channel
// returned alongside it by NewCallback. Firing a Callback never blocks and
// never fails, whether or not anybody is still receiving.
type Callback struct {
	done chan struct{}
	once sync.Once
}

// NewCallback creates a completion signal and returns both halves
func NewCallback() (*Callback, <-chan struct{}) {
	cb := &Callback{done: make(chan struct{})}
	return cb, cb.done
}

// fire signals completion. Only the first call has an effect.
func (c *Callback) fire() {
	c.once.Do(func() {
		close(c.done)
	})
}

// Wait blocks until done is signaled or the context ends
func Wait(ctx context.Context, done <-chan struct{}) error {
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
