package procsession

import (
	"context"
	"sync"
)

// Call is the eventual result of one Start or DeliverInput. It resolves
// exactly once; every later attempt to resolve it is a no-op.
type Call struct {
	once   sync.Once
	done   chan struct{}
	result string
}

func newCall() *Call {
	return &Call{done: make(chan struct{})}
}

// resolve sets the result if nothing has yet. It reports whether this call
// won.
func (c *Call) resolve(text string) bool {
	won := false
	c.once.Do(func() {
		c.result = text
		close(c.done)
		won = true
	})
	return won
}

// Done is closed once the call has a result.
func (c *Call) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until the call resolves or ctx ends.
func (c *Call) Wait(ctx context.Context) (string, error) {
	select {
	case <-c.done:
		return c.result, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Result returns the result and whether the call has resolved.
func (c *Call) Result() (string, bool) {
	select {
	case <-c.done:
		return c.result, true
	default:
		return "", false
	}
}
