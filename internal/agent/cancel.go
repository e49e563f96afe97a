package agent

import "sync"

// AbortController cancels at most once. Registrations derived from it
// observe the cancellation whether they existed before or after the
// trigger; there are no missed signals.
type AbortController struct {
	mu     sync.Mutex
	done   chan struct{}
	closed bool
}

func NewAbortController() *AbortController {
	return &AbortController{done: make(chan struct{})}
}

// Cancel triggers cancellation. Safe to call repeatedly.
func (c *AbortController) Cancel() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.done)
}

// Cancelled reports the current cancellation state.
func (c *AbortController) Cancelled() bool {
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Register derives a registration observing this controller.
func (c *AbortController) Register() AbortRegistration {
	if c == nil {
		return AbortRegistration{}
	}
	return AbortRegistration{c: c}
}

// AbortRegistration is a read-only view onto a controller's cancellation
// state. The zero value never cancels.
type AbortRegistration struct {
	c *AbortController
}

// Cancelled polls the cancellation state synchronously.
func (r AbortRegistration) Cancelled() bool {
	return r.c.Cancelled()
}

// Done returns a channel closed on cancellation, for use as one branch
// of a select race. The zero registration returns a channel that never
// closes.
func (r AbortRegistration) Done() <-chan struct{} {
	if r.c == nil {
		return nil
	}
	return r.c.done
}
