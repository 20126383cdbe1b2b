package testutil

import "sync"

// DeterministicClock hands out increasing event clocks for synthetic
// traces.
//
// The clock is shared by every stream of a TraceBuilder, so events created
// with StreamBuilder.Next are globally ordered in creation order no matter
// which thread they belong to.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type DeterministicClock struct {
	mu    sync.Mutex
	start int64
	step  int64
	n     int64
}

// NewDeterministicClock creates a clock whose first call to Next returns
// start, then start+step, start+2*step and so on.
func NewDeterministicClock(start, step int64) *DeterministicClock {
	if step <= 0 {
		step = 1
	}
	return &DeterministicClock{start: start, step: step}
}

// Next returns the next clock value.
func (c *DeterministicClock) Next() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := c.start + c.n*c.step
	c.n++
	return v
}

// Current returns the last value returned by Next, or start-step before the
// first call.
func (c *DeterministicClock) Current() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.start + (c.n-1)*c.step
}

// Reset rewinds the clock. After Reset, the next call to Next returns start.
func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n = 0
}
