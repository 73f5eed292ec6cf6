package countdown

import "sync"

// Counter watches a monotonically growing count and fires onIncrease on each
// rising edge. The first observation only sets the baseline.
type Counter struct {
	mu         sync.Mutex
	last       int
	seen       bool
	onIncrease func(prev, cur int)
}

func NewCounter(onIncrease func(prev, cur int)) *Counter {
	return &Counter{onIncrease: onIncrease}
}

// Seed sets the baseline without firing.
func (c *Counter) Seed(n int) {
	c.mu.Lock()
	c.last, c.seen = n, true
	c.mu.Unlock()
}

// Observe records n and reports whether it rose above the previous value.
// A drop lowers the baseline silently.
func (c *Counter) Observe(n int) bool {
	c.mu.Lock()
	prev, seen := c.last, c.seen
	c.last, c.seen = n, true
	c.mu.Unlock()

	if !seen || n <= prev {
		return false
	}
	if c.onIncrease != nil {
		c.onIncrease(prev, n)
	}
	return true
}

func (c *Counter) Value() (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last, c.seen
}
