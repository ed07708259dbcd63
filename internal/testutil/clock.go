package testutil

import (
	"fmt"
	"sync"
)

// ManualClock is a settable wall clock in whole unix seconds for tests.
//
// It satisfies engine.Clock. Time never moves backwards: Set rejects an
// earlier value and Advance rejects a negative step.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type ManualClock struct {
	mu  sync.Mutex
	now int64
}

// NewManualClock creates a clock reading start.
func NewManualClock(start int64) *ManualClock {
	return &ManualClock{now: start}
}

// Now returns the current unix timestamp.
func (c *ManualClock) Now() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to unix. Returns an error if unix is earlier than now.
func (c *ManualClock) Set(unix int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if unix < c.now {
		return fmt.Errorf("clock cannot move backwards: %d < %d", unix, c.now)
	}
	c.now = unix
	return nil
}

// Advance moves the clock forward by seconds and returns the new time.
// Panics on a negative step or int64 overflow.
func (c *ManualClock) Advance(seconds int64) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if seconds < 0 {
		panic(fmt.Sprintf("ManualClock.Advance: negative step %d", seconds))
	}
	next := c.now + seconds
	if next < c.now {
		panic("ManualClock.Advance: overflow")
	}
	c.now = next
	return c.now
}
