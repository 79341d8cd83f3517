package cosync

import (
	"slices"
	"sync"
	"time"

	cosched "github.com/yyzybb537/libgo-sub002"
)

// Cond is a condition variable for tasks. Each waiter parks on its own
// [cosched.BlockObject], and waiters are signalled in the order they
// started waiting.
//
// As with [sync.Cond], L is held while checking the condition and across
// the call to Wait, which releases it while suspended.
type Cond struct {
	L       sync.Locker
	waiters []*cosched.BlockObject
	mu      sync.Mutex
}

// NewCond returns a Cond using l.
func NewCond(l sync.Locker) *Cond {
	return &Cond{L: l}
}

// Wait releases L, suspends the current task until signalled, then
// reacquires L before returning.
func (c *Cond) Wait() {
	c.wait(0)
}

// WaitTimeout is Wait, giving up after d. It reports whether the wait was
// signalled; L is reacquired either way.
func (c *Cond) WaitTimeout(d time.Duration) bool {
	if d <= 0 {
		return false
	}
	return c.wait(d)
}

// WaitUntil is WaitTimeout with an absolute deadline.
func (c *Cond) WaitUntil(deadline time.Time) bool {
	return c.WaitTimeout(time.Until(deadline))
}

func (c *Cond) wait(d time.Duration) bool {
	b := cosched.NewBlockObject(0, 1)
	c.mu.Lock()
	c.waiters = append(c.waiters, b)
	c.mu.Unlock()

	c.L.Unlock()
	defer c.L.Lock()

	if d == 0 {
		b.CoBlockWait()
		return true
	}
	if b.CoBlockWaitTimed(d) {
		return true
	}
	c.mu.Lock()
	i := slices.Index(c.waiters, b)
	if i >= 0 {
		c.waiters = slices.Delete(c.waiters, i, i+1)
	}
	c.mu.Unlock()
	// a signal that picked b after the timeout still counts as delivered
	return i < 0
}

// Signal wakes the longest-waiting task, reporting false if there was none.
func (c *Cond) Signal() bool {
	c.mu.Lock()
	if len(c.waiters) == 0 {
		c.mu.Unlock()
		return false
	}
	b := c.waiters[0]
	c.waiters[0] = nil
	c.waiters = c.waiters[1:]
	c.mu.Unlock()
	b.Wakeup()
	return true
}

// Broadcast wakes every waiting task, returning how many there were.
func (c *Cond) Broadcast() int {
	c.mu.Lock()
	waiters := c.waiters
	c.waiters = nil
	c.mu.Unlock()
	for _, b := range waiters {
		b.Wakeup()
	}
	return len(waiters)
}

// Waiters returns the number of tasks waiting on c.
func (c *Cond) Waiters() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}
