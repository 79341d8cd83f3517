package coro

import (
	"iter"
	"sync/atomic"
)

// pullContext resumes its entry through a pull iterator, meaning every
// SwapIn/SwapOut pair is a direct coroutine switch.
type pullContext struct {
	next    func() (struct{}, bool)
	stop    func()
	yield   func(struct{}) bool
	running atomic.Bool
	done    atomic.Bool
}

// NewPull is the default [Factory].
func NewPull(stackSize int, entry func()) (Context, error) {
	if err := validate(stackSize, entry); err != nil {
		return nil, err
	}
	c := new(pullContext)
	c.next, c.stop = iter.Pull(func(yield func(struct{}) bool) {
		defer c.done.Store(true)
		c.yield = yield
		entry()
	})
	return c, nil
}

func (c *pullContext) SwapIn() bool {
	if c.done.Load() || !c.running.CompareAndSwap(false, true) {
		return false
	}
	defer c.running.Store(false)
	if _, ok := c.next(); !ok {
		c.done.Store(true)
	}
	return true
}

func (c *pullContext) SwapOut() bool {
	return c.yield(struct{}{})
}

func (c *pullContext) Done() bool {
	return c.done.Load()
}

func (c *pullContext) Close() {
	c.done.Store(true)
	c.stop()
}
