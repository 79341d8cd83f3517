package coro

import (
	"sync"
	"sync/atomic"
)

// goroutineContext runs its entry on a dedicated goroutine, handing control
// back and forth over unbuffered channels.
type goroutineContext struct {
	entry    func()
	resume   chan struct{}
	suspend  chan struct{}
	closed   chan struct{}
	finished chan struct{}
	once     sync.Once
	panicV   any
	panicked bool
	started  bool
	running  atomic.Bool
	done     atomic.Bool
}

// NewGoroutine is a [Factory] that gives each context its own goroutine.
func NewGoroutine(stackSize int, entry func()) (Context, error) {
	if err := validate(stackSize, entry); err != nil {
		return nil, err
	}
	return &goroutineContext{
		entry:    entry,
		resume:   make(chan struct{}),
		suspend:  make(chan struct{}),
		closed:   make(chan struct{}),
		finished: make(chan struct{}),
	}, nil
}

func (c *goroutineContext) SwapIn() bool {
	if c.done.Load() || !c.running.CompareAndSwap(false, true) {
		return false
	}
	defer c.running.Store(false)
	if !c.started {
		c.started = true
		go c.run()
	} else {
		c.resume <- struct{}{}
	}
	<-c.suspend
	if c.panicked {
		c.panicked = false
		panic(c.panicV)
	}
	return true
}

func (c *goroutineContext) run() {
	defer close(c.finished)
	defer func() {
		if r := recover(); r != nil {
			c.panicV, c.panicked = r, true
		}
		c.done.Store(true)
		select {
		case c.suspend <- struct{}{}:
		case <-c.closed:
		}
	}()
	c.entry()
}

func (c *goroutineContext) SwapOut() bool {
	c.suspend <- struct{}{}
	select {
	case <-c.resume:
		return true
	case <-c.closed:
		return false
	}
}

func (c *goroutineContext) Done() bool {
	return c.done.Load()
}

// Close waits for a started entry to unwind, so its deferred calls have run
// by the time it returns.
func (c *goroutineContext) Close() {
	c.once.Do(func() {
		c.done.Store(true)
		close(c.closed)
	})
	if c.started {
		<-c.finished
	}
}
