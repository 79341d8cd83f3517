package cosync

import (
	"sync"
	"time"

	cosched "github.com/yyzybb537/libgo-sub002"
)

// Channel is a FIFO channel for tasks, built from two gates: senders take
// credits from the write gate, and receivers from the read gate.
//
// The write gate starts with capacity credits, and each receiver grants one
// more as it arrives, so a send on an unbuffered channel completes only once
// a receiver is waiting for it.
//
// Once closed, a channel accepts no more values, but receivers still drain
// what was queued. Close leaves one credit on each gate, and every waiter
// that finds the channel closed passes it on, so all of them wake.
type Channel[T any] struct {
	write  *cosched.BlockObject
	read   *cosched.BlockObject
	queue  []T
	cap    int
	mu     sync.Mutex
	closed bool
}

// NewChannel returns a Channel buffering up to capacity values. It panics if
// capacity is negative.
func NewChannel[T any](capacity int) *Channel[T] {
	if capacity < 0 {
		panic("cosync: negative channel capacity")
	}
	return &Channel[T]{
		write: cosched.NewSemaphore(capacity),
		read:  cosched.NewSemaphore(0),
		cap:   capacity,
	}
}

// Send queues v, suspending the current task while the channel is full.
// It reports false if the channel is closed.
func (c *Channel[T]) Send(v T) bool {
	c.write.CoBlockWait()
	return c.push(v)
}

// TrySend queues v only if it can do so without waiting.
func (c *Channel[T]) TrySend(v T) bool {
	if !c.write.TryBlockWait() {
		return false
	}
	return c.push(v)
}

// SendTimeout is Send, giving up after d.
func (c *Channel[T]) SendTimeout(v T, d time.Duration) bool {
	if !c.write.CoBlockWaitTimed(d) {
		return false
	}
	return c.push(v)
}

// Recv takes the oldest value, suspending the current task until one is
// available. It reports false if the channel is closed and drained.
func (c *Channel[T]) Recv() (T, bool) {
	c.write.Wakeup()
	c.read.CoBlockWait()
	return c.pop()
}

// TryRecv takes the oldest value only if one is available. If a sender is
// part way through a send it waits (by yielding) for the value to land.
// Use [Channel.Closed] to tell an empty channel from a closed one.
func (c *Channel[T]) TryRecv() (T, bool) {
	c.write.Wakeup()
	for !c.read.TryBlockWait() {
		if c.write.TryBlockWait() {
			// took back the credit we granted
			var zero T
			return zero, false
		}
		cosched.Yield()
	}
	return c.pop()
}

// RecvTimeout is Recv, giving up after d. A value that a sender committed
// to before the timeout is still received.
func (c *Channel[T]) RecvTimeout(d time.Duration) (T, bool) {
	c.write.Wakeup()
	if c.read.CoBlockWaitTimed(d) {
		return c.pop()
	}
	if c.write.TryBlockWait() {
		var zero T
		return zero, false
	}
	// a sender holds our credit, so its value (or a close) is on the way
	c.read.CoBlockWait()
	return c.pop()
}

// Close stops the channel accepting values and wakes every blocked sender
// and receiver. It panics if the channel is already closed.
func (c *Channel[T]) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		panic("cosync: close of closed channel")
	}
	c.closed = true
	c.mu.Unlock()
	c.write.Wakeup()
	c.read.Wakeup()
}

// Closed reports whether Close has been called.
func (c *Channel[T]) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Len returns the number of values queued.
func (c *Channel[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// Cap returns the channel's buffer capacity.
func (c *Channel[T]) Cap() int { return c.cap }

// push queues v for a sender holding a write credit. On a closed channel it
// hands the credit on to the next sender instead.
func (c *Channel[T]) push(v T) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.write.Wakeup()
		return false
	}
	c.queue = append(c.queue, v)
	c.mu.Unlock()
	c.read.Wakeup()
	return true
}

// pop takes a value for a receiver holding a read credit. Every queued value
// has its own credit, so the queue is only ever empty here once the channel
// is closed, in which case the credit is handed on to the next receiver.
func (c *Channel[T]) pop() (T, bool) {
	var zero T
	c.mu.Lock()
	if len(c.queue) == 0 {
		c.mu.Unlock()
		c.read.Wakeup()
		return zero, false
	}
	v := c.queue[0]
	c.queue[0] = zero
	c.queue = c.queue[1:]
	if len(c.queue) == 0 {
		c.queue = c.queue[:0:0]
	}
	c.mu.Unlock()
	return v, true
}
