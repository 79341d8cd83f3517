// Package coro provides the stackful execution contexts that tasks run on.
//
// A [Context] wraps an entry function that can suspend itself part way
// through ([Context.SwapOut]) and be resumed later ([Context.SwapIn]),
// possibly from a different goroutine. Two implementations are provided:
// [NewPull], built on [iter.Pull] so that each switch is a direct coroutine
// handoff inside the Go runtime, and [NewGoroutine], a plain goroutine plus
// channel handoff that works with any scheduler-visible blocking.
//
// Stacks are owned by the Go runtime and grow on demand, so the stack size
// passed to a [Factory] is advisory only.
package coro

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidStackSize is returned by a [Factory] given a negative
	// stack size.
	ErrInvalidStackSize = errors.New("coro: invalid stack size")

	// ErrNilEntry is returned by a [Factory] given a nil entry function.
	ErrNilEntry = errors.New("coro: nil entry")
)

// Context is a resumable execution unit.
//
// SwapIn and Close must not be called concurrently with each other. SwapOut
// must only be called from within the entry function, while it is running.
type Context interface {
	// SwapIn runs the entry until it next calls SwapOut or returns. It
	// reports false, without running anything, if the context has already
	// completed, was closed, or is currently running.
	//
	// A panic escaping the entry is re-raised from SwapIn.
	SwapIn() bool

	// SwapOut suspends the entry, returning control to the caller of
	// SwapIn. It reports false if the context was closed while suspended,
	// in which case the entry must unwind without calling SwapOut again.
	SwapOut() bool

	// Done reports whether the entry has returned.
	Done() bool

	// Close releases the context. A suspended entry observes SwapOut
	// returning false and is run to completion by Close.
	Close()
}

// Factory creates a Context running entry, with the given stack size hint.
type Factory func(stackSize int, entry func()) (Context, error)

var (
	_ Factory = NewPull
	_ Factory = NewGoroutine
)

func validate(stackSize int, entry func()) error {
	if entry == nil {
		return ErrNilEntry
	}
	if stackSize < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidStackSize, stackSize)
	}
	return nil
}
