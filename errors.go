package cosched

import (
	"errors"
	"fmt"
)

var (
	// ErrSchedulerClosed is returned when operating on a scheduler that has
	// been shut down.
	ErrSchedulerClosed = errors.New("cosched: scheduler closed")

	// ErrSchedulerRunning is returned by [Scheduler.Start] if the workers
	// are already running.
	ErrSchedulerRunning = errors.New("cosched: scheduler already running")

	// ErrNilFunc is returned by [Scheduler.Go] given a nil function.
	ErrNilFunc = errors.New("cosched: nil task function")

	// ErrContextSwitch indicates a task's execution context could not be
	// resumed. The task is marked [StateFatal].
	ErrContextSwitch = errors.New("cosched: context switch failed")

	// ErrTimeout is returned by timed waits that expired.
	ErrTimeout = errors.New("cosched: timeout")

	// ErrIOUnsupported is returned by I/O waits on platforms without a
	// reactor implementation.
	ErrIOUnsupported = errors.New("cosched: io wait unsupported on this platform")

	// ErrInvalidEvents is returned by I/O waits given an empty interest.
	ErrInvalidEvents = errors.New("cosched: no io events requested")

	// errContextClosed unwinds a task whose context was closed while it
	// was suspended. It never escapes the task.
	errContextClosed = errors.New("cosched: context closed")
)

// PanicError is the error captured when a task's function panics.
type PanicError struct {
	// Value is the value passed to panic.
	Value any
	// Location is the file:line the task was created at.
	Location string
	// Stack is the panicking goroutine's stack trace.
	Stack []byte
	// TaskID identifies the task that panicked.
	TaskID uint64
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("cosched: task %d (%s) panicked: %v", e.TaskID, e.Location, e.Value)
}

// Unwrap returns the panic value if it is an error, allowing [errors.Is] and
// [errors.As] to see through the panic.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
