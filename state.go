package cosched

import (
	"sync/atomic"
)

// TaskState is the lifecycle state of a [Task].
//
//	StateInit → StateRunnable          [Scheduler.Go]
//	StateRunnable → StateIOBlock       [WaitIO, set by the task]
//	StateRunnable → StateSysBlock      [BlockObject wait, set by the task]
//	StateRunnable → StateSleep         [Sleep, set by the task]
//	StateRunnable → StateDone          [function returned or panicked]
//	StateRunnable → StateFatal         [context switch failed]
//	StateIOBlock/SysBlock/Sleep → StateRunnable  [claimed by a waker]
//
// Only the task itself (just before it suspends), the processer running it
// (just after it suspends), and whichever waker claimed it from a wait
// structure ever change the state.
type TaskState uint32

const (
	StateInit TaskState = iota
	StateRunnable
	StateIOBlock
	StateSysBlock
	StateSleep
	StateDone
	StateFatal
)

// String returns a human-readable representation of the state.
func (s TaskState) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateRunnable:
		return "runnable"
	case StateIOBlock:
		return "io_block"
	case StateSysBlock:
		return "sys_block"
	case StateSleep:
		return "sleep"
	case StateDone:
		return "done"
	case StateFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// SchedulerState is the lifecycle state of a [Scheduler].
//
//	StateIdle → StateRunning           [Start, RunUntilNoTask]
//	StateRunning → StateIdle           [RunUntilNoTask stopped the workers it started]
//	StateIdle/Running → StateStopping  [Shutdown, Close]
//	StateStopping → StateStopped       [workers exited, resources released]
type SchedulerState uint32

const (
	StateIdle SchedulerState = iota
	StateRunning
	StateStopping
	StateStopped
)

// String returns a human-readable representation of the state.
func (s SchedulerState) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateRunning:
		return "Running"
	case StateStopping:
		return "Stopping"
	case StateStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// schedulerState is a CAS-driven state machine. Transitions into the
// reversible states must go through tryTransition; only the terminal state
// is ever stored directly.
type schedulerState struct {
	v atomic.Uint32
}

func (s *schedulerState) load() SchedulerState {
	return SchedulerState(s.v.Load())
}

func (s *schedulerState) store(state SchedulerState) {
	s.v.Store(uint32(state))
}

func (s *schedulerState) tryTransition(from, to SchedulerState) bool {
	return s.v.CompareAndSwap(uint32(from), uint32(to))
}

func (s *schedulerState) canAcceptWork() bool {
	state := s.load()
	return state == StateIdle || state == StateRunning
}
