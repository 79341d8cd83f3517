package cosched

import (
	"errors"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/yyzybb537/libgo-sub002/coro"
	"github.com/yyzybb537/libgo-sub002/internal/goroutineid"
)

var taskIDCounter atomic.Uint64

// runtimeRef is the weight of the scheduler's reference to a task, held
// until the task finishes. References taken by Retain count below it.
const runtimeRef = 1 << 32

// Task is a coroutine scheduled by a [Scheduler].
//
// The handle supports introspection only; there is no way to wait on a task
// from here. Build that from a [BlockObject] (or a cosync channel) instead.
type Task struct {
	sched *Scheduler
	fn    func()
	ctx   coro.Context

	// proc is the processer currently running the task, touched only by
	// that processer's worker and by the task itself.
	proc *Processer
	// lastProc is where the task last ran, used as the wakeup target.
	lastProc atomic.Pointer[Processer]

	// pending is written by the task immediately before it switches out,
	// and read by the processer immediately after. It keeps describing the
	// task's last wait until the next switch, for Close to claim it back.
	pending suspension

	// blockWait is the wait the task is parked in, guarded by the lock of
	// the BlockObject it belongs to.
	blockWait *blockWait

	// intrusive links, owned by whichever taskList holds the task
	list       *taskList
	next, prev *Task

	err       atomic.Pointer[error]
	location  string
	debugInfo string

	id     uint64
	yields atomic.Uint64
	refs   atomic.Int64
	state  atomic.Uint32
}

// suspension is the request a task hands to its processer when it switches
// out. Each variant implies the state the task is in while suspended.
type suspension interface {
	taskState() TaskState
}

type (
	yieldReq struct{}
	sleepReq struct{ d time.Duration }
	ioReq    struct{ s *ioSentry }
	blockReq struct{ w *blockWait }
)

func (yieldReq) taskState() TaskState { return StateRunnable }
func (sleepReq) taskState() TaskState { return StateSleep }
func (ioReq) taskState() TaskState    { return StateIOBlock }
func (blockReq) taskState() TaskState { return StateSysBlock }

func newTask(s *Scheduler, fn func(), location string, opts *taskOptions) (*Task, error) {
	t := &Task{
		sched:     s,
		fn:        fn,
		location:  location,
		debugInfo: opts.debugInfo,
		id:        taskIDCounter.Add(1),
	}
	ctx, err := s.opts.newContext(opts.stackSize, t.runEntry)
	if err != nil {
		return nil, err
	}
	t.ctx = ctx
	t.refs.Store(runtimeRef)
	return t, nil
}

// ID returns the task's process-wide unique id.
func (t *Task) ID() uint64 { return t.id }

// State returns a snapshot of the task's state.
func (t *Task) State() TaskState { return TaskState(t.state.Load()) }

// Location returns the file:line that created the task.
func (t *Task) Location() string { return t.location }

// Yields returns how many times the task has yielded.
func (t *Task) Yields() uint64 { return t.yields.Load() }

// Err returns the error the task failed with, if any. It is only
// meaningful once the task is done.
func (t *Task) Err() error {
	if p := t.err.Load(); p != nil {
		return *p
	}
	return nil
}

// DebugInfo formats the task for diagnostics. It has no side effects.
func (t *Task) DebugInfo() string {
	s := fmt.Sprintf("task(%d) state=%s location=%s yields=%d", t.id, t.State(), t.location, t.Yields())
	if t.debugInfo != "" {
		s += " info=" + t.debugInfo
	}
	return s
}

// Retain adds a reference, keeping the task's resources alive after it
// finishes until a matching [Task.Release].
func (t *Task) Retain() {
	for {
		n := t.refs.Load()
		if n == 0 {
			t.sched.misuse(t, "retain of a released task")
			return
		}
		if t.refs.CompareAndSwap(n, n+1) {
			return
		}
	}
}

// Release drops a reference taken by [Task.Retain]. Releasing a task that
// holds no such reference is misuse, and leaves the task untouched.
func (t *Task) Release() {
	for {
		n := t.refs.Load()
		if n%runtimeRef == 0 {
			t.sched.misuse(t, "task released more times than retained")
			return
		}
		if t.refs.CompareAndSwap(n, n-1) {
			if n == 1 {
				t.free()
			}
			return
		}
	}
}

// releaseRuntime drops the scheduler's own reference, once the task has
// finished or been discarded.
func (t *Task) releaseRuntime() {
	if t.refs.Add(-runtimeRef) == 0 {
		t.free()
	}
}

func (t *Task) free() {
	t.ctx.Close()
	t.fn = nil
}

func (t *Task) setErr(err error) {
	t.err.CompareAndSwap(nil, &err)
}

// runEntry is the body of the task's context. Returning from it is the
// task's final switch back to its processer.
func (t *Task) runEntry() {
	gid := goroutineid.Get()
	currentTasks.Store(gid, t)
	defer func() {
		currentTasks.Delete(gid)
		if r := recover(); r != nil {
			if err, ok := r.(error); !ok || !errors.Is(err, errContextClosed) {
				t.setErr(&PanicError{
					Value:    r,
					Location: t.location,
					Stack:    debug.Stack(),
					TaskID:   t.id,
				})
			}
		}
		t.state.Store(uint32(StateDone))
	}()
	t.fn()
}

// suspend records req for the processer and switches out. It panics with
// errContextClosed, unwinding the task, if the scheduler closed the context
// while it was suspended.
func (t *Task) suspend(req suspension) {
	t.pending = req
	t.state.Store(uint32(req.taskState()))
	if !t.ctx.SwapOut() {
		panic(errContextClosed)
	}
}

func (t *Task) yield() {
	t.yields.Add(1)
	t.suspend(yieldReq{})
}
