package cosched

import (
	"runtime"
	"sync"
	"time"

	"github.com/yyzybb537/libgo-sub002/internal/goroutineid"
)

// currentTasks maps the goroutine a task's context runs on to the task. It
// is the only ambient state: suspend points are reached deep inside user
// code, which has no scheduler handle to pass along.
var currentTasks sync.Map

func currentTask() *Task {
	if v, ok := currentTasks.Load(goroutineid.Get()); ok {
		return v.(*Task)
	}
	return nil
}

// CurrentTask returns the task the caller is running in, or nil.
func CurrentTask() *Task {
	return currentTask()
}

// InTask reports whether the caller is running in a task.
func InTask() bool {
	return currentTask() != nil
}

// Yield suspends the current task, putting it at the back of its
// processer's run queue. Outside a task it calls [runtime.Gosched].
func Yield() {
	if t := currentTask(); t != nil {
		t.yield()
		return
	}
	runtime.Gosched()
}

// Sleep suspends the current task for at least d, without blocking its
// worker. A non-positive d is equivalent to [Yield]. Outside a task it calls
// [time.Sleep].
func Sleep(d time.Duration) {
	t := currentTask()
	if t == nil {
		time.Sleep(d)
		return
	}
	if d <= 0 {
		t.yield()
		return
	}
	t.suspend(sleepReq{d: d})
}
