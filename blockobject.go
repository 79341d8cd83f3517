package cosched

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/yyzybb537/libgo-sub002/timer"
)

const maxOutsideTaskBackoff = 10 * time.Millisecond

// BlockObject is a counting wait/wakeup gate. Each [BlockObject.Wakeup]
// either resumes the longest-waiting task or banks one credit (up to a
// maximum), and each wait either consumes a credit or parks the task, in
// FIFO order.
//
// It is the primitive that mutexes, read-write locks, semaphores and
// channels are built from. Waits suspend only the calling task, not its
// worker.
//
// Called outside a task, waits poll with a backoff of up to 10ms instead of
// parking. Such a waiter is not among the queued waiters, so it gets a
// credit only when one is banked while no task is waiting: under
// contention it can be overtaken by tasks that started waiting later.
type BlockObject struct {
	mu      sync.Mutex
	waiters taskList
	wakeup  int
	max     int
}

// blockWait is a single parked wait. Its identity, not the task's, is what
// a wait timer claims, so a stale timer can never take a later wait.
type blockWait struct {
	obj      *BlockObject
	timer    *timer.Timer
	timeout  time.Duration
	timedOut bool
}

// NewBlockObject returns a BlockObject holding initial credits, that banks
// at most max. It panics if either is negative or initial exceeds max.
func NewBlockObject(initial, max int) *BlockObject {
	if initial < 0 || max < 0 || initial > max {
		panic(fmt.Sprintf("cosched: invalid block object credits: initial=%d max=%d", initial, max))
	}
	return &BlockObject{wakeup: initial, max: max}
}

// NewSemaphore returns a BlockObject holding initial credits with no
// practical bank limit.
func NewSemaphore(initial int) *BlockObject {
	return NewBlockObject(initial, math.MaxInt)
}

// CoBlockWait consumes a credit, suspending the current task until one is
// available.
func (b *BlockObject) CoBlockWait() {
	b.wait(0)
}

// CoBlockWaitTimed is CoBlockWait with a timeout, reporting false if d
// elapsed first. A non-positive d is equivalent to TryBlockWait.
func (b *BlockObject) CoBlockWaitTimed(d time.Duration) bool {
	if d <= 0 {
		return b.TryBlockWait()
	}
	return b.wait(d)
}

func (b *BlockObject) wait(timeout time.Duration) bool {
	if b.TryBlockWait() {
		return true
	}
	t := currentTask()
	if t == nil {
		return b.pollWait(timeout)
	}
	w := &blockWait{obj: b, timeout: timeout}
	t.suspend(blockReq{w: w})
	return !w.timedOut
}

// pollWait is the fallback for callers that are not tasks.
func (b *BlockObject) pollWait(timeout time.Duration) bool {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	backoff := 50 * time.Microsecond
	for !b.TryBlockWait() {
		if timeout > 0 {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return false
			}
			backoff = min(backoff, remaining)
		}
		time.Sleep(backoff)
		backoff = min(backoff*2, maxOutsideTaskBackoff)
	}
	return true
}

// addWaitTask is called by the processer after t switched out to wait on b.
// It reports false, leaving the task for the processer to requeue, if a
// credit was banked in the meantime.
func (b *BlockObject) addWaitTask(t *Task, w *blockWait) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.wakeup > 0 {
		b.wakeup--
		return false
	}
	b.waiters.push(t)
	t.blockWait = w
	if w.timeout > 0 {
		w.timer = t.sched.timers.ExpireAfter(w.timeout, func() { b.cancelWait(t, w) })
	}
	return true
}

// claim takes t off the waiters, if it is still parked in w.
func (b *BlockObject) claim(t *Task, w *blockWait) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if t.blockWait != w || !b.waiters.erase(t) {
		return false
	}
	t.blockWait = nil
	return true
}

// cancelWait is the timeout path: it claims t only if it is still parked in
// the same wait.
func (b *BlockObject) cancelWait(t *Task, w *blockWait) {
	if !b.claim(t, w) {
		return
	}
	w.timedOut = true
	t.sched.addRunnable(t)
}

// detach claims t for a closing scheduler, which unwinds it instead of
// resuming it. Later wakeups go to the remaining waiters or the bank.
func (b *BlockObject) detach(t *Task, w *blockWait) {
	if b.claim(t, w) && w.timer != nil {
		w.timer.Cancel()
	}
}

// TryBlockWait consumes a credit if one is available, without blocking.
func (b *BlockObject) TryBlockWait() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.wakeup > 0 {
		b.wakeup--
		return true
	}
	return false
}

// Wakeup resumes the longest-waiting task, or banks a credit if there are
// no waiters. It returns false only if there were no waiters and the bank
// was already full.
func (b *BlockObject) Wakeup() bool {
	b.mu.Lock()
	t := b.waiters.pop()
	if t == nil {
		if b.wakeup >= b.max {
			b.mu.Unlock()
			return false
		}
		b.wakeup++
		b.mu.Unlock()
		return true
	}
	w := t.blockWait
	t.blockWait = nil
	b.mu.Unlock()

	// the claim is ours, so a racing timer callback finds nothing to do
	if w.timer != nil {
		w.timer.Cancel()
	}
	t.sched.addRunnable(t)
	return true
}

// IsWakeup reports whether a credit is currently banked.
func (b *BlockObject) IsWakeup() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.wakeup > 0
}

// Waiters returns the number of tasks parked on b.
func (b *BlockObject) Waiters() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.waiters.len()
}
