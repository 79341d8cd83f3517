package cosched

import (
	"sync"
	"time"

	"github.com/yyzybb537/libgo-sub002/timer"
)

// sleepWait parks sleeping tasks until their timer fires.
type sleepWait struct {
	sched  *Scheduler
	timers map[*Task]*sleepTimer
	mu     sync.Mutex
	tasks  taskList
}

// sleepTimer is one sleep's wakeup timer, identifying the sleep so that a
// late registration can't overwrite a newer one.
type sleepTimer struct {
	timer *timer.Timer
}

// schedulerSwitch registers t, which has just switched out in the sleep
// state, and arms its wakeup timer. The task is on the set before the timer
// exists, so an immediate expiry still finds it.
func (w *sleepWait) schedulerSwitch(t *Task, d time.Duration) {
	st := new(sleepTimer)
	w.mu.Lock()
	w.tasks.push(t)
	if w.timers == nil {
		w.timers = make(map[*Task]*sleepTimer)
	}
	w.timers[t] = st
	w.mu.Unlock()
	tm := w.sched.timers.ExpireAfter(d, func() { w.wakeup(t) })
	w.mu.Lock()
	if w.timers[t] == st {
		st.timer = tm
	}
	w.mu.Unlock()
}

// wakeup claims t from the sleep set and makes it runnable. It is a no-op
// if t is no longer sleeping.
func (w *sleepWait) wakeup(t *Task) bool {
	w.mu.Lock()
	ok := w.tasks.erase(t)
	delete(w.timers, t)
	w.mu.Unlock()
	if ok {
		w.sched.addRunnable(t)
	}
	return ok
}

// detach takes t off the sleep set without waking it, and cancels its timer.
func (w *sleepWait) detach(t *Task) {
	w.mu.Lock()
	w.tasks.erase(t)
	st := w.timers[t]
	delete(w.timers, t)
	w.mu.Unlock()
	if st != nil && st.timer != nil {
		st.timer.Cancel()
	}
}

func (w *sleepWait) len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.tasks.len()
}
