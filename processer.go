package cosched

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/yyzybb537/libgo-sub002/timer"
)

// Processer is one worker's run queue plus the loop that drives it. Each
// processer is run by exactly one worker goroutine.
type Processer struct {
	sched *Scheduler
	runq  runQueue

	// wake holds at most one pending wakeup token.
	wake chan struct{}

	// running is the task being resumed, only touched by the worker.
	running *Task

	idleTimer *time.Timer
	timerBuf  []*timer.Timer

	id     int
	steals atomic.Uint64
	parked atomic.Bool
}

func newProcesser(s *Scheduler, id int) *Processer {
	return &Processer{
		sched: s,
		id:    id,
		wake:  make(chan struct{}, 1),
	}
}

// ID returns the processer's index within its scheduler.
func (p *Processer) ID() int { return p.id }

// run resumes the tasks queued at the start of the pass, bounded by the
// configured per-pass maximum, so tasks that are re-queued, woken, or stolen
// during the pass wait for the next one.
func (p *Processer) run() error {
	n := p.runq.len()
	if m := p.sched.metrics; m != nil {
		m.Queue.Update(n)
	}
	if limit := p.sched.opts.maxRunPerPass; limit > 0 && n > limit {
		n = limit
	}
	for range n {
		t := p.runq.pop()
		if t == nil {
			break
		}
		if err := p.runTask(t); err != nil {
			return err
		}
	}
	return nil
}

func (p *Processer) runTask(t *Task) error {
	t.proc = p
	t.lastProc.Store(p)
	p.running = t

	var start time.Time
	if p.sched.metrics != nil {
		start = time.Now()
	}
	ok := t.ctx.SwapIn()
	if p.sched.metrics != nil {
		p.sched.metrics.Latency.Record(time.Since(start))
	}

	p.running = nil
	t.proc = nil

	if !ok {
		t.state.Store(uint32(StateFatal))
		t.setErr(fmt.Errorf("%w: task %d (%s)", ErrContextSwitch, t.id, t.location))
		return p.sched.finish(t)
	}
	if t.ctx.Done() {
		return p.sched.finish(t)
	}

	switch req := t.pending.(type) {
	case sleepReq:
		p.sched.sleep.schedulerSwitch(t, req.d)
	case ioReq:
		p.sched.io.schedulerSwitch(t, req.s)
	case blockReq:
		if !req.w.obj.addWaitTask(t, req.w) {
			t.state.Store(uint32(StateRunnable))
			p.runq.push(t)
		}
	default:
		t.state.Store(uint32(StateRunnable))
		p.runq.push(t)
	}
	return nil
}

// notify leaves a wakeup token for the worker, if there isn't one already.
func (p *Processer) notify() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// consumeNotify takes a pending wakeup token, if any.
func (p *Processer) consumeNotify() bool {
	select {
	case <-p.wake:
		return true
	default:
		return false
	}
}

// park blocks the worker until it is notified, ctx is done, or d elapses.
func (p *Processer) park(ctx context.Context, d time.Duration) {
	if p.runq.len() != 0 {
		return
	}
	if p.idleTimer == nil {
		p.idleTimer = time.NewTimer(d)
	} else {
		p.idleTimer.Reset(d)
	}
	select {
	case <-p.wake:
	case <-ctx.Done():
	case <-p.idleTimer.C:
	}
	p.idleTimer.Stop()
}

// fireTimers runs a batch of expired timers on the worker.
func (p *Processer) fireTimers() {
	buf, _ := p.sched.timers.GetExpired(p.timerBuf[:0], p.sched.opts.timerBatch)
	for i, tm := range buf {
		tm.Fire()
		buf[i] = nil
	}
	p.timerBuf = buf[:0]
}
