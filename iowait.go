package cosched

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yyzybb537/libgo-sub002/timer"
)

// IOEvents is a set of file descriptor readiness conditions.
type IOEvents uint32

const (
	EventRead IOEvents = 1 << iota
	EventWrite
	// EventError and EventHangup are always reported, whether requested or
	// not.
	EventError
	EventHangup
)

const alwaysReported = EventError | EventHangup

// errNotPollable is returned by the poller for fds that don't support
// readiness notification, such as regular files.
var errNotPollable = errors.New("cosched: fd does not support readiness")

// String returns a human-readable representation of the event set.
func (e IOEvents) String() string {
	if e == 0 {
		return "none"
	}
	var s string
	for _, v := range [...]struct {
		bit  IOEvents
		name string
	}{
		{EventRead, "read"},
		{EventWrite, "write"},
		{EventError, "error"},
		{EventHangup, "hangup"},
	} {
		if e&v.bit != 0 {
			if s != "" {
				s += "|"
			}
			s += v.name
		}
	}
	return s
}

// FDInterest is a file descriptor and the events to wait for on it.
type FDInterest struct {
	FD     int
	Events IOEvents
}

// WaitIO suspends the current task until fd reports one of events, or
// timeout elapses (if positive). It returns the events that fired, or
// [ErrTimeout].
//
// Called outside a task, it blocks the calling goroutine in poll(2).
func WaitIO(fd int, events IOEvents, timeout time.Duration) (IOEvents, error) {
	revents, err := WaitIOMulti([]FDInterest{{FD: fd, Events: events}}, timeout)
	if len(revents) == 0 {
		return 0, err
	}
	return revents[0], err
}

// WaitIOMulti waits for the first of several interests, returning the
// events observed for each (in order, with repeated fds merged into their
// first occurrence). The wait is satisfied by any fd becoming ready.
func WaitIOMulti(interests []FDInterest, timeout time.Duration) ([]IOEvents, error) {
	fds, err := mergeInterests(interests)
	if err != nil {
		return nil, err
	}
	t := currentTask()
	if t == nil {
		return pollFDs(fds, timeout)
	}
	s := &ioSentry{
		task:    t,
		fds:     fds,
		revents: make([]atomic.Uint32, len(fds)),
		timeout: timeout,
	}
	t.suspend(ioReq{s: s})
	return s.result(), s.err
}

func mergeInterests(interests []FDInterest) ([]FDInterest, error) {
	fds := make([]FDInterest, 0, len(interests))
	for _, in := range interests {
		if in.Events&(EventRead|EventWrite) == 0 {
			return nil, fmt.Errorf("%w: fd %d", ErrInvalidEvents, in.FD)
		}
		if i := slices.IndexFunc(fds, func(v FDInterest) bool { return v.FD == in.FD }); i >= 0 {
			fds[i].Events |= in.Events
			continue
		}
		fds = append(fds, in)
	}
	if len(fds) == 0 {
		return nil, ErrInvalidEvents
	}
	return fds, nil
}

// ioSentry is one task's registration with the reactor. Whichever of
// {readiness, timeout, registration failure} claims it first delivers the
// single wakeup.
type ioSentry struct {
	task    *Task
	fds     []FDInterest
	revents []atomic.Uint32
	timer   atomic.Pointer[timer.Timer]
	// err is written by the claimer, before the task is made runnable
	err     error
	timeout time.Duration
	claimed atomic.Bool
}

func (s *ioSentry) result() []IOEvents {
	out := make([]IOEvents, len(s.revents))
	for i := range s.revents {
		out[i] = IOEvents(s.revents[i].Load())
	}
	return out
}

// match records ev against s's interest in fd, reporting whether it is
// relevant.
func (s *ioSentry) match(fd int, ev IOEvents) bool {
	for i, in := range s.fds {
		if in.FD != fd {
			continue
		}
		if got := ev & (in.Events | alwaysReported); got != 0 {
			s.revents[i].Or(uint32(got))
			return true
		}
		return false
	}
	return false
}

// fdWatch is the set of sentries interested in one fd, registered with the
// poller for the union of their interests.
type fdWatch struct {
	sentries []*ioSentry
	interest IOEvents
}

// ioWait is the reactor: it maps fd readiness, reported by the platform
// poller, to sentry wakeups.
type ioWait struct {
	sched  *Scheduler
	poller *poller
	fds    map[int]*fdWatch
	// ready and batch are scratch space for the goroutine holding pollMu
	ready   []readyEvent
	batch   []*ioSentry
	waiting atomic.Int64
	mu      sync.Mutex
	pollMu  sync.Mutex
}

type readyEvent struct {
	fd     int
	events IOEvents
}

func newIOWait(s *Scheduler) *ioWait {
	w := &ioWait{
		sched: s,
		fds:   make(map[int]*fdWatch),
	}
	p, err := newPoller()
	if err != nil {
		s.logPollerError("create", err)
		return w
	}
	w.poller = p
	return w
}

// schedulerSwitch registers s, whose task has just switched out in the
// io_block state. Every interest is registered before the timeout is armed.
func (w *ioWait) schedulerSwitch(t *Task, s *ioSentry) {
	w.waiting.Add(1)
	if w.poller == nil {
		w.trigger(s, ErrIOUnsupported)
		return
	}

	var (
		regErr     error
		registered int
		ready      bool
	)
	w.mu.Lock()
	for i, in := range s.fds {
		switch err := w.watch(in, s); {
		case err == nil:
			registered++
		case errors.Is(err, errNotPollable):
			// regular files don't support readiness, and are always ready
			s.revents[i].Store(uint32(in.Events & (EventRead | EventWrite)))
			ready = true
		default:
			s.revents[i].Store(uint32(EventError))
			regErr = errors.Join(regErr, fmt.Errorf("cosched: watch fd %d: %w", in.FD, err))
		}
	}
	w.mu.Unlock()

	switch {
	case ready:
		w.trigger(s, nil)
		return
	case registered == 0:
		w.trigger(s, regErr)
		return
	}

	if s.timeout > 0 {
		tm := w.sched.timers.ExpireAfter(s.timeout, func() { w.trigger(s, ErrTimeout) })
		s.timer.Store(tm)
		if s.claimed.Load() {
			if tm := s.timer.Swap(nil); tm != nil {
				tm.Cancel()
			}
		}
	}
}

// trigger delivers s's wakeup, if nothing else has claimed it yet.
func (w *ioWait) trigger(s *ioSentry, err error) bool {
	if !w.claim(s) {
		return false
	}
	s.err = err
	w.sched.addRunnable(s.task)
	return true
}

// claim takes s out of the reactor, reporting false if another path got
// there first.
func (w *ioWait) claim(s *ioSentry) bool {
	if !s.claimed.CompareAndSwap(false, true) {
		return false
	}
	w.mu.Lock()
	for _, in := range s.fds {
		w.unwatch(in.FD, s)
	}
	w.mu.Unlock()
	w.waiting.Add(-1)
	if tm := s.timer.Swap(nil); tm != nil {
		tm.Cancel()
	}
	return true
}

// watch must be called with w.mu held.
func (w *ioWait) watch(in FDInterest, s *ioSentry) error {
	fw := w.fds[in.FD]
	if fw == nil {
		if err := w.poller.add(in.FD, in.Events); err != nil {
			return err
		}
		w.fds[in.FD] = &fdWatch{sentries: []*ioSentry{s}, interest: in.Events}
		return nil
	}
	if union := fw.interest | in.Events; union != fw.interest {
		if err := w.poller.modify(in.FD, union); err != nil {
			return err
		}
		fw.interest = union
	}
	fw.sentries = append(fw.sentries, s)
	return nil
}

// unwatch must be called with w.mu held. Errors are ignored: the fd may
// already have been closed, which removes it from the poller anyway.
func (w *ioWait) unwatch(fd int, s *ioSentry) {
	fw := w.fds[fd]
	if fw == nil {
		return
	}
	i := slices.Index(fw.sentries, s)
	if i < 0 {
		return
	}
	fw.sentries = slices.Delete(fw.sentries, i, i+1)
	if len(fw.sentries) == 0 {
		delete(w.fds, fd)
		_ = w.poller.remove(fd)
		return
	}
	var union IOEvents
	for _, o := range fw.sentries {
		for _, in := range o.fds {
			if in.FD == fd {
				union |= in.Events
			}
		}
	}
	if union != fw.interest {
		fw.interest = union
		_ = w.poller.modify(fd, union)
	}
}

// tryAcquire makes the caller the polling goroutine, if no one else is.
func (w *ioWait) tryAcquire() bool {
	return w.poller != nil && w.pollMu.TryLock()
}

func (w *ioWait) release() {
	w.pollMu.Unlock()
}

// poll is the non-blocking reactor check made between run passes. It does
// nothing if nobody is waiting or another goroutine is polling.
func (w *ioWait) poll() int {
	if w.waiting.Load() == 0 || !w.tryAcquire() {
		return 0
	}
	defer w.release()
	return w.waitLoop(0)
}

// waitLoop blocks in the poller for up to timeout, then triggers every
// sentry that became ready. The caller must hold pollMu.
func (w *ioWait) waitLoop(timeout time.Duration) int {
	var err error
	w.ready, err = w.poller.wait(timeout, w.ready[:0])
	if err != nil {
		w.sched.logPollerError("wait", err)
		return 0
	}
	if len(w.ready) == 0 {
		return 0
	}

	w.batch = w.batch[:0]
	w.mu.Lock()
	for _, ev := range w.ready {
		if fw := w.fds[ev.fd]; fw != nil {
			for _, s := range fw.sentries {
				if s.match(ev.fd, ev.events) {
					w.batch = append(w.batch, s)
				}
			}
		}
	}
	w.mu.Unlock()

	var n int
	for i, s := range w.batch {
		if w.trigger(s, nil) {
			n++
		}
		w.batch[i] = nil
	}
	return n
}

// wakeup interrupts a goroutine blocked in waitLoop.
func (w *ioWait) wakeup() {
	if w.poller == nil {
		return
	}
	if err := w.poller.wakeup(); err != nil {
		w.sched.logPollerError("wakeup", err)
	}
}

func (w *ioWait) len() int {
	return int(w.waiting.Load())
}

func (w *ioWait) close() {
	if w.poller == nil {
		return
	}
	if err := w.poller.close(); err != nil {
		w.sched.logPollerError("close", err)
	}
}
