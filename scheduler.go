package cosched

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/go-catrate"
	"github.com/yyzybb537/libgo-sub002/timer"
	"golang.org/x/sync/errgroup"
)

// Scheduler multiplexes tasks onto a fixed set of processers, each driven by
// one worker goroutine, and owns the reactor, sleep set and timers that
// suspended tasks wait in.
//
// Everything a task can wait on eventually calls back into the scheduler
// (addRunnable) to make the task runnable again; that is the only way a
// suspended task re-enters a run queue.
type Scheduler struct {
	opts         *schedulerOptions
	timers       *timer.Manager
	io           *ioWait
	sleep        *sleepWait
	stealLimiter *catrate.Limiter
	metrics      *schedulerMetrics
	drained      chan struct{}
	procs        []*Processer
	errs         []error

	registry    sync.Map
	workers     atomic.Pointer[workerGroup]
	pollingProc atomic.Pointer[Processer]
	steals      atomic.Uint64
	nextProc    atomic.Uint32
	state       schedulerState
	live        int

	liveMu sync.Mutex
	errMu  sync.Mutex
	runMu  sync.Mutex
}

// workerGroup is one generation of running workers.
type workerGroup struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Scheduler. Workers are not started until [Scheduler.Start]
// or [Scheduler.RunUntilNoTask].
func New(opts ...Option) (*Scheduler, error) {
	cfg, err := resolveSchedulerOptions(opts)
	if err != nil {
		return nil, err
	}
	limiter, err := newStealLimiter(cfg.stealRates)
	if err != nil {
		return nil, err
	}

	s := &Scheduler{
		opts:         cfg,
		stealLimiter: limiter,
		drained:      make(chan struct{}),
	}
	close(s.drained)
	s.timers = timer.NewManager(timer.WithOnEarliest(s.kickIdle))
	s.procs = make([]*Processer, cfg.processers)
	for i := range s.procs {
		s.procs[i] = newProcesser(s, i)
	}
	s.sleep = &sleepWait{sched: s}
	s.io = newIOWait(s)
	if cfg.metricsEnabled {
		s.metrics = newSchedulerMetrics()
	}
	return s, nil
}

// Go creates a task running fn and makes it runnable. Called from within a
// task of this scheduler, the new task is queued on the caller's processer.
func (s *Scheduler) Go(fn func(), opts ...TaskOption) (*Task, error) {
	if fn == nil {
		return nil, ErrNilFunc
	}
	if !s.state.canAcceptWork() {
		return nil, ErrSchedulerClosed
	}
	cfg, err := resolveTaskOptions(s.opts, opts)
	if err != nil {
		return nil, err
	}
	location := "unknown"
	if _, file, line, ok := runtime.Caller(1); ok {
		location = fmt.Sprintf("%s:%d", file, line)
	}
	t, err := newTask(s, fn, location, cfg)
	if err != nil {
		return nil, err
	}
	s.track(t)
	if !s.state.canAcceptWork() {
		s.untrack(t)
		t.releaseRuntime()
		return nil, ErrSchedulerClosed
	}
	s.addRunnable(t)
	return t, nil
}

// ExpireAt runs fn on a worker at (or after) deadline, unless the returned
// timer is cancelled first. A panicking fn is handled by the exception
// policy, like a panicking task.
func (s *Scheduler) ExpireAt(deadline time.Time, fn func()) *timer.Timer {
	return s.timers.ExpireAt(deadline, s.guardTimer(fn))
}

// ExpireAfter is shorthand for ExpireAt(now+d, fn).
func (s *Scheduler) ExpireAfter(d time.Duration, fn func()) *timer.Timer {
	return s.timers.ExpireAfter(d, s.guardTimer(fn))
}

// CancelTimer is [timer.Timer.Cancel]: it gives up if the timer is firing.
func (s *Scheduler) CancelTimer(t *timer.Timer) bool {
	return t.Cancel()
}

// BlockCancelTimer is [timer.Timer.BlockCancel]: it waits out a concurrent
// firing.
func (s *Scheduler) BlockCancelTimer(t *timer.Timer) bool {
	return t.BlockCancel()
}

func (s *Scheduler) guardTimer(fn func()) func() {
	return func() {
		defer func() {
			if r := recover(); r != nil {
				s.reportError(&PanicError{Value: r, Location: "timer", Stack: debug.Stack()})
			}
		}()
		fn()
	}
}

// Start launches the workers in the background. They run until
// [Scheduler.Shutdown] or [Scheduler.Close], or until a task failure
// propagates under [PropagateImmediately].
func (s *Scheduler) Start() error {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	return s.startLocked()
}

func (s *Scheduler) startLocked() error {
	if wg := s.workers.Load(); wg != nil {
		select {
		case <-wg.done:
			// a propagated failure stopped them, start a new generation
			s.stopLocked()
		default:
		}
	}
	if !s.state.tryTransition(StateIdle, StateRunning) {
		if s.state.load() == StateRunning {
			return ErrSchedulerRunning
		}
		return ErrSchedulerClosed
	}

	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)
	for _, p := range s.procs {
		g.Go(func() error { return s.work(gctx, p) })
	}
	wg := &workerGroup{cancel: cancel, done: make(chan struct{})}
	go func() {
		// errors were recorded as they happened
		_ = g.Wait()
		cancel()
		close(wg.done)
	}()
	s.workers.Store(wg)
	s.logLifecycle("cosched: workers started")
	return nil
}

// stopLocked stops the current workers, waiting for them to exit.
func (s *Scheduler) stopLocked() {
	wg := s.workers.Load()
	if wg == nil {
		return
	}
	wg.cancel()
	s.io.wakeup()
	for _, p := range s.procs {
		p.notify()
	}
	<-wg.done
	s.workers.Store(nil)
	s.state.tryTransition(StateRunning, StateIdle)
	s.logLifecycle("cosched: workers stopped")
}

// RunUntilNoTask runs the workers until every task has finished, a task
// failure propagates, or ctx is done. Workers it had to start are stopped
// again before it returns; workers started by [Scheduler.Start] are left
// running.
//
// The result joins every error collected since the last call: propagated
// and deferred task failures, then ctx's error. A task that never becomes
// runnable again (e.g. parked on a BlockObject no one wakes) keeps this
// from returning until ctx is done.
func (s *Scheduler) RunUntilNoTask(ctx context.Context) error {
	s.runMu.Lock()
	err := s.startLocked()
	owned := err == nil
	if err != nil && !errors.Is(err, ErrSchedulerRunning) {
		s.runMu.Unlock()
		return err
	}
	wg := s.workers.Load()
	s.runMu.Unlock()

	var ctxErr error
	select {
	case <-s.drainedCh():
	case <-wg.done:
	case <-ctx.Done():
		ctxErr = ctx.Err()
	}

	if owned {
		s.runMu.Lock()
		if s.workers.Load() == wg {
			s.stopLocked()
		}
		s.runMu.Unlock()
	}
	return errors.Join(append(s.takeErrors(), ctxErr)...)
}

// Shutdown waits for running workers to finish every task (or for ctx to
// be done), then closes the scheduler. It returns the errors collected
// since the last join, plus ctx's error if it gave up waiting.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	var ctxErr error
	if wg := s.workers.Load(); wg != nil {
		select {
		case <-s.drainedCh():
		case <-wg.done:
		case <-ctx.Done():
			ctxErr = ctx.Err()
		}
	}
	if err := s.Close(); err != nil {
		return err
	}
	return errors.Join(append(s.takeErrors(), ctxErr)...)
}

// Close stops the workers immediately and releases every unfinished task.
// Tasks suspended at that point are unwound: their deferred calls run, on
// the calling goroutine, as if their suspend point had panicked.
func (s *Scheduler) Close() error {
	s.runMu.Lock()
	for {
		state := s.state.load()
		if state == StateStopping || state == StateStopped {
			s.runMu.Unlock()
			return ErrSchedulerClosed
		}
		if s.state.tryTransition(state, StateStopping) {
			break
		}
	}
	s.stopLocked()
	s.runMu.Unlock()

	for _, p := range s.procs {
		p.runq.popAll()
	}
	s.registry.Range(func(_, v any) bool {
		t := v.(*Task)
		s.detach(t)
		t.ctx.Close()
		s.untrack(t)
		t.releaseRuntime()
		return true
	})
	s.io.close()
	s.state.store(StateStopped)
	s.logLifecycle("cosched: closed")
	return nil
}

// detach claims t back from the wait it is parked in, if any, so nothing
// can deliver a wakeup to it once it is unwound. The workers must be
// stopped.
func (s *Scheduler) detach(t *Task) {
	switch req := t.pending.(type) {
	case sleepReq:
		s.sleep.detach(t)
	case ioReq:
		s.io.claim(req.s)
	case blockReq:
		req.w.obj.detach(t, req.w)
	}
}

// State returns the scheduler's lifecycle state.
func (s *Scheduler) State() SchedulerState {
	return s.state.load()
}

// Metrics returns a snapshot of the runtime metrics, or nil if the
// scheduler was not created with [WithMetrics].
func (s *Scheduler) Metrics() *Metrics {
	if s.metrics == nil {
		return nil
	}
	return s.metrics.snapshot()
}

// work is one worker's loop: a run pass, then timers and a non-blocking
// reactor check, then stealing, and only then blocking until woken.
func (s *Scheduler) work(ctx context.Context, p *Processer) error {
	for ctx.Err() == nil {
		if err := p.run(); err != nil {
			s.logFatal(err)
			return err
		}
		p.fireTimers()
		s.io.poll()
		if p.runq.len() != 0 {
			continue
		}
		n, retry := s.stealHalf(p)
		if n != 0 {
			continue
		}
		s.idle(ctx, p, retry)
	}
	return nil
}

// idle blocks p until it is woken, the next timer is due, or the idle bound
// elapses. One idle worker at a time blocks in the reactor instead of on its
// wake channel.
func (s *Scheduler) idle(ctx context.Context, p *Processer, retry time.Duration) {
	d := s.opts.maxIdleSleep
	if next := s.timers.NextDeadline(); next != timer.NoDeadline {
		d = min(d, next)
	}
	if retry > 0 {
		d = min(d, retry)
	}
	if d <= 0 {
		return
	}

	p.parked.Store(true)
	defer p.parked.Store(false)

	if s.io.tryAcquire() {
		s.pollingProc.Store(p)
		if p.runq.len() == 0 && !p.consumeNotify() && ctx.Err() == nil {
			s.io.waitLoop(d)
		}
		s.pollingProc.Store(nil)
		s.io.release()
		return
	}
	p.park(ctx, d)
}

// addRunnable is the single path by which a task becomes runnable, whether
// new or woken from any wait structure. The caller must hold the claim on t.
func (s *Scheduler) addRunnable(t *Task) {
	t.state.Store(uint32(StateRunnable))
	p := s.pickProcesser(t)
	p.runq.push(t)
	p.notify()
	if s.pollingProc.Load() == p {
		s.io.wakeup()
	}
	if s.opts.stealing && !p.parked.Load() {
		s.kickIdle()
	}
}

func (s *Scheduler) pickProcesser(t *Task) *Processer {
	if cur := currentTask(); cur != nil && cur.sched == s && cur.proc != nil {
		return cur.proc
	}
	if p := t.lastProc.Load(); p != nil {
		return p
	}
	return s.leastLoaded()
}

// leastLoaded scans from a rotating offset, so ties are spread round-robin.
func (s *Scheduler) leastLoaded() *Processer {
	start := int(s.nextProc.Add(1))
	var (
		best  *Processer
		bestN int
	)
	for i := range s.procs {
		p := s.procs[(start+i)%len(s.procs)]
		if n := p.runq.len(); best == nil || n < bestN {
			best, bestN = p, n
			if n == 0 {
				break
			}
		}
	}
	return best
}

// kickIdle wakes one idle worker, if any, so it can steal or service a
// new earliest timer.
func (s *Scheduler) kickIdle() {
	for _, p := range s.procs {
		if p.parked.Load() {
			p.notify()
			if s.pollingProc.Load() == p {
				s.io.wakeup()
			}
			return
		}
	}
}

// finish handles a task whose context has completed, applying the exception
// policy to its error. The returned error stops the calling worker.
func (s *Scheduler) finish(t *Task) error {
	err := t.Err()
	if err != nil {
		s.reportTaskError(t, err)
	}
	s.untrack(t)
	if s.metrics != nil {
		s.metrics.TPS.Increment()
	}
	t.releaseRuntime()
	if err != nil && s.opts.exceptionPolicy == PropagateImmediately {
		return err
	}
	return nil
}

func (s *Scheduler) reportTaskError(t *Task, err error) {
	switch s.opts.exceptionPolicy {
	case PropagateImmediately, DeferUntilJoin:
		s.addError(err)
	default:
		s.logTaskError(t, err)
	}
}

// reportError handles failures that have no worker to unwind, such as a
// panicking timer callback.
func (s *Scheduler) reportError(err error) {
	switch s.opts.exceptionPolicy {
	case PropagateImmediately:
		s.addError(err)
		s.logFatal(err)
		if wg := s.workers.Load(); wg != nil {
			wg.cancel()
		}
	case DeferUntilJoin:
		s.addError(err)
	default:
		s.opts.logger.Err().Err(err).Log("cosched: timer callback failed")
	}
}

func (s *Scheduler) addError(err error) {
	s.errMu.Lock()
	s.errs = append(s.errs, err)
	s.errMu.Unlock()
}

func (s *Scheduler) takeErrors() []error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	errs := s.errs
	s.errs = nil
	return errs
}

func (s *Scheduler) track(t *Task) {
	s.registry.Store(t.id, t)
	s.liveMu.Lock()
	if s.live == 0 {
		s.drained = make(chan struct{})
	}
	s.live++
	s.liveMu.Unlock()
}

func (s *Scheduler) untrack(t *Task) {
	if _, ok := s.registry.LoadAndDelete(t.id); !ok {
		return
	}
	s.liveMu.Lock()
	s.live--
	if s.live == 0 {
		close(s.drained)
	}
	s.liveMu.Unlock()
}

// drainedCh returns a channel that is closed once no tasks remain.
func (s *Scheduler) drainedCh() <-chan struct{} {
	s.liveMu.Lock()
	defer s.liveMu.Unlock()
	return s.drained
}

func (s *Scheduler) liveTasks() int {
	s.liveMu.Lock()
	defer s.liveMu.Unlock()
	return s.live
}
