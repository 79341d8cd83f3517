// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package cosched

import (
	"errors"
	"fmt"
	"maps"
	"runtime"
	"time"

	"github.com/joeycumines/logiface"
	"github.com/yyzybb537/libgo-sub002/coro"
)

// ExceptionPolicy decides what happens to the error captured from a task
// that panicked or whose context failed.
type ExceptionPolicy int

const (
	// PropagateImmediately stops the scheduler with the error as soon as
	// the task finishes. [Scheduler.RunUntilNoTask] returns it.
	PropagateImmediately ExceptionPolicy = iota
	// DeferUntilJoin collects errors, returning them (joined) from
	// [Scheduler.RunUntilNoTask], while the other tasks keep running.
	DeferUntilJoin
	// RecordOnly logs the error and otherwise drops it. The failed task
	// is still visible through [Task.Err].
	RecordOnly
)

// String returns a human-readable representation of the policy.
func (p ExceptionPolicy) String() string {
	switch p {
	case PropagateImmediately:
		return "propagate"
	case DeferUntilJoin:
		return "defer"
	case RecordOnly:
		return "record"
	default:
		return fmt.Sprintf("ExceptionPolicy(%d)", int(p))
	}
}

const (
	defaultStackSize    = 128 << 10
	defaultMaxIdleSleep = 20 * time.Millisecond
	defaultTimerBatch   = 128
)

// defaultStealRates bounds how often each idle processer may attempt to steal,
// so heavily skewed load cannot turn every worker into a busy thief.
var defaultStealRates = map[time.Duration]int{
	time.Millisecond:      4,
	10 * time.Millisecond: 16,
	time.Second:           512,
}

// schedulerOptions holds the configuration resolved by [New]. It is never
// modified after New returns.
type schedulerOptions struct {
	logger          *logiface.Logger[logiface.Event]
	newContext      coro.Factory
	stealRates      map[time.Duration]int
	processers      int
	stackSize       int
	maxRunPerPass   int
	timerBatch      int
	maxIdleSleep    time.Duration
	exceptionPolicy ExceptionPolicy
	stealing        bool
	debug           bool
	metricsEnabled  bool
}

// Option configures a [Scheduler].
type Option interface {
	applyScheduler(*schedulerOptions) error
}

// schedulerOptionImpl implements Option.
type schedulerOptionImpl struct {
	applySchedulerFunc func(*schedulerOptions) error
}

func (o *schedulerOptionImpl) applyScheduler(opts *schedulerOptions) error {
	return o.applySchedulerFunc(opts)
}

// WithProcessers sets the number of processers, each driven by its own
// worker goroutine. Defaults to GOMAXPROCS.
func WithProcessers(n int) Option {
	return &schedulerOptionImpl{func(opts *schedulerOptions) error {
		if n <= 0 {
			return fmt.Errorf("cosched: invalid processer count: %d", n)
		}
		opts.processers = n
		return nil
	}}
}

// WithStackSize sets the default stack size hint for new tasks.
func WithStackSize(n int) Option {
	return &schedulerOptionImpl{func(opts *schedulerOptions) error {
		if n < 0 {
			return fmt.Errorf("cosched: invalid stack size: %d", n)
		}
		opts.stackSize = n
		return nil
	}}
}

// WithExceptionPolicy sets how task failures are surfaced.
// Defaults to [PropagateImmediately].
func WithExceptionPolicy(policy ExceptionPolicy) Option {
	return &schedulerOptionImpl{func(opts *schedulerOptions) error {
		switch policy {
		case PropagateImmediately, DeferUntilJoin, RecordOnly:
		default:
			return fmt.Errorf("cosched: invalid exception policy: %v", policy)
		}
		opts.exceptionPolicy = policy
		return nil
	}}
}

// WithStealing enables or disables work stealing between processers.
// Enabled by default.
func WithStealing(enabled bool) Option {
	return &schedulerOptionImpl{func(opts *schedulerOptions) error {
		opts.stealing = enabled
		return nil
	}}
}

// WithStealRates sets the sliding-window limits on steal attempts, applied
// per processer. Shorter windows must allow fewer attempts than longer ones,
// at a higher effective rate, e.g. {time.Millisecond: 4, time.Second: 512}.
// An idle processer that has exhausted its budget parks instead of
// stealing.
func WithStealRates(rates map[time.Duration]int) Option {
	return &schedulerOptionImpl{func(opts *schedulerOptions) error {
		if len(rates) == 0 {
			return errors.New("cosched: empty steal rates")
		}
		opts.stealRates = maps.Clone(rates)
		return nil
	}}
}

// WithMaxRunPerPass caps the number of tasks a processer resumes before it
// services timers and I/O again. Zero (the default) means the length of the
// run queue at the start of the pass.
func WithMaxRunPerPass(n int) Option {
	return &schedulerOptionImpl{func(opts *schedulerOptions) error {
		if n < 0 {
			return fmt.Errorf("cosched: invalid max run per pass: %d", n)
		}
		opts.maxRunPerPass = n
		return nil
	}}
}

// WithMaxIdleSleep bounds how long an idle worker blocks before rechecking
// for work to steal. Defaults to 20ms.
func WithMaxIdleSleep(d time.Duration) Option {
	return &schedulerOptionImpl{func(opts *schedulerOptions) error {
		if d <= 0 {
			return fmt.Errorf("cosched: invalid max idle sleep: %v", d)
		}
		opts.maxIdleSleep = d
		return nil
	}}
}

// WithTimerBatch sets the maximum number of expired timers a worker fires
// per loop iteration. Defaults to 128.
func WithTimerBatch(n int) Option {
	return &schedulerOptionImpl{func(opts *schedulerOptions) error {
		if n <= 0 {
			return fmt.Errorf("cosched: invalid timer batch: %d", n)
		}
		opts.timerBatch = n
		return nil
	}}
}

// WithContextFactory overrides how task contexts are created.
// Defaults to [coro.NewPull].
func WithContextFactory(factory coro.Factory) Option {
	return &schedulerOptionImpl{func(opts *schedulerOptions) error {
		if factory == nil {
			return errors.New("cosched: nil context factory")
		}
		opts.newContext = factory
		return nil
	}}
}

// WithLogger sets the structured logger. A nil logger disables logging.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &schedulerOptionImpl{func(opts *schedulerOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithDebug makes misuse, such as releasing a task more times than it was
// retained, panic rather than being logged.
func WithDebug(enabled bool) Option {
	return &schedulerOptionImpl{func(opts *schedulerOptions) error {
		opts.debug = enabled
		return nil
	}}
}

// WithMetrics enables runtime metrics collection, accessible via
// [Scheduler.Metrics]. This adds a clock read around every task slice.
func WithMetrics(enabled bool) Option {
	return &schedulerOptionImpl{func(opts *schedulerOptions) error {
		opts.metricsEnabled = enabled
		return nil
	}}
}

// resolveSchedulerOptions applies Option instances to schedulerOptions.
func resolveSchedulerOptions(opts []Option) (*schedulerOptions, error) {
	cfg := &schedulerOptions{
		newContext:   coro.NewPull,
		stealRates:   defaultStealRates,
		processers:   runtime.GOMAXPROCS(0),
		stackSize:    defaultStackSize,
		timerBatch:   defaultTimerBatch,
		maxIdleSleep: defaultMaxIdleSleep,
		stealing:     true,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyScheduler(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// taskOptions holds per-task configuration.
type taskOptions struct {
	debugInfo string
	stackSize int
}

// TaskOption configures a single task created by [Scheduler.Go].
type TaskOption interface {
	applyTask(*taskOptions) error
}

type taskOptionImpl struct {
	applyTaskFunc func(*taskOptions) error
}

func (o *taskOptionImpl) applyTask(opts *taskOptions) error {
	return o.applyTaskFunc(opts)
}

// WithTaskStackSize overrides the scheduler's default stack size hint.
func WithTaskStackSize(n int) TaskOption {
	return &taskOptionImpl{func(opts *taskOptions) error {
		if n < 0 {
			return fmt.Errorf("cosched: invalid stack size: %d", n)
		}
		opts.stackSize = n
		return nil
	}}
}

// WithDebugInfo attaches a free-form label, reported by [Task.DebugInfo]
// and [Scheduler.Tasks].
func WithDebugInfo(info string) TaskOption {
	return &taskOptionImpl{func(opts *taskOptions) error {
		opts.debugInfo = info
		return nil
	}}
}

func resolveTaskOptions(defaults *schedulerOptions, opts []TaskOption) (*taskOptions, error) {
	cfg := &taskOptions{stackSize: defaults.stackSize}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyTask(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
