package cosched

import (
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yyzybb537/libgo-sub002/coro"
)

func TestResolveSchedulerOptions_defaults(t *testing.T) {
	cfg, err := resolveSchedulerOptions(nil)
	require.NoError(t, err)
	assert.Equal(t, runtime.GOMAXPROCS(0), cfg.processers)
	assert.Equal(t, defaultStackSize, cfg.stackSize)
	assert.Equal(t, defaultMaxIdleSleep, cfg.maxIdleSleep)
	assert.Equal(t, defaultTimerBatch, cfg.timerBatch)
	assert.Equal(t, PropagateImmediately, cfg.exceptionPolicy)
	assert.True(t, cfg.stealing)
	assert.False(t, cfg.debug)
	assert.False(t, cfg.metricsEnabled)
	assert.Nil(t, cfg.logger)
	assert.NotNil(t, cfg.newContext)
}

func TestResolveSchedulerOptions_invalid(t *testing.T) {
	for _, tc := range [...]struct {
		name string
		opt  Option
	}{
		{"zero processers", WithProcessers(0)},
		{"negative stack", WithStackSize(-1)},
		{"unknown policy", WithExceptionPolicy(ExceptionPolicy(42))},
		{"empty steal rates", WithStealRates(nil)},
		{"negative run per pass", WithMaxRunPerPass(-1)},
		{"zero idle sleep", WithMaxIdleSleep(0)},
		{"zero timer batch", WithTimerBatch(0)},
		{"nil factory", WithContextFactory(nil)},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(tc.opt)
			assert.Error(t, err)
		})
	}
}

func TestNew_invalidStealRates(t *testing.T) {
	_, err := New(WithStealRates(map[time.Duration]int{
		time.Second: 10,
		time.Minute: 5,
	}))
	assert.ErrorContains(t, err, "invalid steal rates")

	_, err = New(WithStealRates(map[time.Duration]int{time.Second: 0}))
	assert.Error(t, err)
}

func TestResolveSchedulerOptions_applied(t *testing.T) {
	rates := map[time.Duration]int{time.Second: 100}
	cfg, err := resolveSchedulerOptions([]Option{
		WithProcessers(3),
		WithStackSize(1 << 20),
		WithExceptionPolicy(RecordOnly),
		WithStealing(false),
		WithStealRates(rates),
		WithMaxRunPerPass(16),
		WithMaxIdleSleep(time.Millisecond),
		WithTimerBatch(8),
		WithContextFactory(coro.NewGoroutine),
		WithDebug(true),
		WithMetrics(true),
		nil,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.processers)
	assert.Equal(t, 1<<20, cfg.stackSize)
	assert.Equal(t, RecordOnly, cfg.exceptionPolicy)
	assert.False(t, cfg.stealing)
	assert.Equal(t, rates, cfg.stealRates)
	assert.Equal(t, 16, cfg.maxRunPerPass)
	assert.Equal(t, time.Millisecond, cfg.maxIdleSleep)
	assert.Equal(t, 8, cfg.timerBatch)
	assert.True(t, cfg.debug)
	assert.True(t, cfg.metricsEnabled)

	// the caller's map is copied
	rates[time.Second] = 1
	assert.Equal(t, 100, cfg.stealRates[time.Second])
}

func TestResolveTaskOptions(t *testing.T) {
	defaults := &schedulerOptions{stackSize: 4096}
	cfg, err := resolveTaskOptions(defaults, nil)
	require.NoError(t, err)
	assert.Equal(t, 4096, cfg.stackSize)

	cfg, err = resolveTaskOptions(defaults, []TaskOption{WithTaskStackSize(64), WithDebugInfo("x"), nil})
	require.NoError(t, err)
	assert.Equal(t, 64, cfg.stackSize)
	assert.Equal(t, "x", cfg.debugInfo)
}

func TestScheduler_maxRunPerPass(t *testing.T) {
	s := newTestScheduler(t, WithProcessers(1), WithMaxRunPerPass(1))
	var n int
	for range 5 {
		mustGo(t, s, func() { n++ })
	}
	require.NoError(t, runAll(t, s))
	assert.Equal(t, 5, n)
}

func TestStrings(t *testing.T) {
	assert.Equal(t, "propagate", PropagateImmediately.String())
	assert.Equal(t, "defer", DeferUntilJoin.String())
	assert.Equal(t, "record", RecordOnly.String())
	assert.Equal(t, "ExceptionPolicy(9)", ExceptionPolicy(9).String())

	assert.Equal(t, "sys_block", StateSysBlock.String())
	assert.Equal(t, "unknown", TaskState(99).String())
	assert.Equal(t, "Running", StateRunning.String())
	assert.Equal(t, "Unknown", SchedulerState(99).String())
}
