package timer

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func fireAll(timers []*Timer) {
	for _, t := range timers {
		t.Fire()
	}
}

func TestManager_GetExpired_ordering(t *testing.T) {
	clock := newFakeClock()
	m := NewManager(WithClock(clock.Now))

	var order []string
	record := func(s string) func() { return func() { order = append(order, s) } }

	m.ExpireAfter(30*time.Millisecond, record("d3"))
	m.ExpireAfter(10*time.Millisecond, record("d1"))
	m.ExpireAfter(20*time.Millisecond, record("d2"))
	m.ExpireAfter(20*time.Millisecond, record("d2-later"))

	expired, next := m.GetExpired(nil, 0)
	assert.Empty(t, expired)
	assert.Equal(t, 10*time.Millisecond, next)

	clock.Advance(time.Second)
	expired, next = m.GetExpired(nil, 0)
	assert.Equal(t, NoDeadline, next)
	fireAll(expired)

	if diff := cmp.Diff([]string{"d1", "d2", "d2-later", "d3"}, order); diff != "" {
		t.Errorf("unexpected fire order (-want +got):\n%s", diff)
	}
	assert.Zero(t, m.Len())
}

func TestManager_GetExpired_limit(t *testing.T) {
	clock := newFakeClock()
	m := NewManager(WithClock(clock.Now))
	for i := range 5 {
		m.ExpireAfter(time.Duration(i)*time.Millisecond, func() {})
	}
	clock.Advance(10 * time.Millisecond)

	expired, next := m.GetExpired(nil, 2)
	require.Len(t, expired, 2)
	assert.Equal(t, time.Duration(0), next, "remaining timers are already due")
	assert.Equal(t, 3, m.Len())

	expired, next = m.GetExpired(expired[:0], 0)
	assert.Len(t, expired, 3)
	assert.Equal(t, NoDeadline, next)
}

func TestTimer_cancelBeforeFire(t *testing.T) {
	m := NewManager()
	var ran atomic.Bool
	tm := m.ExpireAfter(50*time.Millisecond, func() { ran.Store(true) })
	assert.True(t, tm.Cancel())
	assert.Zero(t, m.Len())

	time.Sleep(60 * time.Millisecond)
	expired, _ := m.GetExpired(nil, 0)
	fireAll(expired)
	assert.Empty(t, expired)
	assert.False(t, ran.Load())
	assert.False(t, tm.Fire())
	assert.False(t, tm.Cancel(), "second cancel is a no-op")
}

func TestTimer_cancelAfterFire(t *testing.T) {
	m := NewManager()
	var ran atomic.Int32
	tm := m.ExpireAfter(10*time.Millisecond, func() { ran.Add(1) })

	require.Eventually(t, func() bool {
		expired, _ := m.GetExpired(nil, 0)
		fireAll(expired)
		return ran.Load() == 1
	}, time.Second, time.Millisecond)

	assert.False(t, tm.Cancel())
	assert.False(t, tm.BlockCancel())
	assert.Equal(t, int32(1), ran.Load())
}

func TestTimer_cancelDuringFire(t *testing.T) {
	m := NewManager()
	entered := make(chan struct{})
	release := make(chan struct{})
	tm := m.ExpireAt(time.Time{}, func() {
		close(entered)
		<-release
	})

	fired := make(chan bool)
	go func() { fired <- tm.Fire() }()
	<-entered

	assert.False(t, tm.Cancel(), "losing the claim must not cancel")

	blocked := make(chan bool)
	go func() { blocked <- tm.BlockCancel() }()
	select {
	case <-blocked:
		t.Fatal("BlockCancel returned while the callback was running")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	assert.True(t, <-fired)
	assert.False(t, <-blocked)
}

func TestTimer_claimRace(t *testing.T) {
	const n = 10_000
	m := NewManager()
	var fired, cancelled atomic.Int64
	timers := make([]*Timer, n)
	for i := range timers {
		timers[i] = m.ExpireAt(time.Time{}, func() { fired.Add(1) })
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for _, tm := range timers {
			tm.Fire()
		}
	}()
	go func() {
		defer wg.Done()
		for _, tm := range timers {
			if tm.BlockCancel() {
				cancelled.Add(1)
			}
		}
	}()
	wg.Wait()

	assert.Equal(t, int64(n), fired.Load()+cancelled.Load())
	assert.Zero(t, m.Len())
}

func TestManager_onEarliest(t *testing.T) {
	clock := newFakeClock()
	var calls int
	m := NewManager(WithClock(clock.Now), WithOnEarliest(func() { calls++ }))

	m.ExpireAfter(time.Second, func() {})
	assert.Equal(t, 1, calls)
	m.ExpireAfter(2*time.Second, func() {})
	assert.Equal(t, 1, calls, "later deadline does not become earliest")
	m.ExpireAfter(time.Millisecond, func() {})
	assert.Equal(t, 2, calls)
	assert.Equal(t, time.Millisecond, m.NextDeadline())
}

func TestManager_cancelMiddle(t *testing.T) {
	clock := newFakeClock()
	m := NewManager(WithClock(clock.Now))
	var order []int
	timers := make([]*Timer, 6)
	for i := range timers {
		timers[i] = m.ExpireAfter(time.Duration(i+1)*time.Millisecond, func() { order = append(order, i) })
	}
	require.True(t, timers[2].Cancel())
	require.True(t, timers[4].Cancel())

	clock.Advance(time.Second)
	expired, _ := m.GetExpired(nil, 0)
	fireAll(expired)
	assert.Equal(t, []int{0, 1, 3, 5}, order)
}
