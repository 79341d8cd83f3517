package cosync

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	cosched "github.com/yyzybb537/libgo-sub002"
)

func TestChannel_buffered(t *testing.T) {
	c := NewChannel[int](2)
	assert.Equal(t, 2, c.Cap())
	assert.True(t, c.TrySend(1))
	assert.True(t, c.TrySend(2))
	assert.False(t, c.TrySend(3))
	assert.Equal(t, 2, c.Len())

	v, ok := c.TryRecv()
	assert.True(t, ok)
	assert.Equal(t, 1, v)
	v, ok = c.TryRecv()
	assert.True(t, ok)
	assert.Equal(t, 2, v)
	_, ok = c.TryRecv()
	assert.False(t, ok)
	assert.Zero(t, c.Len())

	// failed receives hand back their credit
	assert.True(t, c.TrySend(4))
	assert.True(t, c.TrySend(5))
	assert.False(t, c.TrySend(6))
}

func TestChannel_negativeCapacity(t *testing.T) {
	assert.Panics(t, func() { NewChannel[int](-1) })
}

func TestChannel_unbufferedNeedsReceiver(t *testing.T) {
	c := NewChannel[string](0)
	assert.False(t, c.TrySend("x"))
	assert.False(t, c.SendTimeout("x", 5*time.Millisecond))
	_, ok := c.RecvTimeout(5 * time.Millisecond)
	assert.False(t, ok)
	assert.False(t, c.TrySend("x"), "timed out receive took back its credit")
}

func TestChannel_fifoBetweenTasks(t *testing.T) {
	for _, capacity := range []int{0, 1, 16} {
		s := newTestScheduler(t, cosched.WithProcessers(3))
		c := NewChannel[int](capacity)

		const n = 500
		var got []int
		_, err := s.Go(func() {
			for i := range n {
				c.Send(i)
			}
		})
		require.NoError(t, err)
		_, err = s.Go(func() {
			for range n {
				v, ok := c.Recv()
				assert.True(t, ok)
				got = append(got, v)
			}
		})
		require.NoError(t, err)
		runAll(t, s)

		want := make([]int, n)
		for i := range want {
			want[i] = i
		}
		assert.Equal(t, want, got, "capacity %d", capacity)
		assert.Zero(t, c.Len())
	}
}

func TestChannel_manyProducersConsumers(t *testing.T) {
	s := newTestScheduler(t, cosched.WithProcessers(4))
	c := NewChannel[int](4)

	const (
		producers = 10
		perTask   = 100
	)
	var (
		mu   sync.Mutex
		seen = make(map[int]int)
	)
	for p := range producers {
		_, err := s.Go(func() {
			for i := range perTask {
				c.Send(p*perTask + i)
			}
		})
		require.NoError(t, err)
		_, err = s.Go(func() {
			for range perTask {
				v, _ := c.Recv()
				mu.Lock()
				seen[v]++
				mu.Unlock()
			}
		})
		require.NoError(t, err)
	}
	runAll(t, s)

	assert.Len(t, seen, producers*perTask)
	for v, n := range seen {
		assert.Equal(t, 1, n, "value %d", v)
	}
}

func TestChannel_recvTimeoutInTask(t *testing.T) {
	s := newTestScheduler(t, cosched.WithProcessers(2))
	c := NewChannel[int](0)

	var (
		first, second atomic.Bool
		value         atomic.Int64
	)
	_, err := s.Go(func() {
		_, ok := c.RecvTimeout(5 * time.Millisecond)
		first.Store(ok)
		v, ok := c.RecvTimeout(time.Second)
		second.Store(ok)
		value.Store(int64(v))
	})
	require.NoError(t, err)
	_, err = s.Go(func() {
		cosched.Sleep(20 * time.Millisecond)
		assert.True(t, c.SendTimeout(7, time.Second))
	})
	require.NoError(t, err)
	runAll(t, s)

	assert.False(t, first.Load())
	assert.True(t, second.Load())
	assert.Equal(t, int64(7), value.Load())
}

func TestChannel_closeDrains(t *testing.T) {
	c := NewChannel[int](3)
	assert.True(t, c.TrySend(1))
	assert.True(t, c.TrySend(2))
	c.Close()
	assert.True(t, c.Closed())
	assert.False(t, c.TrySend(3))
	assert.False(t, c.Send(3))

	v, ok := c.Recv()
	assert.True(t, ok)
	assert.Equal(t, 1, v)
	v, ok = c.TryRecv()
	assert.True(t, ok)
	assert.Equal(t, 2, v)
	for range 3 {
		_, ok = c.Recv()
		assert.False(t, ok)
		_, ok = c.TryRecv()
		assert.False(t, ok)
		_, ok = c.RecvTimeout(time.Millisecond)
		assert.False(t, ok)
	}
	assert.Zero(t, c.Len())
}

func TestChannel_doubleClose(t *testing.T) {
	c := NewChannel[int](0)
	c.Close()
	assert.PanicsWithValue(t, "cosync: close of closed channel", c.Close)
}

func TestChannel_closeWakesBlockedReceivers(t *testing.T) {
	s := newTestScheduler(t, cosched.WithProcessers(2))
	c := NewChannel[int](0)

	const n = 5
	var woken atomic.Int64
	for range n {
		_, err := s.Go(func() {
			if _, ok := c.Recv(); !ok {
				woken.Add(1)
			}
		})
		require.NoError(t, err)
	}
	_, err := s.Go(func() {
		cosched.Sleep(10 * time.Millisecond)
		c.Close()
	})
	require.NoError(t, err)
	runAll(t, s)

	assert.Equal(t, int64(n), woken.Load())
}

func TestChannel_closeWakesBlockedSenders(t *testing.T) {
	s := newTestScheduler(t, cosched.WithProcessers(2))
	c := NewChannel[int](1)
	require.True(t, c.TrySend(42))

	const n = 5
	var rejected atomic.Int64
	for i := range n {
		_, err := s.Go(func() {
			if !c.Send(i) {
				rejected.Add(1)
			}
		})
		require.NoError(t, err)
	}
	_, err := s.Go(func() {
		cosched.Sleep(10 * time.Millisecond)
		c.Close()
	})
	require.NoError(t, err)
	runAll(t, s)

	assert.Equal(t, int64(n), rejected.Load())
	assert.Equal(t, 1, c.Len())
	v, ok := c.Recv()
	assert.True(t, ok)
	assert.Equal(t, 42, v)
	_, ok = c.Recv()
	assert.False(t, ok)
}
