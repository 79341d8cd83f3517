// Package timer implements cancellable one-shot deadline callbacks, and the
// manager that orders them.
//
// Every [Timer] either fires or is cancelled, never both. Firing and
// cancellation pass through the same per-timer claim: [Timer.Fire] and
// [Timer.Cancel] only try the claim, so whichever side gets it first wins and
// the other is a no-op. [Timer.BlockCancel] waits for the claim instead,
// which means it also waits for an in-flight callback to return.
package timer

import (
	"container/heap"
	"sync"
	"time"
)

// NoDeadline is returned by [Manager.GetExpired] when no timers are pending.
const NoDeadline time.Duration = -1

type (
	// Timer is a pending callback, created by [Manager.ExpireAt] or
	// [Manager.ExpireAfter].
	Timer struct {
		deadline time.Time
		fn       func()
		mgr      *Manager
		id       uint64
		// index in mgr.heap, or -1, guarded by mgr.mu
		index  int
		mu     sync.Mutex
		active bool
	}

	// Manager stores pending timers ordered by deadline, with ties broken by
	// registration order. It is safe for concurrent use.
	Manager struct {
		now        func() time.Time
		onEarliest func()
		heap       timerHeap
		nextID     uint64
		mu         sync.Mutex
	}

	// Option configures a Manager.
	Option func(m *Manager)

	timerHeap []*Timer
)

// WithClock overrides the time source, which defaults to [time.Now].
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithOnEarliest registers fn to be called, outside the manager's lock,
// whenever a newly added timer becomes the earliest pending one. It lets a
// caller blocked until the previous earliest deadline wake up early.
func WithOnEarliest(fn func()) Option {
	return func(m *Manager) {
		m.onEarliest = fn
	}
}

// NewManager returns an empty Manager.
func NewManager(options ...Option) *Manager {
	m := &Manager{now: time.Now}
	for _, o := range options {
		if o != nil {
			o(m)
		}
	}
	return m
}

// ExpireAt registers fn to run at deadline. The callback runs on whichever
// goroutine calls [Timer.Fire] for it, typically the consumer of
// [Manager.GetExpired].
func (m *Manager) ExpireAt(deadline time.Time, fn func()) *Timer {
	t := &Timer{
		deadline: deadline,
		fn:       fn,
		mgr:      m,
		active:   true,
	}
	m.mu.Lock()
	m.nextID++
	t.id = m.nextID
	heap.Push(&m.heap, t)
	earliest := t.index == 0
	m.mu.Unlock()
	if earliest && m.onEarliest != nil {
		m.onEarliest()
	}
	return t
}

// ExpireAfter is shorthand for ExpireAt(now+d, fn).
func (m *Manager) ExpireAfter(d time.Duration, fn func()) *Timer {
	return m.ExpireAt(m.now().Add(d), fn)
}

// GetExpired removes up to limit timers (all, if limit <= 0) whose deadline
// has passed, appending them to out in deadline order. The caller is
// expected to [Timer.Fire] each of them.
//
// The second return value is the time until the next pending deadline
// (zero if one is already due), or [NoDeadline] if none remain.
func (m *Manager) GetExpired(out []*Timer, limit int) ([]*Timer, time.Duration) {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for n := 0; len(m.heap) != 0 && (limit <= 0 || n < limit); n++ {
		if m.heap[0].deadline.After(now) {
			break
		}
		out = append(out, heap.Pop(&m.heap).(*Timer))
	}
	if len(m.heap) == 0 {
		return out, NoDeadline
	}
	return out, max(m.heap[0].deadline.Sub(now), 0)
}

// NextDeadline returns the time until the earliest pending deadline, or
// [NoDeadline].
func (m *Manager) NextDeadline() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.heap) == 0 {
		return NoDeadline
	}
	return max(m.heap[0].deadline.Sub(m.now()), 0)
}

// Len returns the number of pending timers.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.heap)
}

func (m *Manager) remove(t *Timer) {
	m.mu.Lock()
	if t.index >= 0 {
		heap.Remove(&m.heap, t.index)
	}
	m.mu.Unlock()
}

// ID returns the registration sequence number, unique per Manager.
func (t *Timer) ID() uint64 { return t.id }

// Deadline returns the time the timer is (or was) due.
func (t *Timer) Deadline() time.Time { return t.deadline }

// Fire runs the callback, if the timer is still active and the claim is
// uncontended, returning true if it ran. The claim is held while the
// callback runs, so the callback must not call BlockCancel on its own timer.
func (t *Timer) Fire() bool {
	if !t.mu.TryLock() {
		return false
	}
	defer t.mu.Unlock()
	if !t.active {
		return false
	}
	t.active = false
	t.mgr.remove(t)
	t.fn()
	return true
}

// Cancel deactivates the timer, returning true only if this call prevented
// the callback from running. It returns false if the timer already fired,
// was already cancelled, or is being fired right now.
func (t *Timer) Cancel() bool {
	if !t.mu.TryLock() {
		return false
	}
	defer t.mu.Unlock()
	return t.deactivate()
}

// BlockCancel is like Cancel, but waits out a concurrent Fire (including its
// callback) rather than giving up.
func (t *Timer) BlockCancel() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.deactivate()
}

func (t *Timer) deactivate() bool {
	if !t.active {
		return false
	}
	t.active = false
	t.mgr.remove(t)
	return true
}

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].deadline.Equal(h[j].deadline) {
		return h[i].id < h[j].id
	}
	return h[i].deadline.Before(h[j].deadline)
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	t := x.(*Timer)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}
