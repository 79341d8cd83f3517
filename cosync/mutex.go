// Package cosync provides synchronization primitives for cosched tasks.
//
// Blocking operations suspend the calling task rather than its worker
// goroutine. Called outside a task they still work, by polling.
package cosync

import (
	"sync"
	"sync/atomic"
	"time"

	cosched "github.com/yyzybb537/libgo-sub002"
)

// Mutex is a mutual exclusion lock for tasks. Waiters acquire it in FIFO
// order. The zero value is not usable; use [NewMutex].
type Mutex struct {
	b *cosched.BlockObject
}

var _ sync.Locker = (*Mutex)(nil)

// NewMutex returns an unlocked Mutex.
func NewMutex() *Mutex {
	return &Mutex{b: cosched.NewBlockObject(1, 1)}
}

// Lock acquires m, suspending the current task until it is available.
func (m *Mutex) Lock() {
	m.b.CoBlockWait()
}

// TryLock acquires m only if it is unlocked.
func (m *Mutex) TryLock() bool {
	return m.b.TryBlockWait()
}

// LockTimeout is Lock, giving up after d.
func (m *Mutex) LockTimeout(d time.Duration) bool {
	return m.b.CoBlockWaitTimed(d)
}

// Unlock releases m, handing it directly to the longest waiter if there is
// one. It panics if m is not locked.
func (m *Mutex) Unlock() {
	if !m.b.Wakeup() {
		panic("cosync: unlock of unlocked mutex")
	}
}

// RWMutex is a reader/writer lock for tasks.
//
// Writers wait for active readers by yielding, and new readers back off
// while a writer holds or is acquiring the lock. A steady stream of
// overlapping readers can therefore delay a writer indefinitely.
type RWMutex struct {
	w       *Mutex
	readers atomic.Int64
	writing atomic.Bool
}

// NewRWMutex returns an unlocked RWMutex.
func NewRWMutex() *RWMutex {
	return &RWMutex{w: NewMutex()}
}

// RLock acquires a read lock.
func (rw *RWMutex) RLock() {
	for !rw.TryRLock() {
		// park behind the writer rather than spinning
		rw.w.Lock()
		rw.w.Unlock()
	}
}

// TryRLock acquires a read lock only if no writer holds or is acquiring
// the lock.
func (rw *RWMutex) TryRLock() bool {
	rw.readers.Add(1)
	if rw.writing.Load() {
		rw.readers.Add(-1)
		return false
	}
	return true
}

// RUnlock releases a read lock. It panics if rw is not read locked.
func (rw *RWMutex) RUnlock() {
	if rw.readers.Add(-1) < 0 {
		rw.readers.Add(1)
		panic("cosync: runlock of unlocked rwmutex")
	}
}

// Lock acquires the write lock, waiting for active readers to finish.
func (rw *RWMutex) Lock() {
	rw.w.Lock()
	rw.writing.Store(true)
	for rw.readers.Load() > 0 {
		cosched.Yield()
	}
}

// TryLock acquires the write lock only if it is free and there are no
// readers.
func (rw *RWMutex) TryLock() bool {
	if !rw.w.TryLock() {
		return false
	}
	rw.writing.Store(true)
	if rw.readers.Load() > 0 {
		rw.writing.Store(false)
		rw.w.Unlock()
		return false
	}
	return true
}

// Unlock releases the write lock. It panics if rw is not write locked.
func (rw *RWMutex) Unlock() {
	if !rw.writing.Swap(false) {
		panic("cosync: unlock of unlocked rwmutex")
	}
	rw.w.Unlock()
}

// RLocker returns a [sync.Locker] using rw's read lock.
func (rw *RWMutex) RLocker() sync.Locker {
	return (*rlocker)(rw)
}

type rlocker RWMutex

func (r *rlocker) Lock()   { (*RWMutex)(r).RLock() }
func (r *rlocker) Unlock() { (*RWMutex)(r).RUnlock() }
