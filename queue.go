package cosched

import (
	"sync"
)

// taskList is an intrusive FIFO of tasks. A task records the list it is on,
// so membership is exclusive: a task must be removed from one list before it
// can be pushed onto another. It is not safe for concurrent use; every owner
// guards it with its own lock.
type taskList struct {
	head, tail *Task
	n          int
}

// taskChain is a detached run of linked tasks, moved between lists in bulk.
type taskChain struct {
	head, tail *Task
	n          int
}

func (l *taskList) len() int { return l.n }

func (l *taskList) push(t *Task) {
	if t.list != nil {
		panic("cosched: task already queued")
	}
	t.list = l
	t.next = nil
	t.prev = l.tail
	if l.tail != nil {
		l.tail.next = t
	} else {
		l.head = t
	}
	l.tail = t
	l.n++
}

func (l *taskList) pop() *Task {
	t := l.head
	if t == nil {
		return nil
	}
	l.unlink(t)
	return t
}

// erase removes t if (and only if) it is currently on this list, which makes
// it the claim operation for wait structures.
func (l *taskList) erase(t *Task) bool {
	if t.list != l {
		return false
	}
	l.unlink(t)
	return true
}

func (l *taskList) unlink(t *Task) {
	if t.prev != nil {
		t.prev.next = t.next
	} else {
		l.head = t.next
	}
	if t.next != nil {
		t.next.prev = t.prev
	} else {
		l.tail = t.prev
	}
	t.next, t.prev, t.list = nil, nil, nil
	l.n--
}

// popBack detaches up to n tasks from the tail, preserving their order.
func (l *taskList) popBack(n int) taskChain {
	if n <= 0 || l.n == 0 {
		return taskChain{}
	}
	n = min(n, l.n)
	first := l.tail
	first.list = nil
	for i := 1; i < n; i++ {
		first = first.prev
		first.list = nil
	}
	c := taskChain{head: first, tail: l.tail, n: n}
	l.tail = first.prev
	if l.tail != nil {
		l.tail.next = nil
	} else {
		l.head = nil
	}
	first.prev = nil
	l.n -= n
	return c
}

// pushChain appends a detached chain in one splice.
func (l *taskList) pushChain(c taskChain) {
	if c.n == 0 {
		return
	}
	for t := c.head; t != nil; t = t.next {
		if t.list != nil {
			panic("cosched: task already queued")
		}
		t.list = l
	}
	c.head.prev = l.tail
	if l.tail != nil {
		l.tail.next = c.head
	} else {
		l.head = c.head
	}
	l.tail = c.tail
	l.n += c.n
}

// popAll detaches every task.
func (l *taskList) popAll() taskChain {
	return l.popBack(l.n)
}

// runQueue is a processer's thread-safe run queue.
type runQueue struct {
	mu   sync.Mutex
	list taskList
}

func (q *runQueue) push(t *Task) {
	q.mu.Lock()
	q.list.push(t)
	q.mu.Unlock()
}

func (q *runQueue) pop() *Task {
	q.mu.Lock()
	t := q.list.pop()
	q.mu.Unlock()
	return t
}

func (q *runQueue) len() int {
	q.mu.Lock()
	n := q.list.len()
	q.mu.Unlock()
	return n
}

// stealHalf detaches ceil(len/2) tasks from the tail.
func (q *runQueue) stealHalf() taskChain {
	q.mu.Lock()
	c := q.list.popBack((q.list.len() + 1) / 2)
	q.mu.Unlock()
	return c
}

func (q *runQueue) pushChain(c taskChain) {
	if c.n == 0 {
		return
	}
	q.mu.Lock()
	q.list.pushChain(c)
	q.mu.Unlock()
}

func (q *runQueue) popAll() taskChain {
	q.mu.Lock()
	c := q.list.popAll()
	q.mu.Unlock()
	return c
}
