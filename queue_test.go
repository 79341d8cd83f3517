package cosched

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeTasks(n int) []*Task {
	tasks := make([]*Task, n)
	for i := range tasks {
		tasks[i] = &Task{id: uint64(i + 1)}
	}
	return tasks
}

func listIDs(l *taskList) []uint64 {
	var ids []uint64
	for t := l.head; t != nil; t = t.next {
		ids = append(ids, t.id)
	}
	return ids
}

func chainIDs(c taskChain) []uint64 {
	var ids []uint64
	for t := c.head; t != nil; t = t.next {
		ids = append(ids, t.id)
	}
	return ids
}

func TestTaskList_fifo(t *testing.T) {
	var l taskList
	for _, task := range makeTasks(3) {
		l.push(task)
	}
	assert.Equal(t, 3, l.len())
	assert.Equal(t, uint64(1), l.pop().id)
	assert.Equal(t, uint64(2), l.pop().id)
	assert.Equal(t, uint64(3), l.pop().id)
	assert.Nil(t, l.pop())
	assert.Zero(t, l.len())
}

func TestTaskList_exclusiveMembership(t *testing.T) {
	var a, b taskList
	task := makeTasks(1)[0]
	a.push(task)
	assert.PanicsWithValue(t, "cosched: task already queued", func() { b.push(task) })
	assert.False(t, b.erase(task))
	assert.True(t, a.erase(task))
	assert.False(t, a.erase(task), "claim is single-shot")
	b.push(task)
	assert.Equal(t, 1, b.len())
}

func TestTaskList_eraseMiddle(t *testing.T) {
	var l taskList
	tasks := makeTasks(5)
	for _, task := range tasks {
		l.push(task)
	}
	require.True(t, l.erase(tasks[2]))
	require.True(t, l.erase(tasks[0]))
	require.True(t, l.erase(tasks[4]))
	assert.Equal(t, []uint64{2, 4}, listIDs(&l))
	assert.Equal(t, 2, l.len())
}

func TestTaskList_popBack(t *testing.T) {
	for _, tc := range [...]struct {
		name      string
		size, n   int
		remaining []uint64
		taken     []uint64
	}{
		{"half", 5, 3, []uint64{1, 2}, []uint64{3, 4, 5}},
		{"all", 3, 3, nil, []uint64{1, 2, 3}},
		{"more than len", 2, 10, nil, []uint64{1, 2}},
		{"none", 3, 0, []uint64{1, 2, 3}, nil},
		{"empty", 0, 2, nil, nil},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var l taskList
			for _, task := range makeTasks(tc.size) {
				l.push(task)
			}
			c := l.popBack(tc.n)
			assert.Equal(t, tc.taken, chainIDs(c))
			assert.Equal(t, len(tc.taken), c.n)
			assert.Equal(t, tc.remaining, listIDs(&l))
			assert.Equal(t, len(tc.remaining), l.len())
			for task := c.head; task != nil; task = task.next {
				assert.Nil(t, task.list)
			}
		})
	}
}

func TestTaskList_pushChain(t *testing.T) {
	var src, dst taskList
	tasks := makeTasks(6)
	for _, task := range tasks[:4] {
		src.push(task)
	}
	for _, task := range tasks[4:] {
		dst.push(task)
	}
	dst.pushChain(src.popBack(2))
	assert.Equal(t, []uint64{5, 6, 3, 4}, listIDs(&dst))
	assert.Equal(t, 4, dst.len())
	assert.True(t, dst.erase(tasks[2]))
	assert.Equal(t, []uint64{1, 2}, listIDs(&src))

	dst.pushChain(taskChain{})
	assert.Equal(t, 3, dst.len())
}

func TestRunQueue_stealHalf(t *testing.T) {
	var q runQueue
	for _, task := range makeTasks(5) {
		q.push(task)
	}
	c := q.stealHalf()
	assert.Equal(t, []uint64{3, 4, 5}, chainIDs(c))
	assert.Equal(t, 2, q.len())

	var empty runQueue
	assert.Zero(t, empty.stealHalf().n)
	empty.pushChain(c)
	assert.Equal(t, 3, empty.len())
	assert.Equal(t, 3, empty.popAll().n)
	assert.Zero(t, empty.len())
}

func TestScheduler_stealHalf(t *testing.T) {
	s := newTestScheduler(t,
		WithProcessers(3),
		WithStealRates(map[time.Duration]int{time.Hour: 1}),
	)
	thief, idle, victim := s.procs[0], s.procs[1], s.procs[2]
	for _, task := range makeTasks(5) {
		victim.runq.push(task)
	}

	n, retry := s.stealHalf(thief)
	assert.Equal(t, 3, n)
	assert.Zero(t, retry)
	assert.Equal(t, []uint64{3, 4, 5}, listIDs(&thief.runq.list))
	assert.Equal(t, 2, victim.runq.len())
	assert.Equal(t, uint64(3), thief.steals.Load())
	assert.Equal(t, uint64(3), s.steals.Load())

	// the thief's budget is spent
	n, retry = s.stealHalf(thief)
	assert.Zero(t, n)
	assert.GreaterOrEqual(t, retry, time.Millisecond)

	// budgets are per processer
	thief.runq.popAll()
	n, _ = s.stealHalf(idle)
	assert.Equal(t, 1, n)
	assert.Equal(t, []uint64{2}, listIDs(&idle.runq.list))
	assert.Equal(t, 1, victim.runq.len())
	idle.runq.popAll()
	victim.runq.popAll()

	// nothing to steal does not spend the budget
	other := newTestScheduler(t, WithProcessers(2), WithStealRates(map[time.Duration]int{time.Hour: 1}))
	n, retry = other.stealHalf(other.procs[0])
	assert.Zero(t, n)
	assert.Zero(t, retry)
	other.procs[1].runq.push(makeTasks(1)[0])
	n, _ = other.stealHalf(other.procs[0])
	assert.Equal(t, 1, n)
	other.procs[0].runq.popAll()
}

func TestScheduler_stealDisabled(t *testing.T) {
	s := newTestScheduler(t, WithProcessers(2), WithStealing(false))
	s.procs[1].runq.push(makeTasks(1)[0])
	n, retry := s.stealHalf(s.procs[0])
	assert.Zero(t, n)
	assert.Zero(t, retry)
	s.procs[1].runq.popAll()
}
