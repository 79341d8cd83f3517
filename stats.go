package cosched

import (
	"cmp"
	"slices"
)

// Stats is a point-in-time snapshot of a scheduler. Fields are sampled
// independently, so they need not be mutually consistent.
type Stats struct {
	Processers []ProcesserStats
	State      SchedulerState
	// Tasks is the number of tasks that have not finished.
	Tasks         int
	PendingTimers int
	// IOWaiting is the size of the reactor's wait set.
	IOWaiting int
	Sleeping  int
	Steals    uint64
}

// ProcesserStats describes one processer.
type ProcesserStats struct {
	ID       int
	Runnable int
	Steals   uint64
	Idle     bool
}

// TaskInfo describes one unfinished task.
type TaskInfo struct {
	Location  string
	DebugInfo string
	ID        uint64
	Yields    uint64
	State     TaskState
}

// Stats samples the scheduler's counters. It never changes scheduler state.
func (s *Scheduler) Stats() Stats {
	st := Stats{
		Processers:    make([]ProcesserStats, len(s.procs)),
		State:         s.state.load(),
		Tasks:         s.liveTasks(),
		PendingTimers: s.timers.Len(),
		IOWaiting:     s.io.len(),
		Sleeping:      s.sleep.len(),
		Steals:        s.steals.Load(),
	}
	for i, p := range s.procs {
		st.Processers[i] = ProcesserStats{
			ID:       p.id,
			Runnable: p.runq.len(),
			Steals:   p.steals.Load(),
			Idle:     p.parked.Load(),
		}
	}
	return st
}

// Tasks lists the unfinished tasks, ordered by id. It never changes
// scheduler state.
func (s *Scheduler) Tasks() []TaskInfo {
	var out []TaskInfo
	s.registry.Range(func(_, v any) bool {
		t := v.(*Task)
		out = append(out, TaskInfo{
			Location:  t.location,
			DebugInfo: t.debugInfo,
			ID:        t.id,
			Yields:    t.Yields(),
			State:     t.State(),
		})
		return true
	})
	slices.SortFunc(out, func(a, b TaskInfo) int { return cmp.Compare(a.ID, b.ID) })
	return out
}
