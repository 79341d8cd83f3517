package cosched

import (
	"fmt"
	"time"

	"github.com/joeycumines/go-catrate"
)

// newStealLimiter validates rates the same way catrate does, but reports
// a bad configuration as an error rather than a panic.
func newStealLimiter(rates map[time.Duration]int) (limiter *catrate.Limiter, err error) {
	defer func() {
		if r := recover(); r != nil {
			limiter, err = nil, fmt.Errorf("cosched: invalid steal rates %v: %v", rates, r)
		}
	}()
	return catrate.NewLimiter(rates), nil
}

// stealHalf moves ceil(n/2) tasks from the tail of the longest sibling queue
// onto p's queue. It returns the number of tasks moved, and when throttled
// by the steal limiter, how long until p may try again.
func (s *Scheduler) stealHalf(p *Processer) (int, time.Duration) {
	if !s.opts.stealing || len(s.procs) < 2 {
		return 0, 0
	}

	var (
		victim *Processer
		best   int
	)
	for _, o := range s.procs {
		if o == p {
			continue
		}
		if n := o.runq.len(); n > best {
			victim, best = o, n
		}
	}
	if victim == nil {
		return 0, 0
	}

	// only attempts with a candidate count against the budget
	if next, ok := s.stealLimiter.Allow(p.id); !ok {
		return 0, max(time.Until(next), time.Millisecond)
	}

	c := victim.runq.stealHalf()
	if c.n == 0 {
		return 0, 0
	}
	p.runq.pushChain(c)
	p.steals.Add(uint64(c.n))
	s.steals.Add(uint64(c.n))
	s.logSteal(p, victim, c.n)
	return c.n, 0
}
