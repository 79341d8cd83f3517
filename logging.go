package cosched

import (
	"fmt"
)

// All log helpers are nil-safe: a scheduler without a logger gets nil
// builders from logiface, which discard everything.

func (s *Scheduler) logLifecycle(msg string) {
	s.opts.logger.Info().
		Int("processers", len(s.procs)).
		Str("policy", s.opts.exceptionPolicy.String()).
		Log(msg)
}

func (s *Scheduler) logTaskError(t *Task, err error) {
	s.opts.logger.Err().
		Err(err).
		Uint64("task", t.id).
		Str("location", t.location).
		Str("state", t.State().String()).
		Log("cosched: task failed")
}

func (s *Scheduler) logFatal(err error) {
	s.opts.logger.Crit().
		Err(err).
		Log("cosched: stopping scheduler")
}

func (s *Scheduler) logSteal(thief, victim *Processer, n int) {
	s.opts.logger.Debug().
		Int("proc", thief.id).
		Int("victim", victim.id).
		Int("count", n).
		Log("cosched: stole tasks")
}

func (s *Scheduler) logPollerError(op string, err error) {
	s.opts.logger.Warning().
		Str("op", op).
		Err(err).
		Log("cosched: poller error")
}

// misuse reports a contract violation by the caller, such as an unbalanced
// Release. In debug mode it panics.
func (s *Scheduler) misuse(t *Task, msg string) {
	if s.opts.debug {
		panic(fmt.Sprintf("cosched: %s: task %d (%s)", msg, t.id, t.location))
	}
	s.opts.logger.Warning().
		Uint64("task", t.id).
		Str("location", t.location).
		Log("cosched: " + msg)
}
