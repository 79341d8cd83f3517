// Package cosched is a cooperative task scheduler: many lightweight tasks
// multiplexed onto a fixed set of worker goroutines, each driving one
// [Processer] and its run queue.
//
// A task runs until it reaches a suspend point, which is one of [Yield],
// [Sleep], [WaitIO] / [WaitIOMulti], or a [BlockObject] wait (and anything
// built from one, such as the mutexes and channels in package cosync).
// Suspending hands the task back to its processer, which parks it in the
// matching wait structure: the reactor, the sleep set, or the BlockObject's
// FIFO. Whatever resumes it (readiness, a timer, a Wakeup) first has to
// claim it from that structure, so a task is resumed exactly once per
// suspension even when an event and its timeout race.
//
// Idle processers steal half of the longest sibling run queue, rate limited
// per processer, and one idle worker at a time blocks in the reactor so that
// I/O readiness and timers wake the scheduler promptly.
//
// Basic usage:
//
//	s, err := cosched.New(cosched.WithProcessers(4))
//	if err != nil {
//		return err
//	}
//	mu := cosched.NewBlockObject(1, 1)
//	for range 100 {
//		s.Go(func() {
//			mu.CoBlockWait()
//			defer mu.Wakeup()
//			cosched.Sleep(time.Millisecond)
//		})
//	}
//	return s.RunUntilNoTask(ctx)
//
// Task code must not block its worker goroutine for long (blocking system
// calls, channel operations, sync.Mutex contention), since that stalls every
// other task queued on the same processer. Calling [runtime.Goexit] from a
// task is not supported.
//
// Failures (panics, failed context switches) are handled according to the
// scheduler's [ExceptionPolicy].
package cosched
