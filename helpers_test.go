package cosched

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
	"github.com/stretchr/testify/require"
)

const testTimeout = 30 * time.Second

func newTestScheduler(t *testing.T, opts ...Option) *Scheduler {
	t.Helper()
	s, err := New(opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func runAll(t *testing.T, s *Scheduler) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	return s.RunUntilNoTask(ctx)
}

func mustGo(t *testing.T, s *Scheduler, fn func(), opts ...TaskOption) *Task {
	t.Helper()
	task, err := s.Go(fn, opts...)
	require.NoError(t, err)
	return task
}

// syncBuffer is a bytes.Buffer safe for the concurrent writes of several
// workers.
type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (x *syncBuffer) Write(p []byte) (int, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.b.Write(p)
}

func (x *syncBuffer) String() string {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.b.String()
}

func newTestLogger(w *syncBuffer) *logiface.Logger[logiface.Event] {
	return stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(w), stumpy.WithTimeField(``)),
		stumpy.L.WithLevel(logiface.LevelDebug),
	).Logger()
}

// spin busy-waits for d without suspending, keeping the task on its worker.
func spin(d time.Duration) {
	for start := time.Now(); time.Since(start) < d; {
	}
}
