package cosched

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/yyzybb537/libgo-sub002/internal/quantile"
)

// Metrics tracks runtime statistics for a scheduler created with
// [WithMetrics]. Every method is safe to call from any goroutine.
//
//	s, _ := cosched.New(cosched.WithMetrics(true))
//	_ = s.RunUntilNoTask(ctx)
//	m := s.Metrics()
//	fmt.Printf("completions/s: %.2f, P99 slice: %v\n", m.TPS, m.Latency.P99)
type Metrics struct {
	// Latency is the distribution of task slice durations, from SwapIn to
	// the following switch out.
	Latency LatencyMetrics
	// Queue is the depth of run queues, sampled at the start of each pass.
	Queue QueueMetrics
	// TPS is the rate of task completions.
	TPS float64
}

// LatencyMetrics summarises slice durations.
type LatencyMetrics struct {
	estimates *quantile.Set
	mu        sync.Mutex

	P50   time.Duration
	P90   time.Duration
	P95   time.Duration
	P99   time.Duration
	Max   time.Duration
	Mean  time.Duration
	Count int
}

// Record adds a sample.
func (l *LatencyMetrics) Record(d time.Duration) {
	l.mu.Lock()
	if l.estimates == nil {
		l.estimates = quantile.NewSet(0.50, 0.90, 0.95, 0.99)
	}
	l.estimates.Add(float64(d))
	l.mu.Unlock()
}

// Sample refreshes the exported fields from the estimators, returning the
// number of samples recorded.
func (l *LatencyMetrics) Sample() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.estimates == nil {
		return 0
	}
	e := l.estimates
	l.P50 = time.Duration(e.Quantile(0))
	l.P90 = time.Duration(e.Quantile(1))
	l.P95 = time.Duration(e.Quantile(2))
	l.P99 = time.Duration(e.Quantile(3))
	l.Max = time.Duration(e.Max())
	l.Mean = time.Duration(e.Mean())
	l.Count = e.Count()
	return l.Count
}

// QueueMetrics tracks run queue depth.
type QueueMetrics struct {
	mu sync.Mutex

	Current int
	Max     int
	// Avg is an exponential moving average (alpha 0.1), seeded with the
	// first observation.
	Avg float64

	seeded bool
}

// Update records an observed depth.
func (q *QueueMetrics) Update(depth int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.Current = depth
	q.Max = max(q.Max, depth)
	if !q.seeded {
		q.Avg, q.seeded = float64(depth), true
		return
	}
	q.Avg = 0.9*q.Avg + 0.1*float64(depth)
}

// TPSCounter counts events over a rolling window of fixed-width buckets.
type TPSCounter struct {
	buckets    []int64
	bucketSize time.Duration
	windowSize time.Duration
	start      time.Time
	total      atomic.Int64
	mu         sync.Mutex
}

// NewTPSCounter returns a counter averaging over windowSize, advancing in
// steps of bucketSize.
func NewTPSCounter(windowSize, bucketSize time.Duration) *TPSCounter {
	return &TPSCounter{
		buckets:    make([]int64, max(int(windowSize/bucketSize), 1)),
		bucketSize: bucketSize,
		windowSize: windowSize,
		start:      time.Now(),
	}
}

// Increment records one event.
func (c *TPSCounter) Increment() {
	c.total.Add(1)
	c.mu.Lock()
	c.rotateLocked(time.Now())
	c.buckets[len(c.buckets)-1]++
	c.mu.Unlock()
}

// Total returns the number of events ever recorded.
func (c *TPSCounter) Total() int64 { return c.total.Load() }

// TPS returns the event rate over the window.
func (c *TPSCounter) TPS() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rotateLocked(time.Now())
	var sum int64
	for _, v := range c.buckets {
		sum += v
	}
	return float64(sum) / c.windowSize.Seconds()
}

// rotateLocked shifts out buckets that have aged past the window.
func (c *TPSCounter) rotateLocked(now time.Time) {
	steps := int(now.Sub(c.start) / c.bucketSize)
	if steps <= 0 {
		return
	}
	if steps >= len(c.buckets) {
		clear(c.buckets)
	} else {
		copy(c.buckets, c.buckets[steps:])
		clear(c.buckets[len(c.buckets)-steps:])
	}
	c.start = c.start.Add(time.Duration(steps) * c.bucketSize)
}

// schedulerMetrics is the live instance; Scheduler.Metrics hands out copies.
type schedulerMetrics struct {
	Latency LatencyMetrics
	Queue   QueueMetrics
	TPS     *TPSCounter
}

func newSchedulerMetrics() *schedulerMetrics {
	return &schedulerMetrics{TPS: NewTPSCounter(10*time.Second, 100*time.Millisecond)}
}

func (m *schedulerMetrics) snapshot() *Metrics {
	out := new(Metrics)

	m.Latency.Sample()
	m.Latency.mu.Lock()
	out.Latency.P50 = m.Latency.P50
	out.Latency.P90 = m.Latency.P90
	out.Latency.P95 = m.Latency.P95
	out.Latency.P99 = m.Latency.P99
	out.Latency.Max = m.Latency.Max
	out.Latency.Mean = m.Latency.Mean
	out.Latency.Count = m.Latency.Count
	m.Latency.mu.Unlock()

	m.Queue.mu.Lock()
	out.Queue.Current = m.Queue.Current
	out.Queue.Max = m.Queue.Max
	out.Queue.Avg = m.Queue.Avg
	m.Queue.mu.Unlock()

	out.TPS = m.TPS.TPS()
	return out
}
