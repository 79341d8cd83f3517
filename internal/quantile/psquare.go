// Package quantile implements streaming quantile estimation with the P²
// algorithm (Jain & Chlamtac, 1985): constant memory and O(1) updates,
// at the cost of an approximate answer.
//
// Nothing here is safe for concurrent use.
package quantile

import (
	"slices"
)

const markers = 5

// Estimator tracks a single quantile.
type Estimator struct {
	heights  [markers]float64
	pos      [markers]float64
	desired  [markers]float64
	step     [markers]float64
	p        float64
	observed int
}

// New returns an Estimator for quantile p, clamped to [0, 1].
func New(p float64) *Estimator {
	p = min(max(p, 0), 1)
	return &Estimator{
		p:    p,
		step: [markers]float64{0, p / 2, p, (1 + p) / 2, 1},
	}
}

// Add records an observation.
func (e *Estimator) Add(x float64) {
	if e.observed < markers {
		e.heights[e.observed] = x
		e.observed++
		if e.observed == markers {
			slices.Sort(e.heights[:])
			for i := range markers {
				e.pos[i] = float64(i)
			}
			p := e.p
			e.desired = [markers]float64{0, 2 * p, 4 * p, 2 + 2*p, 4}
		}
		return
	}
	e.observed++

	var cell int
	switch {
	case x < e.heights[0]:
		e.heights[0] = x
	case x >= e.heights[markers-1]:
		e.heights[markers-1] = x
		cell = markers - 2
	default:
		for cell = 0; cell < markers-2 && x >= e.heights[cell+1]; cell++ {
		}
	}
	for i := cell + 1; i < markers; i++ {
		e.pos[i]++
	}
	for i := range markers {
		e.desired[i] += e.step[i]
	}

	for i := 1; i < markers-1; i++ {
		d := e.desired[i] - e.pos[i]
		if (d >= 1 && e.pos[i+1]-e.pos[i] > 1) || (d <= -1 && e.pos[i-1]-e.pos[i] < -1) {
			dir := 1.0
			if d < 0 {
				dir = -1
			}
			if h := e.parabolic(i, dir); e.heights[i-1] < h && h < e.heights[i+1] {
				e.heights[i] = h
			} else {
				e.heights[i] = e.linear(i, dir)
			}
			e.pos[i] += dir
		}
	}
}

func (e *Estimator) parabolic(i int, d float64) float64 {
	n, q := &e.pos, &e.heights
	return q[i] + d/(n[i+1]-n[i-1])*
		((n[i]-n[i-1]+d)*(q[i+1]-q[i])/(n[i+1]-n[i])+
			(n[i+1]-n[i]-d)*(q[i]-q[i-1])/(n[i]-n[i-1]))
}

func (e *Estimator) linear(i int, d float64) float64 {
	j := i + int(d)
	return e.heights[i] + d*(e.heights[j]-e.heights[i])/(e.pos[j]-e.pos[i])
}

// Value returns the current estimate, exact while fewer than five values
// have been observed.
func (e *Estimator) Value() float64 {
	switch {
	case e.observed == 0:
		return 0
	case e.observed < markers:
		s := slices.Clone(e.heights[:e.observed])
		slices.Sort(s)
		return s[int(float64(len(s)-1)*e.p)]
	default:
		return e.heights[2]
	}
}

// Count returns the number of observations.
func (e *Estimator) Count() int { return e.observed }

// Set tracks several quantiles of the same stream, along with its sum and
// maximum.
type Set struct {
	estimators []*Estimator
	sum        float64
	max        float64
	count      int
}

// NewSet returns a Set tracking the given quantiles.
func NewSet(ps ...float64) *Set {
	s := &Set{estimators: make([]*Estimator, len(ps))}
	for i, p := range ps {
		s.estimators[i] = New(p)
	}
	return s
}

// Add records an observation.
func (s *Set) Add(x float64) {
	if s.count == 0 || x > s.max {
		s.max = x
	}
	s.count++
	s.sum += x
	for _, e := range s.estimators {
		e.Add(x)
	}
}

// Quantile returns the estimate for the i-th quantile passed to NewSet.
func (s *Set) Quantile(i int) float64 {
	if i < 0 || i >= len(s.estimators) {
		return 0
	}
	return s.estimators[i].Value()
}

// Count returns the number of observations.
func (s *Set) Count() int { return s.count }

// Max returns the largest observation, or zero.
func (s *Set) Max() float64 { return s.max }

// Mean returns the arithmetic mean, or zero.
func (s *Set) Mean() float64 {
	if s.count == 0 {
		return 0
	}
	return s.sum / float64(s.count)
}
