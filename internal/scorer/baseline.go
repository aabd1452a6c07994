// Package scorer implements the Anomaly Scorer (C2): a statistical
// signaling layer that maintains a rolling per-patient, per-metric baseline
// and reports how far a new reading deviates from it (spec §4.5).
package scorer

import (
	"math"
	"time"
)

// Baseline is a per-(patient, metric) rolling statistics window, backed by
// a fixed-size ring buffer of the most recent readings (spec §3).
type Baseline struct {
	Metric    string    `json:"metric"`
	Window    []float64 `json:"window"`
	Next      int       `json:"next"`
	Count     int       `json:"count"`
	Capacity  int       `json:"capacity"`
	Mean      float64   `json:"mean"`
	M2        float64   `json:"m2"` // sum of squared deviations, Welford's algorithm
	UpdatedAt time.Time `json:"updated_at"`
}

// NewBaseline allocates an empty baseline with the given ring capacity.
func NewBaseline(metric string, capacity int) *Baseline {
	if capacity <= 0 {
		capacity = 100
	}
	return &Baseline{
		Metric:   metric,
		Window:   make([]float64, capacity),
		Capacity: capacity,
	}
}

// Observe folds a new reading into the baseline: appends it to the ring
// buffer (evicting the oldest sample once full) and incrementally updates
// mean/variance via Welford's algorithm so Observe is O(1) regardless of
// window size.
func (b *Baseline) Observe(value float64, at time.Time) {
	if b.Count < b.Capacity {
		b.Count++
		delta := value - b.Mean
		b.Mean += delta / float64(b.Count)
		b.M2 += delta * (value - b.Mean)
	} else {
		// Window is full: first decrement Welford's state to n-1 by
		// retracting the evicted sample, then increment it back to n by
		// folding in the new one. Folding both deltas against the same
		// (stale) mean, as a naive remove-then-add would, under-weights
		// the removal once n > 2 and drifts mean/M2 after the first
		// wraparound.
		n := b.Count
		old := b.Window[b.Next]
		oldDelta := old - b.Mean
		meanAfterRemoval := b.Mean - oldDelta/float64(n-1)
		m2AfterRemoval := b.M2 - oldDelta*(old-meanAfterRemoval)

		newDelta := value - meanAfterRemoval
		b.Mean = meanAfterRemoval + newDelta/float64(n)
		b.M2 = m2AfterRemoval + newDelta*(value-b.Mean)
	}

	b.Window[b.Next] = value
	b.Next = (b.Next + 1) % b.Capacity
	b.UpdatedAt = at
}

// StdDev returns the sample standard deviation, 0 if fewer than 2 samples
// have been observed.
func (b *Baseline) StdDev() float64 {
	if b.Count < 2 {
		return 0
	}
	return math.Sqrt(b.M2 / float64(b.Count-1))
}

// ZScore returns how many standard deviations value is from the baseline
// mean. Returns 0 if the baseline has zero variance (constant readings).
func (b *Baseline) ZScore(value float64) float64 {
	sd := b.StdDev()
	if sd == 0 {
		return 0
	}
	return math.Abs(value-b.Mean) / sd
}

// Expired reports whether the baseline hasn't been updated within ttl,
// making it eligible for eviction (spec §3 Baseline lifecycle).
func (b *Baseline) Expired(ttl time.Duration, now time.Time) bool {
	if b.UpdatedAt.IsZero() {
		return false
	}
	return now.Sub(b.UpdatedAt) > ttl
}
