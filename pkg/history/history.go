// Package history implements the bounded ring buffer backing each
// MetricsHistory series (cpu percent, memory percent, net-rx rate,
// disk-read rate), plus a companion rate helper for series derived from
// cumulative byte counters.
package history

import (
	"sync"
	"time"

	"github.com/cuemby/engineeye/pkg/enginetypes"
)

// DefaultCapacity is the default number of points a Ring retains.
const DefaultCapacity = 30

// Ring is a fixed-capacity, oldest-evicted-first sequence of
// enginetypes.HistoryPoint, ordered oldest-to-newest.
type Ring struct {
	mu       sync.RWMutex
	capacity int
	points   []enginetypes.HistoryPoint
}

// NewRing creates a Ring with the given capacity. A capacity <= 0 falls
// back to DefaultCapacity.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Ring{capacity: capacity, points: make([]enginetypes.HistoryPoint, 0, capacity)}
}

// Append stamps value with at and appends it, evicting the oldest sample
// if the ring is at capacity.
func (r *Ring) Append(at time.Time, value float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.points) == r.capacity {
		copy(r.points, r.points[1:])
		r.points = r.points[:len(r.points)-1]
	}
	r.points = append(r.points, enginetypes.HistoryPoint{At: at, Value: value})
}

// Values returns a copy of the ring's contents, oldest-to-newest.
func (r *Ring) Values() []enginetypes.HistoryPoint {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]enginetypes.HistoryPoint, len(r.points))
	copy(out, r.points)
	return out
}

// Latest returns the most recently appended point, or false if empty.
func (r *Ring) Latest() (enginetypes.HistoryPoint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.points) == 0 {
		return enginetypes.HistoryPoint{}, false
	}
	return r.points[len(r.points)-1], true
}

// Len reports the number of points currently stored.
func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.points)
}

// RateTracker turns successive cumulative counter readings into a
// non-negative bytes-per-second rate. The first Observe after
// construction or Reset yields no emission, since there is no prior
// sample to delta against.
type RateTracker struct {
	hasPrev  bool
	prevVal  uint64
	prevTime time.Time
}

// NewRateTracker creates a RateTracker with no prior sample.
func NewRateTracker() *RateTracker {
	return &RateTracker{}
}

// Observe records a new cumulative counter reading at the given instant
// and returns the rate since the previous observation. ok is false on the
// first observation (nothing to delta against) or if the clock did not
// advance.
func (t *RateTracker) Observe(at time.Time, cumulative uint64) (rate float64, ok bool) {
	if !t.hasPrev {
		t.hasPrev = true
		t.prevVal = cumulative
		t.prevTime = at
		return 0, false
	}

	dt := at.Sub(t.prevTime).Seconds()
	defer func() {
		t.prevVal = cumulative
		t.prevTime = at
	}()

	if dt <= 0 || cumulative < t.prevVal {
		return 0, false
	}

	rate = float64(cumulative-t.prevVal) / dt
	if rate < 0 {
		rate = 0
	}
	return rate, true
}

// Reset clears the tracker so the next Observe starts fresh, used when the
// underlying counter source restarts (host switch, container restart).
func (t *RateTracker) Reset() {
	t.hasPrev = false
	t.prevVal = 0
	t.prevTime = time.Time{}
}
