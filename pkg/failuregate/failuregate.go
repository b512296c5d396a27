// Package failuregate absorbs isolated refresh failures so a single
// dropped tick does not clear a UI that was otherwise showing good data.
package failuregate

import "sync"

// DefaultThreshold is the number of consecutive failures, while prior data
// exists, before a failure is surfaced to the user.
const DefaultThreshold = 2

// Gate is a small state machine: on a fresh start with no prior data it
// reports failure immediately; during steady state it absorbs one missed
// tick as noise.
type Gate struct {
	mu        sync.Mutex
	threshold int
	failures  int
}

// New creates a Gate with the given threshold. A threshold <= 0 falls back
// to DefaultThreshold.
func New(threshold int) *Gate {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Gate{threshold: threshold}
}

// RecordSuccess resets the internal failure counter.
func (g *Gate) RecordSuccess() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failures = 0
}

// ShouldSurface increments the failure counter and reports whether this
// failure should be surfaced to the user. If hadPriorData is false it
// surfaces immediately (a cold start with no data to fall back on should
// fail fast); otherwise it surfaces only once the counter reaches the
// configured threshold.
func (g *Gate) ShouldSurface(hadPriorData bool) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failures++
	if !hadPriorData {
		return true
	}
	return g.failures >= g.threshold
}

// FailureCount returns the current consecutive-failure count, for tests
// and diagnostics.
func (g *Gate) FailureCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.failures
}
