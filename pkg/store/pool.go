package store

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// maxConcurrentStats bounds how many stats_once calls a single refresh
// issues at once; the rest queue behind the semaphore.
const maxConcurrentStats = 8

// statsPool hands out bounded concurrency slots for per-container stats
// requests within one refresh cycle.
type statsPool struct {
	sem *semaphore.Weighted
}

func newStatsPool() *statsPool {
	return &statsPool{sem: semaphore.NewWeighted(maxConcurrentStats)}
}

// acquire blocks until a slot is free or ctx is done, returning a release
// function that must be called exactly once when the caller is finished.
func (p *statsPool) acquire(ctx context.Context) (release func(), err error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return func() { p.sem.Release(1) }, nil
}
