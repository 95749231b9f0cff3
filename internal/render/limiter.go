package render

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Limiter bounds how many renders are in flight against the provider at
// once. Size it from GetQuotas so batch exports cannot exceed the
// provider-imposed concurrency ceiling.
type Limiter struct {
	sem   *semaphore.Weighted
	limit int64
}

// NewLimiter builds a limiter for the given concurrency ceiling. A
// non-positive limit falls back to 1 so the limiter still serialises work
// instead of deadlocking or disabling itself silently.
func NewLimiter(limit int) *Limiter {
	capacity := int64(limit)
	if capacity <= 0 {
		capacity = 1
	}
	return &Limiter{sem: semaphore.NewWeighted(capacity), limit: capacity}
}

// LimiterFromQuotas sizes a limiter from a provider quota read.
func LimiterFromQuotas(quotas Quotas) *Limiter {
	return NewLimiter(quotas.ConcurrencyLimit)
}

// Limit returns the configured ceiling.
func (l *Limiter) Limit() int {
	return int(l.limit)
}

// Acquire blocks until a slot is free or the context is cancelled.
func (l *Limiter) Acquire(ctx context.Context) error {
	return l.sem.Acquire(ctx, 1)
}

// TryAcquire grabs a slot without blocking.
func (l *Limiter) TryAcquire() bool {
	return l.sem.TryAcquire(1)
}

// Release frees a previously acquired slot.
func (l *Limiter) Release() {
	l.sem.Release(1)
}
