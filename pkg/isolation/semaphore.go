// Package isolation holds the two bounded-concurrency primitives a Command
// can be dispatched through: TryableSemaphore (a non-blocking permit
// counter) and IsolationPool (a fixed-size worker pool with a bounded,
// admission-gated queue). Neither ever blocks its caller waiting for
// capacity — both fail fast so a slow dependency cannot back up the
// goroutines that feed it.
package isolation

import "sync/atomic"

// TryableSemaphore is a non-blocking permit counter whose capacity is
// re-read from capacityFn on every call, so a property change takes effect
// immediately without reconstructing the semaphore.
//
// Built on an atomic counter rather than a buffered-channel or
// golang.org/x/sync/semaphore: both of those block (or require a context)
// on exhaustion, and this primitive must never block — tryAcquire fails
// fast and lets the caller fall back instead.
type TryableSemaphore struct {
	count      int64
	capacityFn func() int
}

// NewTryableSemaphore creates a semaphore whose capacity is read from
// capacityFn each time TryAcquire is called.
func NewTryableSemaphore(capacityFn func() int) *TryableSemaphore {
	return &TryableSemaphore{capacityFn: capacityFn}
}

// NewFixedTryableSemaphore creates a semaphore with a constant capacity.
func NewFixedTryableSemaphore(capacity int) *TryableSemaphore {
	return NewTryableSemaphore(func() int { return capacity })
}

// TryAcquire attempts to reserve one permit, returning false immediately if
// the semaphore is at capacity. It never blocks.
func (s *TryableSemaphore) TryAcquire() bool {
	n := atomic.AddInt64(&s.count, 1)
	if n > int64(s.capacityFn()) {
		atomic.AddInt64(&s.count, -1)
		return false
	}
	return true
}

// Release returns one permit. Calling Release without a matching successful
// TryAcquire is a programmer error — the core guarantees every dispatch
// path releases exactly the permits it acquired.
func (s *TryableSemaphore) Release() {
	atomic.AddInt64(&s.count, -1)
}

// InUse returns the number of permits currently held.
func (s *TryableSemaphore) InUse() int {
	return int(atomic.LoadInt64(&s.count))
}
