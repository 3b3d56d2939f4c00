// Package rolling implements the bucketed rolling counters and sampled
// latency percentiles that back CommandMetrics: RollingNumber and
// RollingPercentile. Both follow the same immutable-ring, try-lock
// rotation shape: readers that observe a stale tail never block, they just
// return the stale value; only the goroutine that wins the try-lock
// advances the ring.
package rolling

import (
	"runtime"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/mattsp1290/circuitry/pkg/clock"
)

// EventType is the closed set of countable command outcomes.
type EventType int

const (
	Success EventType = iota
	Failure
	Timeout
	ShortCircuited
	ThreadPoolRejected
	SemaphoreRejected
	FallbackSuccess
	FallbackFailure
	FallbackRejection
	ExceptionThrown
	ThreadExecution
	// ThreadMaxActive is the sole MaxUpdater variant; every other event is a
	// monotonic Counter.
	ThreadMaxActive
	Collapsed
	ResponseFromCache

	numEventTypes
)

func (e EventType) String() string {
	switch e {
	case Success:
		return "Success"
	case Failure:
		return "Failure"
	case Timeout:
		return "Timeout"
	case ShortCircuited:
		return "ShortCircuited"
	case ThreadPoolRejected:
		return "ThreadPoolRejected"
	case SemaphoreRejected:
		return "SemaphoreRejected"
	case FallbackSuccess:
		return "FallbackSuccess"
	case FallbackFailure:
		return "FallbackFailure"
	case FallbackRejection:
		return "FallbackRejection"
	case ExceptionThrown:
		return "ExceptionThrown"
	case ThreadExecution:
		return "ThreadExecution"
	case ThreadMaxActive:
		return "ThreadMaxActive"
	case Collapsed:
		return "Collapsed"
	case ResponseFromCache:
		return "ResponseFromCache"
	default:
		return "Unknown"
	}
}

// IsMaxUpdater reports whether the event uses "update to max" semantics
// instead of a monotonic adder.
func (e EventType) IsMaxUpdater() bool { return e == ThreadMaxActive }

// bucket holds one window-slice of counters, keyed by EventType.
type bucket struct {
	windowStart int64 // unix millis
	counters    [numEventTypes]int64
}

func newBucket(windowStart int64) *bucket {
	return &bucket{windowStart: windowStart}
}

func (b *bucket) record(ev EventType, n int64) {
	if ev.IsMaxUpdater() {
		for {
			cur := atomic.LoadInt64(&b.counters[ev])
			if n <= cur {
				return
			}
			if atomic.CompareAndSwapInt64(&b.counters[ev], cur, n) {
				return
			}
		}
	}
	atomic.AddInt64(&b.counters[ev], n)
}

func (b *bucket) get(ev EventType) int64 {
	return atomic.LoadInt64(&b.counters[ev])
}

// ring is the immutable (head, tail, size) view of the bucket FIFO, swapped
// atomically on each rotation. The buckets it references remain mutable in
// place; only the try-lock holder ever writes into the tail bucket.
type ring struct {
	buckets []*bucket // oldest..newest, len <= N
}

// RollingNumber is a bucketed set of per-EventType counters over a sliding
// window of N buckets spanning W milliseconds, with a cumulative sum that
// survives bucket eviction.
type RollingNumber struct {
	windowMillis  int64
	numBuckets    int
	bucketMillis  int64
	clock         clock.Clock
	logger        *zap.Logger
	ringPtr       atomic.Pointer[ring]
	writerLock    int32 // 0 = free, 1 = held; acquired via CAS, never blocks
	cumulative    [numEventTypes]int64
}

// Option configures a RollingNumber or RollingPercentile.
type Option func(*options)

type options struct {
	clock  clock.Clock
	logger *zap.Logger
}

// WithClock overrides the injected time source (default: the system clock).
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithLogger overrides the logger (default: a no-op logger).
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

func resolveOptions(opts []Option) options {
	o := options{clock: clock.Default, logger: zap.NewNop()}
	for _, f := range opts {
		f(&o)
	}
	return o
}

// NewRollingNumber creates a RollingNumber over a window of windowMillis
// split into numBuckets equal buckets. windowMillis must be evenly
// divisible by numBuckets.
func NewRollingNumber(windowMillis int64, numBuckets int, opts ...Option) *RollingNumber {
	if numBuckets <= 0 {
		numBuckets = 1
	}
	o := resolveOptions(opts)
	rn := &RollingNumber{
		windowMillis: windowMillis,
		numBuckets:   numBuckets,
		bucketMillis: windowMillis / int64(numBuckets),
		clock:        o.clock,
		logger:       o.logger,
	}
	now := o.clock.Now().UnixMilli()
	rn.ringPtr.Store(&ring{buckets: []*bucket{newBucket(now)}})
	return rn
}

func (rn *RollingNumber) nowMillis() int64 { return rn.clock.Now().UnixMilli() }

// currentBucket is the contention-sensitive hot path: readers fall through
// without waiting; only the try-lock winner rotates the ring.
func (rn *RollingNumber) currentBucket() *bucket {
	now := rn.nowMillis()
	r := rn.ringPtr.Load()
	tail := r.buckets[len(r.buckets)-1]

	if now < tail.windowStart+rn.bucketMillis {
		return tail // fast path: no rotation needed
	}

	if !atomic.CompareAndSwapInt32(&rn.writerLock, 0, 1) {
		// Someone else is rotating; don't wait for them.
		r = rn.ringPtr.Load()
		return r.buckets[len(r.buckets)-1]
	}
	defer atomic.StoreInt32(&rn.writerLock, 0)

	// Re-read under the lock: another writer may have already rotated
	// between our fast-path check and winning the CAS.
	r = rn.ringPtr.Load()
	tail = r.buckets[len(r.buckets)-1]
	if now < tail.windowStart+rn.bucketMillis {
		return tail
	}

	if now-tail.windowStart > rn.windowMillis {
		gap := time.Duration(now-tail.windowStart) * time.Millisecond
		rn.logger.Warn("rolling number: stale gap exceeds window, resetting",
			zap.Duration("gap", gap))
		for _, b := range r.buckets {
			rn.accumulate(b)
		}
		rn.resetLocked(now)
		r = rn.ringPtr.Load()
		return r.buckets[len(r.buckets)-1]
	}

	buckets := append([]*bucket(nil), r.buckets...)
	for i := 0; i < rn.numBuckets && now >= buckets[len(buckets)-1].windowStart+rn.bucketMillis; i++ {
		next := newBucket(buckets[len(buckets)-1].windowStart + rn.bucketMillis)
		buckets = append(buckets, next)
		if len(buckets) > rn.numBuckets {
			evicted := buckets[0]
			buckets = buckets[1:]
			rn.accumulate(evicted)
		}
	}
	rn.ringPtr.Store(&ring{buckets: buckets})
	return buckets[len(buckets)-1]
}

func (rn *RollingNumber) accumulate(b *bucket) {
	for ev := EventType(0); ev < numEventTypes; ev++ {
		if ev.IsMaxUpdater() {
			continue // max registers are not meaningfully cumulative
		}
		atomic.AddInt64(&rn.cumulative[ev], b.get(ev))
	}
}

// resetLocked clears the ring to a single fresh bucket at `now`. Caller
// must hold writerLock.
func (rn *RollingNumber) resetLocked(now int64) {
	rn.ringPtr.Store(&ring{buckets: []*bucket{newBucket(now)}})
}

// Increment adds 1 to ev's counter in the current bucket.
func (rn *RollingNumber) Increment(ev EventType) { rn.Add(ev, 1) }

// Add adds n to ev's counter in the current bucket.
func (rn *RollingNumber) Add(ev EventType, n int64) {
	rn.currentBucket().record(ev, n)
}

// UpdateRollingMax updates ev's max register in the current bucket if n is larger.
func (rn *RollingNumber) UpdateRollingMax(ev EventType, n int64) {
	rn.currentBucket().record(ev, n)
}

// GetValues returns, oldest to newest, the per-bucket counter values for
// ev. Its length equals the number of buckets currently live — which is
// less than numBuckets until the window has fully populated, and exactly
// numBuckets from then on.
func (rn *RollingNumber) GetValues(ev EventType) []int64 {
	rn.currentBucket() // force rotation so reads see a fresh view
	r := rn.ringPtr.Load()
	out := make([]int64, len(r.buckets))
	for i, b := range r.buckets {
		out[i] = b.get(ev)
	}
	return out
}

// GetRollingSum returns the sum of ev across all buckets currently in the window.
func (rn *RollingNumber) GetRollingSum(ev EventType) int64 {
	rn.currentBucket()
	r := rn.ringPtr.Load()
	if ev.IsMaxUpdater() {
		return rn.GetRollingMaxValue(ev)
	}
	var sum int64
	for _, b := range r.buckets {
		sum += b.get(ev)
	}
	return sum
}

// GetRollingMaxValue returns the maximum value of ev's max register across
// buckets currently in the window.
func (rn *RollingNumber) GetRollingMaxValue(ev EventType) int64 {
	rn.currentBucket()
	r := rn.ringPtr.Load()
	var max int64
	for _, b := range r.buckets {
		if v := b.get(ev); v > max {
			max = v
		}
	}
	return max
}

// GetValueOfLatestBucket returns ev's value in the most recent bucket.
func (rn *RollingNumber) GetValueOfLatestBucket(ev EventType) int64 {
	rn.currentBucket()
	r := rn.ringPtr.Load()
	return r.buckets[len(r.buckets)-1].get(ev)
}

// GetCumulativeSum returns the all-time total for ev: evicted buckets'
// accumulated total plus whatever remains in the live ring.
func (rn *RollingNumber) GetCumulativeSum(ev EventType) int64 {
	rn.currentBucket()
	if ev.IsMaxUpdater() {
		return rn.GetRollingMaxValue(ev)
	}
	r := rn.ringPtr.Load()
	var live int64
	for _, b := range r.buckets {
		live += b.get(ev)
	}
	return atomic.LoadInt64(&rn.cumulative[ev]) + live
}

// Reset clears the live buckets back to a single fresh bucket. Unlike the
// stale-gap path this does NOT touch the cumulative sum: buckets reset, the
// cumulative total never does.
func (rn *RollingNumber) Reset() {
	// Reset is not a hot path; briefly spin against a concurrent rotation
	// rather than adding a blocking mutex solely for this rare call.
	for !atomic.CompareAndSwapInt32(&rn.writerLock, 0, 1) {
		runtime.Gosched()
	}
	defer atomic.StoreInt32(&rn.writerLock, 0)
	rn.ringPtr.Store(&ring{buckets: []*bucket{newBucket(rn.nowMillis())}})
}
