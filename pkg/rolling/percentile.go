package rolling

import (
	"math"
	"runtime"
	"sort"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/mattsp1290/circuitry/pkg/clock"
)

// Snapshot is an immutable, sorted view of the samples collected across the
// buckets that were live at the moment of the last rotation. It is the only
// read surface RollingPercentile exposes; once published it is never
// mutated, so readers need no coordination.
type Snapshot struct {
	sorted []int64
	mean   float64
}

// Percentile returns the pth percentile (p in [0,100]) via linear
// interpolation between adjacent sorted ranks, clamped at the ends.
func (s *Snapshot) Percentile(p float64) int64 {
	n := len(s.sorted)
	if n == 0 {
		return 0
	}
	if p <= 0 {
		return s.sorted[0]
	}
	if p >= 100 {
		return s.sorted[n-1]
	}
	rank := (p / 100) * float64(n)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo < 0 {
		lo = 0
	}
	if hi >= n {
		hi = n - 1
	}
	if lo == hi {
		return s.sorted[lo]
	}
	loVal, hiVal := float64(s.sorted[lo]), float64(s.sorted[hi])
	return int64(loVal + (rank-float64(lo))*(hiVal-loVal))
}

// Mean returns the arithmetic mean of the snapshot's samples.
func (s *Snapshot) Mean() float64 { return s.mean }

// Len returns the number of samples in the snapshot.
func (s *Snapshot) Len() int { return len(s.sorted) }

// percentileBucket is a fixed-capacity ring of recent samples; once full,
// new writes overwrite the oldest sample in this bucket (reservoir
// sampling by recency, not by uniform probability).
type percentileBucket struct {
	windowStart int64
	samples     []int64
	writeIdx    int64 // monotonic; index into samples is writeIdx % cap
	count       int64 // number of samples written, capped at cap for Len()
}

func newPercentileBucket(windowStart int64, capacity int) *percentileBucket {
	return &percentileBucket{
		windowStart: windowStart,
		samples:     make([]int64, capacity),
	}
}

func (b *percentileBucket) add(v int64) {
	idx := atomic.AddInt64(&b.writeIdx, 1) - 1
	b.samples[int(idx)%len(b.samples)] = v
	newCount := idx + 1
	if newCount > int64(len(b.samples)) {
		newCount = int64(len(b.samples))
	}
	atomic.StoreInt64(&b.count, newCount)
}

func (b *percentileBucket) values() []int64 {
	n := int(atomic.LoadInt64(&b.count))
	return append([]int64(nil), b.samples[:n]...)
}

type percentileRing struct {
	buckets []*percentileBucket
}

// RollingPercentile is a sampled latency reservoir over a sliding window,
// exposing percentile and mean queries against the last closed-out
// snapshot.
type RollingPercentile struct {
	windowMillis int64
	numBuckets   int
	bucketMillis int64
	bucketCap    int
	enabled      bool
	clock        clock.Clock
	logger       *zap.Logger

	ringPtr    atomic.Pointer[percentileRing]
	writerLock int32
	snapshot   atomic.Pointer[Snapshot]
}

var emptySnapshot = &Snapshot{}

// NewRollingPercentile creates a RollingPercentile over windowMillis split
// into numBuckets buckets, each holding up to bucketCap samples. If
// enabled is false, AddValue is a no-op and Percentile/Mean always read an
// empty snapshot.
func NewRollingPercentile(windowMillis int64, numBuckets, bucketCap int, enabled bool, opts ...Option) *RollingPercentile {
	if numBuckets <= 0 {
		numBuckets = 1
	}
	o := resolveOptions(opts)
	rp := &RollingPercentile{
		windowMillis: windowMillis,
		numBuckets:   numBuckets,
		bucketMillis: windowMillis / int64(numBuckets),
		bucketCap:    bucketCap,
		enabled:      enabled,
		clock:        o.clock,
		logger:       o.logger,
	}
	now := o.clock.Now().UnixMilli()
	rp.ringPtr.Store(&percentileRing{buckets: []*percentileBucket{newPercentileBucket(now, bucketCap)}})
	rp.snapshot.Store(emptySnapshot)
	return rp
}

func (rp *RollingPercentile) nowMillis() int64 { return rp.clock.Now().UnixMilli() }

// AddValue records a latency sample into the current bucket. No-op if
// percentile tracking is disabled.
func (rp *RollingPercentile) AddValue(v int64) {
	if !rp.enabled {
		return
	}
	rp.currentBucket().add(v)
}

func (rp *RollingPercentile) currentBucket() *percentileBucket {
	now := rp.nowMillis()
	r := rp.ringPtr.Load()
	tail := r.buckets[len(r.buckets)-1]

	if now < tail.windowStart+rp.bucketMillis {
		return tail
	}

	if !atomic.CompareAndSwapInt32(&rp.writerLock, 0, 1) {
		r = rp.ringPtr.Load()
		return r.buckets[len(r.buckets)-1]
	}
	defer atomic.StoreInt32(&rp.writerLock, 0)

	r = rp.ringPtr.Load()
	tail = r.buckets[len(r.buckets)-1]
	if now < tail.windowStart+rp.bucketMillis {
		return tail
	}

	if now-tail.windowStart > rp.windowMillis {
		// Every sample in the discarded ring is older than the full window,
		// so (unlike RollingNumber's cumulative sum) there is nothing to
		// carry forward: a percentile view answers "what does recent
		// latency look like", and data this stale is exactly what it
		// should stop reporting. Publish an empty snapshot rather than the
		// stale one.
		gap := time.Duration(now-tail.windowStart) * time.Millisecond
		rp.logger.Warn("rolling percentile: stale gap exceeds window, discarding samples",
			zap.Duration("gap", gap))
		buckets := []*percentileBucket{newPercentileBucket(now, rp.bucketCap)}
		rp.ringPtr.Store(&percentileRing{buckets: buckets})
		rp.snapshot.Store(emptySnapshot)
		return buckets[len(buckets)-1]
	}

	buckets := append([]*percentileBucket(nil), r.buckets...)
	for i := 0; i < rp.numBuckets && now >= buckets[len(buckets)-1].windowStart+rp.bucketMillis; i++ {
		next := newPercentileBucket(buckets[len(buckets)-1].windowStart+rp.bucketMillis, rp.bucketCap)
		buckets = append(buckets, next)
		if len(buckets) > rp.numBuckets {
			buckets = buckets[1:]
		}
	}

	rp.ringPtr.Store(&percentileRing{buckets: buckets})
	rp.publishSnapshot(buckets)
	return buckets[len(buckets)-1]
}

// publishSnapshot builds a fresh immutable Snapshot from the closed-out
// (non-tail) buckets and swaps it in. Caller must hold writerLock.
func (rp *RollingPercentile) publishSnapshot(buckets []*percentileBucket) {
	var all []int64
	for _, b := range buckets {
		all = append(all, b.values()...)
	}
	sort.Slice(all, func(i, j int) bool { return all[i] < all[j] })

	var mean float64
	if len(all) > 0 {
		var sum int64
		for _, v := range all {
			sum += v
		}
		mean = float64(sum) / float64(len(all))
	}
	rp.snapshot.Store(&Snapshot{sorted: all, mean: mean})
}

// GetPercentile forces a rotation check (so a quiescent caller still sees
// windowed data) then reads the published snapshot.
func (rp *RollingPercentile) GetPercentile(p float64) int64 {
	if !rp.enabled {
		return 0
	}
	rp.currentBucket()
	return rp.snapshot.Load().Percentile(p)
}

// GetMean forces a rotation check then returns the published snapshot's mean.
func (rp *RollingPercentile) GetMean() float64 {
	if !rp.enabled {
		return 0
	}
	rp.currentBucket()
	return rp.snapshot.Load().Mean()
}

// Snapshot returns the currently published Snapshot without forcing rotation.
func (rp *RollingPercentile) Snapshot() *Snapshot {
	return rp.snapshot.Load()
}

// Reset clears all buckets and the published snapshot back to empty.
func (rp *RollingPercentile) Reset() {
	for !atomic.CompareAndSwapInt32(&rp.writerLock, 0, 1) {
		runtime.Gosched()
	}
	defer atomic.StoreInt32(&rp.writerLock, 0)
	rp.ringPtr.Store(&percentileRing{buckets: []*percentileBucket{newPercentileBucket(rp.nowMillis(), rp.bucketCap)}})
	rp.snapshot.Store(emptySnapshot)
}
