package rolling

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"

	"github.com/mattsp1290/circuitry/pkg/clock"
)

func TestRollingPercentile_BasicQuery(t *testing.T) {
	base := time.Unix(0, 0)
	mock := clock.NewMock(base)
	rp := NewRollingPercentile(60000, 6, 100, true, WithClock(mock))

	for _, v := range []int64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100} {
		rp.AddValue(v)
	}
	// Force a rotation so the snapshot publishes.
	mock.Advance(10001 * time.Millisecond)

	assert.InDelta(t, 10, rp.GetPercentile(0), 0.001)
	assert.InDelta(t, 100, rp.GetPercentile(100), 0.001)
	assert.InDelta(t, 55, rp.GetMean(), 0.001)
}

func TestRollingPercentile_DisabledIsNoop(t *testing.T) {
	rp := NewRollingPercentile(60000, 6, 100, false)
	rp.AddValue(42)
	assert.EqualValues(t, 0, rp.GetPercentile(50))
	assert.EqualValues(t, 0, rp.GetMean())
}

func TestRollingPercentile_BucketCapOverwritesOldest(t *testing.T) {
	base := time.Unix(0, 0)
	mock := clock.NewMock(base)
	rp := NewRollingPercentile(20000, 2, 3, true, WithClock(mock))

	for i := int64(1); i <= 5; i++ {
		rp.AddValue(i)
	}
	// Cross one bucket boundary (10s) without exceeding the 20s window, so
	// the rotation publishes a snapshot instead of discarding it.
	mock.Advance(10001 * time.Millisecond)
	rp.GetMean() // force the rotation check

	snap := rp.Snapshot()
	assert.Equal(t, 3, snap.Len())
	assert.Equal(t, []int64{3, 4, 5}, snap.sorted)
}

// TestRollingPercentile_Monotonic drives the quantified invariant that for
// any snapshot, Percentile(p1) <= Percentile(p2) when p1 <= p2.
func TestRollingPercentile_Monotonic(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		base := time.Unix(0, 0)
		mock := clock.NewMock(base)
		rp := NewRollingPercentile(60000, 6, 100, true, WithClock(mock))

		n := rapid.IntRange(0, 200).Draw(t, "n")
		for i := 0; i < n; i++ {
			rp.AddValue(rapid.Int64Range(0, 1_000_000).Draw(t, "v"))
		}
		mock.Advance(10001 * time.Millisecond)

		p1 := rapid.Float64Range(0, 100).Draw(t, "p1")
		p2 := rapid.Float64Range(p1, 100).Draw(t, "p2")

		if rp.GetPercentile(p1) > rp.GetPercentile(p2) {
			t.Fatalf("percentile(%v)=%v > percentile(%v)=%v", p1, rp.GetPercentile(p1), p2, rp.GetPercentile(p2))
		}
	})
}
