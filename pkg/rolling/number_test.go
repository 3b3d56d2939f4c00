package rolling

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/mattsp1290/circuitry/pkg/clock"
)

func TestRollingNumber_BucketRollover(t *testing.T) {
	base := time.Unix(0, 0)
	mock := clock.NewMock(base)
	rn := NewRollingNumber(200, 10, WithClock(mock))

	rn.Increment(Success)

	mock.SetTime(base.Add(60 * time.Millisecond))
	rn.Increment(Success)

	values := rn.GetValues(Success)
	require.Len(t, values, 4)
	assert.Equal(t, []int64{1, 0, 0, 1}, values)
	assert.EqualValues(t, 2, rn.GetRollingSum(Success))
}

func TestRollingNumber_WindowDrop(t *testing.T) {
	base := time.Unix(0, 0)
	mock := clock.NewMock(base)
	rn := NewRollingNumber(200, 10, WithClock(mock))

	rn.Increment(Success)
	mock.SetTime(base.Add(60 * time.Millisecond))
	rn.Increment(Success)

	mock.SetTime(base.Add(260 * time.Millisecond))
	rn.Increment(Success)

	assert.EqualValues(t, 1, rn.GetRollingSum(Success))
	assert.EqualValues(t, 3, rn.GetCumulativeSum(Success))
}

func TestRollingNumber_QuiescenceDrainsToZero(t *testing.T) {
	base := time.Unix(0, 0)
	mock := clock.NewMock(base)
	rn := NewRollingNumber(200, 10, WithClock(mock))

	rn.Increment(Success)
	mock.Advance(201 * time.Millisecond)

	assert.EqualValues(t, 0, rn.GetRollingSum(Success))
	assert.EqualValues(t, 1, rn.GetCumulativeSum(Success))
}

func TestRollingNumber_MaxUpdater(t *testing.T) {
	base := time.Unix(0, 0)
	mock := clock.NewMock(base)
	rn := NewRollingNumber(200, 10, WithClock(mock))

	rn.UpdateRollingMax(ThreadMaxActive, 3)
	rn.UpdateRollingMax(ThreadMaxActive, 7)
	rn.UpdateRollingMax(ThreadMaxActive, 5)

	assert.EqualValues(t, 7, rn.GetRollingMaxValue(ThreadMaxActive))
}

func TestRollingNumber_Reset_KeepsCumulative(t *testing.T) {
	base := time.Unix(0, 0)
	mock := clock.NewMock(base)
	rn := NewRollingNumber(200, 10, WithClock(mock))

	rn.Increment(Success)
	mock.Advance(201 * time.Millisecond)
	rn.GetRollingSum(Success) // force rollover/cumulative accumulation

	rn.Reset()

	assert.EqualValues(t, 0, rn.GetRollingSum(Success))
	assert.EqualValues(t, 1, rn.GetCumulativeSum(Success))
}

// TestRollingNumber_CumulativeMonotonic checks that cumulativeSum never
// decreases as time advances, driving a random sequence of increments and
// clock jumps with rapid.
func TestRollingNumber_CumulativeMonotonic(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		base := time.Unix(0, 0)
		mock := clock.NewMock(base)
		rn := NewRollingNumber(200, 10, WithClock(mock))

		steps := rapid.IntRange(1, 50).Draw(t, "steps")
		var lastCumulative int64
		for i := 0; i < steps; i++ {
			n := rapid.Int64Range(0, 5).Draw(t, "n")
			rn.Add(Success, n)

			jump := rapid.Int64Range(0, 50).Draw(t, "jump_ms")
			mock.Advance(time.Duration(jump) * time.Millisecond)

			cur := rn.GetCumulativeSum(Success)
			if cur < lastCumulative {
				t.Fatalf("cumulative sum decreased: %d -> %d", lastCumulative, cur)
			}
			lastCumulative = cur

			if rollingSum := rn.GetRollingSum(Success); rollingSum > cur {
				t.Fatalf("rolling sum %d exceeded cumulative sum %d", rollingSum, cur)
			}
		}
	})
}

func TestRollingNumber_GetValuesLengthCapsAtN(t *testing.T) {
	base := time.Unix(0, 0)
	mock := clock.NewMock(base)
	rn := NewRollingNumber(200, 10, WithClock(mock))

	for i := 0; i < 30; i++ {
		rn.Increment(Success)
		mock.Advance(20 * time.Millisecond)
	}

	assert.Len(t, rn.GetValues(Success), 10)
}
