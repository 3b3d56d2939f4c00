package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/mattsp1290/circuitry/pkg/clock"
	"github.com/mattsp1290/circuitry/pkg/config"
	"github.com/mattsp1290/circuitry/pkg/rolling"
)

type recordingNotifier struct {
	events []rolling.EventType
}

func (n *recordingNotifier) MarkEvent(ev rolling.EventType, commandKey string) {
	n.events = append(n.events, ev)
}
func (n *recordingNotifier) MarkCommandExecution(string, config.IsolationStrategy, time.Duration, []rolling.EventType) {
}

func TestCommandMetrics_MarkSuccessAndFailureCountSeparately(t *testing.T) {
	cm := NewCommandMetrics("cmd", config.Defaults())

	cm.MarkSuccess(10 * time.Millisecond)
	cm.MarkSuccess(20 * time.Millisecond)
	cm.MarkFailure(5 * time.Millisecond)

	assert.EqualValues(t, 2, cm.GetRollingSum(rolling.Success))
	assert.EqualValues(t, 1, cm.GetRollingSum(rolling.Failure))
}

func TestCommandMetrics_HealthCounts(t *testing.T) {
	cm := NewCommandMetrics("cmd", config.Defaults())

	cm.MarkSuccess(time.Millisecond)
	cm.MarkSuccess(time.Millisecond)
	cm.MarkFailure(time.Millisecond)
	cm.MarkTimeout(time.Millisecond)

	hc := cm.GetHealthCounts()
	assert.EqualValues(t, 4, hc.TotalRequests)
	assert.EqualValues(t, 2, hc.ErrorCount)
	assert.Equal(t, 50, hc.ErrorPercentage)
}

func TestCommandMetrics_HealthCountsDebounced(t *testing.T) {
	mock := clock.NewMock(time.Unix(0, 0))
	cm := NewCommandMetrics("cmd", config.Properties{
		MetricsRollingStatisticalWindowMillis:  10_000,
		MetricsRollingStatisticalWindowBuckets: 10,
		MetricsRollingPercentileWindowMillis:   60_000,
		MetricsRollingPercentileWindowBuckets:  6,
		MetricsRollingPercentileBucketSize:     100,
		MetricsHealthSnapshotInterval:          500 * time.Millisecond,
	}, WithClock(mock))

	cm.MarkSuccess(time.Millisecond)
	first := cm.GetHealthCounts()
	assert.EqualValues(t, 1, first.TotalRequests)

	// Another success arrives before the debounce interval elapses; the
	// snapshot should still show the stale total.
	cm.MarkSuccess(time.Millisecond)
	stale := cm.GetHealthCounts()
	assert.EqualValues(t, 1, stale.TotalRequests)

	mock.Advance(501 * time.Millisecond)
	fresh := cm.GetHealthCounts()
	assert.EqualValues(t, 2, fresh.TotalRequests)
}

func TestCommandMetrics_ConcurrentExecutionGauge(t *testing.T) {
	cm := NewCommandMetrics("cmd", config.Defaults())

	assert.EqualValues(t, 1, cm.IncrementConcurrentExecutionCount())
	assert.EqualValues(t, 2, cm.IncrementConcurrentExecutionCount())
	assert.EqualValues(t, 1, cm.DecrementConcurrentExecutionCount())
	assert.EqualValues(t, 1, cm.CurrentConcurrentExecutionCount())
}

func TestCommandMetrics_NotifierReceivesMarkedEvents(t *testing.T) {
	notifier := &recordingNotifier{}
	cm := NewCommandMetrics("cmd", config.Defaults(), WithNotifier(notifier))

	cm.MarkSuccess(time.Millisecond)
	cm.MarkShortCircuited()

	assert.Equal(t, []rolling.EventType{rolling.Success, rolling.ShortCircuited}, notifier.events)
}

func TestCommandMetrics_ResetCountersClearsRollingButKeepsGauge(t *testing.T) {
	cm := NewCommandMetrics("cmd", config.Defaults())

	cm.IncrementConcurrentExecutionCount()
	cm.MarkSuccess(time.Millisecond)
	cm.ResetCounters()

	assert.EqualValues(t, 0, cm.GetRollingSum(rolling.Success))
	assert.EqualValues(t, 1, cm.CurrentConcurrentExecutionCount())
}
