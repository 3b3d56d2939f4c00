// Package metrics holds CommandMetrics, the per-CommandKey aggregate of
// rolling event counters, latency percentiles, and a debounced HealthCounts
// snapshot that CircuitBreaker reads to decide whether to trip.
package metrics

import (
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/mattsp1290/circuitry/pkg/clock"
	"github.com/mattsp1290/circuitry/pkg/config"
	"github.com/mattsp1290/circuitry/pkg/rolling"
)

// EventNotifier receives synchronous callbacks as CommandMetrics records
// events. The zero value (nil) is a valid Notifier field — CommandMetrics
// checks for nil before calling through it.
type EventNotifier interface {
	MarkEvent(eventType rolling.EventType, commandKey string)
	MarkCommandExecution(commandKey string, strategy config.IsolationStrategy, duration time.Duration, events []rolling.EventType)
}

// CommandMetrics aggregates one CommandKey's rolling counters, execution and
// total-latency percentiles, in-flight concurrency gauge, and cached
// HealthCounts.
type CommandMetrics struct {
	commandKey string
	healthSnapshotInterval time.Duration
	clock                  clock.Clock
	notifier               EventNotifier

	counters             *rolling.RollingNumber
	executionLatency     *rolling.RollingPercentile
	totalLatency         *rolling.RollingPercentile
	concurrentExecutions int64

	lastSnapshotAtMillis int64
	snapshot             atomic.Pointer[HealthCounts]
}

// Option configures a CommandMetrics at construction.
type Option func(*commandMetricsOptions)

type commandMetricsOptions struct {
	clock    clock.Clock
	logger   *zap.Logger
	notifier EventNotifier
}

// WithClock overrides the injected time source.
func WithClock(c clock.Clock) Option {
	return func(o *commandMetricsOptions) { o.clock = c }
}

// WithNotifier attaches an EventNotifier to receive mark callbacks.
func WithNotifier(n EventNotifier) Option {
	return func(o *commandMetricsOptions) { o.notifier = n }
}

// NewCommandMetrics builds a CommandMetrics for commandKey using props for
// its rolling-window shape.
func NewCommandMetrics(commandKey string, props config.Properties, opts ...Option) *CommandMetrics {
	o := commandMetricsOptions{clock: clock.Default, logger: zap.NewNop()}
	for _, f := range opts {
		f(&o)
	}

	rollingOpts := []rolling.Option{rolling.WithClock(o.clock), rolling.WithLogger(o.logger)}

	cm := &CommandMetrics{
		commandKey:             commandKey,
		healthSnapshotInterval: props.MetricsHealthSnapshotInterval,
		clock:                  o.clock,
		notifier:               o.notifier,
		counters: rolling.NewRollingNumber(
			props.MetricsRollingStatisticalWindowMillis,
			props.MetricsRollingStatisticalWindowBuckets,
			rollingOpts...,
		),
		executionLatency: rolling.NewRollingPercentile(
			props.MetricsRollingPercentileWindowMillis,
			props.MetricsRollingPercentileWindowBuckets,
			props.MetricsRollingPercentileBucketSize,
			props.MetricsRollingPercentileEnabled,
			rollingOpts...,
		),
		totalLatency: rolling.NewRollingPercentile(
			props.MetricsRollingPercentileWindowMillis,
			props.MetricsRollingPercentileWindowBuckets,
			props.MetricsRollingPercentileBucketSize,
			props.MetricsRollingPercentileEnabled,
			rollingOpts...,
		),
	}
	cm.snapshot.Store(&HealthCounts{})
	// Back-date the last snapshot by one interval so the first GetHealthCounts
	// call always computes a fresh snapshot instead of returning the empty one.
	cm.lastSnapshotAtMillis = o.clock.Now().UnixMilli() - props.MetricsHealthSnapshotInterval.Milliseconds()
	return cm
}

func (cm *CommandMetrics) mark(ev rolling.EventType) {
	cm.counters.Increment(ev)
	if cm.notifier != nil {
		cm.notifier.MarkEvent(ev, cm.commandKey)
	}
}

// MarkSuccess records a successful run and its execution latency. Total
// latency is recorded separately through RecordTotalLatency.
func (cm *CommandMetrics) MarkSuccess(executionDuration time.Duration) {
	cm.executionLatency.AddValue(executionDuration.Milliseconds())
	cm.mark(rolling.Success)
}

// MarkFailure records a run that threw. BadRequest is never recorded here;
// it goes through RecordExecutionLatency and MarkExceptionThrown instead.
func (cm *CommandMetrics) MarkFailure(executionDuration time.Duration) {
	cm.executionLatency.AddValue(executionDuration.Milliseconds())
	cm.mark(rolling.Failure)
}

// MarkTimeout records a thread-isolated run that exceeded its deadline.
func (cm *CommandMetrics) MarkTimeout(executionDuration time.Duration) {
	cm.executionLatency.AddValue(executionDuration.Milliseconds())
	cm.mark(rolling.Timeout)
}

// MarkShortCircuited records a CIRCUIT_CHECK rejection.
func (cm *CommandMetrics) MarkShortCircuited() { cm.mark(rolling.ShortCircuited) }

// MarkThreadPoolRejection records a Thread-strategy admission rejection.
func (cm *CommandMetrics) MarkThreadPoolRejection() { cm.mark(rolling.ThreadPoolRejected) }

// MarkSemaphoreRejection records a Semaphore-strategy tryAcquire failure.
func (cm *CommandMetrics) MarkSemaphoreRejection() { cm.mark(rolling.SemaphoreRejected) }

// MarkFallbackSuccess records a successful fallback invocation.
func (cm *CommandMetrics) MarkFallbackSuccess() { cm.mark(rolling.FallbackSuccess) }

// MarkFallbackFailure records a fallback that itself threw, or that ran
// with fallback disabled.
func (cm *CommandMetrics) MarkFallbackFailure() { cm.mark(rolling.FallbackFailure) }

// MarkFallbackRejection records a fallback semaphore tryAcquire failure.
func (cm *CommandMetrics) MarkFallbackRejection() { cm.mark(rolling.FallbackRejection) }

// MarkExceptionThrown records any run() throw, including BadRequest.
func (cm *CommandMetrics) MarkExceptionThrown() { cm.mark(rolling.ExceptionThrown) }

// RecordExecutionLatency records a run() duration into the execution
// percentile without marking any rolling-counter event — used for
// BadRequest, which must still show up in latency percentiles but must not
// move Success/Failure counts.
func (cm *CommandMetrics) RecordExecutionLatency(d time.Duration) {
	cm.executionLatency.AddValue(d.Milliseconds())
}

// MarkCollapsed records n requests folded into a single batched dispatch.
func (cm *CommandMetrics) MarkCollapsed(n int64) {
	cm.counters.Add(rolling.Collapsed, n)
	if cm.notifier != nil {
		cm.notifier.MarkEvent(rolling.Collapsed, cm.commandKey)
	}
}

// MarkResponseFromCache records a CACHE_LOOKUP hit.
func (cm *CommandMetrics) MarkResponseFromCache() { cm.mark(rolling.ResponseFromCache) }

// RecordTotalLatency records the full START-to-terminal latency of one
// invocation, independent of which path it took.
func (cm *CommandMetrics) RecordTotalLatency(d time.Duration) {
	cm.totalLatency.AddValue(d.Milliseconds())
}

// NotifyCommandExecution forwards the aggregate per-invocation summary to
// the attached EventNotifier, if any.
func (cm *CommandMetrics) NotifyCommandExecution(strategy config.IsolationStrategy, duration time.Duration, events []rolling.EventType) {
	if cm.notifier != nil {
		cm.notifier.MarkCommandExecution(cm.commandKey, strategy, duration, events)
	}
}

// IncrementConcurrentExecutionCount increments the in-flight gauge, called
// from the Command runtime's START state.
func (cm *CommandMetrics) IncrementConcurrentExecutionCount() int64 {
	return atomic.AddInt64(&cm.concurrentExecutions, 1)
}

// DecrementConcurrentExecutionCount decrements the in-flight gauge.
func (cm *CommandMetrics) DecrementConcurrentExecutionCount() int64 {
	return atomic.AddInt64(&cm.concurrentExecutions, -1)
}

// CurrentConcurrentExecutionCount returns the in-flight gauge's current value.
func (cm *CommandMetrics) CurrentConcurrentExecutionCount() int64 {
	return atomic.LoadInt64(&cm.concurrentExecutions)
}

// GetHealthCounts returns a cached HealthCounts snapshot, recomputed at most
// once per healthSnapshotInterval. Concurrent callers that lose the
// recompute race simply read the previous snapshot rather than waiting.
func (cm *CommandMetrics) GetHealthCounts() HealthCounts {
	now := cm.clock.Now().UnixMilli()
	last := atomic.LoadInt64(&cm.lastSnapshotAtMillis)

	if now-last < cm.healthSnapshotInterval.Milliseconds() {
		return *cm.snapshot.Load()
	}
	if !atomic.CompareAndSwapInt64(&cm.lastSnapshotAtMillis, last, now) {
		return *cm.snapshot.Load()
	}

	hc := computeHealthCounts(
		cm.counters.GetRollingSum(rolling.Success),
		cm.counters.GetRollingSum(rolling.Failure),
		cm.counters.GetRollingSum(rolling.Timeout),
		cm.counters.GetRollingSum(rolling.ThreadPoolRejected),
		cm.counters.GetRollingSum(rolling.SemaphoreRejected),
		cm.counters.GetRollingSum(rolling.ShortCircuited),
	)
	cm.snapshot.Store(&hc)
	return hc
}

// ResetCounters clears the rolling counters (used by CircuitBreaker's
// markSuccess close-transition to wipe accumulated error history). It does
// not reset the concurrent-execution gauge or the health snapshot cache.
func (cm *CommandMetrics) ResetCounters() {
	cm.counters.Reset()
}

// GetRollingSum exposes the underlying RollingNumber's sum for a given
// event, for the metrics publisher and tests.
func (cm *CommandMetrics) GetRollingSum(ev rolling.EventType) int64 {
	return cm.counters.GetRollingSum(ev)
}

// GetCumulativeSum exposes the underlying RollingNumber's cumulative sum.
func (cm *CommandMetrics) GetCumulativeSum(ev rolling.EventType) int64 {
	return cm.counters.GetCumulativeSum(ev)
}

// GetExecutionLatencyPercentile returns the pth percentile of recorded
// execution (run()-only) latencies in milliseconds.
func (cm *CommandMetrics) GetExecutionLatencyPercentile(p float64) int64 {
	return cm.executionLatency.GetPercentile(p)
}

// GetTotalLatencyPercentile returns the pth percentile of recorded
// START-to-terminal latencies in milliseconds.
func (cm *CommandMetrics) GetTotalLatencyPercentile(p float64) int64 {
	return cm.totalLatency.GetPercentile(p)
}
