// Package config implements the property chain a Command reads its
// dispatch/breaker/metrics parameters from: a process-wide default layer,
// overridden per GroupKey/CommandKey by functional options supplied to the
// command builder, resolved afresh every time a command is built.
package config

import "time"

// IsolationStrategy selects how a Command's RUN phase is dispatched.
type IsolationStrategy int

const (
	// Thread dispatches RUN onto an IsolationPool worker goroutine, with a
	// timeout and optional cooperative interrupt.
	Thread IsolationStrategy = iota
	// Semaphore dispatches RUN synchronously on the caller's goroutine,
	// gated by a TryableSemaphore; no command-level timeout applies.
	Semaphore
)

func (s IsolationStrategy) String() string {
	if s == Semaphore {
		return "Semaphore"
	}
	return "Thread"
}

// Properties is the full, resolved set of knobs a single Command invocation
// reads. Every field corresponds to one row of the recognized property set.
type Properties struct {
	ExecutionIsolationStrategy                       IsolationStrategy
	ExecutionIsolationThreadTimeout                   time.Duration
	ExecutionIsolationThreadInterruptOnTimeout        bool
	ExecutionIsolationSemaphoreMaxConcurrentRequests  int
	FallbackIsolationSemaphoreMaxConcurrentRequests   int
	FallbackEnabled                                   bool

	CircuitBreakerEnabled                 bool
	CircuitBreakerRequestVolumeThreshold   int
	CircuitBreakerErrorThresholdPercentage int
	CircuitBreakerSleepWindow              time.Duration
	CircuitBreakerForceOpen                bool
	CircuitBreakerForceClosed              bool

	MetricsRollingStatisticalWindowMillis  int64
	MetricsRollingStatisticalWindowBuckets int
	MetricsRollingPercentileWindowMillis   int64
	MetricsRollingPercentileWindowBuckets  int
	MetricsRollingPercentileBucketSize     int
	MetricsRollingPercentileEnabled        bool
	MetricsHealthSnapshotInterval          time.Duration

	RequestCacheEnabled bool
	RequestLogEnabled   bool

	PoolCoreSize                    int
	PoolMaxQueueSize                int
	PoolQueueSizeRejectionThreshold int
	PoolKeepAliveTime               time.Duration
}

// Defaults returns the library's documented default property set.
func Defaults() Properties {
	return Properties{
		ExecutionIsolationStrategy:               Thread,
		ExecutionIsolationThreadTimeout:           1 * time.Second,
		ExecutionIsolationThreadInterruptOnTimeout: true,
		ExecutionIsolationSemaphoreMaxConcurrentRequests: 10,
		FallbackIsolationSemaphoreMaxConcurrentRequests:  10,
		FallbackEnabled: true,

		CircuitBreakerEnabled:                 true,
		CircuitBreakerRequestVolumeThreshold:   20,
		CircuitBreakerErrorThresholdPercentage: 50,
		CircuitBreakerSleepWindow:              5 * time.Second,
		CircuitBreakerForceOpen:                false,
		CircuitBreakerForceClosed:              false,

		MetricsRollingStatisticalWindowMillis:  10_000,
		MetricsRollingStatisticalWindowBuckets: 10,
		MetricsRollingPercentileWindowMillis:   60_000,
		MetricsRollingPercentileWindowBuckets:  6,
		MetricsRollingPercentileBucketSize:     100,
		MetricsRollingPercentileEnabled:        true,
		MetricsHealthSnapshotInterval:          500 * time.Millisecond,

		RequestCacheEnabled: true,
		RequestLogEnabled:   true,

		PoolCoreSize:                    10,
		PoolMaxQueueSize:                -1,
		PoolQueueSizeRejectionThreshold: 5,
		PoolKeepAliveTime:               1 * time.Minute,
	}
}

// Option mutates a Properties value, applied in order over the defaults.
type Option func(*Properties)

// Resolve applies opts over Defaults() and returns the merged result.
// PropertyTable.Resolve calls it on every command build and keeps the
// latest result per CommandKey only for Current to read; it never skips
// re-resolution.
func Resolve(opts ...Option) Properties {
	p := Defaults()
	for _, opt := range opts {
		opt(&p)
	}
	return p
}

func WithExecutionIsolationStrategy(s IsolationStrategy) Option {
	return func(p *Properties) { p.ExecutionIsolationStrategy = s }
}

func WithExecutionIsolationThreadTimeout(d time.Duration) Option {
	return func(p *Properties) { p.ExecutionIsolationThreadTimeout = d }
}

func WithExecutionIsolationThreadInterruptOnTimeout(b bool) Option {
	return func(p *Properties) { p.ExecutionIsolationThreadInterruptOnTimeout = b }
}

func WithExecutionIsolationSemaphoreMaxConcurrentRequests(n int) Option {
	return func(p *Properties) { p.ExecutionIsolationSemaphoreMaxConcurrentRequests = n }
}

func WithFallbackIsolationSemaphoreMaxConcurrentRequests(n int) Option {
	return func(p *Properties) { p.FallbackIsolationSemaphoreMaxConcurrentRequests = n }
}

func WithFallbackEnabled(b bool) Option {
	return func(p *Properties) { p.FallbackEnabled = b }
}

func WithCircuitBreakerEnabled(b bool) Option {
	return func(p *Properties) { p.CircuitBreakerEnabled = b }
}

func WithCircuitBreakerRequestVolumeThreshold(n int) Option {
	return func(p *Properties) { p.CircuitBreakerRequestVolumeThreshold = n }
}

func WithCircuitBreakerErrorThresholdPercentage(n int) Option {
	return func(p *Properties) { p.CircuitBreakerErrorThresholdPercentage = n }
}

func WithCircuitBreakerSleepWindow(d time.Duration) Option {
	return func(p *Properties) { p.CircuitBreakerSleepWindow = d }
}

func WithCircuitBreakerForceOpen(b bool) Option {
	return func(p *Properties) { p.CircuitBreakerForceOpen = b }
}

func WithCircuitBreakerForceClosed(b bool) Option {
	return func(p *Properties) { p.CircuitBreakerForceClosed = b }
}

func WithMetricsRollingStatisticalWindow(millis int64, buckets int) Option {
	return func(p *Properties) {
		p.MetricsRollingStatisticalWindowMillis = millis
		p.MetricsRollingStatisticalWindowBuckets = buckets
	}
}

func WithMetricsRollingPercentileWindow(millis int64, buckets, bucketSize int) Option {
	return func(p *Properties) {
		p.MetricsRollingPercentileWindowMillis = millis
		p.MetricsRollingPercentileWindowBuckets = buckets
		p.MetricsRollingPercentileBucketSize = bucketSize
	}
}

func WithMetricsRollingPercentileEnabled(b bool) Option {
	return func(p *Properties) { p.MetricsRollingPercentileEnabled = b }
}

func WithMetricsHealthSnapshotInterval(d time.Duration) Option {
	return func(p *Properties) { p.MetricsHealthSnapshotInterval = d }
}

func WithRequestCacheEnabled(b bool) Option {
	return func(p *Properties) { p.RequestCacheEnabled = b }
}

func WithRequestLogEnabled(b bool) Option {
	return func(p *Properties) { p.RequestLogEnabled = b }
}

func WithPoolCoreSize(n int) Option {
	return func(p *Properties) { p.PoolCoreSize = n }
}

func WithPoolMaxQueueSize(n int) Option {
	return func(p *Properties) { p.PoolMaxQueueSize = n }
}

func WithPoolQueueSizeRejectionThreshold(n int) Option {
	return func(p *Properties) { p.PoolQueueSizeRejectionThreshold = n }
}

func WithPoolKeepAliveTime(d time.Duration) Option {
	return func(p *Properties) { p.PoolKeepAliveTime = d }
}
