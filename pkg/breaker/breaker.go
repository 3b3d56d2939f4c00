// Package breaker implements the per-CommandKey circuit breaker: a
// CAS-driven {open, openedAt} pair that trips from CommandMetrics'
// HealthCounts and recovers through a single-winner half-open probe.
package breaker

import (
	"sync/atomic"

	"github.com/mattsp1290/circuitry/pkg/clock"
	"github.com/mattsp1290/circuitry/pkg/config"
	"github.com/mattsp1290/circuitry/pkg/metrics"
)

// CircuitBreaker gates a Command's CIRCUIT_CHECK state. It is a per-CommandKey
// singleton shared by every invocation of that command, so live is called on
// every decision rather than a Properties value being captured once at
// construction — force-open/closed, the volume/error thresholds, and the
// sleep window all take effect on the next call without rebuilding the
// breaker.
type CircuitBreaker struct {
	live    func() config.Properties
	metrics *metrics.CommandMetrics
	clock   clock.Clock

	open     int32 // 0 = closed, 1 = open; CAS-guarded
	openedAt int64 // unix millis at which the breaker tripped (or was last re-armed for a probe)
}

// New creates a CircuitBreaker calling live for its thresholds on every
// decision and metrics for its HealthCounts.
func New(live func() config.Properties, m *metrics.CommandMetrics, opts ...Option) *CircuitBreaker {
	o := options{clock: clock.Default}
	for _, f := range opts {
		f(&o)
	}
	return &CircuitBreaker{live: live, metrics: m, clock: o.clock}
}

// Option configures a CircuitBreaker at construction.
type Option func(*options)

type options struct {
	clock clock.Clock
}

// WithClock overrides the injected time source.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// AllowRequest decides whether CIRCUIT_CHECK should let the invocation
// proceed to ISOLATION_DISPATCH.
func (cb *CircuitBreaker) AllowRequest() bool {
	props := cb.live()
	if props.CircuitBreakerForceOpen {
		return false
	}
	if props.CircuitBreakerForceClosed {
		// Still evaluate isOpen() so the open/openedAt state stays visible
		// to observers (e.g. a metrics publisher) even though forceClosed
		// overrides the actual gating decision.
		cb.IsOpen()
		return true
	}
	return !cb.IsOpen() || cb.allowSingleTest()
}

// IsOpen reports the breaker's current state, tripping it (and recording
// openedAt) as a side effect if HealthCounts now justify it.
func (cb *CircuitBreaker) IsOpen() bool {
	if atomic.LoadInt32(&cb.open) == 1 {
		return true
	}

	props := cb.live()
	hc := cb.metrics.GetHealthCounts()
	if hc.TotalRequests < int64(props.CircuitBreakerRequestVolumeThreshold) {
		return false
	}
	if hc.ErrorPercentage <= props.CircuitBreakerErrorThresholdPercentage {
		return false
	}

	if atomic.CompareAndSwapInt32(&cb.open, 0, 1) {
		atomic.StoreInt64(&cb.openedAt, cb.clock.Now().UnixMilli())
	}
	return true
}

// allowSingleTest lets exactly one caller per cool-down window through as a
// half-open probe: the CAS winner (whoever advances openedAt first) gets
// true, everyone else sees the cool-down hasn't elapsed yet and gets false.
func (cb *CircuitBreaker) allowSingleTest() bool {
	if atomic.LoadInt32(&cb.open) == 0 {
		return false
	}
	now := cb.clock.Now().UnixMilli()
	openedAt := atomic.LoadInt64(&cb.openedAt)
	if now <= openedAt+cb.live().CircuitBreakerSleepWindow.Milliseconds() {
		return false
	}
	return atomic.CompareAndSwapInt64(&cb.openedAt, openedAt, now)
}

// MarkSuccess closes the breaker if it was open, resetting the underlying
// rolling counters wholesale — clearing short-circuited and rejection
// counts along with error counts rather than decaying them naturally
// through the window.
func (cb *CircuitBreaker) MarkSuccess() {
	if atomic.CompareAndSwapInt32(&cb.open, 1, 0) {
		cb.metrics.ResetCounters()
	}
}
