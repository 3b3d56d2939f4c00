// Package command implements the Command execution state machine: the
// runtime that ties request-cache lookup, circuit breaker check, isolation
// dispatch, the user's run/fallback functions, and metrics/tracing together
// for one invocation.
package command

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/mattsp1290/circuitry/pkg/breaker"
	"github.com/mattsp1290/circuitry/pkg/cerrors"
	"github.com/mattsp1290/circuitry/pkg/config"
	"github.com/mattsp1290/circuitry/pkg/isolation"
	"github.com/mattsp1290/circuitry/pkg/metrics"
	"github.com/mattsp1290/circuitry/pkg/requestcache"
	"github.com/mattsp1290/circuitry/pkg/rolling"
)

// RunFunc is the user's primary dependency call. A returned
// *cerrors.BadRequestFailure is treated as BadRequest; any other error is
// CommandException.
type RunFunc func(ctx context.Context) (interface{}, error)

// FallbackFunc is the user's recovery path, invoked on any failure mode
// other than BadRequest. The default FallbackFunc (when none is supplied)
// always returns an error, so FALLBACK immediately records FallbackFailure.
type FallbackFunc func(ctx context.Context, cause error) (interface{}, error)

// CacheKeyFunc derives a request-cache key for one invocation. An empty
// string disables caching for that call even when requestCacheEnabled is
// true.
type CacheKeyFunc func() string

var errNoFallbackConfigured = noFallbackError{}

type noFallbackError struct{}

func (noFallbackError) Error() string { return "command: no fallback configured" }

func defaultFallback(ctx context.Context, cause error) (interface{}, error) {
	return nil, errNoFallbackConfigured
}

func defaultCacheKey() string { return "" }

// Hooks are synchronous callbacks fired at the state-machine transitions,
// for observability or testing. Every field may be nil.
type Hooks struct {
	OnStart           func(commandKey string)
	OnThreadStart     func(commandKey string)
	OnThreadComplete  func(commandKey string)
	OnRunStart        func(commandKey string)
	OnRunSuccess      func(commandKey string, v interface{})
	OnFallbackStart   func(commandKey string)
	OnFallbackSuccess func(commandKey string, v interface{})
	OnFallbackError   func(commandKey string, err error)
	OnComplete        func(commandKey string, v interface{}, err error)
}

func (h *Hooks) onStart(k string) {
	if h != nil && h.OnStart != nil {
		h.OnStart(k)
	}
}
func (h *Hooks) onThreadStart(k string) {
	if h != nil && h.OnThreadStart != nil {
		h.OnThreadStart(k)
	}
}
func (h *Hooks) onThreadComplete(k string) {
	if h != nil && h.OnThreadComplete != nil {
		h.OnThreadComplete(k)
	}
}
func (h *Hooks) onRunStart(k string) {
	if h != nil && h.OnRunStart != nil {
		h.OnRunStart(k)
	}
}
func (h *Hooks) onRunSuccess(k string, v interface{}) {
	if h != nil && h.OnRunSuccess != nil {
		h.OnRunSuccess(k, v)
	}
}
func (h *Hooks) onFallbackStart(k string) {
	if h != nil && h.OnFallbackStart != nil {
		h.OnFallbackStart(k)
	}
}
func (h *Hooks) onFallbackSuccess(k string, v interface{}) {
	if h != nil && h.OnFallbackSuccess != nil {
		h.OnFallbackSuccess(k, v)
	}
}
func (h *Hooks) onFallbackError(k string, err error) {
	if h != nil && h.OnFallbackError != nil {
		h.OnFallbackError(k, err)
	}
}
func (h *Hooks) onComplete(k string, v interface{}, err error) {
	if h != nil && h.OnComplete != nil {
		h.OnComplete(k, v, err)
	}
}

// eventLog is a mutex-guarded accumulator for the events one invocation
// records, read by NotifyCommandExecution once the invocation settles. A
// plain slice is unsafe here: a late pool worker can still be appending to
// it (for metrics purposes) after Execute has already returned along the
// timeout path.
type eventLog struct {
	mu     sync.Mutex
	events []rolling.EventType
}

func (l *eventLog) add(ev rolling.EventType) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

func (l *eventLog) snapshot() []rolling.EventType {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]rolling.EventType, len(l.events))
	copy(out, l.events)
	return out
}

// Command is a single invocation unit, constructed by a Builder. It is
// short-lived: built once per call and discarded after Execute/Queue
// returns, while the CommandMetrics/CircuitBreaker/IsolationPool it
// references are long-lived singletons shared across every invocation of
// the same CommandKey.
type Command struct {
	groupKey   string
	commandKey string
	poolKey    string

	props   config.Properties
	metrics *metrics.CommandMetrics
	breaker *breaker.CircuitBreaker
	pool    *isolation.IsolationPool

	executionSemaphore *isolation.TryableSemaphore
	fallbackSemaphore  *isolation.TryableSemaphore

	run      RunFunc
	fallback FallbackFunc
	cacheKey CacheKeyFunc
	hooks    *Hooks

	logger *zap.Logger
	tracer trace.Tracer

	startedAt         time.Time
	executionComplete int32
	executionTimeMs   int64
	events            eventLog
}

// IsCircuitBreakerOpen reports the breaker's current state for this
// Command's CommandKey, without side effects beyond what IsOpen() already
// performs (it may trip the breaker if HealthCounts now justify it).
func (c *Command) IsCircuitBreakerOpen() bool {
	return c.breaker.IsOpen()
}

// IsExecutionComplete reports whether this Command's invocation has
// produced a terminal outcome.
func (c *Command) IsExecutionComplete() bool {
	return atomic.LoadInt32(&c.executionComplete) == 1
}

// GetExecutionTimeInMilliseconds returns the START-to-terminal latency of
// this invocation, valid only once IsExecutionComplete is true.
func (c *Command) GetExecutionTimeInMilliseconds() int64 {
	return atomic.LoadInt64(&c.executionTimeMs)
}

// Execute runs the command synchronously and returns its result, blocking
// until a terminal outcome (success value, RuntimeFailure, or
// BadRequestFailure) is reached.
func (c *Command) Execute(ctx context.Context) (interface{}, error) {
	return c.execute(ctx)
}

// Queue submits the command and returns immediately with a future handle
// whose Get blocks for the eventual outcome; it never blocks itself.
func (c *Command) Queue(ctx context.Context) *Future {
	fut := newFuture()
	go func() {
		v, err := c.Execute(ctx)
		fut.complete(v, err)
	}()
	return fut
}

// execute is Execute's and Queue's shared body.
func (c *Command) execute(ctx context.Context) (interface{}, error) {
	c.startedAt = time.Now()
	ctx, span := c.tracer.Start(ctx, "circuitry."+c.groupKey+"."+c.commandKey,
		trace.WithAttributes(
			attribute.String("circuitry.pool_key", c.poolKey),
			attribute.String("circuitry.isolation_strategy", c.props.ExecutionIsolationStrategy.String()),
		))
	defer span.End()

	c.hooks.onStart(c.commandKey)
	c.metrics.IncrementConcurrentExecutionCount()
	defer c.metrics.DecrementConcurrentExecutionCount()

	v, cacheApplies, err := c.cacheLookup(ctx, span)
	if !cacheApplies {
		v, err = c.circuitCheck(ctx, span)
	}
	c.finish(v, err, span)
	return v, err
}

func (c *Command) finish(v interface{}, err error, span trace.Span) {
	atomic.StoreInt32(&c.executionComplete, 1)
	atomic.StoreInt64(&c.executionTimeMs, time.Since(c.startedAt).Milliseconds())
	c.metrics.RecordTotalLatency(time.Since(c.startedAt))
	if err != nil {
		if rf, ok := cerrors.AsRuntimeFailure(err); ok {
			span.SetAttributes(attribute.String("circuitry.failure_type", rf.FailureType.String()))
		}
	}
	c.metrics.NotifyCommandExecution(c.props.ExecutionIsolationStrategy, time.Since(c.startedAt), c.events.snapshot())
	c.hooks.onComplete(c.commandKey, v, err)
}

// cacheLookup implements CACHE_LOOKUP. applies is true whenever a
// RequestContext and a non-empty cache key make the whole CACHE_LOOKUP
// machinery relevant to this call, in which case v/err is the final
// outcome and no further state-machine steps run. When applies is true and
// shared is also true, this call's result was not newly computed by this
// call — it either joined an in-flight call for the same key, led one other
// goroutines joined, or reused a result memoized from an earlier,
// non-overlapping call within the same RequestContext. RequestContext.Do
// cannot distinguish a joiner from the leader of a call other goroutines
// joined, so the leader of a shared call is also marked ResponseFromCache;
// documented simplification rather than custom leader-tracking.
func (c *Command) cacheLookup(ctx context.Context, span trace.Span) (interface{}, bool, error) {
	if !c.props.RequestCacheEnabled {
		return nil, false, nil
	}
	key := c.cacheKey()
	if key == "" {
		return nil, false, nil
	}
	rc, ok := requestcache.FromContext(ctx)
	if !ok {
		return nil, false, nil
	}

	v, shared, err := rc.Do(key, func() (interface{}, error) {
		return c.circuitCheck(ctx, span)
	})
	if shared {
		c.metrics.MarkResponseFromCache()
		c.events.add(rolling.ResponseFromCache)
	}
	return v, true, err
}

// circuitCheck implements CIRCUIT_CHECK.
func (c *Command) circuitCheck(ctx context.Context, span trace.Span) (interface{}, error) {
	if c.props.CircuitBreakerEnabled && !c.breaker.AllowRequest() {
		c.metrics.MarkShortCircuited()
		c.mark(rolling.ShortCircuited)
		return c.runFallback(ctx, cerrors.FailureShortcircuit, nil)
	}
	return c.dispatch(ctx, span)
}

func (c *Command) mark(ev rolling.EventType) {
	c.events.add(ev)
}
