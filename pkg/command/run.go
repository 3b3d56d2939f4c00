package command

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/mattsp1290/circuitry/pkg/cerrors"
	"github.com/mattsp1290/circuitry/pkg/rolling"
)

var errNoRunFunc = errors.New("command: no run function configured; call Builder.WithRun")

// doRun implements RUN: it calls the user's run() under a child span,
// records execution latency and the Success/Failure/ExceptionThrown
// events, and updates the circuit breaker on success. It does not decide
// whether FALLBACK is needed — see resolveRunOutcome for that, since the
// decision differs by zero lines between the semaphore and thread dispatch
// paths but the caller context (synchronous vs. pool worker) does not.
func (c *Command) doRun(ctx context.Context, parent trace.Span) (interface{}, error) {
	ctx, span := c.tracer.Start(ctx, "run")
	defer span.End()

	if c.run == nil {
		return nil, cerrors.NewRuntimeFailure(cerrors.FailureCommandException, errNoRunFunc)
	}

	c.hooks.onRunStart(c.commandKey)
	start := time.Now()
	v, err := c.run(ctx)
	dur := time.Since(start)

	if err == nil {
		c.metrics.MarkSuccess(dur)
		c.mark(rolling.Success)
		c.breaker.MarkSuccess()
		c.hooks.onRunSuccess(c.commandKey, v)
		return v, nil
	}

	if bad, ok := err.(*cerrors.BadRequestFailure); ok {
		// BadRequest bypasses fallback and leaves the breaker/error counts
		// untouched; only ExceptionThrown is recorded.
		c.metrics.RecordExecutionLatency(dur)
		c.metrics.MarkExceptionThrown()
		c.mark(rolling.ExceptionThrown)
		return nil, bad
	}

	c.metrics.MarkFailure(dur)
	c.metrics.MarkExceptionThrown()
	c.mark(rolling.Failure)
	c.mark(rolling.ExceptionThrown)
	return nil, cerrors.NewRuntimeFailure(cerrors.FailureCommandException, err)
}

// runFallback implements FALLBACK(failureType, cause). cause may be nil
// when the triggering event (Shortcircuit, RejectedThreadExecution,
// RejectedSemaphoreExecution) carries no underlying error.
func (c *Command) runFallback(ctx context.Context, failureType cerrors.FailureType, cause error) (interface{}, error) {
	ctx, span := c.tracer.Start(ctx, "fallback")
	defer span.End()

	if !c.props.FallbackEnabled {
		c.metrics.MarkFallbackFailure()
		c.mark(rolling.FallbackFailure)
		return nil, cerrors.NewRuntimeFailure(failureType, cause)
	}

	if !c.fallbackSemaphore.TryAcquire() {
		c.metrics.MarkFallbackRejection()
		c.mark(rolling.FallbackRejection)
		return nil, cerrors.NewRuntimeFailure(failureType, cause).
			WithFallbackError(cerrors.FallbackRejectedSemaphoreFallback, nil)
	}
	defer c.fallbackSemaphore.Release()

	c.hooks.onFallbackStart(c.commandKey)
	v, err := c.fallback(ctx, cause)
	if err == nil {
		c.metrics.MarkFallbackSuccess()
		c.mark(rolling.FallbackSuccess)
		c.hooks.onFallbackSuccess(c.commandKey, v)
		return v, nil
	}

	c.metrics.MarkFallbackFailure()
	c.mark(rolling.FallbackFailure)
	c.hooks.onFallbackError(c.commandKey, err)
	return nil, cerrors.NewRuntimeFailure(failureType, cause).
		WithFallbackError(cerrors.FallbackThrew, err)
}
