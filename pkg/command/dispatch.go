package command

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/mattsp1290/circuitry/pkg/cerrors"
	"github.com/mattsp1290/circuitry/pkg/config"
	"github.com/mattsp1290/circuitry/pkg/rolling"
)

// dispatch implements ISOLATION_DISPATCH, choosing Thread or Semaphore
// strategy per props.ExecutionIsolationStrategy.
func (c *Command) dispatch(ctx context.Context, span trace.Span) (interface{}, error) {
	if c.props.ExecutionIsolationStrategy == config.Semaphore {
		return c.dispatchSemaphore(ctx, span)
	}
	return c.dispatchThread(ctx, span)
}

// dispatchSemaphore runs the command synchronously on the calling
// goroutine, gated by the execution semaphore. There is no command-level
// timeout in this strategy; the caller's own ctx deadline, if any, applies.
func (c *Command) dispatchSemaphore(ctx context.Context, span trace.Span) (interface{}, error) {
	if !c.executionSemaphore.TryAcquire() {
		c.mark(rolling.SemaphoreRejected)
		c.metrics.MarkSemaphoreRejection()
		c.logger.Warn("circuitry: semaphore rejected", zap.String("command_key", c.commandKey))
		return c.runFallback(ctx, cerrors.FailureRejectedSemaphoreExecution, nil)
	}
	defer c.executionSemaphore.Release()

	v, err := c.doRun(ctx, span)
	return c.resolveRunOutcome(ctx, v, err)
}

// dispatchThread submits the run to the command's IsolationPool, enforcing
// executionIsolationThreadTimeout. A late successful completion after the
// timeout fires does not alter the outcome already returned to the
// caller — the timeout branch returns as soon as its timer fires and never
// waits on the pool worker goroutine again, though that goroutine keeps
// running doRun to completion in the background so metrics/breaker state
// stay accurate.
func (c *Command) dispatchThread(ctx context.Context, span trace.Span) (interface{}, error) {
	if !c.pool.IsQueueSpaceAvailable() {
		c.mark(rolling.ThreadPoolRejected)
		c.metrics.MarkThreadPoolRejection()
		c.logger.Warn("circuitry: thread pool rejected", zap.String("command_key", c.commandKey))
		return c.runFallback(ctx, cerrors.FailureRejectedThreadExecution, nil)
	}

	fut, err := c.pool.Submit(ctx, func(taskCtx context.Context) (interface{}, error) {
		c.hooks.onThreadStart(c.commandKey)
		c.pool.MarkThreadExecution()
		v, runErr := c.doRun(taskCtx, span)
		c.pool.MarkThreadCompletion()
		c.hooks.onThreadComplete(c.commandKey)
		return v, runErr
	})
	if err != nil {
		// Submit refused the task: the admission check above raced a
		// concurrent submitter and lost, the queue channel was full, or the
		// pool was shut down. Record it as a thread-pool rejection and fall back.
		c.mark(rolling.ThreadPoolRejected)
		c.metrics.MarkThreadPoolRejection()
		return c.runFallback(ctx, cerrors.FailureRejectedThreadExecution, nil)
	}

	v, err := fut.Get(c.props.ExecutionIsolationThreadTimeout)
	if err == context.DeadlineExceeded {
		if c.props.ExecutionIsolationThreadInterruptOnTimeout {
			fut.Cancel()
		}
		c.mark(rolling.Timeout)
		c.metrics.MarkTimeout(time.Since(c.startedAt))
		return c.runFallback(ctx, cerrors.FailureTimeout, nil)
	}

	return c.resolveRunOutcome(ctx, v, err)
}

// resolveRunOutcome turns doRun's result into a final outcome: success and
// BadRequest pass through untouched (doRun already recorded their metrics
// and bypasses fallback for BadRequest), while a CommandException still
// needs FALLBACK dispatched.
func (c *Command) resolveRunOutcome(ctx context.Context, v interface{}, err error) (interface{}, error) {
	if err == nil {
		return v, nil
	}
	if _, ok := err.(*cerrors.BadRequestFailure); ok {
		return v, err
	}
	if rf, ok := cerrors.AsRuntimeFailure(err); ok && rf.FailureType == cerrors.FailureCommandException {
		return c.runFallback(ctx, cerrors.FailureCommandException, rf.Cause)
	}
	return c.runFallback(ctx, cerrors.FailureCommandException, err)
}
