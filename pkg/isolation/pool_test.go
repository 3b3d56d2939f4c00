package isolation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsolationPool_SubmitAndGet(t *testing.T) {
	pool := NewIsolationPool(2, 4, func() int { return 4 })
	defer pool.Shutdown()

	future, err := pool.Submit(context.Background(), func(ctx context.Context) (interface{}, error) {
		return 42, nil
	})
	require.NoError(t, err)

	v, err := future.Get(time.Second)
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.True(t, future.IsDone())
	assert.False(t, future.IsCancelled())
}

func TestIsolationPool_PropagatesTaskError(t *testing.T) {
	pool := NewIsolationPool(1, 4, func() int { return 4 })
	defer pool.Shutdown()

	boom := errors.New("boom")
	future, err := pool.Submit(context.Background(), func(ctx context.Context) (interface{}, error) {
		return nil, boom
	})
	require.NoError(t, err)

	_, err = future.Get(time.Second)
	assert.Equal(t, boom, err)
}

func TestIsolationPool_RejectsWhenQueueFull(t *testing.T) {
	release := make(chan struct{})
	pool := NewIsolationPool(1, 1, func() int { return 1 })
	defer pool.Shutdown()

	// Occupy the single worker so the next submission queues, and the one
	// after that is rejected by the admission predicate.
	_, err := pool.Submit(context.Background(), func(ctx context.Context) (interface{}, error) {
		<-release
		return nil, nil
	})
	require.NoError(t, err)

	// Give the worker a moment to dequeue this one before it fills the queue.
	time.Sleep(20 * time.Millisecond)

	_, err = pool.Submit(context.Background(), func(ctx context.Context) (interface{}, error) {
		<-release
		return nil, nil
	})
	require.NoError(t, err)

	_, err = pool.Submit(context.Background(), func(ctx context.Context) (interface{}, error) {
		return nil, nil
	})
	assert.ErrorIs(t, err, ErrQueueFull)

	close(release)
}

func TestIsolationPool_CancelPropagatesToTaskContext(t *testing.T) {
	pool := NewIsolationPool(1, 4, func() int { return 4 })
	defer pool.Shutdown()

	started := make(chan struct{})
	future, err := pool.Submit(context.Background(), func(ctx context.Context) (interface{}, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	require.NoError(t, err)

	<-started
	future.Cancel()

	_, err = future.Get(time.Second)
	assert.Equal(t, context.Canceled, err)
	assert.True(t, future.IsCancelled())
	assert.True(t, future.IsDone())
}

func TestIsolationPool_GetTimesOut(t *testing.T) {
	pool := NewIsolationPool(1, 4, func() int { return 4 })
	defer pool.Shutdown()

	release := make(chan struct{})
	future, err := pool.Submit(context.Background(), func(ctx context.Context) (interface{}, error) {
		<-release
		return nil, nil
	})
	require.NoError(t, err)

	_, err = future.Get(10 * time.Millisecond)
	assert.Equal(t, context.DeadlineExceeded, err)
	close(release)
}

func TestIsolationPool_ActiveAndPoolSizeAccessors(t *testing.T) {
	pool := NewIsolationPool(3, 4, func() int { return 4 })
	defer pool.Shutdown()

	assert.Equal(t, 3, pool.CurrentPoolSize())

	pool.MarkThreadExecution()
	assert.Equal(t, 1, pool.CurrentActiveCount())
	pool.MarkThreadCompletion()
	assert.Equal(t, 0, pool.CurrentActiveCount())
}

func TestIsolationPool_SubmitAfterShutdownFails(t *testing.T) {
	pool := NewIsolationPool(1, 4, func() int { return 4 })
	pool.Shutdown()

	_, err := pool.Submit(context.Background(), func(ctx context.Context) (interface{}, error) {
		return nil, nil
	})
	assert.ErrorIs(t, err, ErrPoolStopped)
}
