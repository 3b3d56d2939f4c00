package isolation

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ErrQueueFull is returned by Submit when the admission predicate denies
// entry — the caller should mark a ThreadPoolRejected event and fall back,
// not retry.
var ErrQueueFull = errors.New("isolation: queue space unavailable")

// ErrPoolStopped is returned by Submit once the pool has been shut down.
var ErrPoolStopped = errors.New("isolation: pool is stopped")

// Task is a unit of work dispatched to an IsolationPool. It receives a
// context that is cancelled if the future is cancelled or the timeout
// interrupt fires, and should check ctx cooperatively where it can.
type Task func(ctx context.Context) (interface{}, error)

type result struct {
	value interface{}
	err   error
}

// Future is the handle returned by Submit. Its value becomes available
// once the worker that dequeued the task finishes running it.
type Future struct {
	resultCh  chan result
	cancel    context.CancelFunc
	done      int32
	cancelled int32

	once sync.Once
	val  interface{}
	err  error
}

func newFuture(cancel context.CancelFunc) *Future {
	return &Future{resultCh: make(chan result, 1), cancel: cancel}
}

func (f *Future) complete(v interface{}, err error) {
	f.once.Do(func() {
		f.val, f.err = v, err
		atomic.StoreInt32(&f.done, 1)
		f.resultCh <- result{value: v, err: err}
		close(f.resultCh)
	})
}

// Cancel requests cooperative cancellation of the running task via its
// context. It does not itself mark the future done — that happens when the
// task observes cancellation and the worker returns.
func (f *Future) Cancel() {
	atomic.StoreInt32(&f.cancelled, 1)
	f.cancel()
}

// IsCancelled reports whether Cancel has been called.
func (f *Future) IsCancelled() bool { return atomic.LoadInt32(&f.cancelled) == 1 }

// IsDone reports whether the task has produced a result.
func (f *Future) IsDone() bool { return atomic.LoadInt32(&f.done) == 1 }

// Get blocks until the task completes or timeout elapses, whichever comes
// first. A zero or negative timeout waits forever.
func (f *Future) Get(timeout time.Duration) (interface{}, error) {
	if timeout <= 0 {
		r, ok := <-f.resultCh
		if !ok {
			return f.val, f.err
		}
		return r.value, r.err
	}
	select {
	case r, ok := <-f.resultCh:
		if !ok {
			return f.val, f.err
		}
		return r.value, r.err
	case <-time.After(timeout):
		return nil, context.DeadlineExceeded
	}
}

type job struct {
	task   Task
	ctx    context.Context
	future *Future
}

// IsolationPool is a fixed-size worker pool with a bounded job queue. Core
// size never changes at runtime — only queueSizeRejectionThreshold is
// dynamic, letting an operator throttle admission without resizing the
// underlying channel.
type IsolationPool struct {
	coreSize           int
	maxQueueSize       int
	rejectionThreshold func() int

	jobQueue chan job
	quit     chan struct{}
	wg       sync.WaitGroup

	startOnce sync.Once
	stopOnce  sync.Once
	stopped   int32

	activeCount int64
	queueSize   int64
}

// NewIsolationPool creates a pool with coreSize worker goroutines and a
// queue capacity of maxQueueSize. A negative maxQueueSize makes
// IsQueueSpaceAvailable always true, but the queue is then a one-slot
// channel, so Submit still returns ErrQueueFull while one task is already
// waiting for a worker. rejectionThreshold is
// consulted on every Submit and may return a value below maxQueueSize to
// throttle admission dynamically.
func NewIsolationPool(coreSize, maxQueueSize int, rejectionThreshold func() int) *IsolationPool {
	if coreSize <= 0 {
		coreSize = 1
	}
	queueCap := maxQueueSize
	if queueCap < 0 {
		queueCap = 1 // one waiting task at most; Submit rejects once this slot is taken
	}
	p := &IsolationPool{
		coreSize:           coreSize,
		maxQueueSize:       maxQueueSize,
		rejectionThreshold: rejectionThreshold,
		jobQueue:           make(chan job, queueCap),
		quit:               make(chan struct{}),
	}
	p.start()
	return p
}

func (p *IsolationPool) start() {
	p.startOnce.Do(func() {
		for i := 0; i < p.coreSize; i++ {
			p.wg.Add(1)
			go p.worker()
		}
	})
}

func (p *IsolationPool) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.quit:
			return
		case j, ok := <-p.jobQueue:
			if !ok {
				return
			}
			atomic.AddInt64(&p.queueSize, -1)
			p.runJob(j)
		}
	}
}

func (p *IsolationPool) runJob(j job) {
	defer func() {
		if r := recover(); r != nil {
			j.future.complete(nil, panicToError(r))
		}
	}()
	v, err := j.task(j.ctx)
	j.future.complete(v, err)
}

// IsQueueSpaceAvailable is the admission predicate: true iff maxQueueSize is
// negative (unbounded) or the current queue depth is below
// rejectionThreshold().
func (p *IsolationPool) IsQueueSpaceAvailable() bool {
	if p.maxQueueSize < 0 {
		return true
	}
	return atomic.LoadInt64(&p.queueSize) < int64(p.rejectionThreshold())
}

// Submit enqueues fn for execution by the pool's workers, returning a
// Future handle. It returns ErrQueueFull without enqueuing anything if the
// admission predicate denies entry, and ErrPoolStopped after Shutdown.
func (p *IsolationPool) Submit(ctx context.Context, fn Task) (*Future, error) {
	if atomic.LoadInt32(&p.stopped) == 1 {
		return nil, ErrPoolStopped
	}
	if !p.IsQueueSpaceAvailable() {
		return nil, ErrQueueFull
	}

	taskCtx, cancel := context.WithCancel(ctx)
	future := newFuture(cancel)
	atomic.AddInt64(&p.queueSize, 1)

	select {
	case p.jobQueue <- job{task: fn, ctx: taskCtx, future: future}:
		return future, nil
	default:
		atomic.AddInt64(&p.queueSize, -1)
		cancel()
		return nil, ErrQueueFull
	}
}

// MarkThreadExecution records that a dequeued task is about to run,
// incrementing currentActiveCount. Called by the command runtime immediately
// before a dispatched task runs.
func (p *IsolationPool) MarkThreadExecution() { atomic.AddInt64(&p.activeCount, 1) }

// MarkThreadCompletion records that a running task has exited (success or
// failure), decrementing currentActiveCount.
func (p *IsolationPool) MarkThreadCompletion() { atomic.AddInt64(&p.activeCount, -1) }

// CurrentActiveCount returns the number of tasks currently executing.
func (p *IsolationPool) CurrentActiveCount() int { return int(atomic.LoadInt64(&p.activeCount)) }

// CurrentPoolSize returns the fixed number of worker goroutines.
func (p *IsolationPool) CurrentPoolSize() int { return p.coreSize }

// CurrentQueueSize returns the number of tasks currently queued but not yet dequeued.
func (p *IsolationPool) CurrentQueueSize() int { return int(atomic.LoadInt64(&p.queueSize)) }

// CurrentQueueSizeRejectionThreshold returns the dynamic rejection
// threshold's current value, for a metrics publisher to expose alongside
// the other accessors.
func (p *IsolationPool) CurrentQueueSizeRejectionThreshold() int { return p.rejectionThreshold() }

// Shutdown stops accepting new work and waits for in-flight workers to drain.
func (p *IsolationPool) Shutdown() {
	p.stopOnce.Do(func() {
		atomic.StoreInt32(&p.stopped, 1)
		close(p.quit)
		p.wg.Wait()
	})
}

func panicToError(r interface{}) error {
	if err, ok := r.(error); ok {
		return err
	}
	return errors.New("isolation: task panicked")
}
