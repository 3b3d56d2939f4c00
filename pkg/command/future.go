package command

import (
	"sync"
	"sync/atomic"
	"time"
)

// Future is the handle Queue returns: a result that becomes available once
// the invocation reaches a terminal outcome. Distinct from
// isolation.Future, which is the pool-worker-level handle a Command uses
// internally — this one is the caller-facing handle for a whole invocation,
// including CACHE_LOOKUP/CIRCUIT_CHECK/FALLBACK, not just one pool task.
type Future struct {
	resultCh chan futureResult
	done     int32
	once     sync.Once
	val      interface{}
	err      error
}

type futureResult struct {
	val interface{}
	err error
}

func newFuture() *Future {
	return &Future{resultCh: make(chan futureResult, 1)}
}

func (f *Future) complete(v interface{}, err error) {
	f.once.Do(func() {
		f.val, f.err = v, err
		atomic.StoreInt32(&f.done, 1)
		f.resultCh <- futureResult{val: v, err: err}
		close(f.resultCh)
	})
}

// IsDone reports whether the invocation has produced a result.
func (f *Future) IsDone() bool { return atomic.LoadInt32(&f.done) == 1 }

// Get blocks until the invocation completes or timeout elapses, whichever
// comes first. A zero or negative timeout waits forever.
func (f *Future) Get(timeout time.Duration) (interface{}, error) {
	if timeout <= 0 {
		r, ok := <-f.resultCh
		if !ok {
			return f.val, f.err
		}
		return r.val, r.err
	}
	select {
	case r, ok := <-f.resultCh:
		if !ok {
			return f.val, f.err
		}
		return r.val, r.err
	case <-time.After(timeout):
		var zero interface{}
		return zero, errFutureTimeout
	}
}

var errFutureTimeout = futureTimeoutError{}

type futureTimeoutError struct{}

func (futureTimeoutError) Error() string { return "command: future get timed out" }
