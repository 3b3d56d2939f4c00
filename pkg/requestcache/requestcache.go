// Package requestcache implements the request-scoped memoization layer:
// RequestContext, carried explicitly through context.Context (Go has no
// thread-local storage), and the CACHE_LOOKUP "reserve a placeholder, first
// caller's outcome becomes shared" semantics from a Command's cache key.
package requestcache

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

type cachedResult struct {
	value interface{}
	err   error
}

// RequestContext is the request-scoped handle a caller creates once per
// logical request boundary (e.g. one inbound HTTP request) and threads
// through every Command invocation made while handling it. Its ID is for
// log correlation. Its group gives every distinct cache key within the
// request exactly one in-flight execution when calls overlap; its results
// map then keeps that call's outcome memoized for the rest of the
// RequestContext's life, so a later, non-overlapping call for the same key
// reuses the first call's result instead of re-running fn.
type RequestContext struct {
	ID uuid.UUID

	group singleflight.Group

	mu      sync.Mutex
	results map[string]cachedResult
}

// New creates a fresh RequestContext with a new request ID.
func New() *RequestContext {
	return &RequestContext{ID: uuid.New(), results: make(map[string]cachedResult)}
}

// Do executes fn for cacheKey the first time it is asked for within this
// RequestContext, memoizes the outcome, and returns that memoized outcome
// to every subsequent Do call for the same key — whether the repeat call
// overlaps the first in time (handled by the singleflight.Group, which
// collapses concurrent callers into a single fn invocation) or arrives
// after the first has already completed (handled by the results map, which
// singleflight alone does not cover since it forgets a key the instant its
// call returns). fromCache reports whether this call's result came from
// another caller's execution rather than its own; singleflight cannot tell
// a joiner from a shared call's leader, so the leader is also reported as
// fromCache — a documented simplification rather than custom leader
// tracking.
func (rc *RequestContext) Do(cacheKey string, fn func() (interface{}, error)) (v interface{}, fromCache bool, err error) {
	rc.mu.Lock()
	if r, ok := rc.results[cacheKey]; ok {
		rc.mu.Unlock()
		return r.value, true, r.err
	}
	rc.mu.Unlock()

	v, err, shared := rc.group.Do(cacheKey, fn)

	rc.mu.Lock()
	if _, ok := rc.results[cacheKey]; !ok {
		rc.results[cacheKey] = cachedResult{value: v, err: err}
	}
	rc.mu.Unlock()

	return v, shared, err
}

// Forget drops cacheKey's in-flight call and its memoized result, allowing
// the next Do call for that key to execute fn again instead of reusing a
// stale outcome.
func (rc *RequestContext) Forget(cacheKey string) {
	rc.group.Forget(cacheKey)
	rc.mu.Lock()
	delete(rc.results, cacheKey)
	rc.mu.Unlock()
}

type contextKey struct{}

// WithRequestContext returns a copy of ctx carrying rc, retrievable via
// FromContext. A task submitted to an IsolationPool captures this ctx at
// submission time and passes it unchanged into its worker goroutine,
// carrying rc along with it without any goroutine-local state.
func WithRequestContext(ctx context.Context, rc *RequestContext) context.Context {
	return context.WithValue(ctx, contextKey{}, rc)
}

// FromContext retrieves the RequestContext carried by ctx, if any.
func FromContext(ctx context.Context) (*RequestContext, bool) {
	rc, ok := ctx.Value(contextKey{}).(*RequestContext)
	return rc, ok
}
