package config

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// defaultResolvedCacheSize bounds the PropertyTable's LRU so a process that
// mints many short-lived CommandKeys (e.g. templated per request ID) cannot
// grow the cache without bound.
const defaultResolvedCacheSize = 4096

// PropertyTable resolves Properties for a CommandKey fresh on every call, so
// a changed Option takes effect on the next dispatch without a restart, and
// keeps the most recently resolved value reachable via Current for
// long-lived singletons (a CircuitBreaker, an IsolationPool, a semaphore)
// that were constructed once but still need to see a later property change.
type PropertyTable struct {
	cache *lru.Cache[string, Properties]
}

// NewPropertyTable creates a PropertyTable with the default cache size.
func NewPropertyTable() *PropertyTable {
	c, err := lru.New[string, Properties](defaultResolvedCacheSize)
	if err != nil {
		// Only returns an error for a non-positive size, which
		// defaultResolvedCacheSize never is.
		panic(err)
	}
	return &PropertyTable{cache: c}
}

// DefaultPropertyTable is the process-wide table used by command builders
// that don't supply their own.
var DefaultPropertyTable = NewPropertyTable()

// Resolve recomputes the Properties for commandKey from opts every call —
// it never returns a value cached from an earlier call — and records the
// result as commandKey's Current value for later peeking.
func (t *PropertyTable) Resolve(commandKey string, opts ...Option) Properties {
	p := Resolve(opts...)
	t.cache.Add(commandKey, p)
	return p
}

// Current returns the Properties most recently produced by Resolve for
// commandKey, or Defaults() if Resolve has never been called for that key.
// Long-lived singletons use this to read a dynamic property (force-open,
// error threshold, rejection threshold, semaphore capacity) without being
// rebuilt themselves.
func (t *PropertyTable) Current(commandKey string) Properties {
	if p, ok := t.cache.Peek(commandKey); ok {
		return p
	}
	return Defaults()
}

// Invalidate clears commandKey's Current value back to Defaults().
func (t *PropertyTable) Invalidate(commandKey string) {
	t.cache.Remove(commandKey)
}

// Len returns the number of CommandKeys currently cached.
func (t *PropertyTable) Len() int {
	return t.cache.Len()
}
