package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestResolve_DefaultsUnchangedWithNoOptions(t *testing.T) {
	p := Resolve()
	d := Defaults()
	assert.Equal(t, d, p)
}

func TestResolve_OptionsOverrideDefaults(t *testing.T) {
	p := Resolve(
		WithExecutionIsolationStrategy(Semaphore),
		WithCircuitBreakerSleepWindow(2*time.Second),
		WithPoolCoreSize(25),
	)

	assert.Equal(t, Semaphore, p.ExecutionIsolationStrategy)
	assert.Equal(t, 2*time.Second, p.CircuitBreakerSleepWindow)
	assert.Equal(t, 25, p.PoolCoreSize)
	// Untouched fields keep their defaults.
	assert.Equal(t, 20, p.CircuitBreakerRequestVolumeThreshold)
}

func TestPropertyTable_ResolveAlwaysReflectsLatestOptions(t *testing.T) {
	table := NewPropertyTable()

	first := table.Resolve("cmd-a", WithPoolCoreSize(3))
	second := table.Resolve("cmd-a", WithPoolCoreSize(99))

	assert.Equal(t, 3, first.PoolCoreSize)
	assert.Equal(t, 99, second.PoolCoreSize, "Resolve must recompute every call, not return a value cached from the first call")
	assert.Equal(t, 1, table.Len())
}

func TestPropertyTable_CurrentReflectsMostRecentResolve(t *testing.T) {
	table := NewPropertyTable()

	assert.Equal(t, Defaults().PoolCoreSize, table.Current("cmd-b").PoolCoreSize, "unresolved key falls back to Defaults()")

	table.Resolve("cmd-b", WithPoolCoreSize(3))
	assert.Equal(t, 3, table.Current("cmd-b").PoolCoreSize)

	table.Resolve("cmd-b", WithPoolCoreSize(99))
	assert.Equal(t, 99, table.Current("cmd-b").PoolCoreSize, "Current must track the latest Resolve, not the first")
}

func TestPropertyTable_InvalidateResetsCurrentToDefaults(t *testing.T) {
	table := NewPropertyTable()

	table.Resolve("cmd-c", WithPoolCoreSize(3))
	table.Invalidate("cmd-c")

	assert.Equal(t, Defaults().PoolCoreSize, table.Current("cmd-c").PoolCoreSize)
}

func TestPropertyTable_DistinctKeysIndependent(t *testing.T) {
	table := NewPropertyTable()

	a := table.Resolve("a", WithPoolCoreSize(1))
	b := table.Resolve("b", WithPoolCoreSize(2))

	assert.Equal(t, 1, a.PoolCoreSize)
	assert.Equal(t, 2, b.PoolCoreSize)
}
