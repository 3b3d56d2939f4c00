package isolation

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTryableSemaphore_AcquireRelease(t *testing.T) {
	sem := NewFixedTryableSemaphore(2)

	assert.True(t, sem.TryAcquire())
	assert.True(t, sem.TryAcquire())
	assert.False(t, sem.TryAcquire(), "third acquire should be rejected at capacity 2")
	assert.Equal(t, 2, sem.InUse())

	sem.Release()
	assert.Equal(t, 1, sem.InUse())
	assert.True(t, sem.TryAcquire())
}

func TestTryableSemaphore_DynamicCapacity(t *testing.T) {
	capacity := 1
	sem := NewTryableSemaphore(func() int { return capacity })

	assert.True(t, sem.TryAcquire())
	assert.False(t, sem.TryAcquire())

	capacity = 5
	assert.True(t, sem.TryAcquire(), "capacity increase should be visible on the next call")
}

func TestTryableSemaphore_ConcurrentNeverExceedsCapacity(t *testing.T) {
	const capacity = 4
	sem := NewFixedTryableSemaphore(capacity)

	var wg sync.WaitGroup
	var mu sync.Mutex
	maxObserved := 0

	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if sem.TryAcquire() {
				defer sem.Release()
				mu.Lock()
				if inUse := sem.InUse(); inUse > maxObserved {
					maxObserved = inUse
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, maxObserved, capacity)
	assert.Equal(t, 0, sem.InUse())
}
