package testutil

import (
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeterministicClock_Sequence(t *testing.T) {
	clock := NewDeterministicClock(100, 10)
	assert.Equal(t, int64(90), clock.Current())

	assert.Equal(t, int64(100), clock.Next())
	assert.Equal(t, int64(110), clock.Next())
	assert.Equal(t, int64(120), clock.Next())
	assert.Equal(t, int64(120), clock.Current())
}

func TestDeterministicClock_Reset(t *testing.T) {
	clock := NewDeterministicClock(5, 1)
	clock.Next()
	clock.Next()

	clock.Reset()
	assert.Equal(t, int64(5), clock.Next())
}

func TestDeterministicClock_NonPositiveStep(t *testing.T) {
	clock := NewDeterministicClock(0, 0)
	clock.Next()
	assert.Equal(t, int64(1), clock.Next())
}

func TestDeterministicClock_ThreadSafe(t *testing.T) {
	clock := NewDeterministicClock(1, 1)
	const numGoroutines = 50
	const callsPerGoroutine = 100

	var mu sync.Mutex
	var all []int64
	var wg sync.WaitGroup
	wg.Add(numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func() {
			defer wg.Done()
			local := make([]int64, callsPerGoroutine)
			for j := range local {
				local[j] = clock.Next()
			}
			mu.Lock()
			all = append(all, local...)
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Len(t, all, numGoroutines*callsPerGoroutine)
	sort.Slice(all, func(i, j int) bool { return all[i] < all[j] })
	for i, v := range all {
		assert.Equal(t, int64(i+1), v, "values must be unique and dense")
	}
}
