package fusion

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestClock_Monotonic tests strictly increasing sequence numbers.
func TestClock_Monotonic(t *testing.T) {
	c := NewClock()
	assert.Equal(t, int64(0), c.Current())

	prev := int64(0)
	for i := 0; i < 100; i++ {
		seq := c.Next()
		assert.Greater(t, seq, prev)
		prev = seq
	}
	assert.Equal(t, int64(100), c.Current())
}

// TestClock_Concurrent tests that concurrent callers never see a duplicate.
func TestClock_Concurrent(t *testing.T) {
	c := NewClock()

	const goroutines = 8
	const perGoroutine = 1000

	var mu sync.Mutex
	seen := make(map[int64]struct{}, goroutines*perGoroutine)

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				seq := c.Next()
				mu.Lock()
				seen[seq] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, goroutines*perGoroutine)
	assert.Equal(t, int64(goroutines*perGoroutine), c.Current())
}
