package concurrent

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOnceRunsExactlyOnceAcrossConcurrentCallers(t *testing.T) {
	var o Once
	var runs int32

	const goroutines = 32
	var wg sync.WaitGroup
	winners := make([]bool, goroutines)
	for i := 0; i < goroutines; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			winners[i] = o.CallOnce(func() { atomic.AddInt32(&runs, 1) })
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, runs)
	assert.True(t, o.Done())

	winnerCount := 0
	for _, w := range winners {
		if w {
			winnerCount++
		}
	}
	assert.Equal(t, 1, winnerCount, "exactly one caller must be told it ran fn")
}
