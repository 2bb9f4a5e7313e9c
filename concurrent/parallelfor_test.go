package concurrent

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunExecutesEveryItemExactlyOnce(t *testing.T) {
	const n = 200
	var count int64
	items := make([]WorkItem, n)
	for i := range items {
		items[i] = func() { atomic.AddInt64(&count, 1) }
	}

	Run(8, items)

	assert.EqualValues(t, n, count)
}

func TestRunWithSingleWorkerIsSequential(t *testing.T) {
	var order []int
	items := make([]WorkItem, 5)
	for i := range items {
		i := i
		items[i] = func() { order = append(order, i) }
	}

	Run(1, items)

	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestParallelForEachContributeDrainsAfterClose(t *testing.T) {
	p := NewParallelForEach()
	var ran int32
	p.Submit(func() { atomic.AddInt32(&ran, 1) }, func() { atomic.AddInt32(&ran, 1) })
	p.Close()

	p.Contribute()
	p.Wait()

	assert.EqualValues(t, 2, ran)
}

func TestResettableParallelForEachReusesAcrossBatches(t *testing.T) {
	r := NewResettableParallelForEach()

	var firstBatch, secondBatch int32
	r.Submit(func() { atomic.AddInt32(&firstBatch, 1) })
	r.Close()
	r.Contribute()
	r.Wait()
	assert.EqualValues(t, 1, firstBatch)

	r.Reset()
	r.Submit(func() { atomic.AddInt32(&secondBatch, 1) })
	r.Close()
	r.Contribute()
	r.Wait()
	assert.EqualValues(t, 1, secondBatch)
}
