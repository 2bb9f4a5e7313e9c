// Package concurrent provides the scheduling primitives the pipeline engine
// (C4) and sparse DB writer (C6) are built on: bounded work-stealing
// parallel-for loops, a resettable variant for repeated wavefronts, a
// single-shot guard, a distributed monotonic counter, and a scoped file
// handle. None of these run a cooperative-task runtime; they schedule plain
// OS threads (goroutines) the way the rest of the pipeline expects.
package concurrent

import "sync"

// WorkItem is one unit of work handed to a ParallelForEach worker.
type WorkItem func()

// ParallelForEach is a single-shot, concurrency-safe work queue. Any number
// of participant goroutines may call Contribute to drain it; Wait blocks
// until every item submitted before Wait was called has completed.
//
// This mirrors the C++ original's parallel_for_each: items are queued by one
// or more producers, then drained cooperatively by whichever goroutines call
// Contribute, including the goroutine that eventually calls Wait.
type ParallelForEach struct {
	mu   sync.Mutex
	cond *sync.Cond
	q    []WorkItem
	// inFlight counts items popped but not yet finished, so Wait doesn't
	// return while another goroutine is still executing the last item.
	inFlight int
	closed   bool
}

// NewParallelForEach returns an empty, ready-to-use queue.
func NewParallelForEach() *ParallelForEach {
	p := &ParallelForEach{}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Submit enqueues work. Safe to call concurrently with Contribute, but must
// not be called after Close.
func (p *ParallelForEach) Submit(items ...WorkItem) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.q = append(p.q, items...)
	p.cond.Broadcast()
}

// Close marks the queue as fully submitted; once closed and drained,
// Contribute returns immediately instead of blocking for more work.
func (p *ParallelForEach) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.cond.Broadcast()
}

// Contribute drains the queue, running items on the calling goroutine, until
// it is empty and closed. It returns once there is nothing left to do.
func (p *ParallelForEach) Contribute() {
	for {
		p.mu.Lock()
		for len(p.q) == 0 && !p.closed {
			p.cond.Wait()
		}
		if len(p.q) == 0 {
			p.mu.Unlock()
			return
		}
		item := p.q[0]
		p.q = p.q[1:]
		p.inFlight++
		p.mu.Unlock()

		item()

		p.mu.Lock()
		p.inFlight--
		p.cond.Broadcast()
		p.mu.Unlock()
	}
}

// Wait blocks until the queue is closed, empty, and every popped item has
// finished running. Callers typically Close, then either Contribute or Wait
// (or both, from different goroutines) to drain it.
func (p *ParallelForEach) Wait() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for !p.closed || len(p.q) != 0 || p.inFlight != 0 {
		p.cond.Wait()
	}
}

// Run is a convenience: it submits items, closes the queue, spawns n-1
// additional contributing goroutines, and contributes on the caller's
// goroutine, returning once everything has finished.
func Run(n int, items []WorkItem) {
	p := NewParallelForEach()
	p.Submit(items...)
	p.Close()
	var wg sync.WaitGroup
	for i := 1; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Contribute()
		}()
	}
	p.Contribute()
	wg.Wait()
}

// ResettableParallelForEach is a ParallelForEach that can be reused across
// multiple batches (the pipeline engine resubmits one batch per wavefront
// per Source/Sink set, rather than allocating a fresh queue each time).
type ResettableParallelForEach struct {
	mu      sync.Mutex
	current *ParallelForEach
	gen     int
}

// NewResettableParallelForEach returns a queue ready for its first batch.
func NewResettableParallelForEach() *ResettableParallelForEach {
	return &ResettableParallelForEach{current: NewParallelForEach()}
}

// Submit adds work to the current batch.
func (r *ResettableParallelForEach) Submit(items ...WorkItem) {
	r.mu.Lock()
	cur := r.current
	r.mu.Unlock()
	cur.Submit(items...)
}

// Close closes the current batch so Contribute/Wait can observe completion.
func (r *ResettableParallelForEach) Close() {
	r.mu.Lock()
	cur := r.current
	r.mu.Unlock()
	cur.Close()
}

// Contribute drains the current batch.
func (r *ResettableParallelForEach) Contribute() {
	r.mu.Lock()
	cur := r.current
	r.mu.Unlock()
	cur.Contribute()
}

// Wait blocks until the current batch is fully drained.
func (r *ResettableParallelForEach) Wait() {
	r.mu.Lock()
	cur := r.current
	r.mu.Unlock()
	cur.Wait()
}

// Reset clears the queue and makes it ready to accept the next batch. Must
// only be called after Wait has returned for the prior batch.
func (r *ResettableParallelForEach) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current = NewParallelForEach()
	r.gen++
}
