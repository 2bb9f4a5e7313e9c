package concurrent

import "sync"

// Once is a single-shot guard: the first caller to invoke CallOnce runs fn,
// and every concurrent caller (including the first) blocks until that run
// completes. Unlike sync.Once this exposes whether the calling goroutine was
// the one that actually ran fn. pipeline.Notifier hands out one Once per
// (Context, Scope) pair as a per-source expansion guard.
type Once struct {
	mu   sync.Mutex
	done bool
}

// CallOnce runs fn exactly once across all callers of this Once. It returns
// true if this call was the one that ran fn.
func (o *Once) CallOnce(fn func()) bool {
	o.mu.Lock()
	if o.done {
		o.mu.Unlock()
		return false
	}
	defer func() {
		o.done = true
		o.mu.Unlock()
	}()
	fn()
	return true
}

// Done reports whether fn has already run.
func (o *Once) Done() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.done
}
