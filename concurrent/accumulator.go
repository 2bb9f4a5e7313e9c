package concurrent

import (
	"sync"
	"sync/atomic"
)

// RankTransport is the external-collaborator seam for the real distributed
// transport (MPI or equivalent) spec §1/§6 treats as out of scope. It models
// exactly the request/reply exchange SharedAccumulator needs: send a tagged
// increment request to rank 0, get back the pre-increment value. A
// production embedding swaps this for a real network implementation without
// touching SharedAccumulator or anything upstream of it.
type RankTransport interface {
	// Rank returns this participant's rank and the world size.
	Rank() (rank, size int)
	// RequestAdd sends (tag, delta) to rank 0 and blocks for the prior
	// value. Called by every rank, rank 0 included.
	RequestAdd(tag string, delta uint64) uint64
	// ServeAdds runs only on rank 0: it owns the authoritative counters
	// for all tags and answers every rank's RequestAdd (including its
	// own, looped back locally) until Close is called. It must run on
	// its own goroutine; Close causes it to return.
	ServeAdds(handle func(tag string, delta uint64) uint64)
	// Close signals ServeAdds to stop accepting requests (the "zero
	// length receive terminates the server" rule in §4.7).
	Close()
}

// LocalTransport is the in-process reference RankTransport: every "rank" is
// a goroutine in the same process, wired together with channels. This is
// what a single-binary multi-rank simulation (or a genuinely single-rank
// run) uses; it is functionally equivalent to the real MPI-backed transport
// for everything SharedAccumulator does.
type LocalTransport struct {
	rank, size int
	reqs       chan localReq
	closeOnce  sync.Once
}

type localReq struct {
	tag    string
	delta  uint64
	result chan uint64
}

// NewLocalWorld builds size LocalTransports sharing one in-process rank-0
// server channel.
func NewLocalWorld(size int) []*LocalTransport {
	if size < 1 {
		size = 1
	}
	reqs := make(chan localReq, 64)
	out := make([]*LocalTransport, size)
	for i := range out {
		out[i] = &LocalTransport{rank: i, size: size, reqs: reqs}
	}
	return out
}

func (t *LocalTransport) Rank() (rank, size int) { return t.rank, t.size }

func (t *LocalTransport) RequestAdd(tag string, delta uint64) uint64 {
	result := make(chan uint64, 1)
	t.reqs <- localReq{tag, delta, result}
	return <-result
}

func (t *LocalTransport) ServeAdds(handle func(tag string, delta uint64) uint64) {
	for req := range t.reqs {
		if req.result == nil {
			return
		}
		req.result <- handle(req.tag, req.delta)
	}
}

func (t *LocalTransport) Close() {
	t.closeOnce.Do(func() {
		// A nil-result request is the "zero-length receive" sentinel
		// that terminates ServeAdds.
		t.reqs <- localReq{result: nil}
		close(t.reqs)
	})
}

// SharedAccumulator is a monotonic counter shared across every rank in a
// run, used to hand out non-overlapping file offsets and work-group ids
// (§4.6.3, §4.7). On a single-rank run it degrades to a plain atomic with no
// background goroutine. On a multi-rank run, rank 0 runs a background
// server goroutine that owns the authoritative value per tag; every rank
// (rank 0 included) talks to it through RankTransport.
type SharedAccumulator struct {
	tag       string
	singleRank bool
	local     uint64 // only used when singleRank

	transport RankTransport
	mu        sync.Mutex
	servers   map[string]*uint64 // rank-0 only: tag -> current value
}

// NewSharedAccumulator creates a counter identified by tag, initialized to
// init. If transport is nil, the accumulator behaves as single-rank (a bare
// atomic); otherwise it participates in the distributed protocol described
// above.
func NewSharedAccumulator(tag string, init uint64, transport RankTransport) *SharedAccumulator {
	sa := &SharedAccumulator{tag: tag, transport: transport}
	if transport == nil {
		sa.singleRank = true
		sa.local = init
		return sa
	}
	rank, _ := transport.Rank()
	if rank == 0 {
		sa.servers = map[string]*uint64{tag: new(uint64)}
		atomic.StoreUint64(sa.servers[tag], init)
	}
	return sa
}

// FetchAdd atomically adds delta to the counter and returns the value it
// held immediately beforehand.
func (sa *SharedAccumulator) FetchAdd(delta uint64) uint64 {
	if sa.singleRank {
		return atomic.AddUint64(&sa.local, delta) - delta
	}
	return sa.transport.RequestAdd(sa.tag, delta)
}

// ServeRank0 runs the rank-0 background server for this accumulator's tag.
// It must be launched on its own goroutine (typically alongside ServeAdds
// for every other tag-bearing accumulator sharing the same transport); it
// returns when the transport is Closed. No-op on a single-rank accumulator.
func (sa *SharedAccumulator) ServeRank0() {
	if sa.singleRank || sa.transport == nil {
		return
	}
	rank, _ := sa.transport.Rank()
	if rank != 0 {
		return
	}
	sa.transport.ServeAdds(func(tag string, delta uint64) uint64 {
		sa.mu.Lock()
		defer sa.mu.Unlock()
		v, ok := sa.servers[tag]
		if !ok {
			v = new(uint64)
			sa.servers[tag] = v
		}
		return atomic.AddUint64(v, delta) - delta
	})
}

// WorkTicket is returned by a Sink's Write when it has more work a helper
// goroutine could contribute to (the "work-share ticket" of spec §4.4 step
// 7, grounded on sparsedb.cpp's group-handoff idle-thread cooperation).
type WorkTicket struct {
	// Completed reports whether the sink has already finished all of its
	// own work; if true, Contribute need not be called again.
	Completed bool
	// Contribute runs one more unit of the sink's remaining work. It is
	// safe to call from any goroutine, including concurrently from
	// several idle helpers.
	Contribute func() (contributed bool)
}

// Helper repeatedly calls a WorkTicket's Contribute from idle worker
// goroutines until the ticket reports completion or a contribution attempt
// finds nothing left to do.
func Helper(ticket WorkTicket) {
	if ticket.Completed || ticket.Contribute == nil {
		return
	}
	for ticket.Contribute() {
	}
}
