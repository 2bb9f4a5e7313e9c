package model

import (
	"encoding/binary"
	"sync"
)

// IDTupleKind tags one level of a Thread's identifier tuple (spec §6).
type IDTupleKind uint16

const (
	KindSummary IDTupleKind = iota
	KindNode
	KindRank
	KindThread
	KindGPUDevice
	KindGPUContext
	KindGPUStream
	KindCore
)

// Interpretation selects how the physical/logical halves of an
// IDTupleEntry should be read (spec §6).
type Interpretation uint8

const (
	BothValid Interpretation = iota
	LogicLocal
	LogicGlobal
	LogicOnly
)

// IDTupleEntry is one (kind, physical_index, logical_index) level.
type IDTupleEntry struct {
	Kind           IDTupleKind
	Interpretation Interpretation
	Physical       uint64
	Logical        uint64
}

// IdentifierTuple is the ordered sequence that uniquely identifies one
// Thread across every rank in a run (spec §3, §8: "∀ distinct Threads t1,
// t2: id_tuple(t1) != id_tuple(t2)").
type IdentifierTuple []IDTupleEntry

// key serializes the tuple into a byte string suitable as a uniquing map
// key — IdentifierTuple (a slice) is not itself comparable.
func (t IdentifierTuple) key() string {
	const entrySize = 19 // kind(2) + interpretation(1) + physical(8) + logical(8)
	buf := make([]byte, 0, len(t)*entrySize)
	var tmp [entrySize]byte
	for _, e := range t {
		binary.BigEndian.PutUint16(tmp[0:2], uint16(e.Kind))
		tmp[2] = byte(e.Interpretation)
		binary.BigEndian.PutUint64(tmp[3:11], e.Physical)
		binary.BigEndian.PutUint64(tmp[11:19], e.Logical)
		buf = append(buf, tmp[:]...)
	}
	return string(buf)
}

// Thread is a uniqued entity representing one profiled execution entity
// (spec §3).
type Thread struct {
	Tuple IdentifierTuple

	slots *SlotStorage[*Thread]
}

// Slots returns this Thread's slot storage.
func (t *Thread) Slots() *SlotStorage[*Thread] { return t.slots }

// ThreadSet uniques Threads by their identifier tuple.
type ThreadSet struct {
	set *UniqueSet[string, *Thread]
	reg *SlotRegistry[*Thread]
}

// NewThreadSet returns an empty set using reg for per-Thread slots.
func NewThreadSet(reg *SlotRegistry[*Thread]) *ThreadSet {
	return &ThreadSet{set: NewUniqueSet[string, *Thread](), reg: reg}
}

// Intern returns the canonical Thread for tuple, creating it if this is the
// first time the tuple has been seen. inserted=false on a second Intern of
// an equal tuple signals a duplicate identifier tuple, which callers should
// treat as a fatal error per spec §8's uniqueness invariant.
func (ts *ThreadSet) Intern(tuple IdentifierTuple) (*Thread, bool) {
	return ts.set.Insert(tuple.key(), func() *Thread {
		th := &Thread{Tuple: tuple}
		th.slots = ts.reg.NewStorage()
		return th
	})
}

// Len returns the number of distinct Threads interned so far.
func (ts *ThreadSet) Len() int { return ts.set.Len() }

// Range iterates every interned Thread.
func (ts *ThreadSet) Range(f func(*Thread)) {
	ts.set.Range(func(_ string, th *Thread) { f(th) })
}

// variantAccumulators holds one Accumulator per metric scope variant a
// Metric supports for a single (Context, Metric) pair: the raw point value
// a Source recorded, plus the function- and execution-inclusive sums the
// pipeline derives from it during finalization (spec §3's "scope variant").
type variantAccumulators struct {
	point     *Accumulator
	function  *Accumulator
	execution *Accumulator
}

// ThreadTemporary is the per-thread accumulation workspace a Source fills
// in while reading one Thread's CCT and metric values (spec §3). It is
// cleared once the pipeline has finalized it at ThreadFinal.
type ThreadTemporary struct {
	Thread *Thread

	mu   sync.Mutex
	data map[*Context]map[*Metric]*variantAccumulators
}

// NewThreadTemporary returns an empty workspace for th.
func NewThreadTemporary(th *Thread) *ThreadTemporary {
	return &ThreadTemporary{Thread: th, data: make(map[*Context]map[*Metric]*variantAccumulators)}
}

func (tt *ThreadTemporary) cell(ctx *Context, metric *Metric) *variantAccumulators {
	byMetric, ok := tt.data[ctx]
	if !ok {
		byMetric = make(map[*Metric]*variantAccumulators)
		tt.data[ctx] = byMetric
	}
	va, ok := byMetric[metric]
	if !ok {
		va = &variantAccumulators{}
		byMetric[metric] = va
	}
	return va
}

// Accumulator returns the point-scope Accumulator for (ctx, metric),
// creating it on first use. This is the raw value a Source records
// directly; ScopeFunctionVariant and ScopeExecutionVariant values are
// derived from it by the pipeline's finalization step.
func (tt *ThreadTemporary) Accumulator(ctx *Context, metric *Metric) *Accumulator {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	va := tt.cell(ctx, metric)
	if va.point == nil {
		va.point = &Accumulator{}
	}
	return va.point
}

// VariantAccumulator returns the Accumulator backing one scope variant of
// (ctx, metric), creating it on first use. Used by the pipeline's
// finalization step to deposit derived function/execution inclusive sums.
func (tt *ThreadTemporary) VariantAccumulator(ctx *Context, metric *Metric, variant MetricScope) *Accumulator {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	va := tt.cell(ctx, metric)
	switch variant {
	case ScopeFunctionVariant:
		if va.function == nil {
			va.function = &Accumulator{}
		}
		return va.function
	case ScopeExecutionVariant:
		if va.execution == nil {
			va.execution = &Accumulator{}
		}
		return va.execution
	default:
		if va.point == nil {
			va.point = &Accumulator{}
		}
		return va.point
	}
}

// Contexts returns every Context this workspace has at least one
// accumulator for.
func (tt *ThreadTemporary) Contexts() []*Context {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	out := make([]*Context, 0, len(tt.data))
	for c := range tt.data {
		out = append(out, c)
	}
	return out
}

// Metrics returns every Metric recorded for ctx, along with its point-scope
// Accumulator (for callers that only care about the raw exclusive value).
func (tt *ThreadTemporary) Metrics(ctx *Context) map[*Metric]*Accumulator {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	out := make(map[*Metric]*Accumulator, len(tt.data[ctx]))
	for m, va := range tt.data[ctx] {
		if va.point != nil {
			out[m] = va.point
		}
	}
	return out
}

// Variant returns the Accumulator for one scope variant of (ctx, metric),
// or nil if nothing has been recorded for it.
func (tt *ThreadTemporary) Variant(ctx *Context, metric *Metric, variant MetricScope) *Accumulator {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	byMetric, ok := tt.data[ctx]
	if !ok {
		return nil
	}
	va, ok := byMetric[metric]
	if !ok {
		return nil
	}
	switch variant {
	case ScopeFunctionVariant:
		return va.function
	case ScopeExecutionVariant:
		return va.execution
	default:
		return va.point
	}
}

// MetricsAt returns every Metric that has at least one accumulator cell
// (point, function, or execution) at ctx — unlike Metrics, which only
// reports metrics with a touched point-scope value, this also surfaces
// metrics whose presence at ctx comes solely from an inclusive rollup
// (sparsedb's writer needs the full set to walk the context's variant
// values at ThreadFinal).
func (tt *ThreadTemporary) MetricsAt(ctx *Context) map[*Metric]bool {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	out := make(map[*Metric]bool, len(tt.data[ctx]))
	for m := range tt.data[ctx] {
		out[m] = true
	}
	return out
}

// Clear drops all accumulated data; called once the pipeline has finished
// notifying sinks of ThreadFinal for this workspace (spec §4.4 step 6).
func (tt *ThreadTemporary) Clear() {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	tt.data = nil
}
