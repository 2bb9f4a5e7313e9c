package classify

import (
	"sync"
	"sync/atomic"

	"github.com/ccprof/profbuild/model"
	"github.com/ccprof/profbuild/pipeline"
)

// IdentifierFinalizer is the dense-id allocator spec §4.3 describes: atomic
// counters per entity kind, first access to an entity's id slot atomically
// fetching a new id. It leans on the model package's lazy Slot machinery
// (model.SlotRegistry/TypedSlot) for the per-entity once-only allocation,
// the same mechanism Context/Thread/Metric already use for Finalizer
// userdata in general.
type IdentifierFinalizer struct {
	dm *model.DataModel

	contextSlot model.TypedSlot[*model.Context, uint32]
	threadSlot  model.TypedSlot[*model.Thread, uint32]

	nextContext uint32
	nextThread  uint32
	nextMetric  uint32

	mu      sync.Mutex
	metrics map[*model.Metric]pipeline.ScopedIdentifiers

	reverseMu sync.Mutex
	byID      map[uint32]*model.Context
}

// NewIdentifierFinalizer returns a finalizer allocating dense ids starting
// at 1 (0 is reserved for the global Context, per spec §8's worked
// examples). It must be constructed, and registered via Engine.AddFinalizer,
// before Engine.Bind (which freezes the DataModel's slot registries).
func NewIdentifierFinalizer(dm *model.DataModel) *IdentifierFinalizer {
	f := &IdentifierFinalizer{
		dm: dm, nextContext: 1, nextThread: 1, nextMetric: 1,
		metrics: make(map[*model.Metric]pipeline.ScopedIdentifiers),
		byID:    make(map[uint32]*model.Context),
	}
	f.contextSlot = model.RegisterTyped(dm.ContextSlots, func(c *model.Context) uint32 {
		var id uint32
		if c.Parent == nil {
			id = 0
		} else {
			id = atomic.AddUint32(&f.nextContext, 1) - 1
		}
		f.reverseMu.Lock()
		f.byID[id] = c
		f.reverseMu.Unlock()
		return id
	})
	f.threadSlot = model.RegisterTyped(dm.ThreadSlots, func(*model.Thread) uint32 {
		return atomic.AddUint32(&f.nextThread, 1) - 1
	})
	return f
}

func (f *IdentifierFinalizer) Name() string { return "classify.identifier" }

func (f *IdentifierFinalizer) Provides() model.ExtensionClass {
	return model.ExtIdentifier | model.ExtMScopeIdentifiers
}
func (f *IdentifierFinalizer) Requires() model.ExtensionClass { return model.ExtNone }

func (f *IdentifierFinalizer) File(*model.File) (string, bool)     { return "", false }
func (f *IdentifierFinalizer) Module(*model.Module) (string, bool) { return "", false }

// Context returns c's dense id, assigning one on first access. The root
// Context always gets id 0.
func (f *IdentifierFinalizer) Context(c *model.Context) (uint32, bool) {
	return f.contextSlot.Value(c, c.Slots()), true
}

// ContextByID reverses Context: it returns the Context last assigned id,
// for idpack.Unpacker to resolve a packed chain-link id back to the real
// Context sharing this DataModel (valid when pack and unpack run against
// the same in-process DataModel, as concurrent.LocalTransport's simulated
// ranks do).
func (f *IdentifierFinalizer) ContextByID(id uint32) (*model.Context, bool) {
	f.reverseMu.Lock()
	defer f.reverseMu.Unlock()
	c, ok := f.byID[id]
	return c, ok
}

// Thread returns t's dense id, assigning one on first access.
func (f *IdentifierFinalizer) Thread(t *model.Thread) (uint32, bool) {
	return f.threadSlot.Value(t, t.Slots()), true
}

// Metric assigns the (function-variant id, execution-variant id) pair for
// m, reserving max(partials.len, 1) * scopes.len contiguous ids per metric
// (spec §4.3). Metric ids aren't threaded through the per-entity slot
// machinery because the width to reserve depends on m.IDWidth(), which a
// fixed-arity Slot factory can't express; a small mutex-guarded map keyed
// by the (already-uniqued) *Metric pointer does the same job.
func (f *IdentifierFinalizer) Metric(m *model.Metric) (pipeline.ScopedIdentifiers, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ids, ok := f.metrics[m]; ok {
		return ids, true
	}
	width := uint32(m.IDWidth())
	base := atomic.AddUint32(&f.nextMetric, width) - width
	ids := pipeline.ScopedIdentifiers{FunctionID: base, ExecutionID: base + 1}
	f.metrics[m] = ids
	return ids, true
}
