package classify

import (
	"github.com/ccprof/profbuild/model"
	"github.com/ccprof/profbuild/pipeline"
)

// CallGraphResolver drives pipeline.FlowGraph.WalkRootsToEntry for every
// Function a GPU sample landed in whose caller is unknown at sample time,
// implementing pipeline.Resolver (spec §4.3's "call-graph reconstruction").
// It is grounded on the struct classifier's reversed call graph, which it
// feeds into the FlowGraph via StructClassifier.AddTo before walking.
type CallGraphResolver struct {
	structClassifier *StructClassifier
	// Entries are the Functions registered through RecordEntry as needing
	// caller reconstruction. measfmt does not call RecordEntry; its
	// GPU_RANGE nodes are passed through without registering anything.
	entries []*model.Function
}

// NewCallGraphResolver returns a resolver layered on sc's reversed call
// graph.
func NewCallGraphResolver(sc *StructClassifier) *CallGraphResolver {
	return &CallGraphResolver{structClassifier: sc}
}

// RecordEntry registers fn as needing root-to-sample path reconstruction.
func (r *CallGraphResolver) RecordEntry(fn *model.Function) {
	r.entries = append(r.entries, fn)
}

// Resolve implements pipeline.Resolver.
func (r *CallGraphResolver) Resolve(fg *pipeline.FlowGraph) bool {
	r.structClassifier.AddTo(fg)
	if len(r.entries) == 0 {
		return false
	}
	for _, fn := range r.entries {
		fg.WalkRootsToEntry(fn)
	}
	return true
}
