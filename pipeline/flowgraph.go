package pipeline

import "github.com/ccprof/profbuild/model"

// FlowGraph is the reversed call graph a Resolver walks to reconstruct the
// caller chain for samples that land in a kernel whose caller is unknown at
// sample time (spec §4.3 "Call-graph reconstruction"). Edges point from
// callee to caller, the reverse of a normal call graph, so a DFS from a
// sample's containing function walks toward every possible root.
type FlowGraph struct {
	// Edges maps a callee Function to the set of (caller offset, caller
	// Function) pairs the struct classifier's reversed call graph
	// recorded for it.
	Edges map[*model.Function][]CallEdge

	// Templates accumulates every root-to-sample path DFS discovered,
	// pushed by Resolve.
	Templates []CallTemplate

	// interiorHandler is told, via ReportInterior, which metrics on the resolved path are interior to the
	// reconstructed call (attributed to the callee) vs exterior
	// (attributed along the synthesized call edge).
	interiorHandler func(metric *model.Metric, interior bool)
}

// CallEdge is one reversed call-graph edge: Caller was observed calling into
// its callee at CallerOffset.
type CallEdge struct {
	CallerOffset uint64
	Caller       *model.Function
}

// CallTemplate is one root-to-sample path discovered by Resolve's DFS.
type CallTemplate struct {
	Path []*model.Function
}

// NewFlowGraph returns an empty graph.
func NewFlowGraph() *FlowGraph {
	return &FlowGraph{Edges: make(map[*model.Function][]CallEdge)}
}

// AddEdge records that caller calls into callee at callerOffset.
func (g *FlowGraph) AddEdge(callee *model.Function, callerOffset uint64, caller *model.Function) {
	g.Edges[callee] = append(g.Edges[callee], CallEdge{callerOffset, caller})
}

// SetInteriorHandler installs the callback Resolve uses to classify metrics
// along a resolved path as interior or exterior to the reconstruction.
func (g *FlowGraph) SetInteriorHandler(h func(metric *model.Metric, interior bool)) {
	g.interiorHandler = h
}

// ReportInterior is called by a Resolver once it has decided whether metric
// is interior or exterior for the path currently being resolved.
func (g *FlowGraph) ReportInterior(metric *model.Metric, interior bool) {
	if g.interiorHandler != nil {
		g.interiorHandler(metric, interior)
	}
}

// WalkRootsToEntry performs the DFS described in spec §4.3: from fn
// (the function directly containing the sample), follow reversed call
// edges to every reachable entry point (a function with no recorded
// callers), pushing each root-to-sample path found as a CallTemplate.
// Simple cycles are truncated using a seen-set pushed on entry and popped
// on unwind, so any acyclic continuation is still enumerated.
func (g *FlowGraph) WalkRootsToEntry(fn *model.Function) {
	seen := map[*model.Function]bool{fn: true}
	path := []*model.Function{fn}
	g.dfs(fn, seen, path)
}

func (g *FlowGraph) dfs(fn *model.Function, seen map[*model.Function]bool, path []*model.Function) {
	edges := g.Edges[fn]
	if len(edges) == 0 {
		// fn has no recorded caller: it's an entry point. Record the
		// path root-to-sample (path is currently sample-to-root, so
		// reverse it).
		tmpl := make([]*model.Function, len(path))
		for i, f := range path {
			tmpl[len(path)-1-i] = f
		}
		g.Templates = append(g.Templates, CallTemplate{Path: tmpl})
		return
	}
	for _, edge := range edges {
		if seen[edge.Caller] {
			continue // cycle; truncate this branch
		}
		seen[edge.Caller] = true
		g.dfs(edge.Caller, seen, append(path, edge.Caller))
		delete(seen, edge.Caller)
	}
}
