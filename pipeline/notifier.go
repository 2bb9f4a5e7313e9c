package pipeline

import (
	"github.com/ccprof/profbuild/concurrent"
	"github.com/ccprof/profbuild/model"
)

// Notifier is the engine-facing handle a Source uses while inside Read
// (spec §6's "bound sink" from the Source's point of view). It owns that
// Source's private thread-local area (spec §4.4): accumulated
// Thread-temporaries, thawed metrics, and expansion once-guards.
type Notifier struct {
	eng *Engine
	bs  *boundSource
}

// InternModule returns the canonical Module for path.
func (n *Notifier) InternModule(path string) *model.Module {
	m, _ := n.eng.dm.Modules.Intern(path)
	return m
}

// InternFile returns the canonical File for path.
func (n *Notifier) InternFile(path string) *model.File {
	f, _ := n.eng.dm.Files.Intern(path)
	return f
}

// InternThread returns the canonical Thread for tuple, creating its
// ThreadTemporary in this Source's private area and notifying every sink
// the first time the thread is seen. dup reports whether this tuple
// collided with a previously-interned thread (a fatal condition per spec
// §8, left to the caller/Source to surface as an Error).
func (n *Notifier) InternThread(tuple model.IdentifierTuple) (th *model.Thread, temp *model.ThreadTemporary, dup bool) {
	th, inserted := n.eng.dm.Threads.Intern(tuple)
	if inserted {
		n.eng.notifyThread(th)
	}
	n.bs.state.mu.Lock()
	temp, ok := n.bs.state.threadTemps[th]
	if !ok {
		temp = model.NewThreadTemporary(th)
		n.bs.state.threadTemps[th] = temp
	}
	n.bs.state.mu.Unlock()
	return th, temp, !inserted
}

// Root returns the pipeline's single global Context.
func (n *Notifier) Root() *model.Context {
	return n.eng.dm.Contexts.Root
}

// Context requests the child of parent reached by (rel, scope), running it
// through classification first if scope is a point scope (spec §4.2/§4.3).
// It returns the final leaf Context the Source should attribute subsequent
// samples to; every newly-created Context along the way is reported to
// every Sink, and a classification event is reported to every Sink via
// NotifyContextExpansion exactly when a Classifier actually claimed the
// scope.
func (n *Notifier) Context(parent *model.Context, rel model.Relation, scope model.Scope) *model.Context {
	return n.context(parent, model.NestedScope{Relation: rel, Scope: scope})
}

func (n *Notifier) context(parent *model.Context, ns model.NestedScope) *model.Context {
	reg := n.eng.dm.ContextSlots
	if ns.Scope.Kind == model.ScopePoint {
		if chain, ok := n.classifyOnce(parent, ns); ok {
			node := parent
			for _, step := range chain {
				child, inserted := node.Child(reg, step)
				if inserted {
					n.eng.notifyContext(child)
				}
				node = child
			}
			n.eng.notifyContextExpansion(parent, ns, node)
			return node
		}
	}
	child, inserted := parent.Child(reg, ns)
	if inserted {
		n.eng.notifyContext(child)
	}
	return child
}

// classifyOnce returns the engine-wide classification decision for (parent,
// scope). It does not consult a once-guard: every call runs the Classifiers
// again, which yields the same chain each time since classification is a
// pure function of (parent, scope), and the Context tree dedupes the nodes.
func (n *Notifier) classifyOnce(parent *model.Context, ns model.NestedScope) ([]model.NestedScope, bool) {
	return n.eng.classify(parent, ns)
}

// PlaceholderContext attaches a placeholder(kind) scope under parent,
// per spec §4.2's "module-id == PLACEHOLDER" rule.
func (n *Notifier) PlaceholderContext(parent *model.Context, rel model.Relation, kind uint32) *model.Context {
	return n.context(parent, model.NestedScope{Relation: rel, Scope: model.PlaceholderScope(kind)})
}

// UnknownContext attaches (or reuses) the `global -> unknown` stitch point
// used for partial-unwind and unknown-sentinel nodes (spec §4.2).
func (n *Notifier) UnknownContext() *model.Context {
	return n.context(n.Root(), model.NestedScope{Relation: RelUnknown, Scope: model.UnknownScope()})
}

// RelUnknown is the synthetic relation used only for the global->unknown
// stitch point; it behaves exactly like RelCall for uniquing purposes.
const RelUnknown = model.RelCall

// ThawMetric returns the thawed Metric for key, marking it open in this
// Source's private area (spec §4.4: "thawed-but-not-frozen Metrics must be
// empty at Source exit").
func (n *Notifier) ThawMetric(key model.MetricKey, description string, vis model.Visibility) *model.Metric {
	m, _ := n.eng.dm.Metrics.Intern(key, description, vis)
	n.bs.state.mu.Lock()
	n.bs.state.thawedMetrics[m] = true
	n.bs.state.mu.Unlock()
	return m
}

// FreezeMetric closes configuration on m, notifies every sink, and clears
// it from this Source's thawed set.
func (n *Notifier) FreezeMetric(m *model.Metric) {
	m.Freeze()
	n.bs.state.mu.Lock()
	delete(n.bs.state.thawedMetrics, m)
	n.bs.state.mu.Unlock()
	n.eng.notifyMetric(m)
}

// AddValue folds one more nonzero sample value into (ctx, metric)'s
// accumulator for thread temp.
func (n *Notifier) AddValue(temp *model.ThreadTemporary, ctx *model.Context, metric *model.Metric, value float64) {
	if value == 0 {
		return // spec §4.2: zero values are discarded
	}
	temp.Accumulator(ctx, metric).Add(value)
}

// Timepoint forwards one trace record to every sink subscribed to
// timepoints, returning whether any of them asked to rewind.
func (n *Notifier) Timepoint(th *model.Thread, ctx *model.Context, timeNs uint64) TimepointAction {
	return n.eng.notifyTimepoint(th, ctx, timeNs)
}

// Resolvers exposes the bound call-graph Resolvers, for Sources (GPU
// sources specifically) that need to drive flow-graph reconstruction.
func (n *Notifier) Resolvers() []Resolver {
	return n.eng.resolvers
}

// ExpansionOnceGuard returns (creating if necessary) the per-source
// once-guard for (from, scope), for deduping repeated expansion work within
// one Source. No in-tree Source or Sink calls it.
func (n *Notifier) ExpansionOnceGuard(from *model.Context, scope model.Scope) *concurrent.Once {
	key := expansionKey{from, scope}
	n.bs.state.mu.Lock()
	defer n.bs.state.mu.Unlock()
	once, ok := n.bs.state.expansionOnce[key]
	if !ok {
		once = &concurrent.Once{}
		n.bs.state.expansionOnce[key] = once
	}
	return once
}
