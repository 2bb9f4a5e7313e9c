// Package pipeline implements the engine (C4): it binds Sources, Finalizers,
// and Sinks, drives the wavefront state machine described in spec §4.4, and
// owns the Notifier contract Sources use to populate the shared data model.
package pipeline

import (
	"context"
	"time"

	"github.com/ccprof/profbuild/model"
)

// Source is the external-collaborator contract spec §6 describes for one
// profile input. measfmt.Source is the in-tree implementation.
type Source interface {
	// Provides returns the maximal DataClass this Source can ever emit.
	Provides() model.DataClass

	// FinalizeRequest rewrites req by adding implied prerequisites; the
	// default implementation is model.FinalizeRequest, but a Source may
	// further restrict req to its own Provides().
	FinalizeRequest(req model.DataClass) model.DataClass

	// Read blocks until every bit of req has been satisfied against n, or
	// the Source is exhausted, or ctx is done. Repeated calls with a
	// previously-satisfied bit set must be idempotent (spec §8).
	Read(ctx context.Context, req model.DataClass, n *Notifier) error

	// Name identifies the Source for logging and error attribution.
	Name() string
}

// TimepointAction is a Sink's response to one trace record (spec §4.2): it
// may request the Source rewind and replay its trace from the start.
type TimepointAction uint8

const (
	TimepointContinue TimepointAction = iota
	TimepointRewindStart
)

// Sink is the external-collaborator contract spec §6 describes for one
// pipeline output. sparsedb.Writer and idpack.Packer are in-tree
// implementations.
type Sink interface {
	Accepts() model.DataClass
	Wavefronts() model.DataClass
	Requires() model.ExtensionClass

	NotifyPipeline(dm *model.DataModel)
	NotifyWavefront(model.DataClass)
	NotifyThread(*model.Thread)
	NotifyThreadFinal(*model.ThreadTemporary)
	NotifyContext(*model.Context)
	NotifyContextExpansion(from *model.Context, scope model.NestedScope, to *model.Context)
	NotifyMetric(*model.Metric)
	NotifyTimepoint(th *model.Thread, ctx *model.Context, timeNs uint64) TimepointAction

	// Write performs this Sink's output phase (spec run phase 7). It may
	// return a non-nil WorkTicket describing remaining work idle helper
	// goroutines can Contribute to.
	Write(ctx context.Context) (*WorkTicket, error)

	Name() string
}

// WorkTicket mirrors concurrent.WorkTicket field for field, for callers that
// only import pipeline; the engine converts it before calling
// concurrent.Helper.
type WorkTicket struct {
	Completed  bool
	Contribute func() bool
}

// Finalizer is the mandatory half of spec §6's Finalizer contract: slot-fill
// functions every Finalizer must support, even if most return ok=false.
type Finalizer interface {
	Provides() model.ExtensionClass
	Requires() model.ExtensionClass

	File(f *model.File) (resolved string, ok bool)
	Module(m *model.Module) (resolved string, ok bool)
	Context(c *model.Context) (id uint32, ok bool)
	Thread(t *model.Thread) (id uint32, ok bool)
	Metric(m *model.Metric) (ScopedIdentifiers, ok bool)

	Name() string
}

// ScopedIdentifiers is the (function-variant id, execution-variant id) pair
// a Metric's identifier finalizer slot produces (spec §3 "scoped-metric
// identifier pair").
type ScopedIdentifiers struct {
	FunctionID  uint32
	ExecutionID uint32
}

// Classifier is the optional half of the Finalizer contract: a Finalizer
// that can rewrite a point Scope into a classification chain implements
// this too (spec §4.3).
type Classifier interface {
	// Classify inspects the NestedScope about to be attached to parent.
	// If it claims the scope, it returns the ordered chain of
	// NestedScopes to insert between parent and the original leaf, and
	// ok=true. If unclaimed, ok=false and the scope passes through
	// unchanged.
	Classify(parent *model.Context, ns model.NestedScope) (chain []model.NestedScope, ok bool)
}

// Resolver is the optional call-graph reconstruction half of the Finalizer
// contract (spec §4.3 "Call-graph reconstruction").
type Resolver interface {
	Resolve(fg *FlowGraph) bool
}

// Timeout wraps the "opaque timeout" spec §4.4/§5 describes; TimeoutForever
// disables deadlines. The two in-tree Sources (measfmt's current and legacy
// readers) ignore it, as spec §5 requires documenting.
type Timeout struct {
	Duration time.Duration
	Forever  bool
}

// TimeoutForever is the sentinel meaning "never time out."
var TimeoutForever = Timeout{Forever: true}
