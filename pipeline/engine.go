package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ccprof/profbuild/concurrent"
	"github.com/ccprof/profbuild/metrics"
	"github.com/ccprof/profbuild/model"
	"github.com/ccprof/profbuild/xlog"
)

// Config bundles the engine's run-time knobs (spec §9's team_size and
// related options live in config.Options; the engine only needs the
// concurrency bound and a logger). Metrics is optional: a nil Metrics
// disables all reporting rather than requiring a no-op Registry.
type Config struct {
	TeamSize int
	Log      *xlog.Logger
	Metrics  *metrics.Registry
}

// Engine binds Sources, Finalizers, and Sinks and drives the wavefront
// state machine (spec §4.4). One Engine serves one pipeline run (one rank,
// in multi-rank terms — coordinating across ranks is sparsedb/idpack's
// concern, layered on top).
type Engine struct {
	cfg Config
	dm  *model.DataModel

	sources     []*boundSource
	sinks       []*boundSink
	finalizers  []Finalizer
	classifiers []Classifier
	resolvers   []Resolver

	bound  bool
	mu     sync.Mutex
	thawed map[*model.Metric]int // refcount across sources, for the empty-at-exit invariant
}

type boundSource struct {
	src       Source
	scheduled model.DataClass
	state     sourceState
}

type sourceState struct {
	mu            sync.Mutex
	threadTemps   map[*model.Thread]*model.ThreadTemporary
	thawedMetrics map[*model.Metric]bool
	expansionOnce map[expansionKey]*concurrent.Once
}

type expansionKey struct {
	from  *model.Context
	scope model.Scope
}

type boundSink struct {
	sink       Sink
	accepts    model.DataClass
	wavefronts model.DataClass
}

// New returns an empty, unbound Engine over dm (which must not yet be
// frozen: the engine calls dm.Freeze() during Bind once every Finalizer has
// registered its slots, per spec run phase 1).
func New(cfg Config, dm *model.DataModel) *Engine {
	if cfg.Log == nil {
		cfg.Log = xlog.Default()
	}
	if cfg.TeamSize < 1 {
		cfg.TeamSize = 1
	}
	return &Engine{cfg: cfg, dm: dm, thawed: make(map[*model.Metric]int)}
}

// AddFinalizer registers f; if f also implements Classifier and/or
// Resolver, those capabilities are recorded too. Must be called before
// Bind.
func (e *Engine) AddFinalizer(f Finalizer) {
	if e.bound {
		panic("pipeline: AddFinalizer after Bind")
	}
	e.finalizers = append(e.finalizers, f)
	if c, ok := f.(Classifier); ok {
		e.classifiers = append(e.classifiers, c)
	}
	if r, ok := f.(Resolver); ok {
		e.resolvers = append(e.resolvers, r)
	}
}

// AddResolver registers r directly, for call-graph Resolvers that aren't
// also a Finalizer (most are — AddFinalizer already picks those up via a
// type assertion). Must be called before Bind.
func (e *Engine) AddResolver(r Resolver) {
	if e.bound {
		panic("pipeline: AddResolver after Bind")
	}
	e.resolvers = append(e.resolvers, r)
}

// AddSink registers sink. Must be called before Bind.
func (e *Engine) AddSink(sink Sink) {
	if e.bound {
		panic("pipeline: AddSink after Bind")
	}
	e.sinks = append(e.sinks, &boundSink{sink: sink, accepts: sink.Accepts(), wavefronts: sink.Wavefronts()})
}

// AddSource registers src. Must be called before Bind.
func (e *Engine) AddSource(src Source) {
	if e.bound {
		panic("pipeline: AddSource after Bind")
	}
	e.sources = append(e.sources, &boundSource{src: src})
}

// Bind performs run phases 1-4 of spec §4.4: freeze the data model,
// validate the Finalizer provides/requires DAG, instantiate the root
// Context, and compute each Source's scheduled DataClass.
func (e *Engine) Bind(requested model.DataClass) error {
	if e.bound {
		return fmt.Errorf("pipeline: Bind called twice")
	}

	// Phase 1: freeze entity structs (slot registries + uniquing sets).
	e.dm.Freeze()

	// Phase 2: validate finalizer provides/requires DAG.
	var provided model.ExtensionClass
	for _, f := range e.finalizers {
		provided |= f.Provides()
	}
	for _, f := range e.finalizers {
		missing := f.Requires() &^ provided
		if missing != 0 {
			return fmt.Errorf("pipeline: finalizer %q requires unsatisfied extension class %v", f.Name(), missing)
		}
	}
	for _, sb := range e.sinks {
		missing := sb.sink.Requires() &^ provided
		if missing != 0 {
			return fmt.Errorf("pipeline: sink %q requires unsatisfied extension class %v", sb.sink.Name(), missing)
		}
	}

	// Phase 3: root Context already exists via dm.Contexts (NewContextTree
	// ran inside dm.Freeze); notify every sink of the pipeline starting.
	for _, sb := range e.sinks {
		sb.sink.NotifyPipeline(e.dm)
	}

	// Phase 4: reconcile requested data against what each source provides.
	req := model.FinalizeRequest(requested)
	for _, bs := range e.sources {
		bs.src.FinalizeRequest(req)
		bs.scheduled = bs.src.Provides() & req
		bs.state.threadTemps = make(map[*model.Thread]*model.ThreadTemporary)
		bs.state.thawedMetrics = make(map[*model.Metric]bool)
		bs.state.expansionOnce = make(map[expansionKey]*concurrent.Once)
	}

	e.bound = true
	return nil
}

// Run drives phases 5-7: dispatch every wavefront, finalize every thread,
// then call each Sink's Write.
func (e *Engine) Run(ctx context.Context) error {
	if !e.bound {
		return fmt.Errorf("pipeline: Run before Bind")
	}

	cumulative := model.ClassNone
	wavefronts := model.Wavefronts()
	for i, class := range wavefronts {
		final := i == len(wavefronts)-1
		if err := e.dispatchWavefront(ctx, class, final); err != nil {
			return err
		}
		cumulative |= class
		e.notifyWavefront(cumulative)
	}

	// Phase 6: finalize every thread-temporary left by any source.
	for _, bs := range e.sources {
		if len(bs.state.thawedMetrics) != 0 {
			return fmt.Errorf("pipeline: source %q exited with thawed metrics still open", bs.src.Name())
		}
		bs.state.mu.Lock()
		temps := make([]*model.ThreadTemporary, 0, len(bs.state.threadTemps))
		for _, tt := range bs.state.threadTemps {
			temps = append(temps, tt)
		}
		bs.state.threadTemps = make(map[*model.Thread]*model.ThreadTemporary)
		bs.state.mu.Unlock()
		for _, tt := range temps {
			e.finalizeThread(tt)
		}
	}

	// Phase 7: barrier, then let every sink write, cooperating via
	// work-share tickets for idle team members.
	return e.writeAll(ctx)
}

// dispatchWavefront runs phase 5 for one wavefront class: every scheduled
// Source reads its fragment of class concurrently (bounded by team size).
// On the final wavefront, sources also receive everything left in their
// scheduled set that hasn't been requested yet (the "finishing" read, a
// supplemented feature from original_source/pipeline.cpp — see
// SPEC_FULL.md).
func (e *Engine) dispatchWavefront(ctx context.Context, class model.DataClass, final bool) error {
	items := make([]concurrent.WorkItem, 0, len(e.sources))
	errs := make([]error, len(e.sources))
	for i, bs := range e.sources {
		i, bs := i, bs
		req := bs.scheduled & class
		if final {
			req = bs.scheduled
		}
		if req == model.ClassNone {
			continue
		}
		items = append(items, func() {
			n := &Notifier{eng: e, bs: bs}
			if err := bs.src.Read(ctx, req, n); err != nil {
				errs[i] = fmt.Errorf("source %q: %w", bs.src.Name(), err)
				e.cfg.Log.Errorf("source %s failed reading %v: %v", bs.src.Name(), req, err)
			}
		})
	}
	concurrent.Run(e.cfg.TeamSize, items)
	for _, err := range errs {
		if err != nil {
			// Spec §4.2: a parse error is local to that input; the
			// run continues with the others. Only sparse-DB I/O
			// errors and invariant violations are fatal — neither
			// happens here, so we log and keep going.
			continue
		}
	}
	return nil
}

func (e *Engine) notifyWavefront(cumulative model.DataClass) {
	if e.cfg.Metrics != nil {
		e.cfg.Metrics.WavefrontsDispatched.Inc()
	}
	for _, sb := range e.sinks {
		if sb.wavefronts.Any(cumulative) {
			sb.sink.NotifyWavefront(cumulative)
		}
	}
}

func (e *Engine) writeAll(ctx context.Context) error {
	tickets := make([]*WorkTicket, len(e.sinks))
	errs := make([]error, len(e.sinks))
	items := make([]concurrent.WorkItem, 0, len(e.sinks))
	for i, sb := range e.sinks {
		i, sb := i, sb
		items = append(items, func() {
			start := time.Now()
			t, err := sb.sink.Write(ctx)
			if e.cfg.Metrics != nil {
				e.cfg.Metrics.ObserveSinkWrite(sb.sink.Name(), time.Since(start))
			}
			tickets[i] = t
			errs[i] = err
		})
	}
	concurrent.Run(e.cfg.TeamSize, items)
	for i, err := range errs {
		if err != nil {
			return fmt.Errorf("pipeline: sink %q write failed: %w", e.sinks[i].sink.Name(), err)
		}
	}
	// Idle-thread cooperation: any sink that returned a ticket gets
	// whatever concurrency budget is left contributed to it.
	var wg sync.WaitGroup
	for i, t := range tickets {
		if t == nil || t.Completed || t.Contribute == nil {
			continue
		}
		wg.Add(1)
		go func(t *WorkTicket, idx int) {
			defer wg.Done()
			concurrent.Helper(concurrent.WorkTicket{Completed: t.Completed, Contribute: t.Contribute})
		}(t, i)
	}
	wg.Wait()
	return nil
}

func (e *Engine) notifyContext(c *model.Context) {
	if e.cfg.Metrics != nil {
		e.cfg.Metrics.ContextsCreated.Inc()
	}
	for _, sb := range e.sinks {
		if sb.accepts.Any(model.ClassContexts) {
			sb.sink.NotifyContext(c)
		}
	}
}

func (e *Engine) notifyContextExpansion(from *model.Context, ns model.NestedScope, to *model.Context) {
	for _, sb := range e.sinks {
		if sb.accepts.Any(model.ClassContexts | model.ClassReferences) {
			sb.sink.NotifyContextExpansion(from, ns, to)
		}
	}
}

func (e *Engine) notifyThread(t *model.Thread) {
	for _, sb := range e.sinks {
		if sb.accepts.Any(model.ClassThreads) {
			sb.sink.NotifyThread(t)
		}
	}
}

func (e *Engine) notifyMetric(m *model.Metric) {
	for _, sb := range e.sinks {
		if sb.accepts.Any(model.ClassMetrics) {
			sb.sink.NotifyMetric(m)
		}
	}
}

func (e *Engine) notifyTimepoint(th *model.Thread, c *model.Context, ns uint64) TimepointAction {
	action := TimepointContinue
	for _, sb := range e.sinks {
		if sb.accepts.Any(model.ClassTimepoints) {
			if sb.sink.NotifyTimepoint(th, c, ns) == TimepointRewindStart {
				action = TimepointRewindStart
			}
		}
	}
	return action
}

// classify tries every registered Classifier in bind order; the first that
// claims the scope wins, matching spec §4.3's ordered cooperating
// classifiers (struct, then logical, then direct).
func (e *Engine) classify(parent *model.Context, ns model.NestedScope) ([]model.NestedScope, bool) {
	for _, c := range e.classifiers {
		if chain, ok := c.Classify(parent, ns); ok {
			return chain, true
		}
	}
	return nil, false
}

// finalizeThread computes per-Metric statistics for every Context this
// thread touched (spec run phase 6), notifies every sink, then drops the
// workspace.
func (e *Engine) finalizeThread(tt *model.ThreadTemporary) {
	propagateInclusive(tt)
	for _, sb := range e.sinks {
		if sb.accepts.Any(model.ClassThreads | model.ClassMetrics) {
			sb.sink.NotifyThreadFinal(tt)
		}
	}
	if e.cfg.Metrics != nil {
		e.cfg.Metrics.ThreadsFinalized.Inc()
	}
	tt.Clear()
}
