package measfmt

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/ccprof/profbuild/model"
	"github.com/ccprof/profbuild/pipeline"
	"github.com/ccprof/profbuild/xerrors"
	"github.com/ccprof/profbuild/xlog"
)

// Source reads one measurement file (current 4.0 format, or legacy 2.0/3.0
// via NewLegacy) and drives a pipeline.Notifier, implementing pipeline.Source
// (spec §4.2). A Source instance is not reusable across pipeline runs but
// Read is safe to call repeatedly within one: already-satisfied DataClass
// bits are skipped, matching spec §4.2's idempotent-reread contract.
type Source struct {
	path   string
	legacy bool
	log    *xlog.Logger

	mu       sync.Mutex
	parsed   *file
	parseErr error
	done     model.DataClass

	// nodeCtx maps a CCT node id (within the epoch currently being
	// walked) to the Context it resolved to. Reset per epoch.
	nodeCtx map[uint32]*model.Context
	// sentinel marks node ids that are the partial-unwind or
	// unknown-stitch sentinels, per spec §4.2's context reconstruction
	// rules; children of these stitch to global->unknown instead of
	// inheriting a real parent Context.
	sentinel map[uint32]bool

	metricByID map[uint32]*model.Metric
}

// New returns a Source for a current-format (4.0) measurement file at path.
// It does not detect the format from the version field: a legacy (2.0/3.0)
// file needs a Source from NewLegacy.
func New(path string) *Source {
	return &Source{path: path, log: xlog.Default()}
}

// Name implements pipeline.Source.
func (s *Source) Name() string { return s.path }

// Provides implements pipeline.Source. The full set is always offered;
// Read silently produces zero events for classes the file has no data for
// (e.g. no companion trace file means ClassTimepoints is a no-op).
func (s *Source) Provides() model.DataClass {
	return model.ClassAttributes | model.ClassReferences | model.ClassThreads |
		model.ClassContexts | model.ClassMetrics | model.ClassTimepoints
}

// FinalizeRequest implements pipeline.Source.
func (s *Source) FinalizeRequest(req model.DataClass) model.DataClass {
	return model.FinalizeRequest(req) & s.Provides()
}

func (s *Source) ensureParsed() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.parsed != nil || s.parseErr != nil {
		return s.parseErr
	}
	buf, err := os.ReadFile(s.path)
	if err != nil {
		s.parseErr = fmt.Errorf("measfmt: %s: %w", s.path, err)
		return s.parseErr
	}
	var f *file
	if s.legacy {
		f, err = parseLegacy(buf)
	} else {
		f, err = parse(buf)
	}
	if err != nil {
		s.parseErr = fmt.Errorf("measfmt: %s: %w", s.path, err)
		return s.parseErr
	}
	s.parsed = f
	return nil
}

// Read implements pipeline.Source. Parse errors are local to this file
// (spec §4.2's failure semantics): they're logged and returned as an
// xerrors.Error (non-fatal to the overall run), not panicked.
func (s *Source) Read(ctx context.Context, req model.DataClass, n *pipeline.Notifier) error {
	if err := s.ensureParsed(); err != nil {
		s.log.Errorf("measfmt: %s: %v", s.path, err)
		return xerrors.Errorf("measfmt: %s: %w", s.path, err)
	}

	s.mu.Lock()
	want := req &^ s.done
	s.mu.Unlock()
	if want == model.ClassNone {
		return nil
	}

	if want.Has(model.ClassAttributes) {
		// The header's program-name/path/job-id are not currently
		// surfaced through a Notifier method (no spec.md operation
		// consumes them downstream of C2 in this implementation);
		// satisfied as soon as the header is parsed.
		s.markDone(model.ClassAttributes)
	}

	if want.Has(model.ClassReferences) {
		for _, ep := range s.parsed.epochs {
			for _, m := range ep.loadMap {
				n.InternModule(m.path)
			}
		}
		s.markDone(model.ClassReferences)
	}

	var temp *model.ThreadTemporary
	if want.Has(model.ClassThreads) {
		tuple := model.IdentifierTuple{{
			Kind:           model.IDTupleKind(s.parsed.header.idTuple.kind),
			Interpretation: model.Interpretation(s.parsed.header.idTuple.interpretation),
			Physical:       s.parsed.header.idTuple.physical,
			Logical:        s.parsed.header.idTuple.logical,
		}}
		_, t, dup := n.InternThread(tuple)
		if dup {
			return xerrors.Fatalf("measfmt: %s: duplicate thread identifier tuple", s.path)
		}
		temp = t
		s.markDone(model.ClassThreads)
	}

	if want.Has(model.ClassContexts) || want.Has(model.ClassMetrics) {
		if temp == nil {
			// Metrics/contexts were requested without threads having
			// been (re)established this call; threads must already be
			// bound from an earlier Read.
			tuple := model.IdentifierTuple{{
				Kind:           model.IDTupleKind(s.parsed.header.idTuple.kind),
				Interpretation: model.Interpretation(s.parsed.header.idTuple.interpretation),
				Physical:       s.parsed.header.idTuple.physical,
				Logical:        s.parsed.header.idTuple.logical,
			}}
			_, t, _ := n.InternThread(tuple)
			temp = t
		}
		for _, ep := range s.parsed.epochs {
			s.walkEpoch(n, temp, ep, want)
		}
		s.markDone(model.ClassContexts | model.ClassMetrics)
	}

	if want.Has(model.ClassTimepoints) && len(s.parsed.trace) > 0 {
		s.mu.Lock()
		nodeCtx := s.nodeCtx
		s.mu.Unlock()
		th, _, _ := n.InternThread(model.IdentifierTuple{{
			Kind:           model.IDTupleKind(s.parsed.header.idTuple.kind),
			Interpretation: model.Interpretation(s.parsed.header.idTuple.interpretation),
			Physical:       s.parsed.header.idTuple.physical,
			Logical:        s.parsed.header.idTuple.logical,
		}})
		for i := 0; i < len(s.parsed.trace); i++ {
			rec := s.parsed.trace[i]
			c, ok := nodeCtx[rec.contextID]
			if !ok {
				c = n.Root()
			}
			if n.Timepoint(th, c, rec.timeNs) == pipeline.TimepointRewindStart {
				i = -1 // re-enter loop at index 0 after the increment
			}
		}
		s.markDone(model.ClassTimepoints)
	}

	return nil
}

func (s *Source) markDone(classes model.DataClass) {
	s.mu.Lock()
	s.done |= classes
	s.mu.Unlock()
}

// walkEpoch reconstructs Contexts (and, inline, attributes metric values)
// for one epoch's CCT-node stream, applying spec §4.2's context
// reconstruction rules in preorder.
func (s *Source) walkEpoch(n *pipeline.Notifier, temp *model.ThreadTemporary, ep epoch, want model.DataClass) {
	s.nodeCtx = make(map[uint32]*model.Context, len(ep.nodes))
	s.sentinel = make(map[uint32]bool)

	metricByID := make(map[uint32]*model.Metric, len(ep.metrics))
	if want.Has(model.ClassMetrics) {
		for _, md := range ep.metrics {
			vis := model.ShowDefault
			if md.showFlags == 1 {
				vis = model.ShowHidden
			} else if md.showFlags == 2 {
				vis = model.Invisible
			}
			m := n.ThawMetric(model.MetricKey{
				Name:   md.name,
				Scopes: model.ScopePointVariant | model.ScopeFunctionVariant | model.ScopeExecutionVariant,
			}, md.description, vis)
			metricByID[md.id] = m
		}
	}

	moduleByID := make(map[uint32]*model.Module, len(ep.loadMap))
	for _, lm := range ep.loadMap {
		moduleByID[lm.id] = n.InternModule(lm.path)
	}

	for _, node := range ep.nodes {
		ctx := s.resolveNode(n, node, moduleByID)
		s.nodeCtx[node.id] = ctx

		if want.Has(model.ClassMetrics) && temp != nil {
			for _, mv := range node.metrics {
				metric := metricByID[mv.metricID]
				if metric == nil {
					continue
				}
				n.AddValue(temp, ctx, metric, mv.value)
			}
		}
	}

	if want.Has(model.ClassMetrics) {
		for _, m := range metricByID {
			n.FreezeMetric(m)
		}
	}
}

// resolveNode implements spec §4.2's context reconstruction rules for one
// CCT node, given that every earlier node in preorder has already been
// resolved into s.nodeCtx.
func (s *Source) resolveNode(n *pipeline.Notifier, node cctNodeWire, moduleByID map[uint32]*model.Module) *model.Context {
	switch {
	case node.parentID == 0 && node.moduleID == modulePlaceholder && node.offset == offsetRootPrimary:
		// The node *is* the global scope: record its id, emit nothing new.
		return n.Root()

	case node.parentID == 0 && node.offset == offsetRootPartial:
		s.sentinel[node.id] = true
		return n.UnknownContext()

	case s.sentinel[node.parentID] || s.isUnknownSentinelParent(node.parentID):
		return n.UnknownContext()

	case node.moduleID == modulePlaceholder:
		parent := s.parentContext(node.parentID, n)
		return n.PlaceholderContext(parent, model.RelCall, uint32(node.offset))

	case node.moduleID == moduleGPURoot:
		// Range-root sentinel: marks the start of a GPU collaborative
		// range but is not itself a Context. Its children resolve
		// against its parent directly.
		return s.parentContext(node.parentID, n)

	case node.moduleID == moduleGPUContext:
		// Outlined and inline GPU-context head cases both collapse to
		// a pass-through of the parent Context in this implementation:
		// full GPU collaborative-context bookkeeping (thread-temporary
		// <-> group-id mapping, entry-point lookup for downstream
		// collaborative contexts) is a distinct subsystem spec §4.2
		// only sketches, and no Sink in this pipeline consumes it.
		// Recorded as an Open Question resolution in DESIGN.md.
		return s.parentContext(node.parentID, n)

	case node.moduleID == moduleGPURange:
		// Collaborative marker; requires a GPU_CONTEXT parent. Not
		// wired to a dedicated sink method (see above) — treated as a
		// pass-through so descendant point scopes still resolve.
		s.log.Debugf("measfmt.gpu_range", "measfmt: %s: unhandled GPU_RANGE node %d, passing through", s.path, node.id)
		return s.parentContext(node.parentID, n)

	default:
		parent := s.parentContext(node.parentID, n)
		module := moduleByID[node.moduleID]
		if module == nil {
			module = n.InternModule(fmt.Sprintf("<unknown-module-%d>", node.moduleID))
		}
		return n.Context(parent, model.RelCall, model.PointScope(module, node.offset))
	}
}

func (s *Source) isUnknownSentinelParent(parentID uint32) bool {
	return parentID == nodeIDUnknownSentinel
}

func (s *Source) parentContext(parentID uint32, n *pipeline.Notifier) *model.Context {
	if c, ok := s.nodeCtx[parentID]; ok {
		return c
	}
	return n.Root()
}
