package classify

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	"github.com/ianlancetaylor/demangle"

	"github.com/ccprof/profbuild/model"
	"github.com/ccprof/profbuild/pipeline"
)

// StructClassifier parses a per-load-module XML sidecar ("structure file")
// lazily on first Module access and classifies point Scopes against it,
// per spec §4.3. It is grounded on
// original_source/src/lib/profile/finalizers/struct.{hpp,cpp}'s udModule:
// an interval map from instruction offset to a trie-node (the
// classification chain) plus a reversed call graph.
type StructClassifier struct {
	dm          *model.DataModel
	sidecarFor  func(m *model.Module) string // maps a Module's binary path to its .xml sidecar path

	mu     sync.Mutex
	tables map[*model.Module]*structTable // nil means "no sidecar / load failed"
}

// NewStructClassifier returns a classifier that looks up each Module's
// sidecar path via sidecarFor (conventionally path+".hpcstruct.xml"; the
// caller supplies the mapping so cmd/profbuild can override it).
func NewStructClassifier(dm *model.DataModel, sidecarFor func(*model.Module) string) *StructClassifier {
	return &StructClassifier{dm: dm, sidecarFor: sidecarFor, tables: make(map[*model.Module]*structTable)}
}

func (s *StructClassifier) Name() string                    { return "classify.struct" }
func (s *StructClassifier) Provides() model.ExtensionClass   { return model.ExtClassification }
func (s *StructClassifier) Requires() model.ExtensionClass   { return model.ExtResolvedPath }
func (s *StructClassifier) File(*model.File) (string, bool)  { return "", false }
func (s *StructClassifier) Module(*model.Module) (string, bool) { return "", false }
func (s *StructClassifier) Context(*model.Context) (uint32, bool) { return 0, false }
func (s *StructClassifier) Thread(*model.Thread) (uint32, bool)   { return 0, false }
func (s *StructClassifier) Metric(*model.Metric) (pipeline.ScopedIdentifiers, bool) {
	return pipeline.ScopedIdentifiers{}, false
}

// trieNode is one link in a classification chain: (NestedScope, parent).
// Looking up a leaf yields the full chain by walking parent pointers and
// reversing, matching the teacher's `trienode` pair.
type trieNode struct {
	ns     model.NestedScope
	parent *trieNode
}

// chain walks from n to the root, returning root-to-leaf order.
func (n *trieNode) chain() []model.NestedScope {
	var rev []model.NestedScope
	for cur := n; cur != nil; cur = cur.parent {
		rev = append(rev, cur.ns)
	}
	out := make([]model.NestedScope, len(rev))
	for i, ns := range rev {
		out[len(rev)-1-i] = ns
	}
	return out
}

type interval struct {
	lo, hi uint64 // [lo, hi)
	leaf   *trieNode
	fn     *model.Function
}

type callEdge struct {
	callerOffset uint64
	caller       *model.Function
}

type structTable struct {
	intervals []interval                    // sorted by lo, non-overlapping
	rcg       map[*model.Function][]callEdge // callee -> callers
}

func (t *structTable) find(offset uint64) (*interval, bool) {
	i := sort.Search(len(t.intervals), func(i int) bool { return offset < t.intervals[i].hi })
	if i < len(t.intervals) && t.intervals[i].lo <= offset && offset < t.intervals[i].hi {
		return &t.intervals[i], true
	}
	return nil, false
}

// Classify implements pipeline.Classifier.
func (s *StructClassifier) Classify(parent *model.Context, ns model.NestedScope) ([]model.NestedScope, bool) {
	if ns.Scope.Kind != model.ScopePoint {
		return nil, false
	}
	t := s.tableFor(ns.Scope.Module)
	if t == nil {
		return nil, false
	}
	iv, ok := t.find(ns.Scope.Offset)
	if !ok {
		return nil, false
	}
	return iv.leaf.chain(), true
}

// AddTo installs this classifier's reversed call graph into fg, so a
// Resolver (spec §4.3's "call-graph reconstruction") can DFS it.
func (s *StructClassifier) AddTo(fg *pipeline.FlowGraph) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tables {
		if t == nil {
			continue
		}
		for callee, edges := range t.rcg {
			for _, e := range edges {
				fg.AddEdge(callee, e.callerOffset, e.caller)
			}
		}
	}
}

func (s *StructClassifier) tableFor(m *model.Module) *structTable {
	s.mu.Lock()
	t, ok := s.tables[m]
	s.mu.Unlock()
	if ok {
		return t
	}

	t = s.load(m)

	s.mu.Lock()
	s.tables[m] = t
	s.mu.Unlock()
	return t
}

func (s *StructClassifier) load(m *model.Module) *structTable {
	path := s.sidecarFor(m)
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	doc, err := parseStructXML(f)
	if err != nil {
		return nil
	}

	t := &structTable{rcg: make(map[*model.Function][]callEdge)}
	var intervals []interval

	var walk func(tag structTag, parent *trieNode, enclosingFn *model.Function)
	walk = func(tag structTag, parent *trieNode, enclosingFn *model.Function) {
		var node *trieNode
		fn := enclosingFn

		switch tag.XMLName.Local {
		case "P": // Procedure
			name := demangleName(tag.Name_)
			// Keyed on (Module, Offset) alone, per FunctionKey's documented
			// invariant: Offset already pins identity for a concrete entry
			// point, and a call edge's callee (below) only ever knows the
			// target offset, never the callee's name.
			key := model.FunctionKey{Module: m, HasOffset: true, Offset: tag.VMA}
			fn, _ = s.dm.Functions.Intern(key, func() *model.Function {
				return &model.Function{Module: m, HasOffset: true, Offset: tag.VMA, Name: name}
			})
			if fn.Name == "" {
				fn.Name = name // first interned as a call target, before its P tag
			}
			node = &trieNode{ns: model.NestedScope{Relation: model.RelEnclosure, Scope: model.FunctionScope(fn)}, parent: parent}
		case "A": // Alien / inlined
			node = &trieNode{ns: model.NestedScope{Relation: model.RelInlinedCall, Scope: model.FunctionScope(fn)}, parent: parent}
		case "L": // Loop
			file, _ := s.dm.Files.Intern(tag.File)
			node = &trieNode{ns: model.NestedScope{Relation: model.RelEnclosure, Scope: model.LoopScope(file, tag.Line)}, parent: parent}
		case "S": // Statement
			file, _ := s.dm.Files.Intern(tag.File)
			node = &trieNode{ns: model.NestedScope{Relation: model.RelEnclosure, Scope: model.LineScope(file, tag.Line)}, parent: parent}
			if tag.VMA != 0 || tag.VMAEnd != 0 {
				intervals = append(intervals, interval{lo: tag.VMA, hi: tag.VMAEnd, leaf: node, fn: fn})
			}
		case "C": // Call
			if fn != nil && tag.Target != 0 {
				calleeKey := model.FunctionKey{Module: m, HasOffset: true, Offset: tag.Target}
				callee, _ := s.dm.Functions.Intern(calleeKey, func() *model.Function {
					return &model.Function{Module: m, HasOffset: true, Offset: tag.Target}
				})
				t.rcg[callee] = append(t.rcg[callee], callEdge{callerOffset: tag.VMA, caller: fn})
			}
			node = parent
		default:
			node = parent
		}

		for _, child := range tag.Children {
			walk(child, node, fn)
		}
	}

	for _, top := range doc.Procedures {
		walk(top, nil, nil)
	}

	sort.Slice(intervals, func(i, j int) bool { return intervals[i].lo < intervals[j].lo })
	t.intervals = intervals
	return t
}

func demangleName(raw string) string {
	if n, err := demangle.ToString(raw, demangle.NoParams); err == nil {
		return n
	}
	return raw
}

// structDoc/structTag model the XML sidecar's shape (spec §4.3: Procedures
// P, Statements S, Loops L, Calls C, Files F, Alien/inlined A, each with
// virtual-address ranges).
type structDoc struct {
	XMLName    xml.Name    `xml:"HPCToolkitStructure"`
	Procedures []structTag `xml:"LM>F>P"`
}

type structTag struct {
	XMLName  xml.Name
	Name_    string      `xml:"n,attr"`
	File     string      `xml:"f,attr"`
	Line     int         `xml:"l,attr"`
	VMA      uint64      `xml:"v,attr"`
	VMAEnd   uint64      `xml:"vEnd,attr"`
	Target   uint64      `xml:"t,attr"`
	Children []structTag `xml:",any"`
}

func parseStructXML(r io.Reader) (*structDoc, error) {
	var doc structDoc
	dec := xml.NewDecoder(r)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("classify: struct: decode: %w", err)
	}
	return &doc, nil
}
