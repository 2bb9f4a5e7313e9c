package classify

import (
	"bufio"
	"bytes"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/ccprof/profbuild/model"
	"github.com/ccprof/profbuild/pipeline"
)

// logicalMarker is the on-disk prefix spec §4.3 uses to identify a Module
// as a logical (non-machine-code) unwind target.
const logicalMarker = "HPCLOGICAL"

// LogicalClassifier replaces point(module, offset) scopes for Modules whose
// file begins with the HPCLOGICAL marker by either a logical File reference
// or a synthetic Function, driven by a stanza table embedded after the
// marker (spec §4.3).
//
// Stanza format (one per line, tab-separated, following the marker line):
//   offset<TAB>kind<TAB>value[<TAB>line]
// where kind is "file" (value is a path; the optional trailing line is the
// source line of the LineScope it yields) or "func" (value is a name; any
// trailing field is ignored). This is an implementation choice for a stanza
// layout spec.md only describes at a high level; see DESIGN.md.
type LogicalClassifier struct {
	dm *model.DataModel

	mu     sync.Mutex
	tables map[*model.Module]*logicalTable // nil means "not a logical module"
}

type logicalStanza struct {
	offset uint64
	isFunc bool
	value  string
	line   int
}

type logicalTable struct {
	stanzas map[uint64]logicalStanza
}

// NewLogicalClassifier returns a classifier backed by dm for Function/File
// interning.
func NewLogicalClassifier(dm *model.DataModel) *LogicalClassifier {
	return &LogicalClassifier{dm: dm, tables: make(map[*model.Module]*logicalTable)}
}

func (l *LogicalClassifier) Name() string                  { return "classify.logical" }
func (l *LogicalClassifier) Provides() model.ExtensionClass { return model.ExtClassification }
func (l *LogicalClassifier) Requires() model.ExtensionClass { return model.ExtNone }
func (l *LogicalClassifier) File(*model.File) (string, bool) { return "", false }
func (l *LogicalClassifier) Module(*model.Module) (string, bool) { return "", false }
func (l *LogicalClassifier) Context(*model.Context) (uint32, bool) { return 0, false }
func (l *LogicalClassifier) Thread(*model.Thread) (uint32, bool)   { return 0, false }
func (l *LogicalClassifier) Metric(*model.Metric) (pipeline.ScopedIdentifiers, bool) {
	return pipeline.ScopedIdentifiers{}, false
}

// Classify implements pipeline.Classifier.
func (l *LogicalClassifier) Classify(parent *model.Context, ns model.NestedScope) ([]model.NestedScope, bool) {
	if ns.Scope.Kind != model.ScopePoint {
		return nil, false
	}
	t := l.tableFor(ns.Scope.Module)
	if t == nil {
		return nil, false
	}
	stanza, ok := t.stanzas[ns.Scope.Offset]
	if !ok {
		return nil, false
	}
	if stanza.isFunc {
		// Keyed on (Module, Offset) alone, per FunctionKey's documented
		// invariant — offset already pins identity for a concrete entry
		// point.
		key := model.FunctionKey{Module: ns.Scope.Module, HasOffset: true, Offset: stanza.offset}
		fn, _ := l.dm.Functions.Intern(key, func() *model.Function {
			return &model.Function{Module: ns.Scope.Module, HasOffset: true, Offset: stanza.offset, Name: stanza.value}
		})
		return []model.NestedScope{{Relation: model.RelEnclosure, Scope: model.FunctionScope(fn)}}, true
	}
	file, _ := l.dm.Files.Intern(stanza.value)
	return []model.NestedScope{{Relation: model.RelEnclosure, Scope: model.LineScope(file, stanza.line)}}, true
}

func (l *LogicalClassifier) tableFor(m *model.Module) *logicalTable {
	l.mu.Lock()
	t, ok := l.tables[m]
	l.mu.Unlock()
	if ok {
		return t
	}

	t = l.load(m)

	l.mu.Lock()
	l.tables[m] = t
	l.mu.Unlock()
	return t
}

func (l *LogicalClassifier) load(m *model.Module) *logicalTable {
	f, err := os.Open(m.Path)
	if err != nil {
		return nil
	}
	defer f.Close()

	marker := make([]byte, len(logicalMarker))
	if _, err := f.Read(marker); err != nil || !bytes.Equal(marker, []byte(logicalMarker)) {
		return nil
	}

	t := &logicalTable{stanzas: make(map[uint64]logicalStanza)}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Split(sc.Text(), "\t")
		if len(fields) < 3 {
			continue
		}
		offset, err := strconv.ParseUint(fields[0], 0, 64)
		if err != nil {
			continue
		}
		stanza := logicalStanza{offset: offset, value: fields[2]}
		switch fields[1] {
		case "func":
			stanza.isFunc = true
		case "file":
			if len(fields) > 3 {
				stanza.line, _ = strconv.Atoi(fields[3])
			}
		default:
			continue
		}
		t.stanzas[offset] = stanza
	}
	return t
}
