// Package classify implements the Classifier/Finalizer layer (C3): struct,
// logical, and direct classifiers that turn a point NestedScope into a
// classification chain, plus the identifier and resolved-path finalizers
// and a call-graph Resolver (spec §4.3).
package classify

import (
	"debug/dwarf"
	"debug/elf"
	"io"
	"sort"
	"sync"

	"github.com/ccprof/profbuild/model"
	"github.com/ccprof/profbuild/pipeline"
	"github.com/ccprof/profbuild/xlog"
)

// DirectClassifier falls back to DWARF-derived line info for Modules below
// MaxSize, adapted from the teacher's perfsession/symbolize.go (DWARF
// function-range and line-table walk) from a one-off `Symbolize` lookup
// into a cached-per-Module Classifier. It interns every Function/File it
// discovers through the shared DataModel so classification chains reuse
// the same entity pointers the CCT uniquing invariant depends on.
type DirectClassifier struct {
	MaxSize int64
	dm      *model.DataModel
	log     *xlog.Logger

	mu     sync.Mutex
	tables map[*model.Module]*moduleTable // nil entry means "failed to load"
}

// moduleTable is one Module's DWARF function/line index, mirroring the
// teacher's symbolicExtra.
type moduleTable struct {
	functab []funcRange
	linetab []dwarf.LineEntry
}

type funcRange struct {
	fn            *model.Function
	lowpc, highpc uint64
}

// NewDirectClassifier returns a DirectClassifier that refuses to load DWARF
// for any Module's backing file larger than maxSize bytes (spec §4.3's
// "configurable size cap"). dm is the pipeline's shared DataModel, used to
// intern Functions and Files discovered via DWARF.
func NewDirectClassifier(dm *model.DataModel, maxSize int64) *DirectClassifier {
	return &DirectClassifier{MaxSize: maxSize, dm: dm, log: xlog.Default(), tables: make(map[*model.Module]*moduleTable)}
}

// Name implements pipeline.Finalizer.
func (d *DirectClassifier) Name() string { return "classify.direct" }

// Provides implements pipeline.Finalizer.
func (d *DirectClassifier) Provides() model.ExtensionClass { return model.ExtClassification }

// Requires implements pipeline.Finalizer.
func (d *DirectClassifier) Requires() model.ExtensionClass { return model.ExtNone }

// File, Module, Context, Thread, Metric round out the Finalizer interface;
// the direct classifier only ever claims classification, so these always
// decline.
func (d *DirectClassifier) File(*model.File) (string, bool)     { return "", false }
func (d *DirectClassifier) Module(*model.Module) (string, bool) { return "", false }
func (d *DirectClassifier) Context(*model.Context) (uint32, bool) { return 0, false }
func (d *DirectClassifier) Thread(*model.Thread) (uint32, bool)   { return 0, false }
func (d *DirectClassifier) Metric(*model.Metric) (pipeline.ScopedIdentifiers, bool) {
	return pipeline.ScopedIdentifiers{}, false
}

// Classify implements pipeline.Classifier. It only handles point scopes
// whose Module it can load DWARF for; everything else is left unclaimed so
// the struct or logical classifier (or no classifier at all) can act.
func (d *DirectClassifier) Classify(parent *model.Context, ns model.NestedScope) ([]model.NestedScope, bool) {
	if ns.Scope.Kind != model.ScopePoint {
		return nil, false
	}
	t := d.tableFor(ns.Scope.Module)
	if t == nil {
		return nil, false
	}
	f, l := t.findIP(ns.Scope.Offset)
	if f == nil {
		return nil, false
	}
	chain := []model.NestedScope{{Relation: model.RelEnclosure, Scope: model.FunctionScope(f.fn)}}
	if l != nil && l.Line > 0 && l.File != nil {
		file, _ := d.dm.Files.Intern(l.File.Name)
		chain = append(chain, model.NestedScope{Relation: model.RelEnclosure, Scope: model.LineScope(file, l.Line)})
	}
	return chain, true
}

func (d *DirectClassifier) tableFor(m *model.Module) *moduleTable {
	d.mu.Lock()
	t, ok := d.tables[m]
	d.mu.Unlock()
	if ok {
		return t
	}

	t = d.load(m)

	d.mu.Lock()
	d.tables[m] = t
	d.mu.Unlock()
	return t
}

func (d *DirectClassifier) load(m *model.Module) *moduleTable {
	elff, err := elf.Open(m.Path)
	if err != nil {
		d.log.Debugf("classify.direct.elf", "classify: direct: %s: %v", m.Path, err)
		return nil
	}
	defer elff.Close()

	if d.MaxSize > 0 {
		var size int64
		for _, sec := range elff.Sections {
			size += int64(sec.Size)
		}
		if size > d.MaxSize {
			d.log.Debugf("classify.direct.size", "classify: direct: %s: exceeds DWARF size cap, skipping", m.Path)
			return nil
		}
	}

	if elff.Section(".debug_info") == nil {
		return nil
	}
	dwarff, err := elff.DWARF()
	if err != nil {
		d.log.Debugf("classify.direct.dwarf", "classify: direct: %s: %v", m.Path, err)
		return nil
	}

	return &moduleTable{
		functab: d.dwarfFuncTable(dwarff, m),
		linetab: dwarfLineTable(dwarff),
	}
}

func (t *moduleTable) findIP(ip uint64) (f *funcRange, l *dwarf.LineEntry) {
	i := sort.Search(len(t.functab), func(i int) bool { return ip < t.functab[i].highpc })
	if i < len(t.functab) && t.functab[i].lowpc <= ip && ip < t.functab[i].highpc {
		f = &t.functab[i]
	}

	i = sort.Search(len(t.linetab), func(i int) bool { return ip < t.linetab[i].Address })
	if i != 0 && !t.linetab[i-1].EndSequence {
		l = &t.linetab[i-1]
	}
	return
}

func (d *DirectClassifier) dwarfFuncTable(dwarff *dwarf.Data, m *model.Module) []funcRange {
	r := dwarff.Reader()
	var out []funcRange
	for {
		ent, err := r.Next()
		if ent == nil || err != nil {
			break
		}
		switch ent.Tag {
		case dwarf.TagSubprogram:
			r.SkipChildren()
			name, ok := ent.Val(dwarf.AttrName).(string)
			if !ok {
				continue
			}
			lowpc, ok := ent.Val(dwarf.AttrLowpc).(uint64)
			if !ok {
				continue
			}
			var highpc uint64
			switch hv := ent.Val(dwarf.AttrHighpc).(type) {
			case uint64:
				highpc = hv
			case int64:
				highpc = lowpc + uint64(hv)
			default:
				continue
			}
			// Keyed on (Module, Offset) alone, per FunctionKey's documented
			// invariant — offset already pins identity for a concrete entry
			// point.
			key := model.FunctionKey{Module: m, HasOffset: true, Offset: lowpc}
			fn, _ := d.dm.Functions.Intern(key, func() *model.Function {
				return &model.Function{Module: m, HasOffset: true, Offset: lowpc, Name: name}
			})
			out = append(out, funcRange{fn, lowpc, highpc})
		case dwarf.TagCompileUnit, dwarf.TagModule, dwarf.TagNamespace:
		default:
			r.SkipChildren()
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].lowpc < out[j].lowpc })
	return out
}

func dwarfLineTable(dwarff *dwarf.Data) []dwarf.LineEntry {
	var out []dwarf.LineEntry
	dr := dwarff.Reader()
	for {
		ent, err := dr.Next()
		if ent == nil || err != nil {
			break
		}
		if ent.Tag != dwarf.TagCompileUnit {
			dr.SkipChildren()
			continue
		}
		lr, err := dwarff.LineReader(ent)
		if err != nil || lr == nil {
			continue
		}
		for {
			var lent dwarf.LineEntry
			if err := lr.Next(&lent); err != nil {
				if err != io.EOF {
					continue
				}
				break
			}
			out = append(out, lent)
		}
	}
	return out
}
