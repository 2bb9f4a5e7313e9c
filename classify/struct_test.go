package classify

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccprof/profbuild/model"
	"github.com/ccprof/profbuild/pipeline"
)

// sidecar describes a binary "main" calling "helper", which in turn
// contains a Statement at [0x200, 0x210) that the test classifies.
const sidecarXML = `<?xml version="1.0"?>
<HPCToolkitStructure>
  <LM>
    <F n="a.out">
      <P n="main" v="0x100">
        <C v="0x110" t="0x200"/>
      </P>
      <P n="helper" v="0x200">
        <S f="/src/helper.c" l="7" v="0x200" vEnd="0x210"/>
      </P>
    </F>
  </LM>
</HPCToolkitStructure>`

func writeSidecar(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "a.out.hpcstruct.xml")
	require.NoError(t, os.WriteFile(path, []byte(sidecarXML), 0o644))
	return path
}

func newStructClassifier(t *testing.T) (*StructClassifier, *model.DataModel, *model.Module) {
	t.Helper()
	dm := model.NewDataModel()
	dm.Freeze()
	binPath := filepath.Join(t.TempDir(), "a.out")
	mod, _ := dm.Modules.Intern(binPath)
	sidecar := writeSidecar(t)
	sc := NewStructClassifier(dm, func(*model.Module) string { return sidecar })
	return sc, dm, mod
}

func TestStructClassifierClassifiesStatementInsideProcedure(t *testing.T) {
	sc, dm, mod := newStructClassifier(t)

	ns := model.NestedScope{Relation: model.RelEnclosure, Scope: model.PointScope(mod, 0x205)}
	chain, ok := sc.Classify(dm.Contexts.Root, ns)
	require.True(t, ok)
	require.Len(t, chain, 2)
	assert.Equal(t, model.ScopeFunction, chain[0].Scope.Kind)
	assert.Equal(t, "helper", chain[0].Scope.Func.Name)
	assert.Equal(t, model.ScopeLine, chain[1].Scope.Kind)
	assert.Equal(t, 7, chain[1].Scope.Line)
}

func TestStructClassifierMissesOffsetOutsideAnyInterval(t *testing.T) {
	sc, dm, mod := newStructClassifier(t)

	ns := model.NestedScope{Relation: model.RelEnclosure, Scope: model.PointScope(mod, 0xdead)}
	_, ok := sc.Classify(dm.Contexts.Root, ns)
	assert.False(t, ok)
}

func TestCallGraphResolverReconstructsRootToEntryPath(t *testing.T) {
	sc, dm, mod := newStructClassifier(t)

	// Force the sidecar to load (and its reversed call graph to populate)
	// by classifying something in it first.
	_, ok := sc.Classify(dm.Contexts.Root, model.NestedScope{Scope: model.PointScope(mod, 0x205)})
	require.True(t, ok)

	helperKey := model.FunctionKey{Module: mod, HasOffset: true, Offset: 0x200}
	helper, inserted := dm.Functions.Intern(helperKey, func() *model.Function {
		t.Fatal("helper Function should already be interned by the struct classifier load")
		return nil
	})
	require.False(t, inserted)

	resolver := NewCallGraphResolver(sc)
	resolver.RecordEntry(helper)

	fg := pipeline.NewFlowGraph()
	resolved := resolver.Resolve(fg)
	require.True(t, resolved)

	require.Len(t, fg.Templates, 1)
	path := fg.Templates[0].Path
	require.Len(t, path, 2)
	assert.Equal(t, "main", path[0].Name)
	assert.Equal(t, "helper", path[1].Name)
}

func TestCallGraphResolverReturnsFalseWithNoEntries(t *testing.T) {
	sc, _, _ := newStructClassifier(t)
	resolver := NewCallGraphResolver(sc)

	fg := pipeline.NewFlowGraph()
	resolved := resolver.Resolve(fg)
	assert.False(t, resolved)
}
