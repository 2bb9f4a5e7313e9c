package classify

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccprof/profbuild/model"
)

func writeLogicalModule(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "logical.so")
	require.NoError(t, os.WriteFile(path, []byte(logicalMarker+"\n"+body), 0o644))
	return path
}

func TestLogicalClassifierClassifiesFuncStanza(t *testing.T) {
	dm := model.NewDataModel()
	dm.Freeze()

	path := writeLogicalModule(t, "0x10\tfunc\tmy_kernel\n")
	mod, _ := dm.Modules.Intern(path)

	l := NewLogicalClassifier(dm)
	root := dm.Contexts.Root
	ns := model.NestedScope{Relation: model.RelEnclosure, Scope: model.PointScope(mod, 0x10)}

	chain, ok := l.Classify(root, ns)
	require.True(t, ok)
	require.Len(t, chain, 1)
	assert.Equal(t, model.RelEnclosure, chain[0].Relation)
	assert.Equal(t, model.ScopeFunction, chain[0].Scope.Kind)
	assert.Equal(t, "my_kernel", chain[0].Scope.Func.Name)
}

func TestLogicalClassifierClassifiesFileStanzaWithLine(t *testing.T) {
	dm := model.NewDataModel()
	dm.Freeze()

	path := writeLogicalModule(t, "0x20\tfile\t/src/kernel.cu\t42\n")
	mod, _ := dm.Modules.Intern(path)

	l := NewLogicalClassifier(dm)
	ns := model.NestedScope{Relation: model.RelEnclosure, Scope: model.PointScope(mod, 0x20)}

	chain, ok := l.Classify(dm.Contexts.Root, ns)
	require.True(t, ok)
	require.Len(t, chain, 1)
	assert.Equal(t, model.ScopeLine, chain[0].Scope.Kind)
	assert.Equal(t, "/src/kernel.cu", chain[0].Scope.File.Path)
	assert.Equal(t, 42, chain[0].Scope.Line)
}

func TestLogicalClassifierRejectsModuleWithoutMarker(t *testing.T) {
	dm := model.NewDataModel()
	dm.Freeze()

	path := filepath.Join(t.TempDir(), "regular.so")
	require.NoError(t, os.WriteFile(path, []byte("\x7fELF not actually logical"), 0o644))
	mod, _ := dm.Modules.Intern(path)

	l := NewLogicalClassifier(dm)
	ns := model.NestedScope{Relation: model.RelEnclosure, Scope: model.PointScope(mod, 0)}

	_, ok := l.Classify(dm.Contexts.Root, ns)
	assert.False(t, ok)
}

func TestLogicalClassifierMissesUnknownOffset(t *testing.T) {
	dm := model.NewDataModel()
	dm.Freeze()

	path := writeLogicalModule(t, "0x10\tfunc\tmy_kernel\n")
	mod, _ := dm.Modules.Intern(path)

	l := NewLogicalClassifier(dm)
	ns := model.NestedScope{Relation: model.RelEnclosure, Scope: model.PointScope(mod, 0x99)}

	_, ok := l.Classify(dm.Contexts.Root, ns)
	assert.False(t, ok)
}

func TestLogicalClassifierCachesTableAcrossCalls(t *testing.T) {
	dm := model.NewDataModel()
	dm.Freeze()

	path := writeLogicalModule(t, "0x10\tfunc\tmy_kernel\n")
	mod, _ := dm.Modules.Intern(path)

	l := NewLogicalClassifier(dm)
	ns := model.NestedScope{Relation: model.RelEnclosure, Scope: model.PointScope(mod, 0x10)}

	_, ok := l.Classify(dm.Contexts.Root, ns)
	require.True(t, ok)

	l.mu.Lock()
	_, cached := l.tables[mod]
	l.mu.Unlock()
	assert.True(t, cached)

	_, ok = l.Classify(dm.Contexts.Root, ns)
	assert.True(t, ok)
}
