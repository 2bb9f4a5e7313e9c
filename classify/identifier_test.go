package classify

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccprof/profbuild/model"
)

func TestIdentifierFinalizerRootContextGetsIDZero(t *testing.T) {
	dm := model.NewDataModel()
	f := NewIdentifierFinalizer(dm)
	dm.Freeze()

	id, ok := f.Context(dm.Contexts.Root)
	require.True(t, ok)
	assert.EqualValues(t, 0, id)
}

func TestIdentifierFinalizerAssignsDistinctIncreasingIDs(t *testing.T) {
	dm := model.NewDataModel()
	f := NewIdentifierFinalizer(dm)
	dm.Freeze()

	mod, _ := dm.Modules.Intern("/bin/a.out")
	a, _ := dm.Contexts.Root.Child(dm.ContextSlots, model.NestedScope{Scope: model.PointScope(mod, 1)})
	b, _ := dm.Contexts.Root.Child(dm.ContextSlots, model.NestedScope{Scope: model.PointScope(mod, 2)})

	idA, _ := f.Context(a)
	idB, _ := f.Context(b)
	assert.NotEqual(t, idA, idB)
	assert.Greater(t, idA, uint32(0))
	assert.Greater(t, idB, uint32(0))

	// Repeated access must return the same id.
	idAAgain, _ := f.Context(a)
	assert.Equal(t, idA, idAAgain)
}

func TestIdentifierFinalizerContextByIDReversesContext(t *testing.T) {
	dm := model.NewDataModel()
	f := NewIdentifierFinalizer(dm)
	dm.Freeze()

	mod, _ := dm.Modules.Intern("/bin/a.out")
	a, _ := dm.Contexts.Root.Child(dm.ContextSlots, model.NestedScope{Scope: model.PointScope(mod, 1)})

	id, _ := f.Context(a)
	got, ok := f.ContextByID(id)
	require.True(t, ok)
	assert.Same(t, a, got)

	_, ok = f.ContextByID(id + 1000)
	assert.False(t, ok)
}

func TestIdentifierFinalizerMetricReservesWidthPerScopeCount(t *testing.T) {
	dm := model.NewDataModel()
	f := NewIdentifierFinalizer(dm)
	dm.Freeze()

	m1, _ := dm.Metrics.Intern(model.MetricKey{Name: "cycles", Scopes: model.ScopePointVariant | model.ScopeFunctionVariant}, "", model.ShowDefault)
	m1.AddStat(model.StatSum)
	m1.Freeze()

	m2, _ := dm.Metrics.Intern(model.MetricKey{Name: "instructions", Scopes: model.ScopePointVariant}, "", model.ShowDefault)
	m2.AddStat(model.StatSum)
	m2.Freeze()

	ids1, ok := f.Metric(m1)
	require.True(t, ok)
	ids2, ok := f.Metric(m2)
	require.True(t, ok)

	assert.NotEqual(t, ids1.FunctionID, ids2.FunctionID)

	ids1Again, ok := f.Metric(m1)
	require.True(t, ok)
	assert.Equal(t, ids1, ids1Again)
}

func TestIdentifierFinalizerThreadIDsAreConcurrencySafe(t *testing.T) {
	dm := model.NewDataModel()
	f := NewIdentifierFinalizer(dm)
	dm.Freeze()

	th, _ := dm.Threads.Intern(model.IdentifierTuple{{Kind: model.KindThread, Physical: 1, Logical: 1}})

	const goroutines = 32
	ids := make([]uint32, goroutines)
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, _ := f.Thread(th)
			ids[i] = id
		}()
	}
	wg.Wait()

	for i := 1; i < goroutines; i++ {
		assert.Equal(t, ids[0], ids[i])
	}
}
