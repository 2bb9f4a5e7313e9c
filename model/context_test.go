package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextTreeRootIsGlobalScope(t *testing.T) {
	reg := NewSlotRegistry[*Context]()
	reg.Freeze()
	tree := NewContextTree(reg)

	assert.Nil(t, tree.Root.Parent)
	assert.Equal(t, ScopeGlobal, tree.Root.Scope.Kind)
}

func TestContextChildDedupesEqualNestedScope(t *testing.T) {
	reg := NewSlotRegistry[*Context]()
	reg.Freeze()
	tree := NewContextTree(reg)

	modReg := NewSlotRegistry[*Module]()
	modReg.Freeze()
	mods := NewModuleSet(modReg)
	mod, _ := mods.Intern("/bin/a.out")

	key := NestedScope{Relation: RelEnclosure, Scope: PointScope(mod, 0x1000)}

	c1, inserted1 := tree.Root.Child(reg, key)
	require.True(t, inserted1)
	c2, inserted2 := tree.Root.Child(reg, key)
	assert.False(t, inserted2, "a second Child call with an equal NestedScope must not create a new Context")
	assert.Same(t, c1, c2)

	other := NestedScope{Relation: RelEnclosure, Scope: PointScope(mod, 0x2000)}
	c3, inserted3 := tree.Root.Child(reg, other)
	assert.True(t, inserted3)
	assert.NotSame(t, c1, c3)

	assert.Equal(t, []*Context{c1, c3}, tree.Root.Children())
}

func TestContextWalkVisitsEveryDescendantInPreorder(t *testing.T) {
	reg := NewSlotRegistry[*Context]()
	reg.Freeze()
	tree := NewContextTree(reg)

	modReg := NewSlotRegistry[*Module]()
	modReg.Freeze()
	mods := NewModuleSet(modReg)
	mod, _ := mods.Intern("/bin/a.out")

	child, _ := tree.Root.Child(reg, NestedScope{Relation: RelEnclosure, Scope: PointScope(mod, 0x10)})
	grandchild, _ := child.Child(reg, NestedScope{Relation: RelCall, Scope: PointScope(mod, 0x20)})

	var visited []*Context
	tree.Root.Walk(func(c *Context) { visited = append(visited, c) })

	require.Len(t, visited, 3)
	assert.Same(t, tree.Root, visited[0])
	assert.Same(t, child, visited[1])
	assert.Same(t, grandchild, visited[2])
}

func TestContextTreeGetOrCreateWalksPath(t *testing.T) {
	reg := NewSlotRegistry[*Context]()
	reg.Freeze()
	tree := NewContextTree(reg)

	modReg := NewSlotRegistry[*Module]()
	modReg.Freeze()
	mods := NewModuleSet(modReg)
	mod, _ := mods.Intern("/bin/a.out")

	path := []NestedScope{
		{Relation: RelEnclosure, Scope: PointScope(mod, 1)},
		{Relation: RelCall, Scope: PointScope(mod, 2)},
	}

	leaf1, inserted1 := tree.GetOrCreate(path...)
	require.True(t, inserted1)
	leaf2, inserted2 := tree.GetOrCreate(path...)
	assert.False(t, inserted2)
	assert.Same(t, leaf1, leaf2)
}
