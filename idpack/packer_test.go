package idpack

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ccprof/profbuild/classify"
	"github.com/ccprof/profbuild/model"
)

// buildTree freezes a fresh DataModel (with identifier slots registered)
// and grows a small Context tree: root -> a (point scope in mod) -> b
// (point scope in mod, a different offset). Returns the tree's leaves and
// the identifier finalizer used to assign ids to both.
func buildTree(t *testing.T) (dm *model.DataModel, ident *classify.IdentifierFinalizer, a, b *model.Context, mod *model.Module) {
	t.Helper()
	dm = model.NewDataModel()
	ident = classify.NewIdentifierFinalizer(dm)
	dm.Freeze()

	mod, _ = dm.Modules.Intern("/bin/a.out")
	a, _ = dm.Contexts.Root.Child(dm.ContextSlots, model.NestedScope{
		Relation: model.RelEnclosure,
		Scope:    model.PointScope(mod, 0x100),
	})
	b, _ = a.Child(dm.ContextSlots, model.NestedScope{
		Relation: model.RelCall,
		Scope:    model.PointScope(mod, 0x200),
	})

	// Force id assignment for every Context in the chain, root first, the
	// way Engine's identifier finalizer wavefront would.
	ident.Context(dm.Contexts.Root)
	ident.Context(a)
	ident.Context(b)
	return
}

func TestPackerUnpackerRoundTripsExpansionChain(t *testing.T) {
	dm, ident, a, b, mod := buildTree(t)

	var blob []byte
	p := NewPacker(dm, ident, func(out []byte) error {
		blob = append([]byte(nil), out...)
		return nil
	})

	leafScope := model.NestedScope{Relation: model.RelEnclosure, Scope: model.PointScope(mod, 0x100)}
	p.NotifyContextExpansion(dm.Contexts.Root, leafScope, a)

	nestedScope := model.NestedScope{Relation: model.RelCall, Scope: model.PointScope(mod, 0x200)}
	p.NotifyContextExpansion(dm.Contexts.Root, nestedScope, b)

	ticket, err := p.Write(context.Background())
	require.NoError(t, err)
	require.True(t, ticket.Completed)
	require.NotEmpty(t, blob)

	u, err := NewUnpacker(dm, ident, blob)
	require.NoError(t, err)

	chain, ok := u.Classify(dm.Contexts.Root, leafScope)
	require.True(t, ok)
	require.Len(t, chain, 1)
	require.Equal(t, model.RelEnclosure, chain[0].Relation)
	require.Equal(t, a.Scope, chain[0].Scope)

	chain2, ok := u.Classify(dm.Contexts.Root, nestedScope)
	require.True(t, ok)
	require.Len(t, chain2, 2)
	require.Equal(t, model.RelEnclosure, chain2[0].Relation)
	require.Equal(t, a.Scope, chain2[0].Scope)
	require.Equal(t, model.RelCall, chain2[1].Relation)
	require.Equal(t, b.Scope, chain2[1].Scope)
}

func TestPackerNotifyContextExpansionDedupesRepeatedCalls(t *testing.T) {
	dm, ident, a, _, mod := buildTree(t)

	var writes int
	p := NewPacker(dm, ident, func([]byte) error { writes++; return nil })

	scope := model.NestedScope{Relation: model.RelEnclosure, Scope: model.PointScope(mod, 0x100)}
	p.NotifyContextExpansion(dm.Contexts.Root, scope, a)
	p.NotifyContextExpansion(dm.Contexts.Root, scope, a)
	p.NotifyContextExpansion(dm.Contexts.Root, scope, a)

	var total int
	for i := range p.stripes {
		total += len(p.stripes[i].records)
	}
	require.Equal(t, 1, total, "repeated NotifyContextExpansion calls for the same (from, scope) must dedupe")
}

func TestUnpackerClassifyMissesUnknownScope(t *testing.T) {
	dm, ident, a, _, mod := buildTree(t)

	var blob []byte
	p := NewPacker(dm, ident, func(out []byte) error { blob = out; return nil })
	scope := model.NestedScope{Relation: model.RelEnclosure, Scope: model.PointScope(mod, 0x100)}
	p.NotifyContextExpansion(dm.Contexts.Root, scope, a)
	_, err := p.Write(context.Background())
	require.NoError(t, err)

	u, err := NewUnpacker(dm, ident, blob)
	require.NoError(t, err)

	unseen := model.NestedScope{Relation: model.RelEnclosure, Scope: model.PointScope(mod, 0xdead)}
	_, ok := u.Classify(dm.Contexts.Root, unseen)
	require.False(t, ok)
}
