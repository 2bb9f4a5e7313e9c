package model

import "sync"

// Context is one node of the calling-context tree (spec §3). Every
// non-root Context has exactly one owning parent, and is uniqued among its
// siblings by NestedScope — the (Relation, Scope) edge label leading to it.
// The root Context (Scope = global, Parent = nil) is owned by the pipeline
// engine, not by any other Context.
type Context struct {
	Parent *Context
	Scope  Scope
	// Relation is the edge label from Parent to this Context (zero value
	// on the root, which has no parent). Kept alongside Scope so callers
	// that only have a *Context in hand — idpack's packer walking a
	// classification chain, for instance — don't need to re-derive it.
	Relation Relation

	mu         sync.Mutex
	children   map[NestedScope]*Context
	childOrder []*Context

	slots *SlotStorage[*Context]
}

// NewRoot constructs the singleton global Context. Exactly one should exist
// per pipeline run; the engine is responsible for that.
func NewRoot(reg *SlotRegistry[*Context]) *Context {
	c := &Context{Scope: GlobalScope(), children: make(map[NestedScope]*Context)}
	c.slots = reg.NewStorage()
	return c
}

// Child returns the existing child reached by key, or creates one with the
// given scope if this is the first request for that key from this parent.
// This is the uniquing operation spec §3 requires: "for a given parent, two
// child Contexts with equal NestedScope cannot exist."
func (c *Context) Child(reg *SlotRegistry[*Context], key NestedScope) (child *Context, inserted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.children[key]; ok {
		return existing, false
	}
	child = &Context{Parent: c, Scope: key.Scope, Relation: key.Relation, children: make(map[NestedScope]*Context)}
	child.slots = reg.NewStorage()
	c.children[key] = child
	c.childOrder = append(c.childOrder, child)
	return child, true
}

// Lookup returns the existing child for key without creating one.
func (c *Context) Lookup(key NestedScope) (*Context, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	child, ok := c.children[key]
	return child, ok
}

// Children returns a snapshot of this Context's children in the order they
// were first created.
func (c *Context) Children() []*Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Context, len(c.childOrder))
	copy(out, c.childOrder)
	return out
}

// Slots returns this Context's slot storage.
func (c *Context) Slots() *SlotStorage[*Context] { return c.slots }

// Walk visits c and every descendant in preorder. f may be called
// concurrently from multiple goroutines is NOT supported — Walk is
// single-threaded, intended for deterministic enumeration once the tree is
// known to be complete (sparse DB writing, expansion packing).
func (c *Context) Walk(f func(*Context)) {
	f(c)
	for _, child := range c.Children() {
		child.Walk(f)
	}
}

// ContextTree owns the root Context and the slot registry used to build
// every Context in the tree (the registry must be frozen before NewRoot is
// called).
type ContextTree struct {
	Root *Context
	reg  *SlotRegistry[*Context]
}

// NewContextTree builds a fresh tree rooted at a new global Context.
func NewContextTree(reg *SlotRegistry[*Context]) *ContextTree {
	return &ContextTree{Root: NewRoot(reg), reg: reg}
}

// GetOrCreate walks down from t.Root along path, creating any missing
// Contexts, and returns the final (leaf) Context plus whether the leaf was
// newly created.
func (t *ContextTree) GetOrCreate(path ...NestedScope) (leaf *Context, inserted bool) {
	cur := t.Root
	inserted = false
	for _, key := range path {
		cur, inserted = cur.Child(t.reg, key)
	}
	return cur, inserted
}
