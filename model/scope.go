package model

import "fmt"

// ScopeKind tags which case of the Scope tagged variant (spec §3) is
// populated. Implemented as a small struct-with-tag rather than an
// interface so Scope (and NestedScope, below) stay comparable and can be
// used directly as map keys in a Context's child table — exactly what the
// uniquing invariant in spec §3 ("two child Contexts with equal NestedScope
// cannot exist") needs.
type ScopeKind uint8

const (
	ScopeGlobal ScopeKind = iota
	ScopeUnknown
	ScopePoint
	ScopePlaceholder
	ScopeFunction
	ScopeLine
	ScopeLoop
)

func (k ScopeKind) String() string {
	switch k {
	case ScopeGlobal:
		return "global"
	case ScopeUnknown:
		return "unknown"
	case ScopePoint:
		return "point"
	case ScopePlaceholder:
		return "placeholder"
	case ScopeFunction:
		return "function"
	case ScopeLine:
		return "line"
	case ScopeLoop:
		return "loop"
	default:
		return "invalid"
	}
}

// Scope is the tagged variant from spec §3. Only the fields relevant to Kind
// are meaningful; Scope is comparable (all fields are pointers or scalars),
// so it can be embedded by value in NestedScope and used as a map key.
type Scope struct {
	Kind ScopeKind

	// ScopePoint
	Module *Module
	Offset uint64

	// ScopePlaceholder
	PlaceholderKind uint32

	// ScopeFunction
	Func *Function

	// ScopeLine, ScopeLoop
	File *File
	Line int
}

// GlobalScope returns the singleton-shaped global scope value.
func GlobalScope() Scope { return Scope{Kind: ScopeGlobal} }

// UnknownScope returns the unknown-scope value used for partial unwinds.
func UnknownScope() Scope { return Scope{Kind: ScopeUnknown} }

// PointScope returns a raw (module, offset) scope, the shape every Source
// emits before classification.
func PointScope(module *Module, offset uint64) Scope {
	return Scope{Kind: ScopePoint, Module: module, Offset: offset}
}

// PlaceholderScope returns a placeholder scope tagged with kind (the
// load-module-less sentinel value recorded by the parser).
func PlaceholderScope(kind uint32) Scope {
	return Scope{Kind: ScopePlaceholder, PlaceholderKind: kind}
}

// FunctionScope returns a scope identifying a whole function, used by
// classifiers for the enclosing-function link in a classification chain.
func FunctionScope(fn *Function) Scope {
	return Scope{Kind: ScopeFunction, Func: fn}
}

// LineScope returns a scope identifying one source line.
func LineScope(file *File, line int) Scope {
	return Scope{Kind: ScopeLine, File: file, Line: line}
}

// LoopScope returns a scope identifying one source-level loop header.
func LoopScope(file *File, line int) Scope {
	return Scope{Kind: ScopeLoop, File: file, Line: line}
}

// String renders a human-readable form, mostly for logging and tests.
func (s Scope) String() string {
	switch s.Kind {
	case ScopeGlobal:
		return "<global>"
	case ScopeUnknown:
		return "<unknown>"
	case ScopePoint:
		return fmt.Sprintf("point(%s+0x%x)", s.Module.Path, s.Offset)
	case ScopePlaceholder:
		return fmt.Sprintf("placeholder(%d)", s.PlaceholderKind)
	case ScopeFunction:
		return fmt.Sprintf("function(%s)", s.Func.Name)
	case ScopeLine:
		return fmt.Sprintf("line(%s:%d)", s.File.Path, s.Line)
	case ScopeLoop:
		return fmt.Sprintf("loop(%s:%d)", s.File.Path, s.Line)
	default:
		return "<invalid scope>"
	}
}

// Relation tags the edge between a Context and one of its children.
type Relation uint8

const (
	RelEnclosure Relation = iota
	RelInlinedCall
	RelCall
)

func (r Relation) String() string {
	switch r {
	case RelEnclosure:
		return "enclosure"
	case RelInlinedCall:
		return "inlined_call"
	case RelCall:
		return "call"
	default:
		return "invalid"
	}
}

// NestedScope is the (Relation, Scope) pair that keys a Context's children
// (spec §3). It is comparable, so it is used directly as the child map key.
type NestedScope struct {
	Relation Relation
	Scope    Scope
}
