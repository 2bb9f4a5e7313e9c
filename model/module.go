package model

// Module is a uniqued entity describing one executable or shared library
// referenced by a profiled sample (spec §3). Modules are never mutated
// after creation except through their slot storage (resolved path,
// classification state).
type Module struct {
	// Path is the resolvable path as seen in the profile (e.g. the path
	// recorded in the load-map, possibly relative or from a different
	// machine).
	Path string

	id    uint32
	slots *SlotStorage[*Module]
}

// ModuleSet uniques Modules by their resolvable path.
type ModuleSet struct {
	set *UniqueSet[string, *Module]
	reg *SlotRegistry[*Module]
}

// NewModuleSet returns an empty set using reg for per-Module slot storage.
// reg must already be frozen.
func NewModuleSet(reg *SlotRegistry[*Module]) *ModuleSet {
	return &ModuleSet{set: NewUniqueSet[string, *Module](), reg: reg}
}

// Intern returns the canonical Module for path, creating it if necessary.
func (m *ModuleSet) Intern(path string) (*Module, bool) {
	return m.set.Insert(path, func() *Module {
		mod := &Module{Path: path}
		mod.slots = m.reg.NewStorage()
		return mod
	})
}

// Len returns the number of distinct Modules interned so far.
func (m *ModuleSet) Len() int { return m.set.Len() }

// Range iterates every interned Module. Only safe to call once no further
// Intern calls can race with it (i.e. after the references wavefront).
func (m *ModuleSet) Range(f func(*Module)) {
	m.set.Range(func(_ string, mod *Module) { f(mod) })
}

// Slots returns this Module's slot storage, for use with a TypedSlot
// registered against *Module.
func (m *Module) Slots() *SlotStorage[*Module] { return m.slots }
