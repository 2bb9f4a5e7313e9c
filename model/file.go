package model

// File is a uniqued entity describing one source file referenced by a
// classified Scope (spec §3).
type File struct {
	// Path is the resolvable path as recorded by the classifier (struct
	// file, logical stanza, or DWARF line table).
	Path string

	slots *SlotStorage[*File]
}

// FileSet uniques Files by their resolvable path.
type FileSet struct {
	set *UniqueSet[string, *File]
	reg *SlotRegistry[*File]
}

// NewFileSet returns an empty set using reg for per-File slot storage.
func NewFileSet(reg *SlotRegistry[*File]) *FileSet {
	return &FileSet{set: NewUniqueSet[string, *File](), reg: reg}
}

// Intern returns the canonical File for path, creating it if necessary.
func (fs *FileSet) Intern(path string) (*File, bool) {
	return fs.set.Insert(path, func() *File {
		f := &File{Path: path}
		f.slots = fs.reg.NewStorage()
		return f
	})
}

// Len returns the number of distinct Files interned so far.
func (fs *FileSet) Len() int { return fs.set.Len() }

// Range iterates every interned File.
func (fs *FileSet) Range(f func(*File)) {
	fs.set.Range(func(_ string, file *File) { f(file) })
}

// Slots returns this File's slot storage.
func (f *File) Slots() *SlotStorage[*File] { return f.slots }
