package concurrent

import (
	"fmt"
	"os"
	"sync"
)

// File is a path-holder for one of the sparse-DB output files, opened once
// by rank 0 and then reopened by every other rank for concurrent writing.
// Synchronize is a distributed barrier every rank calls once the file is
// known to exist with the right size.
type File struct {
	path      string
	mu        sync.Mutex
	instances []*Instance
}

// NewFile clears (or creates) path if create is true; rank 0 does this
// before any other rank attempts to Open it. Non-rank-0 callers should pass
// create=false and rely on Synchronize to know the file is ready.
func NewFile(path string, create bool) (*File, error) {
	if create {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_RDWR, 0o644)
		if err != nil {
			return nil, fmt.Errorf("concurrent: create %s: %w", path, err)
		}
		f.Close()
	}
	return &File{path: path}, nil
}

// Synchronize is a distributed barrier; it should be called by every rank
// after rank 0 has created the file and before any rank calls Open. The
// in-process transport's barrier is a WaitGroup-style rendezvous supplied by
// the caller (the pipeline wires this to whatever collective barrier the
// embedding program already uses for rank coordination); here it is a no-op
// hook left for the embedder to fill in, since a single-process run has
// nothing to synchronize against.
func (f *File) Synchronize(barrier func()) {
	if barrier != nil {
		barrier()
	}
}

// Open returns a new Instance on this file, opened O_RDWR when writable is
// true and O_RDONLY otherwise. There is no memory-mapped mode and no
// access-pattern hint: every Instance reads and writes through the OS file
// handle.
func (f *File) Open(writable bool) (*Instance, error) {
	flag := os.O_RDONLY
	if writable {
		flag = os.O_RDWR
	}
	osf, err := os.OpenFile(f.path, flag, 0o644)
	if err != nil {
		return nil, fmt.Errorf("concurrent: open %s: %w", f.path, err)
	}
	inst := &Instance{f: osf}
	f.mu.Lock()
	f.instances = append(f.instances, inst)
	f.mu.Unlock()
	return inst, nil
}

// CloseAll closes every Instance opened against this File.
func (f *File) CloseAll() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var first error
	for _, inst := range f.instances {
		if err := inst.Close(); err != nil && first == nil {
			first = err
		}
	}
	f.instances = nil
	return first
}

// Instance is one rank's open handle onto a File. Every method is safe to
// call concurrently from multiple goroutines within the same rank, since
// ReadAt/WriteAt on *os.File are themselves goroutine-safe (they use
// pread/pwrite under the hood).
type Instance struct {
	f *os.File
}

// ReadAt reads len(buf) bytes starting at offset.
func (i *Instance) ReadAt(offset int64, buf []byte) (int, error) {
	return i.f.ReadAt(buf, offset)
}

// WriteAt writes buf starting at offset.
func (i *Instance) WriteAt(offset int64, buf []byte) (int, error) {
	return i.f.WriteAt(buf, offset)
}

// Truncate resizes the underlying file, used to pre-extend the shared file
// before ranks start writing at scattered offsets.
func (i *Instance) Truncate(size int64) error {
	return i.f.Truncate(size)
}

// Close releases the OS handle.
func (i *Instance) Close() error {
	return i.f.Close()
}
