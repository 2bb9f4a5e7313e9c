package classify

import (
	"os"
	"strings"
	"sync"

	"github.com/ccprof/profbuild/config"
	"github.com/ccprof/profbuild/model"
	"github.com/ccprof/profbuild/pipeline"
)

// ResolvedPathFinalizer tries each (from_prefix, to_prefix) substitution in
// order and returns the first path that exists on disk (spec §4.3). In
// Foreign mode, a path outside Allowlist is reported as non-existent
// without attempting substitution — the `foreign` allowlist mode
// supplemented from original_source/src/lib/util/profargs.cpp (see
// SPEC_FULL.md).
type ResolvedPathFinalizer struct {
	prefixes  []config.PrefixSubstitution
	foreign   bool
	allowlist []string

	mu    sync.Mutex
	cache map[string]string // input path -> resolved path ("" = not found)
}

// NewResolvedPathFinalizer returns a finalizer configured from opts.
func NewResolvedPathFinalizer(opts config.Options) *ResolvedPathFinalizer {
	return &ResolvedPathFinalizer{
		prefixes:  opts.Prefixes,
		foreign:   opts.Foreign,
		allowlist: opts.Allowlist,
		cache:     make(map[string]string),
	}
}

func (r *ResolvedPathFinalizer) Name() string                  { return "classify.resolvedpath" }
func (r *ResolvedPathFinalizer) Provides() model.ExtensionClass { return model.ExtResolvedPath }
func (r *ResolvedPathFinalizer) Requires() model.ExtensionClass { return model.ExtNone }
func (r *ResolvedPathFinalizer) Context(*model.Context) (uint32, bool) { return 0, false }
func (r *ResolvedPathFinalizer) Thread(*model.Thread) (uint32, bool)   { return 0, false }
func (r *ResolvedPathFinalizer) Metric(*model.Metric) (pipeline.ScopedIdentifiers, bool) {
	return pipeline.ScopedIdentifiers{}, false
}

func (r *ResolvedPathFinalizer) File(f *model.File) (string, bool) {
	return r.resolve(f.Path)
}

func (r *ResolvedPathFinalizer) Module(m *model.Module) (string, bool) {
	return r.resolve(m.Path)
}

func (r *ResolvedPathFinalizer) resolve(path string) (string, bool) {
	r.mu.Lock()
	if cached, ok := r.cache[path]; ok {
		r.mu.Unlock()
		if cached == "" {
			return "", false
		}
		return cached, true
	}
	r.mu.Unlock()

	resolved, ok := r.resolveUncached(path)
	r.mu.Lock()
	r.cache[path] = resolved
	r.mu.Unlock()
	return resolved, ok
}

func (r *ResolvedPathFinalizer) resolveUncached(path string) (string, bool) {
	if r.foreign && !r.allowed(path) {
		return "", false
	}
	if exists(path) {
		return path, true
	}
	for _, sub := range r.prefixes {
		if !strings.HasPrefix(path, sub.From) {
			continue
		}
		candidate := sub.To + strings.TrimPrefix(path, sub.From)
		if exists(candidate) {
			return candidate, true
		}
	}
	return "", false
}

func (r *ResolvedPathFinalizer) allowed(path string) bool {
	for _, prefix := range r.allowlist {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
