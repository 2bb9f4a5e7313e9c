package classify

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccprof/profbuild/config"
	"github.com/ccprof/profbuild/model"
)

func TestResolvedPathFinalizerResolvesExistingPathDirectly(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "a.out")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	r := NewResolvedPathFinalizer(config.Options{})
	resolved, ok := r.resolve(file)
	assert.True(t, ok)
	assert.Equal(t, file, resolved)
}

func TestResolvedPathFinalizerTriesPrefixSubstitutions(t *testing.T) {
	buildDir := t.TempDir()
	runtimeDir := t.TempDir()
	real := filepath.Join(runtimeDir, "lib", "a.out")
	require.NoError(t, os.MkdirAll(filepath.Dir(real), 0o755))
	require.NoError(t, os.WriteFile(real, []byte("x"), 0o644))

	missing := filepath.Join(buildDir, "lib", "a.out")
	opts := config.Options{Prefixes: []config.PrefixSubstitution{{From: buildDir, To: runtimeDir}}}
	r := NewResolvedPathFinalizer(opts)

	resolved, ok := r.resolve(missing)
	assert.True(t, ok)
	assert.Equal(t, real, resolved)
}

func TestResolvedPathFinalizerCachesMisses(t *testing.T) {
	r := NewResolvedPathFinalizer(config.Options{})
	path := filepath.Join(t.TempDir(), "does-not-exist")

	_, ok := r.resolve(path)
	assert.False(t, ok)

	r.mu.Lock()
	cached, seen := r.cache[path]
	r.mu.Unlock()
	require.True(t, seen)
	assert.Equal(t, "", cached)

	_, ok = r.resolve(path)
	assert.False(t, ok)
}

func TestResolvedPathFinalizerForeignModeRejectsPathOutsideAllowlist(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "a.out")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	opts := config.Options{Foreign: true, Allowlist: []string{"/opt/allowed"}}
	r := NewResolvedPathFinalizer(opts)

	_, ok := r.resolve(file)
	assert.False(t, ok, "foreign mode must reject a path outside the allowlist even when it exists on disk")
}

func TestResolvedPathFinalizerForeignModeAllowsListedPrefix(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "a.out")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	opts := config.Options{Foreign: true, Allowlist: []string{dir}}
	r := NewResolvedPathFinalizer(opts)

	resolved, ok := r.resolve(file)
	assert.True(t, ok)
	assert.Equal(t, file, resolved)
}

func TestResolvedPathFinalizerFileAndModuleDelegateToResolve(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "src.c")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	r := NewResolvedPathFinalizer(config.Options{})
	resolved, ok := r.File(&model.File{Path: file})
	assert.True(t, ok)
	assert.Equal(t, file, resolved)

	resolvedMod, ok := r.Module(&model.Module{Path: file})
	assert.True(t, ok)
	assert.Equal(t, file, resolvedMod)
}
