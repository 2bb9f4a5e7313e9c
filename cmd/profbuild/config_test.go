package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteDefaultConfigFileProducesLoadableYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".profbuild.yaml")

	require.NoError(t, writeDefaultConfigFile(path))

	contents, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(contents), "team_size")

	opts, err := loadOptions(path)
	require.NoError(t, err)
	assert.Equal(t, 1, opts.TeamSize)
	assert.True(t, opts.Stats.Sum)
}

func TestInitConfigCommandRefusesToOverwriteExistingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".profbuild.yaml")
	require.NoError(t, os.WriteFile(path, []byte("team_size: 3\n"), 0o644))

	cmd := newInitConfigCommand()
	cmd.SetArgs([]string{"--path", path})
	err := cmd.Execute()
	assert.Error(t, err)
}

func TestInitConfigCommandWritesDefaultAtGivenPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.yaml")

	cmd := newInitConfigCommand()
	cmd.SetArgs([]string{"--path", path})
	require.NoError(t, cmd.Execute())

	_, err := os.Stat(path)
	assert.NoError(t, err)
}
