package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultIsValidOnceDirIsSet(t *testing.T) {
	opts := Default()
	assert.Equal(t, 1, opts.TeamSize)
	assert.True(t, opts.Stats.Sum)

	opts.Dir = "/tmp/out"
	assert.NoError(t, opts.Validate())
}

func TestValidateRejectsZeroTeamSize(t *testing.T) {
	opts := Default()
	opts.TeamSize = 0
	opts.Dir = "/tmp/out"
	assert.Error(t, opts.Validate())
}

func TestValidateRejectsEmptyDir(t *testing.T) {
	opts := Default()
	assert.Error(t, opts.Validate())
}

func TestValidateRejectsNegativeTeamSize(t *testing.T) {
	opts := Default()
	opts.TeamSize = -1
	opts.Dir = "/tmp/out"
	assert.Error(t, opts.Validate())
}
