package xerrors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyRecoversSeverityThroughWrapping(t *testing.T) {
	base := Warningf("disk is getting full")
	wrapped := fmt.Errorf("writing profile.db: %w", base)
	doubleWrapped := fmt.Errorf("sink failed: %w", wrapped)

	assert.Equal(t, Warning, Classify(base))
	assert.Equal(t, Warning, Classify(wrapped))
	assert.Equal(t, Warning, Classify(doubleWrapped))
}

func TestClassifyDefaultsToFatalForUnclassifiedError(t *testing.T) {
	assert.Equal(t, Fatal, Classify(fmt.Errorf("boom")))
}

func TestClassifyOfNilIsWarning(t *testing.T) {
	assert.Equal(t, Warning, Classify(nil))
}

func TestSeverityString(t *testing.T) {
	assert.Equal(t, "WARNING", Warning.String())
	assert.Equal(t, "ERROR", Error.String())
	assert.Equal(t, "FATAL", Fatal.String())
}

func TestErrorfIsClassifiedError(t *testing.T) {
	assert.Equal(t, Error, Classify(Errorf("bad input: %d", 42)))
}
