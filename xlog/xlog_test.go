package xlog

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestLoggerInitAndDebugRateLimit is the only test in this package that
// calls Init: xlog.Init is guarded by a package-level sync.Once and a
// second call is fatal (os.Exit), so every exercised behavior has to fit
// in one Init call for the whole test binary.
func TestLoggerInitAndDebugRateLimit(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "xlog-*.log")
	require.NoError(t, err)
	defer f.Close()

	lg := Init(Settings{Level: "debug", Output: f, DebugRateLimit: 2})
	require.NotNil(t, lg)

	lg.Infof("hello %s", "world")
	lg.Warningf("careful")
	lg.Errorf("broken: %d", 42)

	for i := 0; i < 5; i++ {
		lg.Debugf("hot-loop", "sample %d", i)
	}

	require.NoError(t, f.Sync())
	contents, err := os.ReadFile(f.Name())
	require.NoError(t, err)
	out := string(contents)

	assert.Contains(t, out, "hello world")
	assert.Contains(t, out, "careful")
	assert.Contains(t, out, "broken: 42")

	assert.Equal(t, 2, strings.Count(out, "sample "), "only DebugRateLimit samples should be logged")
	assert.Contains(t, out, "further debug logs from")
	assert.Contains(t, out, "hot-loop")
	assert.Contains(t, out, "suppressed")

	// A second call through Default must reuse the same process-wide
	// Logger rather than re-initializing (which would be fatal).
	assert.Same(t, lg, Default())
}
