package metrics

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryCountersAppearOnScrape(t *testing.T) {
	r := New()
	r.WavefrontsDispatched.Add(3)
	r.ThreadsFinalized.Inc()
	r.ContextsCreated.Inc()
	r.ObserveSinkWrite("idpack.Packer", 2*time.Millisecond)
	r.AddBytesWritten("profile.db", 128)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	r.Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "profbuild_wavefronts_dispatched_total 3")
	assert.Contains(t, body, "profbuild_threads_finalized_total 1")
	assert.Contains(t, body, "profbuild_contexts_created_total 1")
	assert.Contains(t, body, `profbuild_bytes_written_total{file="profile.db"} 128`)
	assert.Contains(t, body, `profbuild_sink_write_seconds_count{sink="idpack.Packer"} 1`)
}

func TestNewRegistryIsIndependentPerInstance(t *testing.T) {
	a := New()
	b := New()
	a.ThreadsFinalized.Inc()

	rec := httptest.NewRecorder()
	b.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.NotContains(t, rec.Body.String(), "profbuild_threads_finalized_total 1")
}
