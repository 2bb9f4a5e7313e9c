// Package metrics exposes a Prometheus scrape endpoint for a profbuild run,
// grounded on Sumatoshi-tech-codefang/internal/observability/prometheus.go's
// "own registry per handler, promhttp.HandlerFor" pattern — minus that
// file's OTel meter-provider layer, since nothing here needs OTel's
// instrument API: the pipeline's counters and histograms map directly onto
// prometheus/client_golang's own Counter/Gauge/Histogram types.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry collects the counters and histograms a pipeline.Engine reports
// during one run (spec §4.4's wavefronts, thread finalization, sink
// writes). One Registry per run: like the teacher's PrometheusHandler,
// each call to New creates an independent prometheus.Registry so repeated
// runs in the same process (e.g. in tests) never collide on collector
// registration.
type Registry struct {
	reg *prometheus.Registry

	WavefrontsDispatched prometheus.Counter
	ThreadsFinalized     prometheus.Counter
	ContextsCreated      prometheus.Counter
	SinkWriteSeconds     *prometheus.HistogramVec
	BytesWritten         *prometheus.CounterVec
}

// New returns a Registry with every collector registered, ready to be
// scraped via Handler.
func New() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		reg: reg,
		WavefrontsDispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "profbuild",
			Name:      "wavefronts_dispatched_total",
			Help:      "Number of pipeline wavefronts dispatched to sources.",
		}),
		ThreadsFinalized: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "profbuild",
			Name:      "threads_finalized_total",
			Help:      "Number of ThreadTemporary workspaces finalized and cleared.",
		}),
		ContextsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "profbuild",
			Name:      "contexts_created_total",
			Help:      "Number of calling-context-tree nodes created.",
		}),
		SinkWriteSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "profbuild",
			Name:      "sink_write_seconds",
			Help:      "Time spent in each Sink's Write call.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"sink"}),
		BytesWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "profbuild",
			Name:      "bytes_written_total",
			Help:      "Bytes written per output database file.",
		}, []string{"file"}),
	}

	reg.MustRegister(
		r.WavefrontsDispatched,
		r.ThreadsFinalized,
		r.ContextsCreated,
		r.SinkWriteSeconds,
		r.BytesWritten,
	)
	return r
}

// Handler returns the /metrics scrape endpoint for this Registry.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// ObserveSinkWrite records how long a Sink's Write call took.
func (r *Registry) ObserveSinkWrite(sink string, d time.Duration) {
	r.SinkWriteSeconds.WithLabelValues(sink).Observe(d.Seconds())
}

// AddBytesWritten records n bytes written to file.
func (r *Registry) AddBytesWritten(file string, n int) {
	r.BytesWritten.WithLabelValues(file).Add(float64(n))
}
