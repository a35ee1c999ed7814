// Package metrics exposes Prometheus instrumentation for decode runs.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pipeview/internal/model"
)

// Collector owns a private registry so several servers (or tests) can run
// in one process.
type Collector struct {
	reg *prometheus.Registry

	runs         *prometheus.CounterVec
	lines        *prometheus.CounterVec
	instructions *prometheus.CounterVec
	diags        *prometheus.CounterVec
	early        *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	uploadBytes  prometheus.Histogram
}

// New registers the pipeview metrics on a fresh registry.
func New() *Collector {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Collector{
		reg: reg,
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeview_parse_runs_total",
			Help: "Decode runs by dialect and outcome",
		}, []string{"cpu_type", "result"}),
		lines: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeview_trace_lines_total",
			Help: "Trace lines read",
		}, []string{"cpu_type"}),
		instructions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeview_instructions_total",
			Help: "Instructions returned after windowing",
		}, []string{"cpu_type"}),
		diags: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeview_diagnostics_total",
			Help: "Diagnostics raised by kind",
		}, []string{"kind"}),
		early: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeview_lookahead_stops_total",
			Help: "Runs that stopped reading at the lookahead bound",
		}, []string{"cpu_type"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pipeview_parse_duration_seconds",
			Help:    "Decode run duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
		}, []string{"cpu_type"}),
		uploadBytes: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "pipeview_upload_bytes",
			Help:    "Size of uploaded trace files",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 10), // 1KiB to 256MiB
		}),
	}
}

// Observe records a successful run.
func (c *Collector) Observe(res *model.Result, d time.Duration) {
	cpu := res.CPUType.String()
	c.runs.WithLabelValues(cpu, "ok").Inc()
	c.lines.WithLabelValues(cpu).Add(float64(res.Stats.Lines))
	c.instructions.WithLabelValues(cpu).Add(float64(res.Count))
	for kind, n := range res.DiagCounts {
		c.diags.WithLabelValues(string(kind)).Add(float64(n))
	}
	if res.Stats.Terminated {
		c.early.WithLabelValues(cpu).Inc()
	}
	c.duration.WithLabelValues(cpu).Observe(d.Seconds())
}

// ObserveFailure records a run that returned an error.
func (c *Collector) ObserveFailure() {
	c.runs.WithLabelValues("", "error").Inc()
}

// ObserveUpload records the size of an uploaded trace.
func (c *Collector) ObserveUpload(n int64) {
	c.uploadBytes.Observe(float64(n))
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry { return c.reg }

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{})
}
