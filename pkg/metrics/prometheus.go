// Package metrics records estimator activity for Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder owns a private registry so tests and multiple servers never
// collide on the default one.
type Recorder struct {
	registry *prometheus.Registry

	runsTotal   *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	spikes      *prometheus.HistogramVec
	cacheLookup *prometheus.CounterVec
}

// New creates a new Prometheus metrics recorder.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "eigenrisk_estimator_runs_total",
				Help: "Total number of estimator runs by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "eigenrisk_estimator_duration_seconds",
				Help:    "Duration of estimator runs in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"operation"},
		),
		spikes: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "eigenrisk_signal_eigenvalues",
				Help:    "Number of eigenvalues classified as signal",
				Buckets: []float64{0, 1, 2, 3, 5, 8, 13, 21, 34, 55},
			},
			[]string{"operation"},
		),
		cacheLookup: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "eigenrisk_cache_lookups_total",
				Help: "Calculation cache lookups by operation and result",
			},
			[]string{"operation", "result"},
		),
	}

	r.registry.MustRegister(
		r.runsTotal,
		r.duration,
		r.spikes,
		r.cacheLookup,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// ObserveRun records one estimator run. outcome is "ok" or an error class.
func (r *Recorder) ObserveRun(operation, outcome string, elapsed time.Duration, signal int) {
	r.runsTotal.WithLabelValues(operation, outcome).Inc()
	r.duration.WithLabelValues(operation).Observe(elapsed.Seconds())
	if outcome == "ok" {
		r.spikes.WithLabelValues(operation).Observe(float64(signal))
	}
}

// ObserveCache records a cache hit or miss.
func (r *Recorder) ObserveCache(operation string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	r.cacheLookup.WithLabelValues(operation, result).Inc()
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}
