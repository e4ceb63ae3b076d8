package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/clipforge/clipforge/pkg/models"
	"github.com/clipforge/clipforge/pkg/store"
)

// Exporter publishes live pipeline metrics in Prometheus format.
// Job-by-status gauges are read from the store on scrape; per-step
// durations and failure categories are pushed by the runner as jobs finish.
type Exporter struct {
	store store.Store

	stepDuration *prometheus.HistogramVec
	jobsFinished *prometheus.CounterVec
	failures     *prometheus.CounterVec
	jobsByStatus *prometheus.GaugeVec
	registry     *prometheus.Registry
}

// NewExporter creates an exporter with its own registry so tests can run
// several side by side.
func NewExporter(st store.Store) *Exporter {
	e := &Exporter{
		store:    st,
		registry: prometheus.NewRegistry(),
		stepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "clipforge_step_duration_seconds",
				Help:    "Wall-clock duration of pipeline steps",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
			},
			[]string{"step", "status"},
		),
		jobsFinished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clipforge_jobs_finished_total",
				Help: "Jobs reaching a terminal status",
			},
			[]string{"status"},
		),
		failures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clipforge_job_failures_total",
				Help: "Failed jobs by failure category",
			},
			[]string{"category"},
		),
		jobsByStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "clipforge_jobs_by_status",
				Help: "Number of jobs currently in each status",
			},
			[]string{"status"},
		),
	}

	e.registry.MustRegister(e.stepDuration, e.jobsFinished, e.failures, e.jobsByStatus)
	return e
}

// ObserveRun records a finished run's step durations and outcome
func (e *Exporter) ObserveRun(data RunData, finalStatus models.JobStatus) {
	for _, m := range data.Steps {
		e.stepDuration.WithLabelValues(m.Step, string(m.Status)).Observe(float64(m.DurationMs) / 1000)
	}
	e.jobsFinished.WithLabelValues(string(finalStatus)).Inc()
	if finalStatus == models.JobStatusFailed {
		e.failures.WithLabelValues(string(data.FailureCategory)).Inc()
	}
}

// Handler returns the /metrics HTTP handler, refreshing the job-status
// gauges from the store before each scrape.
func (e *Exporter) Handler() http.Handler {
	promHandler := promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if counts, err := e.store.CountJobsByStatus(); err == nil {
			e.jobsByStatus.Reset()
			for status, count := range counts {
				e.jobsByStatus.WithLabelValues(string(status)).Set(float64(count))
			}
		}
		promHandler.ServeHTTP(w, r)
	})
}
