// Package jobmetrics instruments background ledger sweeps.
package jobmetrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for background jobs.
type Metrics struct {
	runs      *prometheus.CounterVec
	failures  *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	generated *prometheus.CounterVec
	reminders *prometheus.CounterVec
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the job metrics against the provided registerer. When the
// registerer is nil the default Prometheus registerer is used.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() {
			defaultMetrics = buildMetrics(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return buildMetrics(registerer)
}

// Tracker provides lifecycle instrumentation helpers for a single job run.
type Tracker struct {
	metrics *Metrics
	job     string
	start   time.Time
}

// Track spawns a tracker for the given job name.
func (m *Metrics) Track(job string) *Tracker {
	if m == nil {
		return &Tracker{job: job, start: time.Now()}
	}
	return &Tracker{metrics: m, job: job, start: time.Now()}
}

// End finalises the tracker, recording duration, success/failure counts and
// returning the provided error untouched.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil || t.job == "" {
		return err
	}
	status := "success"
	if err != nil {
		status = "failure"
		t.metrics.failures.WithLabelValues(t.job).Inc()
	}
	t.metrics.runs.WithLabelValues(t.job, status).Inc()
	t.metrics.duration.WithLabelValues(t.job).Observe(time.Since(t.start).Seconds())
	return err
}

// AddGenerated counts invoices materialised by a generator ("recurring" or "scheduled").
func (m *Metrics) AddGenerated(source string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.generated.WithLabelValues(source).Add(float64(count))
}

// AddReminders counts reminder rows by outcome (sent, skipped, failed).
func (m *Metrics) AddReminders(outcome string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.reminders.WithLabelValues(outcome).Add(float64(count))
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_jobs_total",
		Help: "Total job executions partitioned by job name and status.",
	}, []string{"job", "status"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_jobs_failures_total",
		Help: "Total failures observed for background jobs.",
	}, []string{"job"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledger_job_duration_seconds",
		Help:    "Duration in seconds of background job executions.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	generated := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_invoices_generated_total",
		Help: "Invoices generated by background sweeps, by source.",
	}, []string{"source"})
	reminders := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_reminders_total",
		Help: "Reminder rows processed by sweeps, by outcome.",
	}, []string{"outcome"})
	registerer.MustRegister(runs, failures, duration, generated, reminders)
	return &Metrics{runs: runs, failures: failures, duration: duration, generated: generated, reminders: reminders}
}
