package observability

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/xraph/batchflow/ext"
	"github.com/xraph/batchflow/queue"
)

// Compile-time interface checks.
var (
	_ ext.Extension      = (*MetricsExtension)(nil)
	_ ext.GroupStarted   = (*MetricsExtension)(nil)
	_ ext.GroupCompleted = (*MetricsExtension)(nil)
	_ ext.JobStarted     = (*MetricsExtension)(nil)
	_ ext.JobCompleted   = (*MetricsExtension)(nil)
	_ ext.JobFailed      = (*MetricsExtension)(nil)
	_ ext.JobPaused      = (*MetricsExtension)(nil)
	_ ext.JobResumed     = (*MetricsExtension)(nil)
	_ ext.TickFired      = (*MetricsExtension)(nil)
)

const (
	// MetricsNamespace is the namespace for all batchflow metrics.
	MetricsNamespace = "batchflow"
)

// MetricsExtension records system-wide lifecycle metrics in Prometheus.
// Register it as a batchflow extension to track group runs, job outcomes,
// paused jobs and scheduler ticks per time zone.
type MetricsExtension struct {
	GroupsStarted   *prometheus.CounterVec
	GroupsCompleted *prometheus.CounterVec
	GroupDuration   *prometheus.HistogramVec
	JobsRunning     *prometheus.GaugeVec
	JobsCompleted   *prometheus.CounterVec
	JobDuration     *prometheus.HistogramVec
	JobsFailed      *prometheus.CounterVec
	JobsPaused      *prometheus.GaugeVec
	TicksFired      *prometheus.CounterVec
}

// NewMetricsExtension creates a MetricsExtension registered on reg.
// A nil reg uses prometheus.DefaultRegisterer.
func NewMetricsExtension(reg prometheus.Registerer) *MetricsExtension {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &MetricsExtension{
		GroupsStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: "group",
			Name:      "runs_started_total",
			Help:      "Total number of group runs created",
		}, []string{"timezone", "group"}),
		GroupsCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: "group",
			Name:      "runs_completed_total",
			Help:      "Total number of group runs closed, by run status",
		}, []string{"timezone", "group", "status"}),
		GroupDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: MetricsNamespace,
			Subsystem: "group",
			Name:      "run_duration_seconds",
			Help:      "Wall time from group run start to close",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 16), // 1s to ~9h
		}, []string{"timezone", "group"}),
		JobsRunning: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: MetricsNamespace,
			Subsystem: "job",
			Name:      "running",
			Help:      "Number of jobs currently running",
		}, []string{"handler"}),
		JobsCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: "job",
			Name:      "completed_total",
			Help:      "Total number of job results recorded, by status and next step",
		}, []string{"handler", "status", "next_step"}),
		JobDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: MetricsNamespace,
			Subsystem: "job",
			Name:      "duration_seconds",
			Help:      "Duration of job execution in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 15), // 0.1s to ~55min
		}, []string{"handler"}),
		JobsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: "job",
			Name:      "failed_total",
			Help:      "Total number of handler errors, panics and unresolved handlers",
		}, []string{"handler"}),
		JobsPaused: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: MetricsNamespace,
			Subsystem: "job",
			Name:      "paused",
			Help:      "Number of jobs waiting for an operator resume",
		}, []string{"handler"}),
		TicksFired: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: "scheduler",
			Name:      "ticks_total",
			Help:      "Total number of minute ticks evaluated per time zone",
		}, []string{"timezone"}),
	}
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// ── Group run hooks ─────────────────────────────────

// OnGroupStarted implements ext.GroupStarted.
func (m *MetricsExtension) OnGroupStarted(_ context.Context, run *queue.Group) error {
	m.GroupsStarted.WithLabelValues(run.TimeZone, run.JobGroupName).Inc()
	return nil
}

// OnGroupCompleted implements ext.GroupCompleted.
func (m *MetricsExtension) OnGroupCompleted(_ context.Context, run *queue.Group, elapsed time.Duration) error {
	m.GroupsCompleted.WithLabelValues(run.TimeZone, run.JobGroupName, string(run.RunStatus)).Inc()
	m.GroupDuration.WithLabelValues(run.TimeZone, run.JobGroupName).Observe(elapsed.Seconds())
	return nil
}

// ── Job hooks ───────────────────────────────────────

// OnJobStarted implements ext.JobStarted.
func (m *MetricsExtension) OnJobStarted(_ context.Context, j *queue.Job) error {
	m.JobsRunning.WithLabelValues(j.Handler).Inc()
	return nil
}

// OnJobCompleted implements ext.JobCompleted.
func (m *MetricsExtension) OnJobCompleted(_ context.Context, j *queue.Job, r queue.Result, elapsed time.Duration) error {
	m.JobsRunning.WithLabelValues(j.Handler).Dec()
	m.JobsCompleted.WithLabelValues(j.Handler, string(r.Status), string(r.NextStep)).Inc()
	m.JobDuration.WithLabelValues(j.Handler).Observe(elapsed.Seconds())
	return nil
}

// OnJobFailed implements ext.JobFailed.
func (m *MetricsExtension) OnJobFailed(_ context.Context, j *queue.Job, _ error) error {
	m.JobsFailed.WithLabelValues(j.Handler).Inc()
	return nil
}

// OnJobPaused implements ext.JobPaused.
func (m *MetricsExtension) OnJobPaused(_ context.Context, j *queue.Job) error {
	m.JobsPaused.WithLabelValues(j.Handler).Inc()
	return nil
}

// OnJobResumed implements ext.JobResumed.
func (m *MetricsExtension) OnJobResumed(_ context.Context, j *queue.Job) error {
	m.JobsPaused.WithLabelValues(j.Handler).Dec()
	return nil
}

// ── Scheduler hooks ─────────────────────────────────

// OnTickFired implements ext.TickFired.
func (m *MetricsExtension) OnTickFired(_ context.Context, tz string, _ time.Time, _ int) error {
	m.TicksFired.WithLabelValues(tz).Inc()
	return nil
}
