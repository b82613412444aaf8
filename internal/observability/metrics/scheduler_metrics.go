package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	JobOutcomeOK    = "ok"
	JobOutcomeError = "error"
)

// SchedulerMetrics captures background job health and the reconciliation backlog.
type SchedulerMetrics struct {
	jobRuns      *prometheus.CounterVec
	jobDuration  *prometheus.HistogramVec
	runLoopLag   prometheus.Observer
	unreconciled prometheus.Gauge
	oldestAge    prometheus.Gauge
}

func NewSchedulerMetrics(registerer prometheus.Registerer, cfg Config) *SchedulerMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "timesync"
	}
	constLabels := prometheus.Labels{"service": serviceName}

	jobRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "timesync_scheduler_job_runs_total",
		Help:        "Scheduler job runs by outcome.",
		ConstLabels: constLabels,
	}, []string{"job", "outcome"})
	jobDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "timesync_scheduler_job_duration_seconds",
		Help:        "Scheduler job duration.",
		Buckets:     prometheus.DefBuckets,
		ConstLabels: constLabels,
	}, []string{"job"})
	runLoopLag := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "timesync_scheduler_run_loop_lag_seconds",
		Help:        "Delay between the planned and actual start of a scheduler tick.",
		Buckets:     []float64{0.01, 0.1, 0.5, 1, 5, 15, 60},
		ConstLabels: constLabels,
	})
	unreconciled := prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        "timesync_unreconciled_intervals",
		Help:        "Intervals older than the stale threshold that carry no usage record id.",
		ConstLabels: constLabels,
	})
	oldestAge := prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        "timesync_unreconciled_oldest_age_seconds",
		Help:        "Age of the oldest stale unreconciled interval, 0 when there is none.",
		ConstLabels: constLabels,
	})

	registerer.MustRegister(jobRuns, jobDuration, runLoopLag, unreconciled, oldestAge)

	return &SchedulerMetrics{
		jobRuns:      jobRuns,
		jobDuration:  jobDuration,
		runLoopLag:   runLoopLag,
		unreconciled: unreconciled,
		oldestAge:    oldestAge,
	}
}

func (m *SchedulerMetrics) ObserveJob(job, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job, outcome).Inc()
	m.jobDuration.WithLabelValues(job).Observe(elapsed.Seconds())
}

func (m *SchedulerMetrics) ObserveRunLoopLag(lag time.Duration) {
	if m == nil || lag <= 0 {
		return
	}
	m.runLoopLag.Observe(lag.Seconds())
}

func (m *SchedulerMetrics) SetUnreconciled(count int64, oldestAge time.Duration) {
	if m == nil {
		return
	}
	m.unreconciled.Set(float64(count))
	if oldestAge < 0 {
		oldestAge = 0
	}
	m.oldestAge.Set(oldestAge.Seconds())
}
