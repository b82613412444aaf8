package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestSchedulerMetrics(t *testing.T) {
	m := NewSchedulerMetrics(prometheus.NewRegistry(), Config{ServiceName: "timesync"})

	m.ObserveJob("scan_unreconciled", JobOutcomeOK, 20*time.Millisecond)
	m.ObserveJob("scan_unreconciled", JobOutcomeOK, 20*time.Millisecond)
	m.SetUnreconciled(3, 90*time.Second)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.jobRuns.WithLabelValues("scan_unreconciled", JobOutcomeOK)))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.unreconciled))
	assert.Equal(t, float64(90), testutil.ToFloat64(m.oldestAge))

	m.SetUnreconciled(0, -time.Second)
	assert.Zero(t, testutil.ToFloat64(m.oldestAge))
}

func TestNilSchedulerMetricsIsSafe(t *testing.T) {
	var m *SchedulerMetrics
	assert.NotPanics(t, func() {
		m.ObserveJob("scan_unreconciled", JobOutcomeError, time.Second)
		m.ObserveRunLoopLag(time.Second)
		m.SetUnreconciled(1, time.Minute)
	})
}
