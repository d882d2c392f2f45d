package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackerRecordsOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)

	for i := 0; i < 9; i++ {
		require.NoError(t, metrics.Track("timesheet:event").End(nil))
	}
	boom := errors.New("timeout")
	require.ErrorIs(t, metrics.Track("timesheet:event").End(boom), boom)

	families, err := reg.Gather()
	require.NoError(t, err)

	success := metricValue(t, families, "timesheet_jobs_total", map[string]string{"job": "timesheet:event", "status": "success"})
	failure := metricValue(t, families, "timesheet_jobs_total", map[string]string{"job": "timesheet:event", "status": "failure"})
	assert.Equal(t, 9.0, success)
	assert.Equal(t, 1.0, failure)
	assert.Equal(t, 1.0, metricValue(t, families, "timesheet_jobs_failures_total", map[string]string{"job": "timesheet:event"}))
	assert.Equal(t, uint64(10), histogramCount(t, families, "timesheet_job_duration_seconds", map[string]string{"job": "timesheet:event"}))
}

func TestAddEventCountsByType(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)

	metrics.AddEvent("timesheet.submitted")
	metrics.AddEvent("timesheet.submitted")
	metrics.AddEvent("timesheet.approved")
	metrics.AddEvent("")

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.Equal(t, 2.0, metricValue(t, families, "timesheet_events_delivered_total", map[string]string{"type": "timesheet.submitted"}))
	assert.Equal(t, 1.0, metricValue(t, families, "timesheet_events_delivered_total", map[string]string{"type": "timesheet.approved"}))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var metrics *Metrics
	boom := errors.New("boom")
	assert.ErrorIs(t, metrics.Track("noop").End(boom), boom)
	assert.NotPanics(t, func() { metrics.AddEvent("timesheet.approved") })
}

func metricValue(t *testing.T, families []*dto.MetricFamily, name string, labels map[string]string) float64 {
	t.Helper()
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, metric := range fam.GetMetric() {
			if hasLabels(metric, labels) {
				return metric.GetCounter().GetValue()
			}
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func histogramCount(t *testing.T, families []*dto.MetricFamily, name string, labels map[string]string) uint64 {
	t.Helper()
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, metric := range fam.GetMetric() {
			if hasLabels(metric, labels) {
				return metric.GetHistogram().GetSampleCount()
			}
		}
	}
	t.Fatalf("histogram %s with labels %v not found", name, labels)
	return 0
}

func hasLabels(metric *dto.Metric, labels map[string]string) bool {
	matched := 0
	for _, lp := range metric.GetLabel() {
		want, ok := labels[lp.GetName()]
		if !ok {
			continue
		}
		if lp.GetValue() != want {
			return false
		}
		matched++
	}
	return matched == len(labels)
}
