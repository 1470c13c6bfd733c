package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func TestTrackerRecordsOutcome(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	require.NoError(t, m.Track("scheduled:fire").End(nil))
	err := errors.New("boom")
	require.ErrorIs(t, m.Track("scheduled:fire").End(err), err)

	require.Equal(t, 1.0, counterValue(t, m.runs.WithLabelValues("scheduled:fire", "success")))
	require.Equal(t, 1.0, counterValue(t, m.runs.WithLabelValues("scheduled:fire", "failure")))
	require.Equal(t, 1.0, counterValue(t, m.failures.WithLabelValues("scheduled:fire")))
}

func TestCountersIgnoreEmptyBatches(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.AddGenerated("recurring", 3)
	m.AddGenerated("recurring", 0)
	m.AddReminders("sent", 2)
	m.AddReminders("failed", -1)

	require.Equal(t, 3.0, counterValue(t, m.generated.WithLabelValues("recurring")))
	require.Equal(t, 2.0, counterValue(t, m.reminders.WithLabelValues("sent")))
	require.Equal(t, 0.0, counterValue(t, m.reminders.WithLabelValues("failed")))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	require.NoError(t, m.Track("noop").End(nil))
	m.AddGenerated("scheduled", 1)
	m.AddReminders("sent", 1)
}
