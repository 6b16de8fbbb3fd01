package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
	metrics:
		for _, metric := range family.GetMetric() {
			for _, pair := range metric.GetLabel() {
				if labels[pair.GetName()] != pair.GetValue() {
					continue metrics
				}
			}
			return metric.GetCounter().GetValue()
		}
	}
	return 0
}

func TestTrackerRecordsOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	assert.NoError(t, m.Track("dashboard:invalidate").End(nil))
	failure := errors.New("boom")
	assert.ErrorIs(t, m.Track("dashboard:invalidate").End(failure), failure)

	assert.Equal(t, 1.0, counterValue(t, reg, "venuedesk_jobs_total", map[string]string{"job": "dashboard:invalidate", "status": "success"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "venuedesk_jobs_total", map[string]string{"job": "dashboard:invalidate", "status": "error"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "venuedesk_jobs_failures_total", map[string]string{"job": "dashboard:invalidate"}))
}

func TestAddReclassifiedIgnoresEmptyRuns(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.AddReclassified("backfill", 0)
	m.AddReclassified("backfill", 7)
	assert.Equal(t, 7.0, counterValue(t, reg, "venuedesk_receipts_reclassified_total", map[string]string{"trigger": "backfill"}))

	var nilMetrics *Metrics
	nilMetrics.AddReclassified("import", 3)
	assert.NoError(t, nilMetrics.Track("x").End(nil))
}
