package metrics_test

import (
	"testing"

	"github.com/ggoodman/taskd/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValues(t *testing.T, reg *prometheus.Registry) map[string]float64 {
	t.Helper()
	mfs, err := reg.Gather()
	require.NoError(t, err)
	out := map[string]float64{}
	for _, mf := range mfs {
		for _, m := range mf.GetMetric() {
			if c := m.GetCounter(); c != nil {
				out[mf.GetName()] += c.GetValue()
			}
		}
	}
	return out
}

func TestNewRegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	m.RequestsTotal.WithLabelValues("GET /tasks", "200").Inc()
	m.AuthOutcomes.WithLabelValues("local", metrics.OutcomeRejected).Add(2)
	m.RateLimited.Inc()

	got := counterValues(t, reg)
	assert.Equal(t, 1.0, got["taskd_http_requests_total"])
	assert.Equal(t, 2.0, got["taskd_auth_resolutions_total"])
	assert.Equal(t, 1.0, got["taskd_http_rate_limited_total"])
}

func TestNewTwiceOnOneRegistryPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics.New(reg)
	assert.Panics(t, func() { metrics.New(reg) })
}
