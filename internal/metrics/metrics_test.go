package metrics_test

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/SirClappington/starjobs/internal/metrics"
)

func TestMetrics(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())

	m.Submitted("createStar")
	m.Submitted("createStar")
	m.Executed("processed")
	m.Executed("locked")
	m.RecoveryCycle("swept", 3)
	m.RecoveryCycle("skipped", 0)
	m.LeaseRenewed(nil)
	m.LeaseRenewed(errors.New("boom"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.JobsSubmitted.WithLabelValues("createStar")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Executions.WithLabelValues("processed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Executions.WithLabelValues("locked")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.RecoveryRequeued))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RecoveryCycles.WithLabelValues("skipped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LeaseRenewals.WithLabelValues("failed")))

	done := m.Track()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ExecutionsInFlight))
	done()
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ExecutionsInFlight))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *metrics.Metrics
	assert.NotPanics(t, func() {
		m.Submitted("createStar")
		m.Executed("processed")
		m.RecoveryCycle("swept", 1)
		m.LeaseRenewed(nil)
		m.Track()()
	})
}
