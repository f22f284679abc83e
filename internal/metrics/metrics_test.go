package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/tiss-anexos/intake/internal/models"
)

func TestMetrics_Observe(t *testing.T) {
	m := MustNew(prometheus.NewRegistry())

	m.ObserveAttempt(false)
	m.ObserveAttempt(true)
	m.ObserveAttempt(true)
	m.ObserveBatch(models.BatchStateSucceeded, 2*time.Second)
	m.ObserveBatch(models.BatchStateFailed, time.Second)
	m.ObserveItems(2, 1)
	m.RunStarted()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.attempts.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.attempts.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.batches.WithLabelValues("failed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.items.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.items.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runsActive))

	m.RunFinished()
	assert.Equal(t, 0.0, testutil.ToFloat64(m.runsActive))
}

func TestMustNew_ReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first := MustNew(reg)
	second := MustNew(reg)

	first.ObserveAttempt(true)
	assert.Equal(t, 1.0, testutil.ToFloat64(second.attempts.WithLabelValues("ok")))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveAttempt(true)
		m.ObserveBatch(models.BatchStateSucceeded, time.Second)
		m.ObserveItems(1, 1)
		m.RunStarted()
		m.RunFinished()
	})
}
