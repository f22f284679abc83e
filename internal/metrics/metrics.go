// Package metrics exposes prometheus collectors for batch submission.
package metrics

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tiss-anexos/intake/internal/models"
)

const (
	namespace = "anexos"
	subsystem = "submit"
)

// Metrics implements submit.Recorder and tracks active runs.
type Metrics struct {
	attempts      *prometheus.CounterVec
	batches       *prometheus.CounterVec
	batchDuration *prometheus.HistogramVec
	items         *prometheus.CounterVec
	runsActive    prometheus.Gauge
}

var (
	defaultOnce sync.Once
	shared      *Metrics
)

// Default returns the instance registered with the global registry.
func Default() *Metrics {
	defaultOnce.Do(func() {
		shared = MustNew(prometheus.DefaultRegisterer)
	})
	return shared
}

// MustNew registers the collectors with reg and panics on conflicting
// registrations. Collectors already registered under the same name are
// reused.
func MustNew(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "attempts_total",
			Help:      "Backend requests made for batches, by result.",
		}, []string{"result"}),
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "batches_total",
			Help:      "Batches that reached a terminal state.",
		}, []string{"state"}),
		batchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "batch_duration_seconds",
			Help:      "Time from first attempt to terminal state of a batch.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"state"}),
		items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "items_total",
			Help:      "Per-item results recorded, by outcome.",
		}, []string{"outcome"}),
		runsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "runs_active",
			Help:      "Runs currently executing.",
		}),
	}

	m.attempts = register(reg, m.attempts)
	m.batches = register(reg, m.batches)
	m.batchDuration = register(reg, m.batchDuration)
	m.items = register(reg, m.items)
	m.runsActive = register(reg, m.runsActive)
	return m
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

// ObserveAttempt counts one backend request.
func (m *Metrics) ObserveAttempt(success bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !success {
		result = "error"
	}
	m.attempts.WithLabelValues(result).Inc()
}

// ObserveBatch records a batch that reached a terminal state.
func (m *Metrics) ObserveBatch(state models.BatchState, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.batches.WithLabelValues(string(state)).Inc()
	m.batchDuration.WithLabelValues(string(state)).Observe(elapsed.Seconds())
}

// ObserveItems adds per-item outcomes.
func (m *Metrics) ObserveItems(successes, failures int) {
	if m == nil {
		return
	}
	m.items.WithLabelValues("success").Add(float64(successes))
	m.items.WithLabelValues("error").Add(float64(failures))
}

// RunStarted marks a run as active.
func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.runsActive.Inc()
}

// RunFinished marks a run as no longer active.
func (m *Metrics) RunFinished() {
	if m == nil {
		return
	}
	m.runsActive.Dec()
}
