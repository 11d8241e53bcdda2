// Package metrics holds the Prometheus collectors for the storage lifecycle.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/maloquacious/wealthwise/internal/store"
)

// Outcomes recorded for an initialization attempt.
const (
	OutcomeReady     = "ready"
	OutcomeRecovered = "recovered"
	OutcomeCorrupted = "corrupted"
	OutcomeMigration = "migration"
	OutcomeFailed    = "failed"
)

// Store records storage lifecycle metrics. A nil *Store is valid and
// records nothing.
type Store struct {
	initAttempts  *prometheus.CounterVec
	recoveries    prometheus.Counter
	eraseFailures prometheus.Counter
	queryErrors   prometheus.Counter
	state         prometheus.Gauge
	initDuration  prometheus.Histogram
}

// NewStore creates the collectors and registers them with reg.
func NewStore(reg prometheus.Registerer) *Store {
	m := &Store{
		initAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wealthwise_store_init_attempts_total",
			Help: "Initialization attempts by outcome",
		}, []string{"outcome"}),
		recoveries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wealthwise_store_recoveries_total",
			Help: "Erase-and-reopen recovery cycles",
		}),
		eraseFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wealthwise_store_erase_failures_total",
			Help: "Storage namespaces that could not be erased",
		}),
		queryErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wealthwise_store_query_errors_total",
			Help: "Statements rejected by the engine",
		}),
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "wealthwise_store_state",
			Help: "Handle state (0 uninitialized, 1 initializing, 2 ready, 3 failed)",
		}),
		initDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "wealthwise_store_init_seconds",
			Help:    "Duration of initialization attempts",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
	}
	if reg != nil {
		reg.MustRegister(m.initAttempts, m.recoveries, m.eraseFailures, m.queryErrors, m.state, m.initDuration)
	}
	return m
}

func (m *Store) InitAttempt(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.initAttempts.WithLabelValues(outcome).Inc()
	m.initDuration.Observe(d.Seconds())
}

func (m *Store) Recovery() {
	if m == nil {
		return
	}
	m.recoveries.Inc()
}

func (m *Store) EraseFailure() {
	if m == nil {
		return
	}
	m.eraseFailures.Inc()
}

func (m *Store) QueryError() {
	if m == nil {
		return
	}
	m.queryErrors.Inc()
}

func (m *Store) SetState(s store.State) {
	if m == nil {
		return
	}
	m.state.Set(float64(s))
}
