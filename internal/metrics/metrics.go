// Package metrics holds the provider's prometheus collectors. Each Metrics
// value owns its registry so tests and multiple providers do not collide.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "contract_provider"

// Cycle results.
const (
	ResultUpdated   = "updated"
	ResultUnchanged = "unchanged"
	ResultFailed    = "failed"
)

type Metrics struct {
	Registry *prometheus.Registry

	cycles          *prometheus.CounterVec
	cycleDuration   prometheus.Histogram
	storedContracts prometheus.Gauge
	writes          *prometheus.CounterVec
	conflicts       prometheus.Counter
	lastSuccess     prometheus.Gauge
	failures        *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		cycles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cycles_total",
				Help:      "Fetch cycles by result (updated, unchanged, failed).",
			},
			[]string{"result"},
		),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Duration of a fetch cycle in seconds.",
			Buckets:   prometheus.DefBuckets,
		}),
		storedContracts: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stored_contracts",
			Help:      "Number of contracts in the last persisted set.",
		}),
		writes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "storage_writes_total",
				Help:      "Storage write attempts by result.",
			},
			[]string{"result"},
		),
		conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_conflicts_total",
			Help:      "Optimistic concurrency conflicts hit while writing.",
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful cycle.",
		}),
		failures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cycle_failures_total",
				Help:      "Failed cycles by stage and error kind.",
			},
			[]string{"stage", "kind"},
		),
	}
	m.Registry.MustRegister(m.Collectors()...)
	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Collectors returns the provider specific collectors.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.cycles,
		m.cycleDuration,
		m.storedContracts,
		m.writes,
		m.conflicts,
		m.lastSuccess,
		m.failures,
	}
}

// RecordCycle records a finished cycle.
func (m *Metrics) RecordCycle(result string, d time.Duration, at time.Time) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(result).Inc()
	m.cycleDuration.Observe(d.Seconds())
	if result != ResultFailed {
		m.lastSuccess.Set(float64(at.Unix()))
	}
}

// RecordFailure counts a failed cycle by the stage that failed.
func (m *Metrics) RecordFailure(stage, kind string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(stage, kind).Inc()
}

// RecordWrite counts a storage write attempt.
func (m *Metrics) RecordWrite(err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	m.writes.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordConflict() {
	if m == nil {
		return
	}
	m.conflicts.Inc()
}

// SetStoredContracts records the size of the persisted set.
func (m *Metrics) SetStoredContracts(n int) {
	if m == nil {
		return
	}
	m.storedContracts.Set(float64(n))
}
