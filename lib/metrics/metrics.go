// Package metrics holds the prometheus collectors shared by the tracker
// components. Every recording method is a no-op on a nil *Metrics.
package metrics

import (
	"github.com/gravitational/trace"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "magic_tracker"

// Metrics is the set of collectors exported on /metrics.
type Metrics struct {
	cacheReads  *prometheus.CounterVec
	cacheErrors *prometheus.CounterVec
	refreshes   *prometheus.CounterVec
	polls       *prometheus.CounterVec
	transitions *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		cacheReads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "reads_total",
			Help:      "Cache reads by cache key and the tier that answered (primary, fallback, miss).",
		}, []string{"key", "tier"}),
		cacheErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "errors_total",
			Help:      "Cache entries dropped as corrupt or not written because of storage errors.",
		}, []string{"key", "op"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "refreshes_total",
			Help:      "Credential refresh attempts by outcome.",
		}, []string{"result"}),
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tracker",
			Name:      "polls_total",
			Help:      "Job status polls by outcome (success, error, discarded).",
		}, []string{"result"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "transitions_total",
			Help:      "Tracking state transitions by target phase.",
		}, []string{"phase"}),
	}

	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.cacheReads, m.cacheErrors, m.refreshes, m.polls, m.transitions} {
		if err := reg.Register(c); err != nil {
			return nil, trace.Wrap(err)
		}
	}
	return m, nil
}

// CacheRead records which tier answered a read.
func (m *Metrics) CacheRead(key, tier string) {
	if m == nil {
		return
	}
	m.cacheReads.WithLabelValues(key, tier).Inc()
}

// CacheError records a dropped or failed cache operation.
func (m *Metrics) CacheError(key, op string) {
	if m == nil {
		return
	}
	m.cacheErrors.WithLabelValues(key, op).Inc()
}

// Refresh records a credential refresh outcome.
func (m *Metrics) Refresh(result string) {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues(result).Inc()
}

// Poll records a status poll outcome.
func (m *Metrics) Poll(result string) {
	if m == nil {
		return
	}
	m.polls.WithLabelValues(result).Inc()
}

// Transition records a move into phase.
func (m *Metrics) Transition(phase string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(phase).Inc()
}
