package repository

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts how repository operations were served. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	remoteOps      *prometheus.CounterVec
	localFallbacks *prometheus.CounterVec
	breakerTrips   *prometheus.CounterVec
	skippedWrites  *prometheus.CounterVec
}

// NewMetrics creates the repository collectors and registers them on reg when
// reg is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		remoteOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fleetsync",
			Subsystem: "repository",
			Name:      "remote_operations_total",
			Help:      "Remote document store calls by collection, operation and outcome.",
		}, []string{"collection", "op", "outcome"}),
		localFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fleetsync",
			Subsystem: "repository",
			Name:      "local_fallbacks_total",
			Help:      "Operations served from the local cache instead of the remote store.",
		}, []string{"collection", "op"}),
		breakerTrips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fleetsync",
			Subsystem: "repository",
			Name:      "breaker_trips_total",
			Help:      "Quota errors that disabled the remote path.",
		}, []string{"collection"}),
		skippedWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fleetsync",
			Subsystem: "repository",
			Name:      "skipped_writes_total",
			Help:      "Remote writes skipped because the payload had not changed.",
		}, []string{"collection"}),
	}
	if reg != nil {
		reg.MustRegister(m.remoteOps, m.localFallbacks, m.breakerTrips, m.skippedWrites)
	}
	return m
}

func (m *Metrics) remote(collection, op string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.remoteOps.WithLabelValues(collection, op, outcome).Inc()
}

func (m *Metrics) fallback(collection, op string) {
	if m == nil {
		return
	}
	m.localFallbacks.WithLabelValues(collection, op).Inc()
}

func (m *Metrics) trip(collection string) {
	if m == nil {
		return
	}
	m.breakerTrips.WithLabelValues(collection).Inc()
}

func (m *Metrics) skipped(collection string) {
	if m == nil {
		return
	}
	m.skippedWrites.WithLabelValues(collection).Inc()
}
