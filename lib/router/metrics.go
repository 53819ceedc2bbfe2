package router

import (
	"github.com/go-i2p/go-stanzarouter/lib/dispatch"
	"github.com/go-i2p/go-stanzarouter/lib/stanza"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"
)

// Metrics holds the Prometheus collectors of the routing core. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	routed           *prometheus.CounterVec // by route
	bounces          *prometheus.CounterVec // by condition
	dispatchFailures *prometheus.CounterVec // by code
	offline          *prometheus.CounterVec // by event: stored, popped, restored, lost, purged
	retryAttempts    prometheus.Counter
	retryOutcomes    *prometheus.CounterVec // by outcome: delivered, restored, lost
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		routed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stanzarouter",
			Subsystem: "router",
			Name:      "stanzas_routed_total",
			Help:      "Stanzas handled, by classification route",
		}, []string{"route"}),
		bounces: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stanzarouter",
			Subsystem: "router",
			Name:      "bounces_total",
			Help:      "Error replies sent back to senders, by condition",
		}, []string{"condition"}),
		dispatchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stanzarouter",
			Subsystem: "router",
			Name:      "dispatch_failures_total",
			Help:      "Per-target delivery failures, by cause",
		}, []string{"code"}),
		offline: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stanzarouter",
			Subsystem: "offline",
			Name:      "stanzas_total",
			Help:      "Offline queue events, by event",
		}, []string{"event"}),
		retryAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "stanzarouter",
			Subsystem: "retry",
			Name:      "attempts_total",
			Help:      "Delivery attempts made while retrying queued stanzas",
		}),
		retryOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stanzarouter",
			Subsystem: "retry",
			Name:      "outcomes_total",
			Help:      "Final outcome of each retried stanza",
		}, []string{"outcome"}),
	}

	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{
		m.routed, m.bounces, m.dispatchFailures, m.offline, m.retryAttempts, m.retryOutcomes,
	} {
		if err := reg.Register(c); err != nil {
			return nil, oops.Wrapf(err, "router: register metrics")
		}
	}
	return m, nil
}

func (m *Metrics) route(route string) {
	if m != nil {
		m.routed.WithLabelValues(route).Inc()
	}
}

func (m *Metrics) bounce(c stanza.Condition) {
	if m != nil {
		m.bounces.WithLabelValues(string(c)).Inc()
	}
}

func (m *Metrics) dispatchFailure(err error) {
	if m != nil {
		m.dispatchFailures.WithLabelValues(dispatch.CodeOf(err).String()).Inc()
	}
}

func (m *Metrics) offlineEvent(event string, n int) {
	if m != nil && n > 0 {
		m.offline.WithLabelValues(event).Add(float64(n))
	}
}

func (m *Metrics) retryAttempt() {
	if m != nil {
		m.retryAttempts.Inc()
	}
}

func (m *Metrics) retryOutcome(outcome string) {
	if m != nil {
		m.retryOutcomes.WithLabelValues(outcome).Inc()
	}
}
