// Package metrics defines the Prometheus collectors for the record feed.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "vitals"

// Metrics groups the collectors updated by the record service and views.
type Metrics struct {
	FeedDeliveries      prometheus.Counter
	FeedReloadFailures  prometheus.Counter
	ActiveSubscriptions prometheus.Gauge
	Mutations           *prometheus.CounterVec
	NotifyFailures      prometheus.Counter
	ReadingsCreated     *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. A nil reg leaves
// them unregistered, which is what tests usually want.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		FeedDeliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "deliveries_total",
			Help:      "Full record sets delivered to subscribers.",
		}),
		FeedReloadFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "reload_failures_total",
			Help:      "Change signals whose record reload failed and were skipped.",
		}),
		ActiveSubscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "active_subscriptions",
			Help:      "Open record subscriptions.",
		}),
		Mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "records",
			Name:      "mutations_total",
			Help:      "Create/update/delete calls by outcome.",
		}, []string{"op", "outcome"}),
		NotifyFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "records",
			Name:      "notify_failures_total",
			Help:      "Change signals that could not be published after a successful write.",
		}),
		ReadingsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "records",
			Name:      "readings_created_total",
			Help:      "Readings created, by the blood pressure band at creation. Updates are not counted.",
		}, []string{"band"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.FeedDeliveries,
			m.FeedReloadFailures,
			m.ActiveSubscriptions,
			m.Mutations,
			m.NotifyFailures,
			m.ReadingsCreated,
		)
	}
	return m
}

// Outcome labels for Mutations.
const (
	OutcomeOK      = "ok"
	OutcomeInvalid = "invalid"
	OutcomeError   = "error"
)
