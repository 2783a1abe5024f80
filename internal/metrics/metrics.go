// Package metrics holds the Prometheus collectors of the session and relay.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pricealerts"

// SessionMetrics instruments the client session.
type SessionMetrics struct {
	Ticks          *prometheus.CounterVec
	Triggers       prometheus.Counter
	NearTarget     prometheus.Counter
	Banners        prometheus.Counter
	StoreErrors    *prometheus.CounterVec
	TrackedAlerts  prometheus.Gauge
	SnapshotCoins  prometheus.Gauge
	DataIssues     prometheus.Counter
	LastSnapshotTS prometheus.Gauge
}

// NewSessionMetrics registers the session collectors on reg.
func NewSessionMetrics(reg prometheus.Registerer) *SessionMetrics {
	m := &SessionMetrics{
		Ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "ticks_total",
			Help:      "Poll ticks by outcome",
		}, []string{"outcome"}),
		Triggers: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "triggers_total",
			Help:      "Alerts that reached their target",
		}),
		NearTarget: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "near_target_emails_total",
			Help:      "Near-target emails requested",
		}),
		Banners: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "banners_total",
			Help:      "In-app banners posted",
		}),
		StoreErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "store_errors_total",
			Help:      "Failed alert store operations",
		}, []string{"op"}),
		TrackedAlerts: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "active_alerts",
			Help:      "Untriggered alerts evaluated on the last tick",
		}),
		SnapshotCoins: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "snapshot_coins",
			Help:      "Coins priced in the current snapshot",
		}),
		DataIssues: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "data_issues_total",
			Help:      "Alerts skipped because of unusable data",
		}),
		LastSnapshotTS: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "last_snapshot_timestamp_seconds",
			Help:      "Unix time of the current snapshot",
		}),
	}
	reg.MustRegister(m.Ticks, m.Triggers, m.NearTarget, m.Banners, m.StoreErrors,
		m.TrackedAlerts, m.SnapshotCoins, m.DataIssues, m.LastSnapshotTS)
	return m
}

// RelayMetrics instruments the notification relay.
type RelayMetrics struct {
	Requests    *prometheus.CounterVec
	Emails      *prometheus.CounterVec
	RateLimited prometheus.Counter
	Registered  prometheus.Gauge
}

// NewRelayMetrics registers the relay collectors on reg.
func NewRelayMetrics(reg prometheus.Registerer) *RelayMetrics {
	m := &RelayMetrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "requests_total",
			Help:      "Relay HTTP requests by route and status",
		}, []string{"route", "status"}),
		Emails: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "emails_total",
			Help:      "Emails by template and result",
		}, []string{"template", "result"}),
		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the rate limiter",
		}),
		Registered: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "registered_alerts",
			Help:      "Alerts held in the relay registry",
		}),
	}
	reg.MustRegister(m.Requests, m.Emails, m.RateLimited, m.Registered)
	return m
}

// Handler exposes the collectors of gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
