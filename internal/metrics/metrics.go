// Package metrics defines the Prometheus instruments for the bot: polling
// rounds and outcomes, order lookups and webhook deliveries.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the counters exported at /metrics. Construct one per
// process; tests pass their own registry to avoid duplicate registration.
type Metrics struct {
	pollRounds    *prometheus.CounterVec
	pollOutcomes  *prometheus.CounterVec
	orderLookups  *prometheus.CounterVec
	webhookEvents *prometheus.CounterVec
	sessionsOpen  prometheus.Gauge
}

// New registers the instruments on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		pollRounds: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sallabot_poll_rounds_total",
			Help: "Mailbox poll rounds by connector type.",
		}, []string{"account_type"}),
		pollOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sallabot_poll_outcomes_total",
			Help: "Terminal polling outcomes by connector type and status.",
		}, []string{"account_type", "status"}),
		orderLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sallabot_order_lookups_total",
			Help: "Salla order status lookups by result.",
		}, []string{"result"}),
		webhookEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sallabot_webhook_events_total",
			Help: "Salla webhook deliveries by event name.",
		}, []string{"event"}),
		sessionsOpen: factory.NewGauge(prometheus.GaugeOpts{
			Name: "sallabot_sessions_open",
			Help: "Chat sessions currently in progress.",
		}),
	}
}

// PollRound counts one mailbox query round.
func (m *Metrics) PollRound(accountType string) {
	m.pollRounds.WithLabelValues(accountType).Inc()
}

// PollOutcome counts a terminal polling outcome.
func (m *Metrics) PollOutcome(accountType, status string) {
	m.pollOutcomes.WithLabelValues(accountType, status).Inc()
}

// OrderLookup counts one Salla order status lookup.
func (m *Metrics) OrderLookup(result string) {
	m.orderLookups.WithLabelValues(result).Inc()
}

// WebhookEvent counts one webhook delivery.
func (m *Metrics) WebhookEvent(event string) {
	m.webhookEvents.WithLabelValues(event).Inc()
}

// SessionOpened and SessionClosed track in-progress chat sessions.
func (m *Metrics) SessionOpened() { m.sessionsOpen.Inc() }

// SessionClosed decrements the open-session gauge.
func (m *Metrics) SessionClosed() { m.sessionsOpen.Dec() }
