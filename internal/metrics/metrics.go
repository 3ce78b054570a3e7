// Package metrics defines the prometheus collectors of the trade ledger.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Submit outcomes.
const (
	OutcomeCreated  = "created"
	OutcomeUpdated  = "updated"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

// Publish outcomes.
const (
	OutcomeSent     = "sent"
	OutcomeFallback = "fallback"
)

// Metrics holds the service collectors. A nil *Metrics records nothing.
type Metrics struct {
	submits         *prometheus.CounterVec
	historyFailures prometheus.Counter
	publishes       *prometheus.CounterVec
	publishRetries  *prometheus.CounterVec
	breakerState    *prometheus.GaugeVec
	expired         prometheus.Counter
	sweepFailures   prometheus.Counter
}

// New registers all collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		submits: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tradeledger_submits_total",
			Help: "Trade submissions by outcome.",
		}, []string{"outcome"}),
		historyFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "tradeledger_history_write_failures_total",
			Help: "History snapshots that could not be written.",
		}),
		publishes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tradeledger_publishes_total",
			Help: "Trade event publications by topic and outcome.",
		}, []string{"topic", "outcome"}),
		publishRetries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tradeledger_publish_retries_total",
			Help: "Publish attempts after the first, by topic.",
		}, []string{"topic"}),
		breakerState: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tradeledger_publish_breaker_state",
			Help: "Circuit breaker state per topic (0 closed, 1 open, 2 half-open).",
		}, []string{"topic"}),
		expired: f.NewCounter(prometheus.CounterOpts{
			Name: "tradeledger_trades_expired_total",
			Help: "Trades flagged expired by the sweeper.",
		}),
		sweepFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "tradeledger_sweep_failures_total",
			Help: "Expiry sweeps that failed.",
		}),
	}
}

// Submit counts one submit with the given outcome.
func (m *Metrics) Submit(outcome string) {
	if m == nil {
		return
	}
	m.submits.WithLabelValues(outcome).Inc()
}

// HistoryFailure counts a failed history append.
func (m *Metrics) HistoryFailure() {
	if m == nil {
		return
	}
	m.historyFailures.Inc()
}

// Publish counts a finished publish to topic.
func (m *Metrics) Publish(topic, outcome string) {
	if m == nil {
		return
	}
	m.publishes.WithLabelValues(topic, outcome).Inc()
}

// PublishRetry counts a retried send attempt.
func (m *Metrics) PublishRetry(topic string) {
	if m == nil {
		return
	}
	m.publishRetries.WithLabelValues(topic).Inc()
}

// BreakerState sets the breaker gauge for topic.
func (m *Metrics) BreakerState(topic string, state int) {
	if m == nil {
		return
	}
	m.breakerState.WithLabelValues(topic).Set(float64(state))
}

// Expired adds n sweeper-expired trades.
func (m *Metrics) Expired(n int) {
	if m == nil {
		return
	}
	m.expired.Add(float64(n))
}

// SweepFailure counts a failed sweep.
func (m *Metrics) SweepFailure() {
	if m == nil {
		return
	}
	m.sweepFailures.Inc()
}
