// Package metrics exposes the RFQ core's Prometheus instrumentation:
// signature verification outcomes, vault call latency, circuit breaker
// state, and settlement outcomes.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds every counter/gauge/histogram the core exports.
type Collector struct {
	SignatureVerifications *prometheus.CounterVec
	VaultCallLatency       *prometheus.HistogramVec
	VaultCircuitState      *prometheus.GaugeVec
	SettlementOutcomes     *prometheus.CounterVec
	ActiveRequests         prometheus.Gauge
}

// New registers and returns the metrics collector.
func New() *Collector {
	return &Collector{
		SignatureVerifications: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "rfq_signature_verifications_total",
			Help: "WOTS+ signature verification outcomes by operation and result.",
		}, []string{"operation", "result"}),
		VaultCallLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rfq_vault_call_latency_seconds",
			Help:    "Vault client call latency by chain and endpoint.",
			Buckets: prometheus.DefBuckets,
		}, []string{"chain_id", "endpoint"}),
		VaultCircuitState: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rfq_vault_circuit_state",
			Help: "Per-chain vault circuit breaker state (0=closed, 1=half_open, 2=open).",
		}, []string{"chain_id"}),
		SettlementOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "rfq_settlement_outcomes_total",
			Help: "Settlement attempts by outcome (settled, partial, failed).",
		}, []string{"outcome"}),
		ActiveRequests: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "rfq_active_quote_requests",
			Help: "Number of quote requests currently in active status.",
		}),
	}
}

// RecordSignatureVerification records a WOTS+ verification outcome for an
// operation kind ("create_quote_request", "accept_quote", ...).
func (c *Collector) RecordSignatureVerification(operation string, valid bool) {
	result := "invalid"
	if valid {
		result = "valid"
	}
	c.SignatureVerifications.WithLabelValues(operation, result).Inc()
}

// ObserveVaultCall records the latency of one vault client call.
func (c *Collector) ObserveVaultCall(chainID, endpoint string, d time.Duration) {
	c.VaultCallLatency.WithLabelValues(chainID, endpoint).Observe(d.Seconds())
}

// SetCircuitState reports a chain's breaker state as a gauge value.
func (c *Collector) SetCircuitState(chainID, state string) {
	var v float64
	switch state {
	case "closed":
		v = 0
	case "half_open":
		v = 1
	case "open":
		v = 2
	}
	c.VaultCircuitState.WithLabelValues(chainID).Set(v)
}

// RecordSettlementOutcome tags a completed settlement attempt.
func (c *Collector) RecordSettlementOutcome(outcome string) {
	c.SettlementOutcomes.WithLabelValues(outcome).Inc()
}

// Handler returns the /metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
