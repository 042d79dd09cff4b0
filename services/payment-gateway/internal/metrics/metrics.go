// services/payment-gateway/internal/metrics/metrics.go
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	ReconcileOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_reconcile_outcomes_total",
			Help: "Confirmations reconciled, by channel and outcome",
		},
		[]string{"source", "outcome"},
	)

	ReconcileConflicts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_reconcile_conflicts_total",
			Help: "Confirmations that contradicted an already settled transaction",
		},
		[]string{"source"},
	)

	NotifyDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_notify_deliveries_total",
			Help: "Notify webhook deliveries, by handling result",
		},
		[]string{"result"},
	)

	LegacyTradeReferences = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_legacy_trade_reference_decodes_total",
			Help: "Trade references decoded with the previous generation format",
		},
	)

	Initiations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_initiations_total",
			Help: "Checkout initiations, by payment method and result",
		},
		[]string{"method", "result"},
	)

	RefundRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_refund_requests_total",
			Help: "Refund requests sent to the gateway, by result",
		},
		[]string{"result"},
	)

	GatewayLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_outbound_request_seconds",
			Help:    "Latency of outbound calls to the gateway",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
)

// RegisterMetrics registers every collector with reg. Call once at startup.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(
		ReconcileOutcomes,
		ReconcileConflicts,
		NotifyDeliveries,
		LegacyTradeReferences,
		Initiations,
		RefundRequests,
		GatewayLatency,
	)
}
