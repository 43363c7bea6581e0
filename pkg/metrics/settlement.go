package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Webhook outcomes.
const (
	OutcomeProcessed = "processed"
	OutcomeDuplicate = "duplicate"
	OutcomeRejected  = "rejected"
	OutcomeFailed    = "failed"
)

// SettlementMetrics records order, payment, webhook and carrier activity. A nil
// *SettlementMetrics is valid and records nothing.
type SettlementMetrics struct {
	webhooks      *prometheus.CounterVec
	captures      *prometheus.CounterVec
	orders        *prometheus.CounterVec
	stockConflict prometheus.Counter
	providerCalls *prometheus.HistogramVec
	outbox        *prometheus.CounterVec
}

// NewSettlementMetrics registers the settlement metrics on the provided registerer.
func NewSettlementMetrics(reg prometheus.Registerer) *SettlementMetrics {
	if reg == nil {
		return &SettlementMetrics{}
	}
	webhooks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_total",
		Help: "Inbound webhook deliveries by provider and outcome.",
	}, []string{"provider", "outcome"})
	captures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_captures_total",
		Help: "Payments moved to CAPTURED, by gateway and trigger.",
	}, []string{"gateway", "trigger"})
	orders := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_total",
		Help: "Order engine results by outcome.",
	}, []string{"outcome"})
	stockConflict := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stock_conflicts_total",
		Help: "Conditional stock decrements that lost to a concurrent order.",
	})
	providerCalls := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "provider_call_duration_seconds",
		Help:    "Duration of outbound gateway and carrier calls.",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider", "operation", "result"})
	outbox := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_publish_total",
		Help: "Outbox events handed to the event sink.",
	}, []string{"sink", "result"})
	reg.MustRegister(webhooks, captures, orders, stockConflict, providerCalls, outbox)
	return &SettlementMetrics{
		webhooks:      webhooks,
		captures:      captures,
		orders:        orders,
		stockConflict: stockConflict,
		providerCalls: providerCalls,
		outbox:        outbox,
	}
}

func (m *SettlementMetrics) WebhookReceived(provider, outcome string) {
	if m == nil || m.webhooks == nil {
		return
	}
	m.webhooks.WithLabelValues(normalizeLabel(provider), normalizeLabel(outcome)).Inc()
}

func (m *SettlementMetrics) PaymentCaptured(gateway, trigger string) {
	if m == nil || m.captures == nil {
		return
	}
	m.captures.WithLabelValues(normalizeLabel(gateway), normalizeLabel(trigger)).Inc()
}

func (m *SettlementMetrics) OrderOutcome(outcome string) {
	if m == nil || m.orders == nil {
		return
	}
	m.orders.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (m *SettlementMetrics) StockConflict() {
	if m == nil || m.stockConflict == nil {
		return
	}
	m.stockConflict.Inc()
}

// ObserveProviderCall records an outbound call; err only picks the result label.
func (m *SettlementMetrics) ObserveProviderCall(provider, operation string, duration time.Duration, err error) {
	if m == nil || m.providerCalls == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.providerCalls.WithLabelValues(normalizeLabel(provider), normalizeLabel(operation), result).Observe(duration.Seconds())
}

func (m *SettlementMetrics) OutboxPublished(sink string, err error) {
	if m == nil || m.outbox == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.outbox.WithLabelValues(normalizeLabel(sink), result).Inc()
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
