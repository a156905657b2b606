package metrics

import "github.com/prometheus/client_golang/prometheus"

// BillingMetrics records webhook and credit ledger activity.
type BillingMetrics struct {
	webhookProcessed *prometheus.CounterVec
	webhookFailed    *prometheus.CounterVec
	webhookDuplicate prometheus.Counter
	deducts          *prometheus.CounterVec
}

// NewBillingMetrics registers the billing metrics on the provided registerer.
func NewBillingMetrics(reg prometheus.Registerer) *BillingMetrics {
	if reg == nil {
		return &BillingMetrics{}
	}
	webhookProcessed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_processed",
		Help: "Webhook events handled to completion.",
	}, []string{"event_type"})
	webhookFailed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_failed",
		Help: "Webhook events that failed handling.",
	}, []string{"event_type"})
	webhookDuplicate := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "webhook_events_duplicate",
		Help: "Webhook events suppressed by the idempotency guard.",
	})
	deducts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "credit_deducts",
		Help: "Credit deduction attempts by outcome.",
	}, []string{"outcome"})
	reg.MustRegister(webhookProcessed, webhookFailed, webhookDuplicate, deducts)
	return &BillingMetrics{
		webhookProcessed: webhookProcessed,
		webhookFailed:    webhookFailed,
		webhookDuplicate: webhookDuplicate,
		deducts:          deducts,
	}
}

// IncWebhookProcessed increments the processed counter for the event type.
func (b *BillingMetrics) IncWebhookProcessed(eventType string) {
	if b == nil || b.webhookProcessed == nil {
		return
	}
	b.webhookProcessed.WithLabelValues(normalizeLabel(eventType)).Inc()
}

// IncWebhookFailed increments the failure counter for the event type.
func (b *BillingMetrics) IncWebhookFailed(eventType string) {
	if b == nil || b.webhookFailed == nil {
		return
	}
	b.webhookFailed.WithLabelValues(normalizeLabel(eventType)).Inc()
}

// IncWebhookDuplicate counts an event suppressed as already processed.
func (b *BillingMetrics) IncWebhookDuplicate() {
	if b == nil || b.webhookDuplicate == nil {
		return
	}
	b.webhookDuplicate.Inc()
}

// IncDeduct counts a deduction attempt with its outcome label.
func (b *BillingMetrics) IncDeduct(outcome string) {
	if b == nil || b.deducts == nil {
		return
	}
	b.deducts.WithLabelValues(normalizeLabel(outcome)).Inc()
}
