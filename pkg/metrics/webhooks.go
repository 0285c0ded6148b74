package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// WebhookMetrics records provider webhook processing outcomes.
type WebhookMetrics struct {
	received *prometheus.CounterVec
	outcome  *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewWebhookMetrics registers the webhook metrics on the provided registerer.
func NewWebhookMetrics(reg prometheus.Registerer) *WebhookMetrics {
	if reg == nil {
		return &WebhookMetrics{}
	}
	received := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_received",
		Help: "Webhook events received per provider and type.",
	}, []string{"provider", "event_type"})
	outcome := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_outcome",
		Help: "Webhook processing outcomes per provider.",
	}, []string{"provider", "outcome"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "webhook_processing_seconds",
		Help:    "Webhook processing duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider"})
	reg.MustRegister(received, outcome, duration)
	return &WebhookMetrics{
		received: received,
		outcome:  outcome,
		duration: duration,
	}
}

// IncReceived counts a received event.
func (w *WebhookMetrics) IncReceived(provider, eventType string) {
	if w == nil || w.received == nil {
		return
	}
	w.received.WithLabelValues(normalizeLabel(provider), normalizeLabel(eventType)).Inc()
}

// IncOutcome counts a processing outcome (processed, ignored, failed).
func (w *WebhookMetrics) IncOutcome(provider, outcome string) {
	if w == nil || w.outcome == nil {
		return
	}
	w.outcome.WithLabelValues(normalizeLabel(provider), normalizeLabel(outcome)).Inc()
}

// ObserveDuration records how long an event took to process.
func (w *WebhookMetrics) ObserveDuration(provider string, duration time.Duration) {
	if w == nil || w.duration == nil {
		return
	}
	w.duration.WithLabelValues(normalizeLabel(provider)).Observe(duration.Seconds())
}
