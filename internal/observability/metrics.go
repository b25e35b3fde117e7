package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects the billing-path counters. Constructed once in main and
// passed by reference, matching the no-ambient-globals rule used for the
// provider and store clients.
type Metrics struct {
	ReconciliationOutcomes *prometheus.CounterVec
	WebhookEvents          *prometheus.CounterVec
	AccessDenials          *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ReconciliationOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "billing_reconciliation_outcomes_total",
			Help: "Reconciliation results by trigger path, terminal state and failure reason.",
		}, []string{"trigger", "state", "reason"}),
		WebhookEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "billing_webhook_events_total",
			Help: "Webhook deliveries by event kind and handling result.",
		}, []string{"kind", "result"}),
		AccessDenials: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "billing_access_denials_total",
			Help: "Gated requests denied, by reason.",
		}, []string{"reason"}),
	}
}
