package models

import "time"

type EventKind string

const (
	EventCheckoutCompleted    EventKind = "checkout.session.completed"
	EventInvoicePaid          EventKind = "invoice.paid"
	EventInvoicePaymentFailed EventKind = "invoice.payment_failed"
	EventSubscriptionUpdated  EventKind = "customer.subscription.updated"
	EventSubscriptionDeleted  EventKind = "customer.subscription.deleted"
	EventUnknown              EventKind = "unknown"
)

// WebhookEvent is the closed set of provider events the reconciliation
// engine acts on. The gateway adapter validates required fields before an
// event reaches the engine; exactly one of the payload pointers is set for
// recognized kinds, none for EventUnknown.
type WebhookEvent struct {
	ID         string
	Kind       EventKind
	OccurredAt time.Time

	Checkout     *CheckoutCompletedPayload
	Invoice      *InvoicePayload
	Subscription *SubscriptionEventPayload
}

// CheckoutCompletedPayload carries the fields of a completed checkout
// session needed to provision an entitlement without a fresh retrieval.
type CheckoutCompletedPayload struct {
	SessionRef      string
	AccountID       int64
	PlanType        PlanType
	PaymentStatus   string
	CustomerRef     string
	SubscriptionRef string
	AmountTotal     int64
	Currency        string
	PromoCode       string
	// DiscountPercentage mirrors the session metadata set at checkout
	// creation; 100 marks a fully comped attempt.
	DiscountPercentage float64
}

type InvoicePayload struct {
	SubscriptionRef string
	AmountPaid      int64
	Currency        string
}

type SubscriptionEventPayload struct {
	SubscriptionRef    string
	Status             SubscriptionStatus
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	CancelAtPeriodEnd  bool
}
