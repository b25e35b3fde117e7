package services

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/nizardhr/askstan-sub000/internal/domain/billing"
	"github.com/nizardhr/askstan-sub000/internal/domain/models"
)

// VerifyWebhookSignature authenticates the delivery and normalizes the
// payload into the closed event variant the engine accepts. Recognized
// kinds get their required fields validated here, at the boundary; a
// recognized event missing required refs is a malformed-event error, while
// unrecognized kinds pass through as EventUnknown for the caller to
// acknowledge untouched.
func (g *StripeGateway) VerifyWebhookSignature(payload []byte, signatureHeader string) (*models.WebhookEvent, error) {
	event, err := webhook.ConstructEvent(payload, signatureHeader, g.webhookSecret)
	if err != nil {
		g.logger.Warn("webhook signature rejected", "error", err)
		return nil, billing.ErrInvalidSignature
	}

	return g.normalizeEvent(&event)
}

func (g *StripeGateway) normalizeEvent(event *stripe.Event) (*models.WebhookEvent, error) {
	out := &models.WebhookEvent{
		ID:         event.ID,
		Kind:       models.EventKind(event.Type),
		OccurredAt: time.Unix(event.Created, 0),
	}

	switch out.Kind {
	case models.EventCheckoutCompleted:
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return nil, fmt.Errorf("malformed checkout event: %w", err)
		}
		payload, err := g.checkoutPayload(&sess)
		if err != nil {
			return nil, err
		}
		out.Checkout = payload

	case models.EventInvoicePaid, models.EventInvoicePaymentFailed:
		var inv stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return nil, fmt.Errorf("malformed invoice event: %w", err)
		}
		if inv.Subscription == nil || inv.Subscription.ID == "" {
			return nil, fmt.Errorf("invoice event %s has no subscription: %w", event.ID, billing.ErrSubscriptionMissing)
		}
		out.Invoice = &models.InvoicePayload{
			SubscriptionRef: inv.Subscription.ID,
			AmountPaid:      inv.AmountPaid,
			Currency:        string(inv.Currency),
		}

	case models.EventSubscriptionUpdated, models.EventSubscriptionDeleted:
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, fmt.Errorf("malformed subscription event: %w", err)
		}
		if sub.ID == "" {
			return nil, fmt.Errorf("subscription event %s has no id: %w", event.ID, billing.ErrSubscriptionMissing)
		}
		payload := &models.SubscriptionEventPayload{
			SubscriptionRef:   sub.ID,
			Status:            models.SubscriptionStatus(sub.Status),
			CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		}
		if sub.CurrentPeriodStart > 0 {
			payload.CurrentPeriodStart = time.Unix(sub.CurrentPeriodStart, 0)
		}
		if sub.CurrentPeriodEnd > 0 {
			payload.CurrentPeriodEnd = time.Unix(sub.CurrentPeriodEnd, 0)
		}
		out.Subscription = payload

	default:
		out.Kind = models.EventUnknown
	}

	return out, nil
}

func (g *StripeGateway) checkoutPayload(sess *stripe.CheckoutSession) (*models.CheckoutCompletedPayload, error) {
	accountIDStr, ok := sess.Metadata["account_id"]
	if !ok {
		return nil, fmt.Errorf("checkout session %s has no account_id metadata", sess.ID)
	}
	accountID, err := strconv.ParseInt(accountIDStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("checkout session %s has invalid account_id: %w", sess.ID, err)
	}

	payload := &models.CheckoutCompletedPayload{
		SessionRef:    sess.ID,
		AccountID:     accountID,
		PlanType:      models.PlanType(sess.Metadata["plan_type"]),
		PaymentStatus: string(sess.PaymentStatus),
		AmountTotal:   sess.AmountTotal,
		Currency:      string(sess.Currency),
		PromoCode:     sess.Metadata["promo_code"],
	}
	if pct := sess.Metadata["discount_percentage"]; pct != "" {
		payload.DiscountPercentage, _ = strconv.ParseFloat(pct, 64)
	}
	if sess.Customer != nil {
		payload.CustomerRef = sess.Customer.ID
	}
	if sess.Subscription != nil {
		payload.SubscriptionRef = sess.Subscription.ID
	}

	return payload, nil
}
