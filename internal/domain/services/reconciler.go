package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/nizardhr/askstan-sub000/internal/domain/billing"
	"github.com/nizardhr/askstan-sub000/internal/domain/models"
	"github.com/nizardhr/askstan-sub000/internal/domain/repositories"
)

// CheckoutState is the ephemeral coordination store around checkout
// attempts (redis-backed in production). The engine uses it for checkout
// intents and ledger dedup; the orchestrator for session consumption and
// the access bypass marker.
type CheckoutState interface {
	SaveIntent(ctx context.Context, sessionRef string, intent *models.CheckoutIntent) error
	GetIntent(ctx context.Context, sessionRef string) (*models.CheckoutIntent, error)
	ConsumeSession(ctx context.Context, sessionRef string) (bool, error)
	ReleaseSession(ctx context.Context, sessionRef string) error
	SetReconcileInProgress(ctx context.Context, accountID int64) error
	ClearReconcileInProgress(ctx context.Context, accountID int64) error
	ReconcileInProgress(ctx context.Context, accountID int64) bool
	MarkLedgerWrite(ctx context.Context, kind, sessionRef string) (bool, error)
}

// Reconciler converts a checkout outcome, reported through any trigger
// path, into one idempotent write against the entitlement store. Redirect
// callbacks, webhook events, and manual retries all converge here; there is
// no other writer of subscription rows.
type Reconciler struct {
	gateway  PaymentGateway
	store    repositories.SubscriptionRepository
	accounts repositories.AccountRepository
	state    CheckoutState
	logger   *slog.Logger
	now      func() time.Time
}

func NewReconciler(
	gateway PaymentGateway,
	store repositories.SubscriptionRepository,
	accounts repositories.AccountRepository,
	state CheckoutState,
	logger *slog.Logger,
) *Reconciler {
	return &Reconciler{
		gateway:  gateway,
		store:    store,
		accounts: accounts,
		state:    state,
		logger:   logger,
		now:      time.Now,
	}
}

// ReconcileCheckout is the redirect-path (and manual-retry) entry point.
// The returned outcome is always populated; the error carries the taxonomy
// category so callers can decide on retries.
func (r *Reconciler) ReconcileCheckout(ctx context.Context, accountID int64, sessionRef string) (*billing.Outcome, error) {
	sess, err := r.gateway.RetrieveSession(ctx, sessionRef)
	if err != nil {
		return billing.Failed(billing.ReasonForError(err)), err
	}

	intent, intentErr := r.state.GetIntent(ctx, sessionRef)
	if intentErr != nil {
		r.logger.Warn("failed to load checkout intent", "session_ref", sessionRef, "error", intentErr)
	}

	// The session ref comes from the request body; only its owner may turn
	// it into an entitlement.
	if !sessionOwnedBy(accountID, sess, intent) {
		r.logger.Warn("checkout session does not belong to caller",
			"session_ref", sessionRef, "account_id", accountID)
		return billing.Failed(billing.ReasonSubscriptionMissing), billing.ErrSessionNotFound
	}

	if !paymentSettled(sess.PaymentStatus) {
		return billing.Failed(billing.ReasonPaymentIncomplete), billing.ErrPaymentIncomplete
	}

	// Fully comped checkout: no billing object exists at the provider, the
	// entitlement is granted on synthetic period bounds.
	if sess.SubscriptionRef == "" && fullyDiscounted(intent, sess.Metadata) {
		sub, err := r.grantFree(ctx, accountID, sessionRef, planFromSession(intent, sess.Metadata), intent)
		if err != nil {
			return billing.Failed(billing.ReasonPersistenceFailed), err
		}
		return billing.Entitled(sub), nil
	}

	if sess.SubscriptionRef == "" {
		// A paid session without a subscription is an upstream
		// inconsistency, not a user mistake.
		r.logger.Error("paid checkout session has no subscription",
			"session_ref", sessionRef, "account_id", accountID)
		return billing.Failed(billing.ReasonSubscriptionMissing), billing.ErrSubscriptionMissing
	}

	detail, err := r.gateway.RetrieveSubscriptionDetail(ctx, sess.SubscriptionRef)
	if err != nil {
		return billing.Failed(billing.ReasonForError(err)), err
	}

	if !detail.Status.Entitled() {
		err := &billing.SubscriptionNotActiveError{Status: detail.Status}
		out := billing.Failed(billing.ReasonSubscriptionNotActive)
		out.ProviderStatus = detail.Status
		return out, err
	}

	sub := r.buildSubscription(accountID, sess, detail, intent)

	stored, err := r.store.Upsert(ctx, sub)
	if err != nil {
		// The one fatal happy-path error: entitlement must not be reported
		// until it is durable.
		r.logger.Error("entitlement upsert failed", "account_id", accountID, "error", err)
		return billing.Failed(billing.ReasonPersistenceFailed),
			fmt.Errorf("%w: %v", billing.ErrPersistenceFailed, err)
	}

	r.recordSideEffects(ctx, stored, sessionRef, sess.AmountTotal, sess.Currency, intent)

	return billing.Entitled(stored), nil
}

// HandleEvent is the webhook-path entry point. Stale and unrecognized
// events return nil so the delivery is acknowledged; only persistence
// problems surface as errors (the provider retries those).
func (r *Reconciler) HandleEvent(ctx context.Context, ev *models.WebhookEvent) error {
	switch ev.Kind {
	case models.EventCheckoutCompleted:
		return r.applyCheckoutCompleted(ctx, ev)

	case models.EventInvoicePaid:
		return r.applyStatusEvent(ctx, ev, ev.Invoice.SubscriptionRef, repositories.EventFields{
			Status: models.StatusActive,
		})

	case models.EventInvoicePaymentFailed:
		return r.applyStatusEvent(ctx, ev, ev.Invoice.SubscriptionRef, repositories.EventFields{
			Status: models.StatusPastDue,
		})

	case models.EventSubscriptionUpdated:
		p := ev.Subscription
		fields := repositories.EventFields{
			Status:            p.Status,
			CancelAtPeriodEnd: &p.CancelAtPeriodEnd,
		}
		if !p.CurrentPeriodStart.IsZero() {
			fields.CurrentPeriodStart = &p.CurrentPeriodStart
		}
		if !p.CurrentPeriodEnd.IsZero() {
			fields.CurrentPeriodEnd = &p.CurrentPeriodEnd
		}
		return r.applyStatusEvent(ctx, ev, p.SubscriptionRef, fields)

	case models.EventSubscriptionDeleted:
		canceledAt := r.now()
		return r.applyStatusEvent(ctx, ev, ev.Subscription.SubscriptionRef, repositories.EventFields{
			Status:     models.StatusCanceled,
			CanceledAt: &canceledAt,
		})

	default:
		// Forward compatibility: acknowledge, touch nothing.
		r.logger.Debug("ignoring unrecognized event", "event_id", ev.ID)
		return nil
	}
}

func (r *Reconciler) applyCheckoutCompleted(ctx context.Context, ev *models.WebhookEvent) error {
	p := ev.Checkout

	if !paymentSettled(p.PaymentStatus) {
		r.logger.Info("checkout completed event without settled payment",
			"session_ref", p.SessionRef, "payment_status", p.PaymentStatus)
		return nil
	}

	intent, err := r.state.GetIntent(ctx, p.SessionRef)
	if err != nil {
		r.logger.Warn("failed to load checkout intent", "session_ref", p.SessionRef, "error", err)
	}

	if p.SubscriptionRef == "" {
		if fullyDiscounted(intent, nil) || p.DiscountPercentage == 100 {
			_, err := r.grantFree(ctx, p.AccountID, p.SessionRef, p.PlanType, intent)
			return err
		}
		r.logger.Error("checkout completed event has no subscription", "session_ref", p.SessionRef)
		return nil
	}

	// Period bounds are not on the checkout payload; this is the one event
	// type that still needs a retrieval.
	detail, err := r.gateway.RetrieveSubscriptionDetail(ctx, p.SubscriptionRef)
	if err != nil {
		return err
	}

	sess := &CheckoutSessionInfo{
		SessionRef:      p.SessionRef,
		SubscriptionRef: p.SubscriptionRef,
		CustomerRef:     p.CustomerRef,
		AmountTotal:     p.AmountTotal,
		Currency:        p.Currency,
	}

	sub := r.buildSubscription(p.AccountID, sess, detail, intent)
	if sub.PlanType == "" {
		sub.PlanType = p.PlanType
	}

	stored, err := r.store.Upsert(ctx, sub)
	if err != nil {
		r.logger.Error("entitlement upsert failed", "account_id", p.AccountID, "error", err)
		return fmt.Errorf("%w: %v", billing.ErrPersistenceFailed, err)
	}

	r.recordSideEffects(ctx, stored, p.SessionRef, p.AmountTotal, p.Currency, intent)
	return nil
}

func (r *Reconciler) applyStatusEvent(ctx context.Context, ev *models.WebhookEvent, subscriptionRef string, fields repositories.EventFields) error {
	_, err := r.store.UpdateFromEvent(ctx, subscriptionRef, fields, ev.OccurredAt)
	if errors.Is(err, billing.ErrStaleEvent) {
		r.logger.Debug("discarding stale event",
			"event_id", ev.ID, "subscription_ref", subscriptionRef, "occurred_at", ev.OccurredAt)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to apply %s: %w", ev.Kind, err)
	}
	return nil
}

// GrantFreeSubscription provisions the entitlement for a fully
// discounting promotion code without any provider billing object. Used by
// checkout creation when the hosted payment page is bypassed entirely.
func (r *Reconciler) GrantFreeSubscription(ctx context.Context, accountID int64, plan models.PlanType, promo *PromoValidation) (*models.Subscription, error) {
	intent := &models.CheckoutIntent{
		AccountID:          accountID,
		PlanType:           plan,
		DiscountPercentage: 100,
	}
	if promo != nil {
		intent.PromoCode = promo.Code
		intent.PromotionRef = promo.PromotionRef
		intent.DiscountType = string(promo.DiscountType)
		intent.DiscountValue = promo.DiscountValue
	}
	return r.grantFree(ctx, accountID, fmt.Sprintf("free_%d_%d", accountID, r.now().Unix()), plan, intent)
}

func (r *Reconciler) grantFree(ctx context.Context, accountID int64, sessionRef string, plan models.PlanType, intent *models.CheckoutIntent) (*models.Subscription, error) {
	if plan == "" {
		plan = models.PlanMonthly
	}

	now := r.now()
	periodEnd := now.Add(plan.PeriodLength())
	full := 100.0

	sub := &models.Subscription{
		AccountID:          accountID,
		Status:             models.StatusActive,
		PlanType:           plan,
		CurrentPeriodStart: &now,
		CurrentPeriodEnd:   &periodEnd,
		DiscountPercentage: &full,
	}
	if intent != nil && intent.PromoCode != "" {
		sub.PromoCode = &intent.PromoCode
	}

	stored, err := r.store.Upsert(ctx, sub)
	if err != nil {
		r.logger.Error("free grant upsert failed", "account_id", accountID, "error", err)
		return nil, fmt.Errorf("%w: %v", billing.ErrPersistenceFailed, err)
	}

	r.recordSideEffects(ctx, stored, sessionRef, 0, "", intent)

	return stored, nil
}

// GetSubscription returns the stored entitlement, refreshed from the
// provider when a billing object exists. The refresh is best-effort; a
// provider outage never hides the stored state.
func (r *Reconciler) GetSubscription(ctx context.Context, accountID int64) (*models.Subscription, error) {
	sub, err := r.store.GetByAccountID(ctx, accountID)
	if err != nil || sub == nil {
		return sub, err
	}

	if sub.ProviderSubscriptionRef == nil {
		return sub, nil
	}

	detail, err := r.gateway.RetrieveSubscriptionDetail(ctx, *sub.ProviderSubscriptionRef)
	if err != nil {
		r.logger.Warn("failed to refresh subscription from provider",
			"account_id", accountID, "error", err)
		return sub, nil
	}

	applySubscriptionDetail(sub, detail)
	stored, err := r.store.Upsert(ctx, sub)
	if err != nil {
		r.logger.Warn("failed to persist refreshed subscription", "account_id", accountID, "error", err)
		return sub, nil
	}

	return stored, nil
}

// CancelSubscription cancels at the provider (when a billing object exists)
// and records the result. Free grants are canceled locally only.
func (r *Reconciler) CancelSubscription(ctx context.Context, accountID int64, atPeriodEnd bool) (*models.Subscription, error) {
	sub, err := r.store.GetByAccountID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, fmt.Errorf("no subscription for account %d", accountID)
	}

	if sub.ProviderSubscriptionRef == nil {
		now := r.now()
		if atPeriodEnd {
			sub.CancelAtPeriodEnd = true
		} else {
			sub.Status = models.StatusCanceled
			sub.CanceledAt = &now
		}
		return r.store.Upsert(ctx, sub)
	}

	detail, err := r.gateway.CancelSubscription(ctx, *sub.ProviderSubscriptionRef, atPeriodEnd)
	if err != nil {
		return nil, err
	}

	applySubscriptionDetail(sub, detail)
	return r.store.Upsert(ctx, sub)
}

func (r *Reconciler) buildSubscription(accountID int64, sess *CheckoutSessionInfo, detail *SubscriptionDetail, intent *models.CheckoutIntent) *models.Subscription {
	sub := &models.Subscription{
		AccountID:         accountID,
		Status:            detail.Status,
		CancelAtPeriodEnd: detail.CancelAtPeriodEnd,
		CanceledAt:        detail.CanceledAt,
		TrialStart:        detail.TrialStart,
		TrialEnd:          detail.TrialEnd,
	}

	if sess.SubscriptionRef != "" {
		ref := sess.SubscriptionRef
		sub.ProviderSubscriptionRef = &ref
	}
	if sess.CustomerRef != "" {
		ref := sess.CustomerRef
		sub.ProviderCustomerRef = &ref
	}
	if detail.PriceRef != "" {
		ref := detail.PriceRef
		sub.ProviderPriceRef = &ref
	}
	if !detail.PeriodStart.IsZero() {
		start := detail.PeriodStart
		sub.CurrentPeriodStart = &start
	}
	if !detail.PeriodEnd.IsZero() {
		end := detail.PeriodEnd
		sub.CurrentPeriodEnd = &end
	}

	if intent != nil {
		sub.PlanType = intent.PlanType
	}
	if sub.PlanType == "" {
		sub.PlanType = models.PlanType(sess.Metadata["plan_type"])
	}

	if detail.Discount != nil {
		if detail.Discount.PromoCode != "" {
			code := detail.Discount.PromoCode
			sub.PromoCode = &code
		}
		switch detail.Discount.Type {
		case DiscountPercentage:
			v := detail.Discount.Value
			sub.DiscountPercentage = &v
		case DiscountFixed:
			v := int64(detail.Discount.Value)
			sub.DiscountAmount = &v
		}
	} else if intent != nil && intent.PromoCode != "" {
		code := intent.PromoCode
		sub.PromoCode = &code
		switch DiscountType(intent.DiscountType) {
		case DiscountPercentage:
			v := intent.DiscountValue
			sub.DiscountPercentage = &v
		case DiscountFixed:
			v := int64(intent.DiscountValue)
			sub.DiscountAmount = &v
		}
	}

	return sub
}

// recordSideEffects performs the best-effort writes that follow a
// successful entitlement: onboarding flag, billing history, promo usage.
// None of them may fail the reconciliation; each is deduped per session ref
// so replays do not double-append.
func (r *Reconciler) recordSideEffects(ctx context.Context, sub *models.Subscription, sessionRef string, amount int64, currency string, intent *models.CheckoutIntent) {
	if err := r.accounts.MarkOnboardingCompleted(ctx, sub.AccountID); err != nil {
		r.logger.Warn("failed to mark onboarding completed",
			"account_id", sub.AccountID, "error", err)
	}

	if amount > 0 {
		first, err := r.state.MarkLedgerWrite(ctx, "billing", sessionRef)
		if err != nil {
			r.logger.Warn("billing ledger dedup check failed", "session_ref", sessionRef, "error", err)
		}
		if err == nil && first {
			entry := &models.BillingHistoryEntry{
				AccountID:          sub.AccountID,
				SubscriptionID:     sub.ID,
				ProviderSessionRef: sessionRef,
				Amount:             amount,
				Currency:           currency,
				Status:             "paid",
				PaidAt:             r.now(),
			}
			if err := r.store.AppendBillingHistory(ctx, entry); err != nil {
				r.logger.Warn("failed to append billing history",
					"account_id", sub.AccountID, "session_ref", sessionRef, "error", err)
			}
		}
	}

	if sub.PromoCode == nil {
		return
	}

	first, err := r.state.MarkLedgerWrite(ctx, "promo", sessionRef)
	if err != nil {
		r.logger.Warn("promo ledger dedup check failed", "session_ref", sessionRef, "error", err)
	}
	if err != nil || !first {
		return
	}

	usage := &models.PromoUsage{
		AccountID:      sub.AccountID,
		SubscriptionID: sub.ID,
		PromoCode:      *sub.PromoCode,
		AppliedAt:      r.now(),
	}
	if intent != nil {
		usage.ProviderPromotionRef = intent.PromotionRef
		usage.DiscountType = intent.DiscountType
		usage.DiscountValue = intent.DiscountValue
	} else if sub.DiscountPercentage != nil {
		usage.DiscountType = string(DiscountPercentage)
		usage.DiscountValue = *sub.DiscountPercentage
	} else if sub.DiscountAmount != nil {
		usage.DiscountType = string(DiscountFixed)
		usage.DiscountValue = float64(*sub.DiscountAmount)
	}
	if err := r.store.AppendPromoUsage(ctx, usage); err != nil {
		r.logger.Warn("failed to append promo usage",
			"account_id", sub.AccountID, "session_ref", sessionRef, "error", err)
	}
}

func paymentSettled(status string) bool {
	return status == "paid" || status == "no_payment_required"
}

// sessionOwnedBy checks the caller against the account the session was
// created for. The stored intent is authoritative; the session metadata,
// written at creation, covers sessions whose intent has expired.
func sessionOwnedBy(accountID int64, sess *CheckoutSessionInfo, intent *models.CheckoutIntent) bool {
	if intent != nil {
		return intent.AccountID == accountID
	}
	owner, err := strconv.ParseInt(sess.Metadata["account_id"], 10, 64)
	return err == nil && owner == accountID
}

func fullyDiscounted(intent *models.CheckoutIntent, metadata map[string]string) bool {
	if intent != nil {
		return intent.DiscountPercentage == 100 ||
			(intent.DiscountType == string(DiscountPercentage) && intent.DiscountValue == 100)
	}
	return metadata["discount_percentage"] == "100"
}

func planFromSession(intent *models.CheckoutIntent, metadata map[string]string) models.PlanType {
	if intent != nil && intent.PlanType != "" {
		return intent.PlanType
	}
	return models.PlanType(metadata["plan_type"])
}

func applySubscriptionDetail(sub *models.Subscription, detail *SubscriptionDetail) {
	sub.Status = detail.Status
	sub.CancelAtPeriodEnd = detail.CancelAtPeriodEnd
	sub.CanceledAt = detail.CanceledAt
	if !detail.PeriodStart.IsZero() {
		start := detail.PeriodStart
		sub.CurrentPeriodStart = &start
	}
	if !detail.PeriodEnd.IsZero() {
		end := detail.PeriodEnd
		sub.CurrentPeriodEnd = &end
	}
	if detail.PriceRef != "" {
		ref := detail.PriceRef
		sub.ProviderPriceRef = &ref
	}
}
