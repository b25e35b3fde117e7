package services

import (
	"context"
	"log/slog"

	"github.com/nizardhr/askstan-sub000/internal/domain/models"
	"github.com/nizardhr/askstan-sub000/internal/domain/repositories"
)

type DenyReason string

const (
	DenyNone                 DenyReason = ""
	DenyNoActiveSubscription DenyReason = "no_active_subscription"
	DenyPastDue              DenyReason = "past_due"
	DenyCanceled             DenyReason = "canceled"
)

type AccessDecision struct {
	Allowed bool
	Reason  DenyReason
	// Provisional marks an allow granted through the reconcile-in-progress
	// bypass rather than a stored entitlement.
	Provisional bool
}

// AccessGate is the synchronous predicate in front of subscription-gated
// functionality. Read-only against the entitlement store.
type AccessGate struct {
	store  repositories.SubscriptionRepository
	state  CheckoutState
	logger *slog.Logger
}

func NewAccessGate(store repositories.SubscriptionRepository, state CheckoutState, logger *slog.Logger) *AccessGate {
	return &AccessGate{store: store, state: state, logger: logger}
}

// CanAccess decides whether an authenticated account may reach gated
// functionality. While a checkout redirect is actively being reconciled the
// account is allowed provisionally, so the user is not bounced back to the
// paywall mid-confirmation; that bypass is a redis key with a hard TTL and
// cannot outlive a stuck reconciliation.
func (g *AccessGate) CanAccess(ctx context.Context, accountID int64, requireSubscription bool) AccessDecision {
	if !requireSubscription {
		return AccessDecision{Allowed: true}
	}

	sub, err := g.store.GetByAccountID(ctx, accountID)
	if err != nil {
		g.logger.Error("access check failed to read subscription",
			"account_id", accountID, "error", err)
	}

	if sub != nil && sub.Status.Entitled() {
		return AccessDecision{Allowed: true}
	}

	if g.state.ReconcileInProgress(ctx, accountID) {
		return AccessDecision{Allowed: true, Provisional: true}
	}

	return AccessDecision{Allowed: false, Reason: denyReasonFor(sub)}
}

func denyReasonFor(sub *models.Subscription) DenyReason {
	if sub == nil {
		return DenyNoActiveSubscription
	}
	switch sub.Status {
	case models.StatusPastDue, models.StatusUnpaid:
		return DenyPastDue
	case models.StatusCanceled, models.StatusIncompleteExpired:
		return DenyCanceled
	default:
		return DenyNoActiveSubscription
	}
}
