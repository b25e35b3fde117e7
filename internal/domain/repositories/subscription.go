package repositories

import (
	"context"
	"time"

	"github.com/nizardhr/askstan-sub000/internal/domain/models"
)

// SubscriptionRepository is the entitlement store. It owns subscription,
// billing history, and promo usage rows; only the reconciliation engine
// writes through it, the access gate only reads.
type SubscriptionRepository interface {
	// Upsert writes the subscription keyed on account_id. The store holds a
	// uniqueness constraint on account_id, so concurrent reconciliations
	// converge on one row. The whole payload is written atomically;
	// updated_at is always refreshed. Returns the stored row.
	Upsert(ctx context.Context, sub *models.Subscription) (*models.Subscription, error)

	GetByAccountID(ctx context.Context, accountID int64) (*models.Subscription, error)
	GetByProviderSubscriptionRef(ctx context.Context, subscriptionRef string) (*models.Subscription, error)

	// UpdateFromEvent applies status/period fields to the row matched by
	// provider_subscription_ref, guarded against stale events: rows whose
	// updated_at is newer than eventTime are left untouched and
	// billing.ErrStaleEvent is returned.
	UpdateFromEvent(ctx context.Context, subscriptionRef string, fields EventFields, eventTime time.Time) (*models.Subscription, error)

	// Append operations are best-effort ledgers; failures are logged by the
	// caller, never propagated into the entitlement result.
	AppendBillingHistory(ctx context.Context, entry *models.BillingHistoryEntry) error
	AppendPromoUsage(ctx context.Context, usage *models.PromoUsage) error
}

// EventFields is the subset of subscription columns a webhook event may
// overwrite. Nil pointers leave the column unchanged.
type EventFields struct {
	Status             models.SubscriptionStatus
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	CancelAtPeriodEnd  *bool
	CanceledAt         *time.Time
}
