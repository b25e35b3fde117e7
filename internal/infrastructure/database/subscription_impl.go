package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nizardhr/askstan-sub000/internal/domain/billing"
	"github.com/nizardhr/askstan-sub000/internal/domain/models"
	"github.com/nizardhr/askstan-sub000/internal/domain/repositories"
)

type subscriptionRepository struct {
	db *PostgresDB
}

func NewSubscriptionRepository(db *PostgresDB) repositories.SubscriptionRepository {
	return &subscriptionRepository{db: db}
}

const subscriptionColumns = `id, account_id, provider_customer_ref, provider_subscription_ref,
       provider_price_ref, status, plan_type, current_period_start, current_period_end,
       cancel_at_period_end, canceled_at, trial_start, trial_end, promo_code,
       discount_amount, discount_percentage, created_at, updated_at`

// Upsert writes the whole subscription payload in one statement. The unique
// constraint on account_id is what makes concurrent reconciliations safe:
// the last writer wins for the entire row, there is no field-level merge.
func (r *subscriptionRepository) Upsert(ctx context.Context, sub *models.Subscription) (*models.Subscription, error) {
	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}

	query := `
		INSERT INTO subscriptions (id, account_id, provider_customer_ref, provider_subscription_ref,
		                           provider_price_ref, status, plan_type, current_period_start,
		                           current_period_end, cancel_at_period_end, canceled_at,
		                           trial_start, trial_end, promo_code, discount_amount, discount_percentage)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (account_id) DO UPDATE SET
			provider_customer_ref     = EXCLUDED.provider_customer_ref,
			provider_subscription_ref = EXCLUDED.provider_subscription_ref,
			provider_price_ref        = EXCLUDED.provider_price_ref,
			status                    = EXCLUDED.status,
			plan_type                 = EXCLUDED.plan_type,
			current_period_start      = EXCLUDED.current_period_start,
			current_period_end        = EXCLUDED.current_period_end,
			cancel_at_period_end      = EXCLUDED.cancel_at_period_end,
			canceled_at               = EXCLUDED.canceled_at,
			trial_start               = EXCLUDED.trial_start,
			trial_end                 = EXCLUDED.trial_end,
			promo_code                = EXCLUDED.promo_code,
			discount_amount           = EXCLUDED.discount_amount,
			discount_percentage       = EXCLUDED.discount_percentage,
			updated_at                = CURRENT_TIMESTAMP
		RETURNING ` + subscriptionColumns

	var stored models.Subscription
	err := r.db.QueryRowxContext(ctx, query,
		sub.ID, sub.AccountID, sub.ProviderCustomerRef, sub.ProviderSubscriptionRef,
		sub.ProviderPriceRef, sub.Status, sub.PlanType, sub.CurrentPeriodStart,
		sub.CurrentPeriodEnd, sub.CancelAtPeriodEnd, sub.CanceledAt,
		sub.TrialStart, sub.TrialEnd, sub.PromoCode, sub.DiscountAmount,
		sub.DiscountPercentage,
	).StructScan(&stored)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert subscription: %w", err)
	}

	return &stored, nil
}

func (r *subscriptionRepository) GetByAccountID(ctx context.Context, accountID int64) (*models.Subscription, error) {
	var sub models.Subscription
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE account_id = $1`

	err := r.db.GetContext(ctx, &sub, query, accountID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}

	return &sub, nil
}

func (r *subscriptionRepository) GetByProviderSubscriptionRef(ctx context.Context, subscriptionRef string) (*models.Subscription, error) {
	var sub models.Subscription
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE provider_subscription_ref = $1`

	err := r.db.GetContext(ctx, &sub, query, subscriptionRef)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get subscription by provider ref: %w", err)
	}

	return &sub, nil
}

// UpdateFromEvent applies event-sourced fields under the staleness guard:
// the WHERE clause refuses to touch a row whose updated_at is newer than the
// event. The guard lives in the statement so it holds under concurrent
// writers without application-level locking.
func (r *subscriptionRepository) UpdateFromEvent(ctx context.Context, subscriptionRef string, fields repositories.EventFields, eventTime time.Time) (*models.Subscription, error) {
	query := `
		UPDATE subscriptions
		SET status               = $2,
		    current_period_start = COALESCE($3, current_period_start),
		    current_period_end   = COALESCE($4, current_period_end),
		    cancel_at_period_end = COALESCE($5, cancel_at_period_end),
		    canceled_at          = COALESCE($6, canceled_at),
		    updated_at           = CURRENT_TIMESTAMP
		WHERE provider_subscription_ref = $1 AND updated_at <= $7
		RETURNING ` + subscriptionColumns

	var sub models.Subscription
	err := r.db.QueryRowxContext(ctx, query,
		subscriptionRef, fields.Status, fields.CurrentPeriodStart,
		fields.CurrentPeriodEnd, fields.CancelAtPeriodEnd, fields.CanceledAt,
		eventTime,
	).StructScan(&sub)
	if err == nil {
		return &sub, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to apply subscription event: %w", err)
	}

	// No row updated: either the ref is unknown or the event is stale.
	existing, lookErr := r.GetByProviderSubscriptionRef(ctx, subscriptionRef)
	if lookErr != nil {
		return nil, lookErr
	}
	if existing != nil {
		return nil, billing.ErrStaleEvent
	}
	return nil, fmt.Errorf("no subscription for provider ref %s", subscriptionRef)
}

// AppendBillingHistory inserts one ledger row. The unique index on
// provider_session_ref is the durable backstop behind the redis dedup guard;
// a conflicting insert is treated as already recorded.
func (r *subscriptionRepository) AppendBillingHistory(ctx context.Context, entry *models.BillingHistoryEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}

	query := `
		INSERT INTO billing_history (id, account_id, subscription_id, provider_session_ref,
		                             amount, currency, status, paid_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (provider_session_ref) DO NOTHING`

	_, err := r.db.ExecContext(ctx, query, entry.ID, entry.AccountID, entry.SubscriptionID,
		entry.ProviderSessionRef, entry.Amount, entry.Currency, entry.Status, entry.PaidAt)
	if err != nil {
		return fmt.Errorf("failed to append billing history: %w", err)
	}

	return nil
}

func (r *subscriptionRepository) AppendPromoUsage(ctx context.Context, usage *models.PromoUsage) error {
	if usage.ID == uuid.Nil {
		usage.ID = uuid.New()
	}
	if usage.AppliedAt.IsZero() {
		usage.AppliedAt = time.Now()
	}

	query := `
		INSERT INTO promo_code_usages (id, account_id, subscription_id, promo_code,
		                               provider_promotion_ref, discount_type, discount_value, applied_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.db.ExecContext(ctx, query, usage.ID, usage.AccountID, usage.SubscriptionID,
		usage.PromoCode, usage.ProviderPromotionRef, usage.DiscountType, usage.DiscountValue,
		usage.AppliedAt)
	if err != nil {
		return fmt.Errorf("failed to append promo usage: %w", err)
	}

	return nil
}
