package models

import (
	"time"

	"github.com/google/uuid"
)

type SubscriptionStatus string

const (
	StatusActive            SubscriptionStatus = "active"
	StatusTrialing          SubscriptionStatus = "trialing"
	StatusPastDue           SubscriptionStatus = "past_due"
	StatusCanceled          SubscriptionStatus = "canceled"
	StatusUnpaid            SubscriptionStatus = "unpaid"
	StatusIncomplete        SubscriptionStatus = "incomplete"
	StatusIncompleteExpired SubscriptionStatus = "incomplete_expired"
	StatusInactive          SubscriptionStatus = "inactive"
)

// Entitled reports whether this status grants access to gated features.
// This is the single access-granting condition in the system.
func (s SubscriptionStatus) Entitled() bool {
	return s == StatusActive || s == StatusTrialing
}

type PlanType string

const (
	PlanMonthly PlanType = "monthly"
	PlanYearly  PlanType = "yearly"
)

// PeriodLength is the synthetic billing period used for comped
// subscriptions, which have no provider billing cycle to anchor to.
func (p PlanType) PeriodLength() time.Duration {
	if p == PlanYearly {
		return 365 * 24 * time.Hour
	}
	return 30 * 24 * time.Hour
}

// Subscription is the entitlement record. Exactly one row exists per
// account; all writers go through the upsert keyed on AccountID.
type Subscription struct {
	ID                      uuid.UUID          `json:"id" db:"id"`
	AccountID               int64              `json:"account_id" db:"account_id"`
	ProviderCustomerRef     *string            `json:"provider_customer_ref" db:"provider_customer_ref"`
	ProviderSubscriptionRef *string            `json:"provider_subscription_ref" db:"provider_subscription_ref"`
	ProviderPriceRef        *string            `json:"provider_price_ref" db:"provider_price_ref"`
	Status                  SubscriptionStatus `json:"status" db:"status"`
	PlanType                PlanType           `json:"plan_type" db:"plan_type"`
	CurrentPeriodStart      *time.Time         `json:"current_period_start" db:"current_period_start"`
	CurrentPeriodEnd        *time.Time         `json:"current_period_end" db:"current_period_end"`
	CancelAtPeriodEnd       bool               `json:"cancel_at_period_end" db:"cancel_at_period_end"`
	CanceledAt              *time.Time         `json:"canceled_at" db:"canceled_at"`
	TrialStart              *time.Time         `json:"trial_start" db:"trial_start"`
	TrialEnd                *time.Time         `json:"trial_end" db:"trial_end"`
	PromoCode               *string            `json:"promo_code" db:"promo_code"`
	DiscountAmount          *int64             `json:"discount_amount" db:"discount_amount"`
	DiscountPercentage      *float64           `json:"discount_percentage" db:"discount_percentage"`
	CreatedAt               time.Time          `json:"created_at" db:"created_at"`
	UpdatedAt               time.Time          `json:"updated_at" db:"updated_at"`
}

// FreeGrant reports whether this subscription was comped via a fully
// discounting promotion code. Such records have no provider billing object
// and stay valid until explicitly canceled.
func (s *Subscription) FreeGrant() bool {
	return s.ProviderSubscriptionRef == nil &&
		s.DiscountPercentage != nil && *s.DiscountPercentage == 100
}

// BillingHistoryEntry is one append-only ledger row per completed payment.
type BillingHistoryEntry struct {
	ID                 uuid.UUID `json:"id" db:"id"`
	AccountID          int64     `json:"account_id" db:"account_id"`
	SubscriptionID     uuid.UUID `json:"subscription_id" db:"subscription_id"`
	ProviderSessionRef string    `json:"provider_session_ref" db:"provider_session_ref"`
	Amount             int64     `json:"amount" db:"amount"`
	Currency           string    `json:"currency" db:"currency"`
	Status             string    `json:"status" db:"status"`
	PaidAt             time.Time `json:"paid_at" db:"paid_at"`
	CreatedAt          time.Time `json:"created_at" db:"created_at"`
}

// PromoUsage is the append-only audit row recorded once per successful
// promotion code application.
type PromoUsage struct {
	ID                   uuid.UUID         `json:"id" db:"id"`
	AccountID            int64             `json:"account_id" db:"account_id"`
	SubscriptionID       uuid.UUID         `json:"subscription_id" db:"subscription_id"`
	PromoCode            string            `json:"promo_code" db:"promo_code"`
	ProviderPromotionRef string            `json:"provider_promotion_ref" db:"provider_promotion_ref"`
	DiscountType         string            `json:"discount_type" db:"discount_type"`
	DiscountValue        float64           `json:"discount_value" db:"discount_value"`
	AppliedAt            time.Time         `json:"applied_at" db:"applied_at"`
	Metadata             map[string]string `json:"metadata" db:"-"`
}

// CheckoutIntent captures what the account was buying when a checkout
// session was created. It is ephemeral state, held in redis for the dedup
// window only, and consumed by the first successful reconciliation.
type CheckoutIntent struct {
	AccountID          int64    `json:"account_id"`
	PlanType           PlanType `json:"plan_type"`
	PromoCode          string   `json:"promo_code,omitempty"`
	PromotionRef       string   `json:"promotion_ref,omitempty"`
	DiscountType       string   `json:"discount_type,omitempty"`
	DiscountValue      float64  `json:"discount_value,omitempty"`
	DiscountPercentage float64  `json:"discount_percentage,omitempty"`
}
