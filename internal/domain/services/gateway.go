package services

import (
	"context"
	"time"

	"github.com/nizardhr/askstan-sub000/internal/domain/models"
)

type DiscountType string

const (
	DiscountPercentage DiscountType = "percentage"
	DiscountFixed      DiscountType = "amount"
)

// PromoValidation is the adapter's answer for a promotion code. A merely
// invalid code (unknown, expired, exhausted) is Valid=false with a Reason,
// never an error; errors are reserved for provider outages.
type PromoValidation struct {
	Valid          bool         `json:"valid"`
	Reason         string       `json:"reason,omitempty"`
	Code           string       `json:"code,omitempty"`
	PromotionRef   string       `json:"promotion_ref,omitempty"`
	DiscountType   DiscountType `json:"discount_type,omitempty"`
	DiscountValue  float64      `json:"discount_value,omitempty"`
	ExpiresAt      *time.Time   `json:"expires_at,omitempty"`
	MaxRedemptions int64        `json:"max_redemptions,omitempty"`
	TimesRedeemed  int64        `json:"times_redeemed,omitempty"`
}

// FullyDiscounting reports whether the code comps the subscription
// entirely, which bypasses the hosted payment page.
func (p *PromoValidation) FullyDiscounting() bool {
	return p != nil && p.Valid && p.DiscountType == DiscountPercentage && p.DiscountValue == 100
}

// CheckoutSessionInfo is the session snapshot the redirect path reconciles
// from.
type CheckoutSessionInfo struct {
	SessionRef      string
	PaymentStatus   string
	SubscriptionRef string
	CustomerRef     string
	AmountTotal     int64
	Currency        string
	Metadata        map[string]string
}

// SubscriptionDetail is the provider's view of a billing subscription.
type SubscriptionDetail struct {
	Status            models.SubscriptionStatus
	PeriodStart       time.Time
	PeriodEnd         time.Time
	TrialStart        *time.Time
	TrialEnd          *time.Time
	CancelAtPeriodEnd bool
	CanceledAt        *time.Time
	PriceRef          string
	Discount          *DiscountDetail
}

type DiscountDetail struct {
	PromoCode    string
	PromotionRef string
	Type         DiscountType
	Value        float64
}

type CheckoutSessionRequest struct {
	AccountID    int64
	Email        string
	Username     string
	PriceRef     string
	PlanType     models.PlanType
	PromoCode    string
	PromotionRef string
	SuccessURL   string
	CancelURL    string
}

// PaymentGateway wraps the payment provider. Network calls only, no local
// state; every call carries a bounded timeout and surfaces outages as
// billing.ErrProviderUnavailable rather than stalling the caller.
type PaymentGateway interface {
	CreateCheckoutSession(ctx context.Context, req *CheckoutSessionRequest) (checkoutURL, sessionRef string, err error)
	RetrieveSession(ctx context.Context, sessionRef string) (*CheckoutSessionInfo, error)
	RetrieveSubscriptionDetail(ctx context.Context, subscriptionRef string) (*SubscriptionDetail, error)
	ValidatePromotionCode(ctx context.Context, code string) (*PromoValidation, error)
	CancelSubscription(ctx context.Context, subscriptionRef string, atPeriodEnd bool) (*SubscriptionDetail, error)

	// VerifyWebhookSignature authenticates a raw webhook delivery and
	// returns the parsed event. billing.ErrInvalidSignature on mismatch.
	VerifyWebhookSignature(payload []byte, signatureHeader string) (*models.WebhookEvent, error)
}
