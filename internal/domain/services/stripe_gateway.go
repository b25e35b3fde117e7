package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"

	"github.com/nizardhr/askstan-sub000/internal/config"
	"github.com/nizardhr/askstan-sub000/internal/domain/billing"
	"github.com/nizardhr/askstan-sub000/internal/domain/models"
)

// providerTimeout bounds every provider call. A hung call surfaces as
// ErrProviderUnavailable, never a stalled user-facing flow.
const providerTimeout = 10 * time.Second

// StripeGateway implements PaymentGateway against Stripe. The API client is
// injected, not a package-level singleton, so the gateway owns its whole
// lifecycle from process start.
type StripeGateway struct {
	api           *client.API
	webhookSecret string
	billingCfg    *config.BillingConfig
	logger        *slog.Logger
}

func NewStripeGateway(api *client.API, cfg *config.BillingConfig, logger *slog.Logger) *StripeGateway {
	return &StripeGateway{
		api:           api,
		webhookSecret: cfg.WebhookSecret,
		billingCfg:    cfg,
		logger:        logger,
	}
}

func (g *StripeGateway) CreateCheckoutSession(ctx context.Context, req *CheckoutSessionRequest) (string, string, error) {
	if g.billingCfg.PlanForPriceRef(req.PriceRef) == "" {
		return "", "", billing.ErrInvalidPlan
	}

	ctx, cancel := context.WithTimeout(ctx, providerTimeout)
	defer cancel()

	customerRef, err := g.getOrCreateCustomer(ctx, req)
	if err != nil {
		return "", "", err
	}

	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		Customer:   stripe.String(customerRef),
		SuccessURL: stripe.String(req.SuccessURL + "?session_id={CHECKOUT_SESSION_ID}"),
		CancelURL:  stripe.String(req.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(req.PriceRef),
				Quantity: stripe.Int64(1),
			},
		},
		Metadata: map[string]string{
			"account_id": strconv.FormatInt(req.AccountID, 10),
			"plan_type":  string(req.PlanType),
		},
	}
	params.Context = ctx

	if req.PromotionRef != "" {
		params.Discounts = []*stripe.CheckoutSessionDiscountParams{
			{PromotionCode: stripe.String(req.PromotionRef)},
		}
		params.Metadata["promo_code"] = req.PromoCode
	}

	sess, err := g.api.CheckoutSessions.New(params)
	if err != nil {
		return "", "", g.mapError(err, nil, "create checkout session")
	}

	return sess.URL, sess.ID, nil
}

func (g *StripeGateway) RetrieveSession(ctx context.Context, sessionRef string) (*CheckoutSessionInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, providerTimeout)
	defer cancel()

	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx

	sess, err := g.api.CheckoutSessions.Get(sessionRef, params)
	if err != nil {
		return nil, g.mapError(err, billing.ErrSessionNotFound, "retrieve session")
	}

	info := &CheckoutSessionInfo{
		SessionRef:    sess.ID,
		PaymentStatus: string(sess.PaymentStatus),
		AmountTotal:   sess.AmountTotal,
		Currency:      string(sess.Currency),
		Metadata:      sess.Metadata,
	}
	if sess.Subscription != nil {
		info.SubscriptionRef = sess.Subscription.ID
	}
	if sess.Customer != nil {
		info.CustomerRef = sess.Customer.ID
	}

	return info, nil
}

func (g *StripeGateway) RetrieveSubscriptionDetail(ctx context.Context, subscriptionRef string) (*SubscriptionDetail, error) {
	ctx, cancel := context.WithTimeout(ctx, providerTimeout)
	defer cancel()

	params := &stripe.SubscriptionParams{}
	params.Context = ctx

	sub, err := g.api.Subscriptions.Get(subscriptionRef, params)
	if err != nil {
		return nil, g.mapError(err, billing.ErrSubscriptionMissing, "retrieve subscription")
	}

	return subscriptionDetailFromStripe(sub), nil
}

// ValidatePromotionCode looks the code up by its customer-facing string.
// "Not found", "expired", and "exhausted" are answers, not errors.
func (g *StripeGateway) ValidatePromotionCode(ctx context.Context, code string) (*PromoValidation, error) {
	ctx, cancel := context.WithTimeout(ctx, providerTimeout)
	defer cancel()

	params := &stripe.PromotionCodeListParams{Code: stripe.String(code)}
	params.Context = ctx

	iter := g.api.PromotionCodes.List(params)
	if !iter.Next() {
		if err := iter.Err(); err != nil {
			return nil, g.mapError(err, nil, "list promotion codes")
		}
		return &PromoValidation{Valid: false, Reason: "not_found", Code: code}, nil
	}

	promo := iter.PromotionCode()

	if !promo.Active {
		return &PromoValidation{Valid: false, Reason: "inactive", Code: code}, nil
	}
	if promo.ExpiresAt > 0 && time.Unix(promo.ExpiresAt, 0).Before(time.Now()) {
		return &PromoValidation{Valid: false, Reason: "expired", Code: code}, nil
	}
	if promo.MaxRedemptions > 0 && promo.TimesRedeemed >= promo.MaxRedemptions {
		return &PromoValidation{Valid: false, Reason: "exhausted", Code: code}, nil
	}
	if promo.Coupon == nil || !promo.Coupon.Valid {
		return &PromoValidation{Valid: false, Reason: "inactive", Code: code}, nil
	}

	validation := &PromoValidation{
		Valid:          true,
		Code:           code,
		PromotionRef:   promo.ID,
		MaxRedemptions: promo.MaxRedemptions,
		TimesRedeemed:  promo.TimesRedeemed,
	}
	if promo.ExpiresAt > 0 {
		expires := time.Unix(promo.ExpiresAt, 0)
		validation.ExpiresAt = &expires
	}
	if promo.Coupon.PercentOff > 0 {
		validation.DiscountType = DiscountPercentage
		validation.DiscountValue = promo.Coupon.PercentOff
	} else {
		validation.DiscountType = DiscountFixed
		validation.DiscountValue = float64(promo.Coupon.AmountOff)
	}

	return validation, nil
}

func (g *StripeGateway) CancelSubscription(ctx context.Context, subscriptionRef string, atPeriodEnd bool) (*SubscriptionDetail, error) {
	ctx, cancel := context.WithTimeout(ctx, providerTimeout)
	defer cancel()

	var sub *stripe.Subscription
	var err error
	if atPeriodEnd {
		params := &stripe.SubscriptionParams{CancelAtPeriodEnd: stripe.Bool(true)}
		params.Context = ctx
		sub, err = g.api.Subscriptions.Update(subscriptionRef, params)
	} else {
		params := &stripe.SubscriptionCancelParams{}
		params.Context = ctx
		sub, err = g.api.Subscriptions.Cancel(subscriptionRef, params)
	}
	if err != nil {
		return nil, g.mapError(err, billing.ErrSubscriptionMissing, "cancel subscription")
	}

	return subscriptionDetailFromStripe(sub), nil
}

func (g *StripeGateway) getOrCreateCustomer(ctx context.Context, req *CheckoutSessionRequest) (string, error) {
	params := &stripe.CustomerListParams{Email: stripe.String(req.Email)}
	params.Context = ctx
	iter := g.api.Customers.List(params)
	if iter.Next() {
		return iter.Customer().ID, nil
	}
	if err := iter.Err(); err != nil {
		return "", g.mapError(err, nil, "list customers")
	}

	createParams := &stripe.CustomerParams{
		Email: stripe.String(req.Email),
		Name:  stripe.String(req.Username),
		Metadata: map[string]string{
			"account_id": strconv.FormatInt(req.AccountID, 10),
		},
	}
	createParams.Context = ctx

	cust, err := g.api.Customers.New(createParams)
	if err != nil {
		return "", g.mapError(err, nil, "create customer")
	}
	return cust.ID, nil
}

// mapError converts provider errors into the boundary taxonomy. Raw
// provider messages stay inside the adapter; only the category crosses.
func (g *StripeGateway) mapError(err error, notFound error, op string) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		switch {
		case stripeErr.HTTPStatusCode == http.StatusNotFound,
			stripeErr.Code == stripe.ErrorCodeResourceMissing:
			if notFound != nil {
				g.logger.Warn("provider object missing", "op", op, "code", stripeErr.Code)
				return notFound
			}
		case stripeErr.HTTPStatusCode >= http.StatusInternalServerError:
			g.logger.Error("provider error", "op", op, "status", stripeErr.HTTPStatusCode)
			return billing.ErrProviderUnavailable
		}
		g.logger.Error("provider rejected request", "op", op, "code", stripeErr.Code)
		return fmt.Errorf("%s rejected by provider: %w", op, billing.ErrProviderUnavailable)
	}

	// Timeouts and transport failures.
	g.logger.Error("provider unreachable", "op", op, "error", err)
	return billing.ErrProviderUnavailable
}

func subscriptionDetailFromStripe(sub *stripe.Subscription) *SubscriptionDetail {
	detail := &SubscriptionDetail{
		Status:            models.SubscriptionStatus(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
	}
	if sub.CurrentPeriodStart > 0 {
		detail.PeriodStart = time.Unix(sub.CurrentPeriodStart, 0)
	}
	if sub.CurrentPeriodEnd > 0 {
		detail.PeriodEnd = time.Unix(sub.CurrentPeriodEnd, 0)
	}
	if sub.CanceledAt > 0 {
		canceled := time.Unix(sub.CanceledAt, 0)
		detail.CanceledAt = &canceled
	}
	if sub.TrialStart > 0 {
		start := time.Unix(sub.TrialStart, 0)
		detail.TrialStart = &start
	}
	if sub.TrialEnd > 0 {
		end := time.Unix(sub.TrialEnd, 0)
		detail.TrialEnd = &end
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
		detail.PriceRef = sub.Items.Data[0].Price.ID
	}
	if sub.Discount != nil && sub.Discount.Coupon != nil {
		discount := &DiscountDetail{}
		if sub.Discount.PromotionCode != nil {
			discount.PromotionRef = sub.Discount.PromotionCode.ID
			discount.PromoCode = sub.Discount.PromotionCode.Code
		}
		if sub.Discount.Coupon.PercentOff > 0 {
			discount.Type = DiscountPercentage
			discount.Value = sub.Discount.Coupon.PercentOff
		} else {
			discount.Type = DiscountFixed
			discount.Value = float64(sub.Discount.Coupon.AmountOff)
		}
		detail.Discount = discount
	}
	return detail
}
