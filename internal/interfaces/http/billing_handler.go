package http

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/nizardhr/askstan-sub000/internal/config"
	"github.com/nizardhr/askstan-sub000/internal/domain/billing"
	"github.com/nizardhr/askstan-sub000/internal/domain/models"
	"github.com/nizardhr/askstan-sub000/internal/domain/repositories"
	"github.com/nizardhr/askstan-sub000/internal/domain/services"
	"github.com/nizardhr/askstan-sub000/internal/interfaces/http/middleware"
	"github.com/nizardhr/askstan-sub000/internal/observability"
)

type BillingHandler struct {
	gateway      services.PaymentGateway
	reconciler   *services.Reconciler
	orchestrator *services.CheckoutOrchestrator
	accounts     repositories.AccountRepository
	state        services.CheckoutState
	billingCfg   *config.BillingConfig
	metrics      *observability.Metrics
	logger       *slog.Logger
}

func NewBillingHandler(
	gateway services.PaymentGateway,
	reconciler *services.Reconciler,
	orchestrator *services.CheckoutOrchestrator,
	accounts repositories.AccountRepository,
	state services.CheckoutState,
	billingCfg *config.BillingConfig,
	metrics *observability.Metrics,
	logger *slog.Logger,
) *BillingHandler {
	return &BillingHandler{
		gateway:      gateway,
		reconciler:   reconciler,
		orchestrator: orchestrator,
		accounts:     accounts,
		state:        state,
		billingCfg:   billingCfg,
		metrics:      metrics,
		logger:       logger,
	}
}

// CreateCheckout starts a checkout. A fully discounting promotion code
// provisions the subscription directly and sends the user straight to the
// dashboard, bypassing the hosted payment page.
func (h *BillingHandler) CreateCheckout(c *gin.Context) {
	accountID, ok := middleware.AccountID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization required"})
		return
	}

	var req struct {
		PlanType  string `json:"plan_type"`
		PromoCode string `json:"promo_code"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	plan := models.PlanType(req.PlanType)
	priceRef := h.billingCfg.PriceRefForPlan(req.PlanType)
	if priceRef == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid plan_type"})
		return
	}

	account, err := h.accounts.GetByID(c.Request.Context(), accountID)
	if err != nil {
		h.logger.Error("failed to load account", "account_id", accountID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load account"})
		return
	}

	var promo *services.PromoValidation
	if req.PromoCode != "" {
		promo, err = h.gateway.ValidatePromotionCode(c.Request.Context(), req.PromoCode)
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "payment provider unavailable"})
			return
		}
		if !promo.Valid {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid promo code", "reason": promo.Reason})
			return
		}

		if promo.FullyDiscounting() {
			sub, err := h.reconciler.GrantFreeSubscription(c.Request.Context(), accountID, plan, promo)
			if err != nil {
				h.logger.Error("free grant failed", "account_id", accountID, "error", err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to activate subscription"})
				return
			}
			h.metrics.ReconciliationOutcomes.WithLabelValues("checkout", string(billing.StateEntitled), "").Inc()
			c.JSON(http.StatusOK, gin.H{
				"checkout_url":      h.dashboardURL(),
				"free_subscription": true,
				"status":            string(sub.Status),
			})
			return
		}
	}

	sessionReq := &services.CheckoutSessionRequest{
		AccountID:  accountID,
		Email:      account.Email,
		Username:   account.Username,
		PriceRef:   priceRef,
		PlanType:   plan,
		SuccessURL: h.billingCfg.AppBaseURL + "/success",
		CancelURL:  h.billingCfg.AppBaseURL + "/pricing",
	}
	if promo != nil {
		sessionReq.PromoCode = promo.Code
		sessionReq.PromotionRef = promo.PromotionRef
	}

	checkoutURL, sessionRef, err := h.gateway.CreateCheckoutSession(c.Request.Context(), sessionReq)
	if err != nil {
		if errors.Is(err, billing.ErrInvalidPlan) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid plan_type"})
			return
		}
		h.logger.Error("failed to create checkout session", "account_id", accountID, "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "payment provider unavailable"})
		return
	}

	intent := &models.CheckoutIntent{
		AccountID: accountID,
		PlanType:  plan,
	}
	if promo != nil {
		intent.PromoCode = promo.Code
		intent.PromotionRef = promo.PromotionRef
		intent.DiscountType = string(promo.DiscountType)
		intent.DiscountValue = promo.DiscountValue
		if promo.DiscountType == services.DiscountPercentage {
			intent.DiscountPercentage = promo.DiscountValue
		}
	}
	if err := h.state.SaveIntent(c.Request.Context(), sessionRef, intent); err != nil {
		// Reconciliation falls back to session metadata.
		h.logger.Warn("failed to save checkout intent", "session_ref", sessionRef, "error", err)
	}

	c.JSON(http.StatusOK, gin.H{
		"checkout_url": checkoutURL,
		"session_ref":  sessionRef,
	})
}

// Reconcile is the authenticated redirect-path endpoint, also used as the
// manual "try again" control.
func (h *BillingHandler) Reconcile(c *gin.Context) {
	accountID, ok := middleware.AccountID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization required"})
		return
	}

	var req struct {
		SessionRef string `json:"session_ref"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.SessionRef == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "session_ref is required"})
		return
	}

	outcome, err := h.orchestrator.Confirm(c.Request.Context(), accountID, req.SessionRef)
	h.recordOutcome("reconcile", outcome)

	if outcome == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "reconciliation failed"})
		return
	}

	switch outcome.State {
	case billing.StateEntitled:
		c.JSON(http.StatusOK, gin.H{
			"success":   true,
			"status":    string(outcome.Subscription.Status),
			"plan_type": string(outcome.Subscription.PlanType),
		})
	default:
		if errors.Is(err, billing.ErrPersistenceFailed) {
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": string(outcome.Reason)})
			return
		}
		body := gin.H{"success": false, "error": string(outcome.Reason)}
		if outcome.ProviderStatus != "" {
			body["status"] = string(outcome.ProviderStatus)
		}
		c.JSON(http.StatusOK, body)
	}
}

// CheckoutSuccess is the browser landing page after the hosted payment
// flow. It drives reconciliation once, then redirects to the dashboard with
// the session ref stripped from the visible URL so history replays cannot
// re-trigger the flow.
func (h *BillingHandler) CheckoutSuccess(c *gin.Context) {
	sessionRef := c.Query("session_id")
	if sessionRef == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "session_id is required"})
		return
	}

	accountID, err := h.resolveAccount(c, sessionRef)
	if err != nil {
		h.logger.Error("failed to resolve account for checkout success",
			"session_ref", sessionRef, "error", err)
		c.Redirect(http.StatusFound, h.dashboardURL()+"?checkout=failed&reason="+string(billing.ReasonForError(err)))
		return
	}

	outcome, _ := h.orchestrator.Confirm(c.Request.Context(), accountID, sessionRef)
	h.recordOutcome("redirect", outcome)

	if outcome != nil && outcome.State == billing.StateEntitled {
		c.Redirect(http.StatusFound, h.dashboardURL()+"?checkout=success")
		return
	}

	reason := billing.ReasonProviderUnavailable
	if outcome != nil {
		reason = outcome.Reason
	}
	c.Redirect(http.StatusFound, h.dashboardURL()+"?checkout=failed&reason="+string(reason))
}

// ValidatePromo answers for a promotion code. A merely-invalid code is a
// 200 with valid:false; only provider outage is an error.
func (h *BillingHandler) ValidatePromo(c *gin.Context) {
	var req struct {
		Code string `json:"code"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "code is required"})
		return
	}

	validation, err := h.gateway.ValidatePromotionCode(c.Request.Context(), req.Code)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "payment provider unavailable"})
		return
	}

	c.JSON(http.StatusOK, validation)
}

func (h *BillingHandler) GetSubscription(c *gin.Context) {
	accountID, ok := middleware.AccountID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization required"})
		return
	}

	sub, err := h.reconciler.GetSubscription(c.Request.Context(), accountID)
	if err != nil {
		h.logger.Error("failed to get subscription", "account_id", accountID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get subscription"})
		return
	}
	if sub == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "subscription not found"})
		return
	}

	c.JSON(http.StatusOK, sub)
}

func (h *BillingHandler) CancelSubscription(c *gin.Context) {
	accountID, ok := middleware.AccountID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization required"})
		return
	}

	var req struct {
		CancelAtPeriodEnd bool `json:"cancel_at_period_end"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	sub, err := h.reconciler.CancelSubscription(c.Request.Context(), accountID, req.CancelAtPeriodEnd)
	if err != nil {
		if errors.Is(err, billing.ErrProviderUnavailable) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "payment provider unavailable"})
			return
		}
		h.logger.Error("failed to cancel subscription", "account_id", accountID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to cancel subscription"})
		return
	}

	c.JSON(http.StatusOK, sub)
}

// Webhook receives provider deliveries. 200 acknowledges handled, unknown,
// stale, and malformed events; non-200 is reserved for signature failures
// and persistence failures so the provider only retries genuine problems.
func (h *BillingHandler) Webhook(c *gin.Context) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return
	}

	event, err := h.gateway.VerifyWebhookSignature(payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		if errors.Is(err, billing.ErrInvalidSignature) {
			h.metrics.WebhookEvents.WithLabelValues("unknown", "bad_signature").Inc()
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid signature"})
			return
		}
		// Recognized kind with missing required fields. Retrying cannot fix
		// the payload, so acknowledge and keep the failure in the logs.
		h.logger.Error("malformed webhook event", "error", err)
		h.metrics.WebhookEvents.WithLabelValues("unknown", "malformed").Inc()
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	}

	if err := h.reconciler.HandleEvent(c.Request.Context(), event); err != nil {
		h.logger.Error("webhook handling failed", "event_id", event.ID, "kind", event.Kind, "error", err)
		h.metrics.WebhookEvents.WithLabelValues(string(event.Kind), "error").Inc()
		c.JSON(http.StatusInternalServerError, gin.H{"error": "event not processed"})
		return
	}

	h.metrics.WebhookEvents.WithLabelValues(string(event.Kind), "ok").Inc()
	c.JSON(http.StatusOK, gin.H{"received": true})
}

func (h *BillingHandler) resolveAccount(c *gin.Context, sessionRef string) (int64, error) {
	if intent, err := h.state.GetIntent(c.Request.Context(), sessionRef); err == nil && intent != nil {
		return intent.AccountID, nil
	}

	sess, err := h.gateway.RetrieveSession(c.Request.Context(), sessionRef)
	if err != nil {
		return 0, err
	}
	accountID, err := strconv.ParseInt(sess.Metadata["account_id"], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("session %s has no usable account_id: %w", sessionRef, err)
	}
	return accountID, nil
}

func (h *BillingHandler) recordOutcome(trigger string, outcome *billing.Outcome) {
	if outcome == nil {
		h.metrics.ReconciliationOutcomes.WithLabelValues(trigger, string(billing.StateFailed), "internal").Inc()
		return
	}
	h.metrics.ReconciliationOutcomes.WithLabelValues(trigger, string(outcome.State), string(outcome.Reason)).Inc()
}

func (h *BillingHandler) dashboardURL() string {
	return h.billingCfg.AppBaseURL + h.billingCfg.DashboardPath
}
