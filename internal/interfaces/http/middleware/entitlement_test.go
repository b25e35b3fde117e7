package middleware

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"

	"github.com/nizardhr/askstan-sub000/internal/domain/models"
	"github.com/nizardhr/askstan-sub000/internal/domain/repositories"
	"github.com/nizardhr/askstan-sub000/internal/domain/services"
	"github.com/nizardhr/askstan-sub000/internal/observability"
)

type stubRepo struct {
	repositories.SubscriptionRepository
	sub *models.Subscription
}

func (s *stubRepo) GetByAccountID(context.Context, int64) (*models.Subscription, error) {
	return s.sub, nil
}

type stubState struct {
	services.CheckoutState
	reconciling bool
}

func (s *stubState) ReconcileInProgress(context.Context, int64) bool {
	return s.reconciling
}

func gatedRouter(sub *models.Subscription, reconciling bool) *gin.Engine {
	gin.SetMode(gin.TestMode)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	gate := services.NewAccessGate(&stubRepo{sub: sub}, &stubState{reconciling: reconciling}, logger)
	metrics := observability.NewMetrics(prometheus.NewRegistry())

	r := gin.New()
	r.GET("/gated",
		func(c *gin.Context) { c.Set(ContextAccountID, int64(1)) },
		RequireSubscription(gate, metrics),
		func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) },
	)
	return r
}

func activeSubscription() *models.Subscription {
	end := time.Now().Add(30 * 24 * time.Hour)
	return &models.Subscription{
		AccountID:        1,
		Status:           models.StatusActive,
		PlanType:         models.PlanMonthly,
		CurrentPeriodEnd: &end,
	}
}

func TestRequireSubscriptionAllowsEntitled(t *testing.T) {
	r := gatedRouter(activeSubscription(), false)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/gated", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequireSubscriptionDeniesWithoutSubscription(t *testing.T) {
	r := gatedRouter(nil, false)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/gated", nil))
	assert.Equal(t, http.StatusPaymentRequired, w.Code)
	assert.Contains(t, w.Body.String(), "no_active_subscription")
}

func TestRequireSubscriptionDeniesPastDue(t *testing.T) {
	sub := activeSubscription()
	sub.Status = models.StatusPastDue
	r := gatedRouter(sub, false)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/gated", nil))
	assert.Equal(t, http.StatusPaymentRequired, w.Code)
	assert.Contains(t, w.Body.String(), "past_due")
}

func TestRequireSubscriptionAllowsDuringReconciliation(t *testing.T) {
	r := gatedRouter(nil, true)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/gated", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequireSubscriptionWithoutIdentity(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	gate := services.NewAccessGate(&stubRepo{}, &stubState{}, logger)
	metrics := observability.NewMetrics(prometheus.NewRegistry())

	r := gin.New()
	r.GET("/gated", RequireSubscription(gate, metrics), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/gated", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
