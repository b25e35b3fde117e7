package http

import (
	"fmt"
	"io"
	"log/slog"
	stdhttp "net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"

	"github.com/nizardhr/askstan-sub000/internal/config"
	"github.com/nizardhr/askstan-sub000/internal/domain/billing"
	"github.com/nizardhr/askstan-sub000/internal/domain/models"
	"github.com/nizardhr/askstan-sub000/internal/domain/services"
	"github.com/nizardhr/askstan-sub000/internal/observability"
)

type stubGateway struct {
	services.PaymentGateway
	event *models.WebhookEvent
	err   error
}

func (s *stubGateway) VerifyWebhookSignature([]byte, string) (*models.WebhookEvent, error) {
	return s.event, s.err
}

func webhookRouter(gw services.PaymentGateway) *gin.Engine {
	gin.SetMode(gin.TestMode)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	metrics := observability.NewMetrics(prometheus.NewRegistry())

	h := NewBillingHandler(gw, nil, nil, nil, nil, &config.BillingConfig{}, metrics, logger)

	r := gin.New()
	r.POST("/api/billing/webhook", h.Webhook)
	return r
}

func postWebhook(r *gin.Engine) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(stdhttp.MethodPost, "/api/billing/webhook", strings.NewReader(`{}`))
	req.Header.Set("Stripe-Signature", "t=1,v1=deadbeef")
	r.ServeHTTP(w, req)
	return w
}

func TestWebhookBadSignatureRejected(t *testing.T) {
	r := webhookRouter(&stubGateway{err: billing.ErrInvalidSignature})

	w := postWebhook(r)
	assert.Equal(t, stdhttp.StatusBadRequest, w.Code)
}

func TestWebhookMalformedEventAcknowledged(t *testing.T) {
	// A recognized kind with broken required fields can never become valid;
	// the provider must not keep redelivering it.
	r := webhookRouter(&stubGateway{err: fmt.Errorf("checkout session cs_1 has no account_id metadata")})

	w := postWebhook(r)
	assert.Equal(t, stdhttp.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "received")
}
