package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nizardhr/askstan-sub000/internal/domain/services"
	"github.com/nizardhr/askstan-sub000/internal/interfaces/http/middleware"
	"github.com/nizardhr/askstan-sub000/internal/observability"
)

// HealthCheck reports the liveness of one dependency.
type HealthCheck func() error

// RouterConfig carries everything the HTTP surface needs, all constructed
// in main and injected.
type RouterConfig struct {
	Billing      *BillingHandler
	JWTService   services.JWTService
	AccessGate   *services.AccessGate
	Metrics      *observability.Metrics
	Registry     *prometheus.Registry
	HealthChecks map[string]HealthCheck
	Environment  string
}

func NewRouter(cfg *RouterConfig) *gin.Engine {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()

	router.GET("/health", func(c *gin.Context) {
		status := http.StatusOK
		checks := make(map[string]string, len(cfg.HealthChecks))
		for name, check := range cfg.HealthChecks {
			if err := check(); err != nil {
				status = http.StatusServiceUnavailable
				checks[name] = err.Error()
			} else {
				checks[name] = "ok"
			}
		}
		c.JSON(status, gin.H{
			"status": http.StatusText(status),
			"checks": checks,
			"time":   time.Now(),
		})
	})

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(cfg.Registry, promhttp.HandlerOpts{})))

	// Provider webhooks authenticate by signature, not session token.
	router.POST("/api/billing/webhook", cfg.Billing.Webhook)

	// Browser landing after the hosted payment page; the account is
	// resolved from the checkout session itself.
	router.GET("/success", cfg.Billing.CheckoutSuccess)

	api := router.Group("/api")
	api.Use(middleware.JWTAuthMiddleware(cfg.JWTService))

	api.POST("/billing/checkout", cfg.Billing.CreateCheckout)
	api.POST("/billing/reconcile", cfg.Billing.Reconcile)
	api.POST("/billing/promo/validate", cfg.Billing.ValidatePromo)
	api.GET("/billing/subscription", cfg.Billing.GetSubscription)
	api.POST("/billing/cancel", cfg.Billing.CancelSubscription)

	gated := api.Group("")
	gated.Use(middleware.RequireSubscription(cfg.AccessGate, cfg.Metrics))

	// The chat dashboard itself is served elsewhere; this probe is what the
	// UI polls to decide whether the gated area is reachable.
	gated.GET("/dashboard", func(c *gin.Context) {
		accountID, _ := middleware.AccountID(c)
		c.JSON(http.StatusOK, gin.H{
			"status":     "ok",
			"account_id": accountID,
		})
	})

	return router
}
