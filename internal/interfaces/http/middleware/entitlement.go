package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nizardhr/askstan-sub000/internal/domain/services"
	"github.com/nizardhr/askstan-sub000/internal/observability"
)

// RequireSubscription gates a route group on an entitled subscription.
// Runs after JWTAuthMiddleware; the deny reason maps to a distinct
// user-facing action (retry payment, resubscribe, pick a plan).
func RequireSubscription(gate *services.AccessGate, metrics *observability.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		accountID, ok := AccountID(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization required"})
			c.Abort()
			return
		}

		decision := gate.CanAccess(c.Request.Context(), accountID, true)
		if decision.Allowed {
			c.Next()
			return
		}

		metrics.AccessDenials.WithLabelValues(string(decision.Reason)).Inc()
		c.JSON(http.StatusPaymentRequired, gin.H{
			"error":  "subscription required",
			"reason": string(decision.Reason),
		})
		c.Abort()
	}
}
