package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/stripe/stripe-go/v79/client"

	"github.com/nizardhr/askstan-sub000/internal/config"
	"github.com/nizardhr/askstan-sub000/internal/domain/services"
	"github.com/nizardhr/askstan-sub000/internal/infrastructure/cache"
	"github.com/nizardhr/askstan-sub000/internal/infrastructure/database"
	httpapi "github.com/nizardhr/askstan-sub000/internal/interfaces/http"
	"github.com/nizardhr/askstan-sub000/internal/observability"
)

func main() {
	cfg := config.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	db, err := database.NewPostgresConnection(&cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := db.RunMigrations("migrations"); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	redisClient, err := cache.NewRedisClient(&cfg.Redis)
	if err != nil {
		log.Fatalf("Failed to connect to redis: %v", err)
	}
	defer redisClient.Close()

	stripeAPI := client.New(cfg.Billing.StripeSecret, nil)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	metrics := observability.NewMetrics(registry)

	subscriptionRepo := database.NewSubscriptionRepository(db)
	accountRepo := database.NewAccountRepository(db)
	checkoutState := cache.NewCheckoutStateStore(redisClient)

	gateway := services.NewStripeGateway(stripeAPI, &cfg.Billing, logger)
	reconciler := services.NewReconciler(gateway, subscriptionRepo, accountRepo, checkoutState, logger)
	orchestrator := services.NewCheckoutOrchestrator(reconciler, checkoutState, logger)
	accessGate := services.NewAccessGate(subscriptionRepo, checkoutState, logger)
	jwtService := services.NewJWTService(cfg.JWT.Secret, time.Duration(cfg.JWT.Expiration)*time.Second)

	billingHandler := httpapi.NewBillingHandler(
		gateway, reconciler, orchestrator, accountRepo, checkoutState,
		&cfg.Billing, metrics, logger,
	)

	router := httpapi.NewRouter(&httpapi.RouterConfig{
		Billing:    billingHandler,
		JWTService: jwtService,
		AccessGate: accessGate,
		Metrics:    metrics,
		Registry:   registry,
		HealthChecks: map[string]httpapi.HealthCheck{
			"postgres": db.Health,
			"redis":    redisClient.Health,
		},
		Environment: cfg.Server.Environment,
	})

	server := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}

	go func() {
		logger.Info("billing service listening", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	logger.Info("billing service stopped")
}
