package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/subhubhq/subhub-backend/api/controllers"
	"github.com/subhubhq/subhub-backend/api/routes"
	"github.com/subhubhq/subhub-backend/internal/billing"
	"github.com/subhubhq/subhub-backend/internal/discounts"
	"github.com/subhubhq/subhub-backend/internal/gateway"
	"github.com/subhubhq/subhub-backend/internal/notifications"
	"github.com/subhubhq/subhub-backend/internal/referrals"
	"github.com/subhubhq/subhub-backend/internal/webhooks"
	"github.com/subhubhq/subhub-backend/internal/webhooks/reconcile"
	"github.com/subhubhq/subhub-backend/pkg/config"
	"github.com/subhubhq/subhub-backend/pkg/db"
	"github.com/subhubhq/subhub-backend/pkg/logger"
	"github.com/subhubhq/subhub-backend/pkg/metrics"
	"github.com/subhubhq/subhub-backend/pkg/migrate"
	"github.com/subhubhq/subhub-backend/pkg/outbox"
	"github.com/subhubhq/subhub-backend/pkg/paypal"
	"github.com/subhubhq/subhub-backend/pkg/redis"
	pkgstripe "github.com/subhubhq/subhub-backend/pkg/stripe"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(cfg.DB)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis client", err)
		}
	}()

	stripeClient, err := pkgstripe.NewClient(cfg.Stripe)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap stripe client", err)
		os.Exit(1)
	}
	paypalClient, err := paypal.NewClient(cfg.PayPal)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap paypal client", err)
		os.Exit(1)
	}

	stripeGateway, err := gateway.NewStripeGateway(stripeClient)
	if err != nil {
		logg.Error(context.Background(), "failed to build stripe gateway", err)
		os.Exit(1)
	}
	paypalGateway, err := gateway.NewPayPalGateway(paypalClient)
	if err != nil {
		logg.Error(context.Background(), "failed to build paypal gateway", err)
		os.Exit(1)
	}
	gateways := gateway.NewRegistry(stripeGateway, paypalGateway)

	reconciler, err := reconcile.NewService(reconcile.ServiceParams{
		Repo:   reconcile.NewRepository(dbClient.Gorm()),
		Tx:     dbClient,
		Logger: logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to build reconcile service", err)
		os.Exit(1)
	}

	webhookGuard, err := webhooks.NewIdempotencyGuard(redisClient, cfg.Webhooks.IdempotencyTTL, "webhooks")
	if err != nil {
		logg.Error(context.Background(), "failed to build webhook idempotency guard", err)
		os.Exit(1)
	}

	outboxService := outbox.NewService(outbox.NewRepository(dbClient.Gorm()), logg)

	couponsService, err := discounts.NewService(discounts.ServiceParams{
		Repo:   discounts.NewRepository(dbClient.Gorm()),
		Tx:     dbClient,
		Logger: logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to build discounts service", err)
		os.Exit(1)
	}

	referralsService, err := referrals.NewService(referrals.ServiceParams{
		Repo:   referrals.NewRepository(dbClient.Gorm()),
		Tx:     dbClient,
		Outbox: outboxService,
		Cache:  redisClient,
		Logger: logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to build referrals service", err)
		os.Exit(1)
	}

	billingService, err := billing.NewService(billing.ServiceParams{
		Repo:     billing.NewRepository(dbClient.Gorm()),
		Gateways: gateways,
		Tx:       dbClient,
		Logger:   logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to build billing service", err)
		os.Exit(1)
	}

	notificationsService, err := notifications.NewService(notifications.NewRepository(dbClient.Gorm()))
	if err != nil {
		logg.Error(context.Background(), "failed to build notifications service", err)
		os.Exit(1)
	}

	router := routes.NewRouter(routes.Deps{
		Config: cfg,
		Logger: logg,

		Redis: redisClient,
		HealthProbes: map[string]controllers.Pinger{
			"database": dbClient,
			"redis":    redisClient,
		},

		Gateways:     gateways,
		Reconciler:   reconciler,
		WebhookGuard: webhookGuard,

		Coupons:       couponsService,
		Referrals:     referralsService,
		Refunds:       billingService,
		Notifications: notificationsService,

		WebhookMetrics: metrics.NewWebhookMetrics(prometheus.DefaultRegisterer),
	})

	server := &http.Server{
		Addr:              ":" + cfg.App.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":  cfg.App.Env,
		"port": cfg.App.Port,
	})

	errCh := make(chan error, 1)
	go func() {
		logg.Info(ctx, "api server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logg.Error(ctx, "api server shutdown error", err)
		os.Exit(1)
	}

	logg.Info(ctx, "api server shut down gracefully")
}
