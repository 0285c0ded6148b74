package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/subhubhq/subhub-backend/internal/cron"
	"github.com/subhubhq/subhub-backend/internal/gateway"
	"github.com/subhubhq/subhub-backend/internal/notifications"
	"github.com/subhubhq/subhub-backend/internal/referrals"
	"github.com/subhubhq/subhub-backend/internal/schedulers/renewals"
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

const lockKeyFormat = "subhub:cron-worker:lock:%s"

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
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
			logg.Error(context.Background(), "error closing redis", err)
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

	outboxService := outbox.NewService(outbox.NewRepository(dbClient.Gorm()), logg)
	metricsCollector := metrics.NewCronJobMetrics(prometheus.DefaultRegisterer)

	sweeper, err := renewals.NewService(renewals.ServiceParams{
		Logger:    logg,
		DB:        dbClient,
		Repo:      renewals.NewRepository(dbClient.Gorm()),
		Gateways:  gateways,
		Outbox:    outboxService,
		Metrics:   metricsCollector,
		Interval:  cfg.Sweeps.Interval,
		BatchSize: cfg.Sweeps.BatchSize,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to build renewal sweeper", err)
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

	rewardJob, err := cron.NewReferralRewardJob(cron.ReferralRewardJobParams{
		Logger:    logg,
		Referrals: referralsService,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to build referral reward job", err)
		os.Exit(1)
	}
	cleanupJob, err := cron.NewNotificationCleanupJob(cron.NotificationCleanupJobParams{
		Logger:     logg,
		DB:         dbClient,
		Repository: notifications.NewRepository(dbClient.Gorm()),
	})
	if err != nil {
		logg.Error(context.Background(), "failed to build notification cleanup job", err)
		os.Exit(1)
	}
	retentionJob, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:     logg,
		DB:         dbClient,
		Repository: outbox.NewRepository(dbClient.Gorm()),
	})
	if err != nil {
		logg.Error(context.Background(), "failed to build outbox retention job", err)
		os.Exit(1)
	}

	lock, err := cron.NewRedisLock(redisClient, lockKey(cfg.App.Env), 0)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}
	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: cron.NewRegistry(rewardJob, cleanupJob, retentionJob),
		Lock:     lock,
		Metrics:  metricsCollector,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":     cfg.App.Env,
		"service": "cron-worker",
	})
	logg.Info(ctx, "starting cron worker")

	errCh := make(chan error, 2)
	go func() {
		errCh <- sweeper.Run(ctx)
	}()
	go func() {
		errCh <- service.Run(ctx)
	}()

	if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func lockKey(env string) string {
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf(lockKeyFormat, env)
}
