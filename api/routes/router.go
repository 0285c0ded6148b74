package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/subhubhq/subhub-backend/api/controllers"
	billingcontrollers "github.com/subhubhq/subhub-backend/api/controllers/billing"
	webhookcontrollers "github.com/subhubhq/subhub-backend/api/controllers/webhooks"
	"github.com/subhubhq/subhub-backend/api/middleware"
	"github.com/subhubhq/subhub-backend/internal/gateway"
	"github.com/subhubhq/subhub-backend/internal/webhooks"
	"github.com/subhubhq/subhub-backend/pkg/config"
	"github.com/subhubhq/subhub-backend/pkg/logger"
	"github.com/subhubhq/subhub-backend/pkg/metrics"
	"github.com/subhubhq/subhub-backend/pkg/redis"
)

// RedisStore is the subset of the redis client the middleware stack uses.
type RedisStore interface {
	redis.IdempotencyStore
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// Deps carries everything the HTTP surface needs. Optional entries may be
// nil; the routes depending on them degrade per-handler.
type Deps struct {
	Config *config.Config
	Logger *logger.Logger

	Redis        RedisStore
	HealthProbes map[string]controllers.Pinger

	Gateways     *gateway.Registry
	Reconciler   webhookcontrollers.Reconciler
	WebhookGuard *webhooks.IdempotencyGuard

	Coupons       billingcontrollers.CouponsService
	Referrals     billingcontrollers.ReferralsService
	Refunds       billingcontrollers.RefundsService
	Notifications billingcontrollers.NotificationsService

	WebhookMetrics *metrics.WebhookMetrics
}

func NewRouter(deps Deps) http.Handler {
	cfg := deps.Config
	logg := deps.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps.HealthProbes))
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		if deps.Gateways == nil || deps.Reconciler == nil || deps.WebhookGuard == nil {
			return
		}
		for _, provider := range deps.Gateways.Providers() {
			gw, err := deps.Gateways.Get(provider)
			if err != nil {
				continue
			}
			r.Post("/"+string(provider), webhookcontrollers.ProviderWebhook(gw, deps.Reconciler, deps.WebhookGuard, deps.WebhookMetrics, logg))
		}
	})

	applyPolicy := middleware.NewRateLimitPolicy(
		"apply",
		cfg.RateLimit.ApplyWindow,
		cfg.RateLimit.ApplyIPLimit,
		cfg.RateLimit.ApplyUserLimit,
	)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.Idempotency(deps.Redis, logg))

		r.Route("/coupons", func(r chi.Router) {
			r.Post("/validate", billingcontrollers.ValidateCoupon(deps.Coupons, logg))
			r.With(middleware.RateLimit(applyPolicy, deps.Redis, logg)).
				Post("/apply", billingcontrollers.ApplyCoupon(deps.Coupons, logg))
		})

		r.Route("/referrals", func(r chi.Router) {
			r.Post("/code", billingcontrollers.GenerateReferralCode(deps.Referrals, logg))
			r.With(middleware.RateLimit(applyPolicy, deps.Redis, logg)).
				Post("/apply", billingcontrollers.ApplyReferralCode(deps.Referrals, logg))
			r.Get("/stats", billingcontrollers.ReferralStats(deps.Referrals, logg))
		})

		r.Get("/notifications", billingcontrollers.ListNotifications(deps.Notifications, logg))

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole("admin", logg))
			r.Post("/payments/{paymentId}/refund", billingcontrollers.RefundPayment(deps.Refunds, logg))
		})
	})

	return r
}
