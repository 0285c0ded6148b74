package renewals

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/subhubhq/subhub-backend/internal/gateway"
	"github.com/subhubhq/subhub-backend/pkg/db/models"
	"github.com/subhubhq/subhub-backend/pkg/enums"
	"github.com/subhubhq/subhub-backend/pkg/logger"
	"github.com/subhubhq/subhub-backend/pkg/metrics"
	"github.com/subhubhq/subhub-backend/pkg/outbox"
	"github.com/subhubhq/subhub-backend/pkg/outbox/payloads"
)

const (
	sweepInterval = time.Hour
	sweepBatch    = 200

	renewalJob = "renewal_sweep"
	expiryJob  = "expiry_sweep"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type emitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service runs the auto-renewal and expiry sweeps on a ticker. A renewal
// charge that the gateway accepts extends the period right away with a
// pending payment; the provider webhook later completes the payment, and a
// denied capture suspends the subscription again.
type Service struct {
	logg     *logger.Logger
	db       txRunner
	repo     Repository
	gateways *gateway.Registry
	outbox   emitter
	metrics  *metrics.CronJobMetrics
	interval time.Duration
	batch    int
	now      func() time.Time
}

// ServiceParams carries the dependencies for NewService. Interval and
// BatchSize fall back to the package defaults when zero.
type ServiceParams struct {
	Logger    *logger.Logger
	DB        txRunner
	Repo      Repository
	Gateways  *gateway.Registry
	Outbox    emitter
	Metrics   *metrics.CronJobMetrics
	Interval  time.Duration
	BatchSize int
}

// NewService builds the subscription sweep scheduler.
func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("renewals repository required")
	}
	if params.Gateways == nil {
		return nil, fmt.Errorf("gateway registry required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox service required")
	}
	if params.Metrics == nil {
		params.Metrics = metrics.NewCronJobMetrics(nil)
	}
	interval := params.Interval
	if interval <= 0 {
		interval = sweepInterval
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = sweepBatch
	}
	return &Service{
		logg:     params.Logger,
		db:       params.DB,
		repo:     params.Repo,
		gateways: params.Gateways,
		outbox:   params.Outbox,
		metrics:  params.Metrics,
		interval: interval,
		batch:    batch,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// Run executes the sweeps until the context is canceled.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.sweep(ctx)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "renewal scheduler context canceled")
			return ctx.Err()
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Service) sweep(ctx context.Context) {
	s.runJob(ctx, renewalJob, s.renewDue)
	s.runJob(ctx, expiryJob, s.expirePastDue)
}

func (s *Service) runJob(ctx context.Context, job string, fn func(context.Context) error) {
	start := s.now()
	err := fn(ctx)
	s.metrics.ObserveDuration(job, time.Since(start))
	if err != nil {
		s.metrics.IncFailure(job)
		s.logg.Error(s.logg.WithField(ctx, "job", job), "sweep run failed", err)
		return
	}
	s.metrics.IncSuccess(job)
}

// renewDue charges every auto-renewing subscription whose period lapsed.
// A declined or failed charge suspends the subscription; the user gets a
// payment_failed notification either way.
func (s *Service) renewDue(ctx context.Context) error {
	due, err := s.repo.DueForRenewal(ctx, s.now(), s.batch)
	if err != nil {
		return err
	}
	for i := range due {
		if err := s.renewOne(ctx, due[i]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) renewOne(ctx context.Context, subscription models.Subscription) error {
	logCtx := s.logg.WithField(ctx, "subscription_id", subscription.ID.String())

	plan, err := s.repo.FindPlanByID(ctx, subscription.PlanID)
	if err != nil {
		return err
	}
	if plan == nil {
		s.logg.Warn(logCtx, "subscription references missing plan")
		return nil
	}

	provider, err := s.gateways.Get(subscription.Provider)
	if err != nil {
		return err
	}

	result, chargeErr := provider.Charge(ctx, gateway.ChargeParams{
		UserID:      subscription.UserID,
		Amount:      plan.Price,
		Currency:    plan.Currency,
		Description: fmt.Sprintf("Renewal of plan %s", plan.Name),
		Metadata: map[string]string{
			"subscription_id": subscription.ID.String(),
			"renewal":         "true",
		},
	})
	if chargeErr != nil {
		s.logg.Error(logCtx, "renewal charge failed", chargeErr)
		return s.suspendAfterFailedCharge(ctx, subscription)
	}

	periodDays := plan.PeriodDays
	if periodDays <= 0 {
		periodDays = 30
	}

	return s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		current, err := repo.FindSubscriptionByID(ctx, subscription.ID)
		if err != nil {
			return err
		}
		if current == nil || !current.AutoRenew {
			return nil
		}

		payment := &models.Payment{
			UserID:          current.UserID,
			SubscriptionID:  &current.ID,
			Amount:          plan.Price,
			Currency:        plan.Currency,
			Provider:        current.Provider,
			Status:          enums.PaymentStatusPending,
			ReferenceNumber: result.ReferenceNumber,
		}
		if err := repo.CreatePayment(ctx, payment); err != nil {
			return err
		}

		from := current.EndDate
		if now := s.now(); from.Before(now) {
			from = now
		}
		current.EndDate = from.AddDate(0, 0, periodDays)
		current.Status = enums.SubscriptionStatusActive
		if err := repo.SaveSubscription(ctx, current); err != nil {
			return err
		}

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.OutboxEventSubscriptionRenewed,
			AggregateType: enums.OutboxAggregateSubscription,
			AggregateID:   current.ID,
			Data: payloads.SubscriptionRenewedEvent{
				SubscriptionID: current.ID,
				UserID:         current.UserID,
				PaymentID:      payment.ID,
				NewEndDate:     current.EndDate,
			},
			Version:    1,
			OccurredAt: s.now(),
		})
	})
}

func (s *Service) suspendAfterFailedCharge(ctx context.Context, subscription models.Subscription) error {
	return s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		current, err := repo.FindSubscriptionByID(ctx, subscription.ID)
		if err != nil {
			return err
		}
		if current == nil {
			return nil
		}
		current.Status = enums.SubscriptionStatusSuspended
		if err := repo.SaveSubscription(ctx, current); err != nil {
			return err
		}

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.OutboxEventNotificationRequested,
			AggregateType: enums.OutboxAggregateUser,
			AggregateID:   current.UserID,
			Data: payloads.NotificationRequestedEvent{
				UserID: current.UserID,
				Type:   enums.NotificationTypePaymentFailed,
				Title:  "Renewal payment failed",
				Body:   "We could not charge your payment method. Your subscription is suspended until payment succeeds.",
			},
			Version:    1,
			OccurredAt: s.now(),
		})
	})
}

// expirePastDue closes out lapsed subscriptions that do not auto-renew.
func (s *Service) expirePastDue(ctx context.Context) error {
	lapsed, err := s.repo.PastDueNonRenewing(ctx, s.now(), s.batch)
	if err != nil {
		return err
	}
	for i := range lapsed {
		if err := s.expireOne(ctx, lapsed[i]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) expireOne(ctx context.Context, subscription models.Subscription) error {
	return s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		current, err := repo.FindSubscriptionByID(ctx, subscription.ID)
		if err != nil {
			return err
		}
		if current == nil || current.Status == enums.SubscriptionStatusExpired {
			return nil
		}
		current.Status = enums.SubscriptionStatusExpired
		current.IsActive = false
		if err := repo.SaveSubscription(ctx, current); err != nil {
			return err
		}

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.OutboxEventSubscriptionExpired,
			AggregateType: enums.OutboxAggregateSubscription,
			AggregateID:   current.ID,
			Data: payloads.SubscriptionExpiredEvent{
				SubscriptionID: current.ID,
				UserID:         current.UserID,
				ExpiredAt:      s.now(),
			},
			Version:    1,
			OccurredAt: s.now(),
		})
	})
}
