package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"

	"github.com/subhubhq/subhub-backend/pkg/db/models"
	"github.com/subhubhq/subhub-backend/pkg/enums"
	"github.com/subhubhq/subhub-backend/pkg/logger"
	"github.com/subhubhq/subhub-backend/pkg/outbox"
	"github.com/subhubhq/subhub-backend/pkg/outbox/payloads"
	"github.com/subhubhq/subhub-backend/pkg/redis"
)

const (
	consumerScope  = "notification-worker"
	idempotencyTTL = 24 * time.Hour
)

// Consumer turns billing domain events into notification rows. Failures
// nack so Pub/Sub redelivers; a Redis idempotency key absorbs replays.
type Consumer struct {
	repo  Repository
	sub   *pubsub.Subscriber
	store redis.IdempotencyStore
	logg  *logger.Logger
}

// NewConsumer builds the notification consumer.
func NewConsumer(repo Repository, sub *pubsub.Subscriber, store redis.IdempotencyStore, logg *logger.Logger) (*Consumer, error) {
	if repo == nil {
		return nil, fmt.Errorf("notifications repository required")
	}
	if sub == nil {
		return nil, fmt.Errorf("notification subscription required")
	}
	if store == nil {
		return nil, fmt.Errorf("idempotency store required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Consumer{repo: repo, sub: sub, store: store, logg: logg}, nil
}

// Run starts the consumer loop until the context is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	return c.sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		eventType := enums.OutboxEventType(msg.Attributes["event_type"])
		logCtx := c.logg.WithFields(ctx, map[string]any{
			"message_id": msg.ID,
			"event_type": string(eventType),
		})

		var envelope outbox.PayloadEnvelope
		if err := json.Unmarshal(msg.Data, &envelope); err != nil {
			c.logg.Error(logCtx, "failed to decode envelope", err)
			msg.Ack()
			return
		}

		if c.Process(logCtx, eventType, envelope) {
			msg.Ack()
			return
		}
		msg.Nack()
	})
}

// Process applies one decoded event and reports whether it should be acked.
func (c *Consumer) Process(ctx context.Context, eventType enums.OutboxEventType, envelope outbox.PayloadEnvelope) bool {
	key := c.store.IdempotencyKey(consumerScope, envelope.EventID)
	fresh, err := c.store.SetNX(ctx, key, "1", idempotencyTTL)
	if err != nil {
		c.logg.Error(ctx, "idempotency check failed", err)
		return false
	}
	if !fresh {
		c.logg.Info(ctx, "event already processed")
		return true
	}

	notification, err := c.buildNotification(eventType, envelope.Data)
	if err != nil {
		// Malformed payloads never become valid on redelivery.
		c.logg.Error(ctx, "failed to build notification", err)
		return true
	}
	if notification == nil {
		c.logg.Info(ctx, "event type carries no notification")
		return true
	}

	now := time.Now().UTC()
	notification.SentAt = &now
	if err := c.repo.Create(ctx, notification); err != nil {
		c.logg.Error(ctx, "failed to persist notification", err)
		_ = c.store.Del(ctx, key)
		return false
	}

	c.logg.Info(c.logg.WithUserID(ctx, notification.UserID.String()), "notification delivered")
	return true
}

func (c *Consumer) buildNotification(eventType enums.OutboxEventType, data json.RawMessage) (*models.Notification, error) {
	switch eventType {
	case enums.OutboxEventNotificationRequested:
		var payload payloads.NotificationRequestedEvent
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, err
		}
		if !payload.Type.IsValid() {
			return nil, fmt.Errorf("invalid notification type %q", payload.Type)
		}
		return &models.Notification{
			UserID: payload.UserID,
			Type:   payload.Type,
			Title:  payload.Title,
			Body:   payload.Body,
		}, nil
	case enums.OutboxEventSubscriptionRenewed:
		var payload payloads.SubscriptionRenewedEvent
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, err
		}
		return &models.Notification{
			UserID: payload.UserID,
			Type:   enums.NotificationTypeRenewal,
			Title:  "Subscription renewed",
			Body:   fmt.Sprintf("Your subscription has been renewed through %s.", payload.NewEndDate.Format("January 2, 2006")),
		}, nil
	case enums.OutboxEventSubscriptionExpired:
		var payload payloads.SubscriptionExpiredEvent
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, err
		}
		return &models.Notification{
			UserID: payload.UserID,
			Type:   enums.NotificationTypeExpiry,
			Title:  "Subscription expired",
			Body:   "Your subscription has expired. Renew to keep your benefits.",
		}, nil
	case enums.OutboxEventReferralRewardGranted:
		var payload payloads.ReferralRewardGrantedEvent
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, err
		}
		return &models.Notification{
			UserID: payload.ReferrerUserID,
			Type:   enums.NotificationTypeReferralReward,
			Title:  "Referral reward earned",
			Body:   fmt.Sprintf("You earned a %s reward for referring a friend.", payload.RewardType),
		}, nil
	default:
		return nil, nil
	}
}
