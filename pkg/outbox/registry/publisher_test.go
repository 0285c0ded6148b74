package registry

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/subhubhq/subhub-backend/pkg/config"
	"github.com/subhubhq/subhub-backend/pkg/db/models"
	"github.com/subhubhq/subhub-backend/pkg/enums"
	"github.com/subhubhq/subhub-backend/pkg/outbox"
	"github.com/subhubhq/subhub-backend/pkg/outbox/payloads"
)

func newTestRegistry(t *testing.T) *EventRegistry {
	t.Helper()
	reg, err := NewEventRegistry(config.PubSubConfig{NotificationTopic: "notifications"})
	if err != nil {
		t.Fatalf("building registry: %v", err)
	}
	return reg
}

func encodeEnvelope(t *testing.T, data any) json.RawMessage {
	t.Helper()
	payload, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	envelope := outbox.PayloadEnvelope{
		Version:    1,
		EventID:    uuid.NewString(),
		OccurredAt: time.Now(),
		Data:       payload,
	}
	raw, err := json.Marshal(envelope)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return raw
}

func TestResolveNotificationRequested(t *testing.T) {
	reg := newTestRegistry(t)
	userID := uuid.New()

	row := models.OutboxEvent{
		EventType:     enums.OutboxEventNotificationRequested,
		AggregateType: enums.OutboxAggregateUser,
		AggregateID:   userID,
		Payload: encodeEnvelope(t, payloads.NotificationRequestedEvent{
			UserID: userID,
			Type:   enums.NotificationTypeRenewal,
			Title:  "Subscription renewed",
			Body:   "Your subscription was renewed.",
		}),
	}

	resolved, err := reg.Resolve(row)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.Descriptor.Topic != "notifications" {
		t.Fatalf("expected notifications topic, got %s", resolved.Descriptor.Topic)
	}
	event, ok := resolved.Payload.(*payloads.NotificationRequestedEvent)
	if !ok {
		t.Fatalf("unexpected payload type %T", resolved.Payload)
	}
	if event.Type != enums.NotificationTypeRenewal {
		t.Fatalf("expected renewal notification, got %s", event.Type)
	}
}

func TestResolveRejectsUnknownEventType(t *testing.T) {
	reg := newTestRegistry(t)

	_, err := reg.Resolve(models.OutboxEvent{
		EventType:     enums.OutboxEventType("something.else"),
		AggregateType: enums.OutboxAggregateUser,
		AggregateID:   uuid.New(),
	})

	var nonRetryable NonRetryableError
	if !errors.As(err, &nonRetryable) {
		t.Fatalf("expected non-retryable error, got %v", err)
	}
}

func TestResolveRejectsAggregateMismatch(t *testing.T) {
	reg := newTestRegistry(t)

	_, err := reg.Resolve(models.OutboxEvent{
		EventType:     enums.OutboxEventSubscriptionRenewed,
		AggregateType: enums.OutboxAggregateUser,
		AggregateID:   uuid.New(),
		Payload:       encodeEnvelope(t, payloads.SubscriptionRenewedEvent{}),
	})

	var nonRetryable NonRetryableError
	if !errors.As(err, &nonRetryable) {
		t.Fatalf("expected non-retryable error, got %v", err)
	}
}
