package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/subhubhq/subhub-backend/pkg/enums"
)

// WebhookEvent is the processed-event ledger. One row is inserted, inside
// the same transaction as the reconciliation side effects, for every event
// that was applied. The unique (provider, event_id) index makes redelivery
// a detectable duplicate even when the state transition itself would have
// been a silent no-op.
type WebhookEvent struct {
	ID          uuid.UUID             `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	Provider    enums.PaymentProvider `gorm:"column:provider;not null;uniqueIndex:ux_webhook_events_provider_event,priority:1"`
	EventID     string                `gorm:"column:event_id;not null;uniqueIndex:ux_webhook_events_provider_event,priority:2"`
	EventType   string                `gorm:"column:event_type;not null;index"`
	Payload     json.RawMessage       `gorm:"column:payload;type:jsonb"`
	ProcessedAt time.Time             `gorm:"column:processed_at;not null"`
	CreatedAt   time.Time             `gorm:"column:created_at;autoCreateTime"`
}
