package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/subhubhq/subhub-backend/pkg/enums"
)

// Notification is a delivered (or pending) user notification written by the
// worker when it consumes a notification.requested event.
type Notification struct {
	ID        uuid.UUID              `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	UserID    uuid.UUID              `gorm:"column:user_id;type:uuid;not null;index"`
	Type      enums.NotificationType `gorm:"column:type;not null"`
	Title     string                 `gorm:"column:title;not null"`
	Body      string                 `gorm:"column:body;not null;default:''"`
	SentAt    *time.Time             `gorm:"column:sent_at"`
	CreatedAt time.Time              `gorm:"column:created_at;autoCreateTime"`
}
