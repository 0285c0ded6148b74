package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/subhubhq/subhub-backend/pkg/enums"
)

// Subscription persists a user's plan membership. ProviderSubscriptionID is
// the external id (Stripe sub_..., PayPal I-...) used as the natural key by
// webhook reconciliation; it is unique per provider.
type Subscription struct {
	ID                     uuid.UUID                `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	UserID                 uuid.UUID                `gorm:"column:user_id;type:uuid;not null;index"`
	PlanID                 uuid.UUID                `gorm:"column:plan_id;type:uuid;not null"`
	Status                 enums.SubscriptionStatus `gorm:"column:status;not null;default:'active';index"`
	Provider               enums.PaymentProvider    `gorm:"column:provider;not null;uniqueIndex:ux_subscriptions_provider_sub,priority:1"`
	ProviderSubscriptionID string                   `gorm:"column:provider_subscription_id;not null;uniqueIndex:ux_subscriptions_provider_sub,priority:2"`
	StartDate              time.Time                `gorm:"column:start_date;not null"`
	EndDate                time.Time                `gorm:"column:end_date;not null;index"`
	AutoRenew              bool                     `gorm:"column:auto_renew;not null;default:true"`
	IsActive               bool                     `gorm:"column:is_active;not null;default:true"`
	CancelledAt            *time.Time               `gorm:"column:cancelled_at"`
	CreatedAt              time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt              time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}
