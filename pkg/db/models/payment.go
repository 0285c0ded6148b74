package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/subhubhq/subhub-backend/pkg/enums"
)

// Payment records a single charge attempt against a user. Rows are created
// when a charge is initiated and only ever mutated by the reconciliation
// engine or the refund flow; they are soft-ended via status, never deleted.
//
// ReferenceNumber holds the provider transaction id (Stripe payment intent,
// PayPal capture id) and is the natural key webhook events resolve against;
// it is unique per provider.
type Payment struct {
	ID              uuid.UUID             `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	UserID          uuid.UUID             `gorm:"column:user_id;type:uuid;not null;index"`
	SubscriptionID  *uuid.UUID            `gorm:"column:subscription_id;type:uuid;index"`
	Amount          decimal.Decimal       `gorm:"column:amount;type:numeric(10,2);not null"`
	Currency        string                `gorm:"column:currency;not null;default:'USD'"`
	Provider        enums.PaymentProvider `gorm:"column:provider;not null;uniqueIndex:ux_payments_provider_reference,priority:1"`
	Status          enums.PaymentStatus   `gorm:"column:status;not null;default:'pending';index"`
	ReferenceNumber string                `gorm:"column:reference_number;not null;uniqueIndex:ux_payments_provider_reference,priority:2"`
	ProviderMessage *string               `gorm:"column:provider_message"`
	PaidAt          *time.Time            `gorm:"column:paid_at"`
	CreatedAt       time.Time             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time             `gorm:"column:updated_at;autoUpdateTime"`
}
