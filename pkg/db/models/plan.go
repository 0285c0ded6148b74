package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Plan describes a purchasable subscription tier.
type Plan struct {
	ID         uuid.UUID       `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	Name       string          `gorm:"column:name;not null;unique"`
	Price      decimal.Decimal `gorm:"column:price;type:numeric(10,2);not null"`
	Currency   string          `gorm:"column:currency;not null;default:'USD'"`
	PeriodDays int             `gorm:"column:period_days;not null;default:30"`
	IsActive   bool            `gorm:"column:is_active;not null;default:true"`
	CreatedAt  time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}
