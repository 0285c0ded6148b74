package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// User is the minimal identity anchor the commerce core needs. Account
// management itself lives upstream; this row exists so payments, coupons
// and referrals have something to hang off.
type User struct {
	ID            uuid.UUID       `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	Email         string          `gorm:"column:email;not null;unique"`
	CreditBalance decimal.Decimal `gorm:"column:credit_balance;type:numeric(10,2);not null;default:0"`
	IsActive      bool            `gorm:"column:is_active;not null;default:true"`
	CreatedAt     time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}
