package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/subhubhq/subhub-backend/pkg/enums"
)

// Coupon is a redeemable discount code. CurrentUses is a monotonic counter
// guarded by a row lock during redemption so concurrent applications can
// never jointly exceed MaxUses.
type Coupon struct {
	ID                uuid.UUID          `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	Code              string             `gorm:"column:code;not null;unique"`
	Description       string             `gorm:"column:description;not null;default:''"`
	DiscountType      enums.DiscountType `gorm:"column:discount_type;not null"`
	DiscountValue     decimal.Decimal    `gorm:"column:discount_value;type:numeric(10,2);not null"`
	MaxUses           int                `gorm:"column:max_uses;not null;default:0"`
	CurrentUses       int                `gorm:"column:current_uses;not null;default:0"`
	MaxUsesPerUser    int                `gorm:"column:max_uses_per_user;not null;default:1"`
	ValidFrom         time.Time          `gorm:"column:valid_from;not null"`
	ValidUntil        time.Time          `gorm:"column:valid_until;not null"`
	MinPurchaseAmount *decimal.Decimal   `gorm:"column:min_purchase_amount;type:numeric(10,2)"`
	FirstPurchaseOnly bool               `gorm:"column:first_purchase_only;not null;default:false"`
	IsActive          bool               `gorm:"column:is_active;not null;default:true;index"`
	CreatedAt         time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}

// HasGlobalCapacity reports whether the coupon can still be redeemed under
// its global cap. MaxUses of zero means unlimited.
func (c *Coupon) HasGlobalCapacity() bool {
	return c.MaxUses == 0 || c.CurrentUses < c.MaxUses
}

// InValidityWindow reports whether now falls inside [ValidFrom, ValidUntil].
func (c *Coupon) InValidityWindow(now time.Time) bool {
	return !now.Before(c.ValidFrom) && !now.After(c.ValidUntil)
}
