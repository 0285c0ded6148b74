package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CouponUsage is the audit row inserted for every successful redemption.
// The count of rows per (coupon, user) enforces the per-user cap.
type CouponUsage struct {
	ID              uuid.UUID       `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	CouponID        uuid.UUID       `gorm:"column:coupon_id;type:uuid;not null;index:ix_coupon_usages_coupon_user,priority:1"`
	UserID          uuid.UUID       `gorm:"column:user_id;type:uuid;not null;index:ix_coupon_usages_coupon_user,priority:2"`
	OriginalAmount  decimal.Decimal `gorm:"column:original_amount;type:numeric(10,2);not null"`
	DiscountApplied decimal.Decimal `gorm:"column:discount_applied;type:numeric(10,2);not null"`
	FinalAmount     decimal.Decimal `gorm:"column:final_amount;type:numeric(10,2);not null"`
	CreatedAt       time.Time       `gorm:"column:created_at;autoCreateTime"`
}
