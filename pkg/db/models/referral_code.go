package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/subhubhq/subhub-backend/pkg/enums"
)

// ReferralCode is a shareable code owned by one user. MaxUses of zero
// means unlimited.
type ReferralCode struct {
	ID           uuid.UUID                `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	UserID       uuid.UUID                `gorm:"column:user_id;type:uuid;not null;index"`
	Code         string                   `gorm:"column:code;not null;unique"`
	MaxUses      int                      `gorm:"column:max_uses;not null;default:0"`
	CurrentUses  int                      `gorm:"column:current_uses;not null;default:0"`
	RewardType   enums.ReferralRewardType `gorm:"column:reward_type;not null;default:'credit'"`
	RewardAmount decimal.Decimal          `gorm:"column:reward_amount;type:numeric(10,2);not null;default:0"`
	ExpiresAt    *time.Time               `gorm:"column:expires_at"`
	IsActive     bool                     `gorm:"column:is_active;not null;default:true;index"`
	CreatedAt    time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}

// Usable reports whether the code can still be applied at the given time.
func (r *ReferralCode) Usable(now time.Time) bool {
	if !r.IsActive {
		return false
	}
	if r.MaxUses > 0 && r.CurrentUses >= r.MaxUses {
		return false
	}
	if r.ExpiresAt != nil && !r.ExpiresAt.After(now) {
		return false
	}
	return true
}
