package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ReferralTransaction records one successful referral. The unique index on
// ReferredUserID enforces that a user can be referred at most once, ever.
type ReferralTransaction struct {
	ID                   uuid.UUID       `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	ReferralCodeID       uuid.UUID       `gorm:"column:referral_code_id;type:uuid;not null;index"`
	ReferredUserID       uuid.UUID       `gorm:"column:referred_user_id;type:uuid;not null;uniqueIndex:ux_referral_tx_referred_user"`
	ReferrerRewarded     bool            `gorm:"column:referrer_rewarded;not null;default:false"`
	ReferredRewarded     bool            `gorm:"column:referred_rewarded;not null;default:false"`
	ReferrerRewardAmount decimal.Decimal `gorm:"column:referrer_reward_amount;type:numeric(10,2);not null;default:0"`
	ReferredRewardAmount decimal.Decimal `gorm:"column:referred_reward_amount;type:numeric(10,2);not null;default:0"`
	CreatedAt            time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt            time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}
