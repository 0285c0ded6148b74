package payloads

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/subhubhq/subhub-backend/pkg/enums"
)

// NotificationRequestedEvent asks the notification worker to deliver a message.
type NotificationRequestedEvent struct {
	UserID uuid.UUID              `json:"userId"`
	Type   enums.NotificationType `json:"type"`
	Title  string                 `json:"title"`
	Body   string                 `json:"body"`
}

// SubscriptionRenewedEvent is emitted after a successful renewal charge.
type SubscriptionRenewedEvent struct {
	SubscriptionID uuid.UUID `json:"subscriptionId"`
	UserID         uuid.UUID `json:"userId"`
	PaymentID      uuid.UUID `json:"paymentId"`
	NewEndDate     time.Time `json:"newEndDate"`
}

// SubscriptionExpiredEvent is emitted when a lapsed subscription is closed out.
type SubscriptionExpiredEvent struct {
	SubscriptionID uuid.UUID `json:"subscriptionId"`
	UserID         uuid.UUID `json:"userId"`
	ExpiredAt      time.Time `json:"expiredAt"`
}

// ReferralRewardGrantedEvent is emitted when a referrer earns their reward.
type ReferralRewardGrantedEvent struct {
	ReferralCodeID uuid.UUID                `json:"referralCodeId"`
	ReferrerUserID uuid.UUID                `json:"referrerUserId"`
	ReferredUserID uuid.UUID                `json:"referredUserId"`
	RewardType     enums.ReferralRewardType `json:"rewardType"`
	RewardAmount   decimal.Decimal          `json:"rewardAmount"`
}
