package enums

import "fmt"

// NotificationType categorizes user-facing notifications emitted by the
// billing flows and sweeps.
type NotificationType string

const (
	NotificationTypeRenewal        NotificationType = "renewal"
	NotificationTypeExpiry         NotificationType = "expiry"
	NotificationTypePaymentFailed  NotificationType = "payment_failed"
	NotificationTypeReferralReward NotificationType = "referral_reward"
)

var validNotificationTypes = []NotificationType{
	NotificationTypeRenewal,
	NotificationTypeExpiry,
	NotificationTypePaymentFailed,
	NotificationTypeReferralReward,
}

// String implements fmt.Stringer.
func (n NotificationType) String() string {
	return string(n)
}

// IsValid reports whether the value is known.
func (n NotificationType) IsValid() bool {
	for _, candidate := range validNotificationTypes {
		if candidate == n {
			return true
		}
	}
	return false
}

// ParseNotificationType converts raw input into a NotificationType.
func ParseNotificationType(value string) (NotificationType, error) {
	for _, candidate := range validNotificationTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid notification type %q", value)
}
