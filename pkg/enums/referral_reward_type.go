package enums

import "fmt"

// ReferralRewardType selects the side effect granted when a referral code
// is applied. The amount's unit depends on the type: dollars for credit,
// percent for discount, days for free_month.
type ReferralRewardType string

const (
	ReferralRewardCredit        ReferralRewardType = "credit"
	ReferralRewardDiscount      ReferralRewardType = "discount"
	ReferralRewardFreeMonth     ReferralRewardType = "free_month"
	ReferralRewardFeatureUnlock ReferralRewardType = "feature_unlock"
)

var validReferralRewardTypes = []ReferralRewardType{
	ReferralRewardCredit,
	ReferralRewardDiscount,
	ReferralRewardFreeMonth,
	ReferralRewardFeatureUnlock,
}

// String implements fmt.Stringer.
func (r ReferralRewardType) String() string {
	return string(r)
}

// IsValid reports whether the value is known.
func (r ReferralRewardType) IsValid() bool {
	for _, candidate := range validReferralRewardTypes {
		if candidate == r {
			return true
		}
	}
	return false
}

// ParseReferralRewardType converts raw input into a ReferralRewardType.
func ParseReferralRewardType(value string) (ReferralRewardType, error) {
	for _, candidate := range validReferralRewardTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid referral reward type %q", value)
}
