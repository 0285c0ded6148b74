package enums

// OutboxEventType enumerates domain events emitted through the outbox.
type OutboxEventType string

const (
	OutboxEventNotificationRequested OutboxEventType = "notification.requested"
	OutboxEventSubscriptionRenewed   OutboxEventType = "subscription.renewed"
	OutboxEventSubscriptionExpired   OutboxEventType = "subscription.expired"
	OutboxEventReferralRewardGranted OutboxEventType = "referral.reward_granted"
)

// OutboxDLQErrorReason classifies why a publish attempt was abandoned.
type OutboxDLQErrorReason string

const (
	OutboxDLQReasonNonRetryable OutboxDLQErrorReason = "non_retryable"
	OutboxDLQReasonMaxAttempts  OutboxDLQErrorReason = "max_attempts"
)

// OutboxAggregateType names the aggregate an outbox event belongs to.
type OutboxAggregateType string

const (
	OutboxAggregateUser         OutboxAggregateType = "user"
	OutboxAggregateSubscription OutboxAggregateType = "subscription"
	OutboxAggregatePayment      OutboxAggregateType = "payment"
	OutboxAggregateReferral     OutboxAggregateType = "referral"
)
