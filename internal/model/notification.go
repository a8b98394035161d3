package model

// NotificationType names a user-facing notice emitted by the engine.
type NotificationType string

const (
	NotifySubscriptionPastDue       NotificationType = "subscription_past_due"
	NotifySubscriptionExpired       NotificationType = "subscription_expired"
	NotifySubscriptionChargeFailed  NotificationType = "subscription_charge_failed"
	NotifySubscriptionCanceled      NotificationType = "subscription_canceled"
	NotifySubscriptionDeferred      NotificationType = "subscription_deferred_update"
	NotifyUpcomingCharge            NotificationType = "subscription_upcoming_charge"
	NotifyTrialExpired              NotificationType = "trial_expired"
	NotifyExperiencesDisabled       NotificationType = "experiences_disabled"
	NotifyFreeRecognitionsLow       NotificationType = "free_recognitions_low"
	NotifyFreeRecognitionsExhausted NotificationType = "free_recognitions_exhausted"
	NotifyPaidLimitLow              NotificationType = "paid_limit_low"
	NotifyBalanceLow                NotificationType = "balance_low"
)
