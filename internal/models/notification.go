package models

import "time"

// NotificationKind определяет шаблон письма.
type NotificationKind string

const (
	NotificationRenewalSevenDay       NotificationKind = "renewal_seven_day"
	NotificationRenewalThreeDay       NotificationKind = "renewal_three_day"
	NotificationRenewalToday          NotificationKind = "renewal_today"
	NotificationSubscriptionStarted   NotificationKind = "subscription_started"
	NotificationSubscriptionRenewed   NotificationKind = "subscription_renewed"
	NotificationPaymentFailed         NotificationKind = "payment_failed"
	NotificationSubscriptionCancelled NotificationKind = "subscription_cancelled"
	NotificationSubscriptionEnded     NotificationKind = "subscription_ended"
)

// RenewalKind сопоставляет флаг предупреждения с шаблоном.
func RenewalKind(f WarningFlag) NotificationKind {
	switch f {
	case WarningSevenDay:
		return NotificationRenewalSevenDay
	case WarningThreeDay:
		return NotificationRenewalThreeDay
	default:
		return NotificationRenewalToday
	}
}

// Notification: сообщение в очереди рассылки.
type Notification struct {
	ID              string           `json:"id"`
	Kind            NotificationKind `json:"kind"`
	UserID          string           `json:"user_id"`
	To              string           `json:"to"`
	Guardian        bool             `json:"guardian"`
	FirstName       string           `json:"first_name"`
	NextBillingDate *time.Time       `json:"next_billing_date,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
}
