package models

// User: пользователь платформы в том объёме, который нужен биллингу.
// Профиль целиком принадлежит другому сервису.
type User struct {
	ID                    string             `json:"id"`
	Email                 string             `json:"email"`
	FirstName             string             `json:"first_name"`
	Gender                string             `json:"gender"`
	GuardianEmail         string             `json:"guardian_email,omitempty"`
	HasActiveSubscription bool               `json:"has_active_subscription"`
	Subscription          SubscriptionRecord `json:"subscription"`
}
