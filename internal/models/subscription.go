// Package models содержит доменные структуры биллинга: запись подписки пользователя,
// типизированный патч для частичного обновления, нормализованные события провайдеров
// и уведомления, которые уходят в очередь рассылки.
package models

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

// Status: состояние подписки пользователя.
type Status string

const (
	StatusTrial               Status = "trial"
	StatusActive              Status = "active"
	StatusPastDue             Status = "past_due"
	StatusPendingCancellation Status = "pending_cancellation"
	StatusInactive            Status = "inactive"
)

// Valid сообщает, входит ли статус в закрытый набор состояний.
func (s Status) Valid() bool {
	switch s {
	case StatusTrial, StatusActive, StatusPastDue, StatusPendingCancellation, StatusInactive:
		return true
	}
	return false
}

// Provider: закрытый вариант платёжного провайдера.
type Provider string

const (
	// ProviderAuthorization: провайдер с предавторизацией и последующим списанием.
	ProviderAuthorization Provider = "authorization-provider"
	// ProviderRecurring: провайдер с рекуррентными подписками и подтверждением через редирект.
	ProviderRecurring Provider = "recurring-provider"
)

// ErrUnknownProvider возвращается при разборе неизвестного имени провайдера.
var ErrUnknownProvider = errors.New("unknown payment provider")

// Valid сообщает, является ли значение одним из поддерживаемых провайдеров.
func (p Provider) Valid() bool {
	return p == ProviderAuthorization || p == ProviderRecurring
}

// ParseProvider разбирает имя провайдера из запроса или пути вебхука.
func ParseProvider(s string) (Provider, error) {
	p := Provider(s)
	if !p.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownProvider, s)
	}
	return p, nil
}

// WarningFlag: флаг отправленного предупреждения о продлении в рамках одного платёжного цикла.
type WarningFlag string

const (
	WarningSevenDay  WarningFlag = "sevenDay"
	WarningThreeDay  WarningFlag = "threeDay"
	WarningExpiryDay WarningFlag = "expiryDay"
)

// WarningFlags перечисляет флаги в порядке порогов: 7, 3 и 0 дней.
var WarningFlags = []WarningFlag{WarningSevenDay, WarningThreeDay, WarningExpiryDay}

// Valid сообщает, известен ли флаг.
func (f WarningFlag) Valid() bool {
	return slices.Contains(WarningFlags, f)
}

// WarningsSent: множество флагов, уже отправленных в текущем цикле.
type WarningsSent []WarningFlag

// Has проверяет наличие флага.
func (w WarningsSent) Has(f WarningFlag) bool {
	return slices.Contains(w, f)
}

// With возвращает копию множества с добавленным флагом.
func (w WarningsSent) With(f WarningFlag) WarningsSent {
	if w.Has(f) {
		return slices.Clone(w)
	}
	return append(slices.Clone(w), f)
}

// TrialingProviderStatuses: статусы провайдера, подтверждающие пробный период.
// requires_capture означает авторизованную, но ещё не списанную карту.
var TrialingProviderStatuses = []string{"trialing", "requires_capture"}

// SubscriptionRecord: платёжное состояние пользователя. Хранится в строке users.
type SubscriptionRecord struct {
	Status                 Status       `json:"status"`
	Provider               Provider     `json:"provider,omitempty"`
	ProviderCustomerID     string       `json:"provider_customer_id,omitempty"`
	ProviderSubscriptionID string       `json:"provider_subscription_id,omitempty"`
	ProviderOrderID        string       `json:"provider_order_id,omitempty"`
	ProviderStatus         string       `json:"provider_status,omitempty"`
	TrialStartDate         time.Time    `json:"trial_start_date"`
	TrialEndDate           time.Time    `json:"trial_end_date"`
	CurrentPeriodStart     *time.Time   `json:"current_period_start,omitempty"`
	LastPaymentDate        *time.Time   `json:"last_payment_date,omitempty"`
	NextBillingDate        *time.Time   `json:"next_billing_date,omitempty"`
	WarningsSent           WarningsSent `json:"warnings_sent"`
	LastEventAt            *time.Time   `json:"last_event_at,omitempty"`
	UpdatedAt              time.Time    `json:"updated_at"`
}

// HasActiveSubscription вычисляет производный флаг доступа.
func (r SubscriptionRecord) HasActiveSubscription() bool {
	return DeriveHasActive(r.Status, r.ProviderStatus)
}

// DeriveHasActive: единственное правило вычисления hasActiveSubscription:
// активная подписка либо пробный период, подтверждённый провайдером.
func DeriveHasActive(status Status, providerStatus string) bool {
	switch status {
	case StatusActive:
		return true
	case StatusTrial:
		return slices.Contains(TrialingProviderStatuses, providerStatus)
	}
	return false
}
