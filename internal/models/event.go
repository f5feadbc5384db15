package models

import "time"

// EventKind: нормализованный тип события провайдера.
type EventKind string

const (
	EventPaymentSucceeded      EventKind = "payment_succeeded"
	EventPaymentFailed         EventKind = "payment_failed"
	EventSubscriptionDeleted   EventKind = "subscription_deleted"
	EventSubscriptionUpdated   EventKind = "subscription_updated"
	EventSubscriptionActivated EventKind = "subscription_activated"
	// EventIgnored: событие, которое биллинг подтверждает, но не обрабатывает.
	EventIgnored EventKind = "ignored"
)

// ProviderEvent: входящее событие вебхука после проверки подписи и разбора.
type ProviderEvent struct {
	ID             string
	Provider       Provider
	Type           string
	Kind           EventKind
	OccurredAt     time.Time
	CustomerID     string
	SubscriptionID string
	OrderID        string
	ProviderStatus string
	PaidAt         *time.Time
	PeriodEnd      *time.Time
}

// WebhookEvent: строка журнала входящих событий.
type WebhookEvent struct {
	ID          string
	Provider    Provider
	EventID     string
	Type        string
	UserID      string
	ReceivedAt  time.Time
	ProcessedAt *time.Time
	Outcome     string
}
