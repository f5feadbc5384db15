// Package metrics регистрирует счётчики Prometheus сервисов биллинга.
// Значения отдаются обработчиком promhttp на /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Результаты операций для метки result.
const (
	ResultOK       = "ok"
	ResultRejected = "rejected"
	ResultError    = "error"
)

var (
	// SubscriptionOperations: операции контроллера подписок.
	SubscriptionOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "billing",
		Name:      "subscription_operations_total",
		Help:      "Subscription controller operations by operation, provider and result.",
	}, []string{"operation", "provider", "result"})

	// ProviderCancelRetries: повторные попытки отмены подписки у провайдера.
	ProviderCancelRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "billing",
		Name:      "provider_cancel_retries_total",
		Help:      "Out-of-band provider cancellation attempts by provider and result.",
	}, []string{"provider", "result"})

	// WebhookEvents: входящие события провайдеров по итогу обработки.
	WebhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "billing",
		Name:      "webhook_events_total",
		Help:      "Inbound provider webhook events by provider and outcome.",
	}, []string{"provider", "outcome"})

	// RenewalWarnings: напоминания о продлении по флагу и результату.
	RenewalWarnings = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "billing",
		Name:      "renewal_warnings_total",
		Help:      "Renewal warnings processed by the scheduler by flag and result.",
	}, []string{"flag", "result"})

	// CancellationsExpired: отменённые подписки, закрытые по окончании оплаченного периода.
	CancellationsExpired = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "billing",
		Name:      "cancellations_expired_total",
		Help:      "Pending cancellations moved to inactive after the paid period, by result.",
	}, []string{"result"})

	// NotificationsSent: письма, отправленные из очереди.
	NotificationsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "billing",
		Name:      "notifications_sent_total",
		Help:      "Notification e-mails delivered by kind and result.",
	}, []string{"kind", "result"})
)
