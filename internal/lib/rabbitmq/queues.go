package rabbitmq

const (
	// NotificationsExchange: direct exchange для писем пользователям и опекунам.
	NotificationsExchange = "notifications"

	// BillingQueue: очередь писем о подписке и продлении.
	BillingQueue = "notifications.billing"
	// BillingRoutingKey: ключ маршрутизации писем биллинга.
	BillingRoutingKey = "billing"

	prefetch = 10
)

// QueueConfig описывает очередь и её ключ маршрутизации.
type QueueConfig struct {
	QueueName  string
	RoutingKey string
}

// GetNotificationQueues возвращает очереди, которые слушает рассыльщик.
func GetNotificationQueues() []QueueConfig {
	return []QueueConfig{
		{QueueName: BillingQueue, RoutingKey: BillingRoutingKey},
	}
}
