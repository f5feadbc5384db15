// Package paymentprovider описывает контракт платёжного провайдера и содержит
// две реализации: провайдер с предавторизацией карты и провайдер рекуррентных
// подписок с подтверждением через редирект. Адаптеры не хранят состояние.
package paymentprovider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/magabrotheeeer/unimatch-billing/internal/models"
)

var (
	// ErrInvalidSignature: подпись вебхука отсутствует или не совпадает.
	ErrInvalidSignature = errors.New("invalid webhook signature")
	// ErrUnsupported: операция не поддерживается провайдером.
	ErrUnsupported = errors.New("operation is not supported by provider")
)

// OrderRequest: параметры разового заказа с предавторизацией.
type OrderRequest struct {
	AmountMinor     int64
	Currency        string
	Description     string
	CustomerID      string
	CustomerEmail   string
	PaymentMethodID string
	IdempotencyKey  string
	Metadata        map[string]string
}

// Order: заказ у провайдера.
type Order struct {
	ID         string
	CustomerID string
	Status     string
	Captured   bool
}

// Subscriber: данные плательщика для рекуррентной подписки.
type Subscriber struct {
	UserID    string
	Email     string
	FirstName string
}

// SubscriptionRequest: параметры создания рекуррентной подписки.
type SubscriptionRequest struct {
	PlanID         string
	Subscriber     Subscriber
	IdempotencyKey string
}

// RecurringSubscription: созданная подписка. ApprovalURL заполнен, если
// пользователь должен подтвердить подписку на стороне провайдера.
type RecurringSubscription struct {
	ID          string
	Status      string
	ApprovalURL string
	CustomerID  string
}

// SubscriptionStatus: состояние подписки по данным провайдера.
type SubscriptionStatus struct {
	ID              string
	Status          string
	CustomerID      string
	NextBillingTime *time.Time
	LastPaymentTime *time.Time
}

// Adapter: граница с платёжной сетью.
type Adapter interface {
	Provider() models.Provider
	CreateOrder(ctx context.Context, req OrderRequest) (*Order, error)
	CaptureOrder(ctx context.Context, orderID string) (*Order, error)
	CreateRecurringSubscription(ctx context.Context, req SubscriptionRequest) (*RecurringSubscription, error)
	CancelSubscription(ctx context.Context, subscriptionID string) error
	// VerifyWebhookSignature вызывается до любого разбора тела вебхука.
	VerifyWebhookSignature(ctx context.Context, payload []byte, headers http.Header) error
	ParseWebhookEvent(payload []byte) (models.ProviderEvent, error)
	FetchSubscriptionStatus(ctx context.Context, subscriptionID string) (*SubscriptionStatus, error)
}

// Error: ошибка вызова провайдера.
type Error struct {
	Provider   models.Provider
	Op         string
	StatusCode int
	Code       string
	Message    string
	// Transient: сетевой сбой, таймаут или 5xx; такой вызов можно повторить.
	Transient bool
	Err       error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s %s failed", e.Provider, e.Op)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Code != "" {
		msg += ": " + e.Code
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Temporary сообщает, что вызов можно повторить.
func (e *Error) Temporary() bool {
	return e.Transient
}

// IsTemporary проверяет цепочку ошибок на временный сбой провайдера.
func IsTemporary(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Transient
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// Registry: таблица диспетчеризации вариант провайдера → адаптер.
type Registry struct {
	adapters map[models.Provider]Adapter
}

// NewRegistry собирает реестр из адаптеров; nil пропускаются.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[models.Provider]Adapter, len(adapters))}
	for _, a := range adapters {
		if a != nil {
			r.adapters[a.Provider()] = a
		}
	}
	return r
}

// Get возвращает адаптер провайдера.
func (r *Registry) Get(p models.Provider) (Adapter, error) {
	a, ok := r.adapters[p]
	if !ok {
		return nil, fmt.Errorf("%w: %q", models.ErrUnknownProvider, p)
	}
	return a, nil
}
