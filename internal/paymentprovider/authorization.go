package paymentprovider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v83"
	"github.com/stripe/stripe-go/v83/customer"
	"github.com/stripe/stripe-go/v83/paymentintent"
	"github.com/stripe/stripe-go/v83/subscription"
	"github.com/stripe/stripe-go/v83/webhook"

	"github.com/magabrotheeeer/unimatch-billing/internal/config"
	"github.com/magabrotheeeer/unimatch-billing/internal/models"
)

const signatureHeader = "Stripe-Signature"

// AuthorizationClient: адаптер провайдера с ручным списанием (PaymentIntent с
// capture_method=manual) и подписками, которые создаются на стороне провайдера.
type AuthorizationClient struct {
	intents       paymentintent.Client
	customers     customer.Client
	subscriptions subscription.Client
	webhookSecret string
}

// NewAuthorizationClient создаёт адаптер. BaseURL переопределяет адрес API (нужно для тестов).
// Сообщения библиотеки пишутся в log.
func NewAuthorizationClient(cfg config.AuthorizationProvider, log *slog.Logger) *AuthorizationClient {
	// Повторы выполняет вызывающий код, встроенные повторы библиотеки отключены.
	bc := &stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: cfg.Timeout},
		LeveledLogger:     NewStripeLogger(log),
		MaxNetworkRetries: stripe.Int64(0),
	}
	if cfg.BaseURL != "" {
		bc.URL = stripe.String(cfg.BaseURL)
	}
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, bc)

	return &AuthorizationClient{
		intents:       paymentintent.Client{B: backend, Key: cfg.APIKey},
		customers:     customer.Client{B: backend, Key: cfg.APIKey},
		subscriptions: subscription.Client{B: backend, Key: cfg.APIKey},
		webhookSecret: cfg.WebhookSecret,
	}
}

func (c *AuthorizationClient) Provider() models.Provider {
	return models.ProviderAuthorization
}

// CreateOrder создаёт клиента (если его ещё нет) и PaymentIntent с ручным списанием.
func (c *AuthorizationClient) CreateOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	const op = "create_order"

	customerID := req.CustomerID
	if customerID == "" {
		cp := &stripe.CustomerParams{Email: stripe.String(req.CustomerEmail)}
		cp.Context = ctx
		for k, v := range req.Metadata {
			cp.AddMetadata(k, v)
		}
		cus, err := c.customers.New(cp)
		if err != nil {
			return nil, c.wrap(op, err)
		}
		customerID = cus.ID
	}

	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(req.AmountMinor),
		Currency:      stripe.String(req.Currency),
		Customer:      stripe.String(customerID),
		Description:   stripe.String(req.Description),
		CaptureMethod: stripe.String(string(stripe.PaymentIntentCaptureMethodManual)),
	}
	if req.CustomerEmail != "" {
		params.ReceiptEmail = stripe.String(req.CustomerEmail)
	}
	if req.PaymentMethodID != "" {
		params.PaymentMethod = stripe.String(req.PaymentMethodID)
		params.Confirm = stripe.Bool(true)
		params.AutomaticPaymentMethods = &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled:        stripe.Bool(true),
			AllowRedirects: stripe.String("never"),
		}
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	params.Context = ctx

	pi, err := c.intents.New(params)
	if err != nil {
		return nil, c.wrap(op, err)
	}
	return orderFromIntent(pi, customerID), nil
}

// CaptureOrder списывает ранее авторизованную сумму.
func (c *AuthorizationClient) CaptureOrder(ctx context.Context, orderID string) (*Order, error) {
	params := &stripe.PaymentIntentCaptureParams{}
	params.Context = ctx
	pi, err := c.intents.Capture(orderID, params)
	if err != nil {
		return nil, c.wrap("capture_order", err)
	}
	return orderFromIntent(pi, ""), nil
}

// CreateRecurringSubscription не поддерживается: подписки у этого провайдера
// создаются через его checkout, биллинг узнаёт о них из вебхуков.
func (c *AuthorizationClient) CreateRecurringSubscription(context.Context, SubscriptionRequest) (*RecurringSubscription, error) {
	return nil, ErrUnsupported
}

func (c *AuthorizationClient) CancelSubscription(ctx context.Context, subscriptionID string) error {
	params := &stripe.SubscriptionCancelParams{}
	params.Context = ctx
	_, err := c.subscriptions.Cancel(subscriptionID, params)
	if err != nil {
		var se *stripe.Error
		if errors.As(err, &se) && se.Code == stripe.ErrorCodeResourceMissing {
			return nil
		}
		return c.wrap("cancel_subscription", err)
	}
	return nil
}

func (c *AuthorizationClient) FetchSubscriptionStatus(ctx context.Context, subscriptionID string) (*SubscriptionStatus, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	params.AddExpand("latest_invoice")
	sub, err := c.subscriptions.Get(subscriptionID, params)
	if err != nil {
		return nil, c.wrap("fetch_subscription", err)
	}

	st := &SubscriptionStatus{ID: sub.ID, Status: string(sub.Status)}
	if sub.Customer != nil {
		st.CustomerID = sub.Customer.ID
	}
	if sub.Items != nil {
		for _, item := range sub.Items.Data {
			if item.CurrentPeriodEnd > 0 {
				st.NextBillingTime = unixPtr(item.CurrentPeriodEnd)
				break
			}
		}
	}
	if sub.LatestInvoice != nil && sub.LatestInvoice.StatusTransitions != nil {
		st.LastPaymentTime = unixPtr(sub.LatestInvoice.StatusTransitions.PaidAt)
	}
	return st, nil
}

// VerifyWebhookSignature проверяет заголовок Stripe-Signature (HMAC и допуск по времени).
func (c *AuthorizationClient) VerifyWebhookSignature(_ context.Context, payload []byte, headers http.Header) error {
	sig := headers.Get(signatureHeader)
	if sig == "" {
		return ErrInvalidSignature
	}
	_, err := webhook.ConstructEventWithOptions(payload, sig, c.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return nil
}

func (c *AuthorizationClient) ParseWebhookEvent(payload []byte) (models.ProviderEvent, error) {
	return parseAuthorizationEvent(payload)
}

func orderFromIntent(pi *stripe.PaymentIntent, customerID string) *Order {
	o := &Order{
		ID:         pi.ID,
		CustomerID: customerID,
		Status:     string(pi.Status),
		Captured:   pi.Status == stripe.PaymentIntentStatusSucceeded,
	}
	if pi.Customer != nil && pi.Customer.ID != "" {
		o.CustomerID = pi.Customer.ID
	}
	return o
}

func (c *AuthorizationClient) wrap(op string, err error) error {
	pe := &Error{Provider: models.ProviderAuthorization, Op: op, Err: err}

	var se *stripe.Error
	if errors.As(err, &se) {
		pe.StatusCode = se.HTTPStatusCode
		pe.Code = string(se.Code)
		pe.Message = se.Msg
		pe.Err = nil
		pe.Transient = se.HTTPStatusCode >= http.StatusInternalServerError ||
			se.HTTPStatusCode == http.StatusTooManyRequests ||
			se.Type == stripe.ErrorTypeAPI
		return pe
	}
	// Без ответа от API: сеть, таймаут, отмена контекста.
	pe.Transient = true
	return pe
}

func unixPtr(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}
