package paymentprovider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/magabrotheeeer/unimatch-billing/internal/config"
	"github.com/magabrotheeeer/unimatch-billing/internal/models"
)

// Заголовки подписи вебхука рекуррентного провайдера.
const (
	headerTransmissionID   = "Paypal-Transmission-Id"
	headerTransmissionTime = "Paypal-Transmission-Time"
	headerTransmissionSig  = "Paypal-Transmission-Sig"
	headerCertURL          = "Paypal-Cert-Url"
	headerAuthAlgo         = "Paypal-Auth-Algo"

	verificationSuccess = "SUCCESS"
	approveRel          = "approve"
)

// RecurringClient: REST-клиент провайдера рекуррентных подписок.
// Доступ к API по OAuth2 client credentials, токен кэшируется и обновляется транспортом.
type RecurringClient struct {
	apiURL     string
	webhookID  string
	returnURL  string
	cancelURL  string
	brandName  string
	httpClient *http.Client
}

// NewRecurringClient создаёт клиент. ctx задаёт базовый HTTP-клиент для получения токена.
func NewRecurringClient(ctx context.Context, cfg config.RecurringProvider) *RecurringClient {
	apiURL := strings.TrimRight(cfg.BaseURL, "/")
	base := &http.Client{Timeout: cfg.Timeout}

	cc := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     apiURL + "/v1/oauth2/token",
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	httpClient := cc.Client(context.WithValue(ctx, oauth2.HTTPClient, base))
	httpClient.Timeout = cfg.Timeout

	return &RecurringClient{
		apiURL:     apiURL,
		webhookID:  cfg.WebhookID,
		returnURL:  cfg.ReturnURL,
		cancelURL:  cfg.CancelURL,
		brandName:  cfg.BrandName,
		httpClient: httpClient,
	}
}

func (c *RecurringClient) Provider() models.Provider {
	return models.ProviderRecurring
}

type link struct {
	Href   string `json:"href"`
	Rel    string `json:"rel"`
	Method string `json:"method"`
}

type subscriberName struct {
	GivenName string `json:"given_name,omitempty"`
}

type subscriber struct {
	EmailAddress string          `json:"email_address,omitempty"`
	Name         *subscriberName `json:"name,omitempty"`
	PayerID      string          `json:"payer_id,omitempty"`
}

type applicationContext struct {
	BrandName          string `json:"brand_name,omitempty"`
	ShippingPreference string `json:"shipping_preference"`
	UserAction         string `json:"user_action"`
	ReturnURL          string `json:"return_url,omitempty"`
	CancelURL          string `json:"cancel_url,omitempty"`
}

type createSubscriptionRequest struct {
	PlanID             string             `json:"plan_id"`
	CustomID           string             `json:"custom_id,omitempty"`
	Subscriber         subscriber         `json:"subscriber"`
	ApplicationContext applicationContext `json:"application_context"`
}

type subscriptionResource struct {
	ID          string      `json:"id"`
	Status      string      `json:"status"`
	CustomID    string      `json:"custom_id"`
	Subscriber  *subscriber `json:"subscriber"`
	Links       []link      `json:"links"`
	BillingInfo *struct {
		NextBillingTime *time.Time `json:"next_billing_time"`
		LastPayment     *struct {
			Time *time.Time `json:"time"`
		} `json:"last_payment"`
	} `json:"billing_info"`
}

type apiError struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

func (c *RecurringClient) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.apiURL+path, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// do выполняет запрос и декодирует ответ в out (если out не nil).
func (c *RecurringClient) do(op string, req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.transportError(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		pe := &Error{
			Provider:   models.ProviderRecurring,
			Op:         op,
			StatusCode: resp.StatusCode,
			Transient:  resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests,
		}
		var ae apiError
		if body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16)); json.Unmarshal(body, &ae) == nil {
			pe.Code = ae.Name
			if pe.Code == "" {
				pe.Code = ae.Error
			}
			pe.Message = ae.Message
		}
		return pe
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &Error{Provider: models.ProviderRecurring, Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func (c *RecurringClient) transportError(op string, err error) error {
	pe := &Error{Provider: models.ProviderRecurring, Op: op, Err: err, Transient: true}
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		pe.StatusCode = re.Response.StatusCode
		pe.Code = re.ErrorCode
		pe.Transient = re.Response.StatusCode >= http.StatusInternalServerError
	}
	return pe
}

// CreateOrder не поддерживается: провайдер работает только с подписками.
func (c *RecurringClient) CreateOrder(context.Context, OrderRequest) (*Order, error) {
	return nil, ErrUnsupported
}

func (c *RecurringClient) CaptureOrder(context.Context, string) (*Order, error) {
	return nil, ErrUnsupported
}

// CreateRecurringSubscription создаёт подписку по плану и возвращает ссылку подтверждения.
func (c *RecurringClient) CreateRecurringSubscription(ctx context.Context, r SubscriptionRequest) (*RecurringSubscription, error) {
	const op = "create_subscription"

	body := createSubscriptionRequest{
		PlanID:   r.PlanID,
		CustomID: r.Subscriber.UserID,
		Subscriber: subscriber{
			EmailAddress: r.Subscriber.Email,
		},
		ApplicationContext: applicationContext{
			BrandName:          c.brandName,
			ShippingPreference: "NO_SHIPPING",
			UserAction:         "SUBSCRIBE_NOW",
			ReturnURL:          c.returnURL,
			CancelURL:          c.cancelURL,
		},
	}
	if r.Subscriber.FirstName != "" {
		body.Subscriber.Name = &subscriberName{GivenName: r.Subscriber.FirstName}
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/v1/billing/subscriptions", body)
	if err != nil {
		return nil, c.transportError(op, err)
	}
	req.Header.Set("Prefer", "return=representation")
	if r.IdempotencyKey != "" {
		req.Header.Set("PayPal-Request-Id", r.IdempotencyKey)
	}

	var res subscriptionResource
	if err := c.do(op, req, &res); err != nil {
		return nil, err
	}
	if res.ID == "" {
		return nil, &Error{Provider: models.ProviderRecurring, Op: op, Message: "response has no subscription id"}
	}

	out := &RecurringSubscription{ID: res.ID, Status: res.Status}
	for _, l := range res.Links {
		if l.Rel == approveRel {
			out.ApprovalURL = l.Href
			break
		}
	}
	if res.Subscriber != nil {
		out.CustomerID = res.Subscriber.PayerID
	}
	return out, nil
}

// CancelSubscription отменяет подписку. Уже отменённая подписка не считается ошибкой.
func (c *RecurringClient) CancelSubscription(ctx context.Context, subscriptionID string) error {
	const op = "cancel_subscription"

	req, err := c.newRequest(ctx, http.MethodPost, "/v1/billing/subscriptions/"+subscriptionID+"/cancel",
		map[string]string{"reason": "Cancelled by user"})
	if err != nil {
		return c.transportError(op, err)
	}
	err = c.do(op, req, nil)
	var pe *Error
	if errors.As(err, &pe) && pe.StatusCode == http.StatusUnprocessableEntity && pe.Code == "UNPROCESSABLE_ENTITY" {
		return nil
	}
	return err
}

func (c *RecurringClient) FetchSubscriptionStatus(ctx context.Context, subscriptionID string) (*SubscriptionStatus, error) {
	const op = "fetch_subscription"

	req, err := c.newRequest(ctx, http.MethodGet, "/v1/billing/subscriptions/"+subscriptionID, nil)
	if err != nil {
		return nil, c.transportError(op, err)
	}
	var res subscriptionResource
	if err := c.do(op, req, &res); err != nil {
		return nil, err
	}

	st := &SubscriptionStatus{ID: res.ID, Status: res.Status}
	if res.Subscriber != nil {
		st.CustomerID = res.Subscriber.PayerID
	}
	if res.BillingInfo != nil {
		st.NextBillingTime = utcPtr(res.BillingInfo.NextBillingTime)
		if res.BillingInfo.LastPayment != nil {
			st.LastPaymentTime = utcPtr(res.BillingInfo.LastPayment.Time)
		}
	}
	return st, nil
}

type verifySignatureRequest struct {
	AuthAlgo         string          `json:"auth_algo"`
	CertURL          string          `json:"cert_url"`
	TransmissionID   string          `json:"transmission_id"`
	TransmissionSig  string          `json:"transmission_sig"`
	TransmissionTime string          `json:"transmission_time"`
	WebhookID        string          `json:"webhook_id"`
	WebhookEvent     json.RawMessage `json:"webhook_event"`
}

// VerifyWebhookSignature проверяет подпись через API провайдера. Тело передаётся
// как есть, без разбора.
func (c *RecurringClient) VerifyWebhookSignature(ctx context.Context, payload []byte, headers http.Header) error {
	const op = "verify_webhook_signature"

	body := verifySignatureRequest{
		AuthAlgo:         headers.Get(headerAuthAlgo),
		CertURL:          headers.Get(headerCertURL),
		TransmissionID:   headers.Get(headerTransmissionID),
		TransmissionSig:  headers.Get(headerTransmissionSig),
		TransmissionTime: headers.Get(headerTransmissionTime),
		WebhookID:        c.webhookID,
		WebhookEvent:     json.RawMessage(payload),
	}
	if body.TransmissionID == "" || body.TransmissionSig == "" || body.TransmissionTime == "" {
		return ErrInvalidSignature
	}
	if !json.Valid(payload) {
		return fmt.Errorf("%w: body is not json", ErrInvalidSignature)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/v1/notifications/verify-webhook-signature", body)
	if err != nil {
		return c.transportError(op, err)
	}
	var res struct {
		VerificationStatus string `json:"verification_status"`
	}
	if err := c.do(op, req, &res); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}
	if res.VerificationStatus != verificationSuccess {
		return fmt.Errorf("%w: verification status %q", ErrInvalidSignature, res.VerificationStatus)
	}
	return nil
}

func (c *RecurringClient) ParseWebhookEvent(payload []byte) (models.ProviderEvent, error) {
	return parseRecurringEvent(payload)
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}
