package services

import (
	"context"
	"log/slog"
	"strings"

	"github.com/magabrotheeeer/unimatch-billing/internal/lib/apperr"
	"github.com/magabrotheeeer/unimatch-billing/internal/lib/sl"
	"github.com/magabrotheeeer/unimatch-billing/internal/metrics"
	"github.com/magabrotheeeer/unimatch-billing/internal/models"
	"github.com/magabrotheeeer/unimatch-billing/internal/paymentprovider"
	"github.com/magabrotheeeer/unimatch-billing/internal/subscription"
)

// OrderRequest: данные карты для предавторизации.
type OrderRequest struct {
	PaymentMethodID string
	IdempotencyKey  string
}

// OrderResult: созданный заказ с ручным списанием.
type OrderResult struct {
	OrderID               string `json:"order_id"`
	Status                string `json:"status"`
	HasActiveSubscription bool   `json:"has_active_subscription"`
}

// AuthorizeOrder предавторизует сумму тарифа на карте пользователя в пробном периоде.
// Списание выполняется позже, при подписке.
func (s *Service) AuthorizeOrder(ctx context.Context, userID string, req OrderRequest) (*OrderResult, error) {
	const op = "services.AuthorizeOrder"
	provider := string(models.ProviderAuthorization)
	log := s.log.With(slog.String("op", op), sl.User(userID), sl.Provider(provider))

	if strings.TrimSpace(req.PaymentMethodID) == "" {
		return nil, apperr.Validation("payment method is required")
	}
	adapter, err := s.adapter(models.ProviderAuthorization)
	if err != nil {
		return nil, err
	}
	u, err := s.getUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	rec := u.Subscription
	if rec.Status != models.StatusTrial {
		return nil, apperr.State("card authorization is only available during trial")
	}

	customerID := ""
	if rec.Provider == models.ProviderAuthorization {
		customerID = rec.ProviderCustomerID
	}
	order, err := adapter.CreateOrder(ctx, paymentprovider.OrderRequest{
		AmountMinor:     s.opts.AmountMinor,
		Currency:        s.opts.Currency,
		Description:     s.opts.Description,
		CustomerID:      customerID,
		CustomerEmail:   u.Email,
		PaymentMethodID: req.PaymentMethodID,
		IdempotencyKey:  req.IdempotencyKey,
		Metadata:        map[string]string{paymentprovider.MetadataUserID: u.ID},
	})
	if err != nil {
		log.Error("failed to authorize order", sl.Err(err))
		metrics.SubscriptionOperations.WithLabelValues("authorize_order", provider, metrics.ResultRejected).Inc()
		return nil, providerError(err)
	}

	patch, err := subscription.AuthorizeTrial(rec, order.ID, order.CustomerID, order.Status)
	if err != nil {
		return nil, err
	}
	updated, err := s.applyPatch(ctx, u.ID, patch)
	if err != nil {
		log.Error("order authorized but not saved", slog.String("order_id", order.ID), sl.Err(err))
		metrics.SubscriptionOperations.WithLabelValues("authorize_order", provider, metrics.ResultError).Inc()
		return nil, err
	}

	metrics.SubscriptionOperations.WithLabelValues("authorize_order", provider, metrics.ResultOK).Inc()
	log.Info("order authorized", slog.String("order_id", order.ID), slog.String("status", order.Status))
	return &OrderResult{
		OrderID:               order.ID,
		Status:                order.Status,
		HasActiveSubscription: updated.HasActiveSubscription,
	}, nil
}
