package services

import (
	"context"
	"log/slog"
	"strings"

	"github.com/magabrotheeeer/unimatch-billing/internal/cache"
	"github.com/magabrotheeeer/unimatch-billing/internal/lib/apperr"
	"github.com/magabrotheeeer/unimatch-billing/internal/lib/sl"
	"github.com/magabrotheeeer/unimatch-billing/internal/metrics"
	"github.com/magabrotheeeer/unimatch-billing/internal/models"
	"github.com/magabrotheeeer/unimatch-billing/internal/paymentprovider"
	"github.com/magabrotheeeer/unimatch-billing/internal/subscription"
)

const recurringActive = "ACTIVE"

// PaymentDetails: платёжные данные запроса подписки.
// Для провайдера с предавторизацией списывается ранее авторизованный заказ
// (OrderID должен совпадать с сохранённым) или новый заказ по PaymentMethodID.
// Рекуррентному провайдеру данные карты не нужны.
type PaymentDetails struct {
	OrderID         string
	PaymentMethodID string
	IdempotencyKey  string
}

// SubscribeResult: итог подписки. Pending означает, что пользователь должен
// подтвердить подписку по ApprovalURL.
type SubscribeResult struct {
	HasActiveSubscription bool          `json:"has_active_subscription"`
	Status                models.Status `json:"status"`
	PaymentID             string        `json:"payment_id"`
	ApprovalURL           string        `json:"approval_url,omitempty"`
	Pending               bool          `json:"pending"`
}

// Subscribe начинает платёжный цикл через выбранного провайдера. Отказ провайдера
// возвращается без изменения записи.
func (s *Service) Subscribe(ctx context.Context, userID string, provider models.Provider, details PaymentDetails) (*SubscribeResult, error) {
	const op = "services.Subscribe"
	log := s.log.With(slog.String("op", op), sl.User(userID), sl.Provider(string(provider)))

	adapter, err := s.adapter(provider)
	if err != nil {
		return nil, err
	}
	u, err := s.getUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := subscription.CanSubscribe(u.Subscription); err != nil {
		metrics.SubscriptionOperations.WithLabelValues("subscribe", string(provider), metrics.ResultRejected).Inc()
		return nil, err
	}

	idemKey := ""
	if k := strings.TrimSpace(details.IdempotencyKey); k != "" {
		idemKey = cache.IdempotencyKey("subscribe", userID, k)
		var cached SubscribeResult
		if found, err := s.cache.Get(ctx, idemKey, &cached); err != nil {
			log.Warn("idempotency cache unavailable", sl.Err(err))
		} else if found {
			log.Info("returning result of repeated request")
			return &cached, nil
		}

		lockKey := idemKey + ":lock"
		acquired, err := s.cache.Lock(ctx, lockKey, s.opts.IdempotencyTTL)
		switch {
		case err != nil:
			log.Warn("idempotency lock unavailable", sl.Err(err))
		case !acquired:
			return nil, apperr.Conflict("subscription request is already in progress")
		default:
			defer func() {
				if err := s.cache.Unlock(context.WithoutCancel(ctx), lockKey); err != nil {
					log.Warn("failed to release idempotency lock", sl.Err(err))
				}
			}()
		}
	}

	var res *SubscribeResult
	switch provider {
	case models.ProviderAuthorization:
		res, err = s.subscribeWithOrder(ctx, log, adapter, u, details)
	case models.ProviderRecurring:
		res, err = s.subscribeRecurring(ctx, log, adapter, u, details)
	}
	if err != nil {
		result := metrics.ResultRejected
		if apperr.KindOf(err) == apperr.KindInternal {
			result = metrics.ResultError
		}
		metrics.SubscriptionOperations.WithLabelValues("subscribe", string(provider), result).Inc()
		return nil, err
	}

	metrics.SubscriptionOperations.WithLabelValues("subscribe", string(provider), metrics.ResultOK).Inc()
	if idemKey != "" {
		if err := s.cache.Set(ctx, idemKey, res, s.opts.IdempotencyTTL); err != nil {
			log.Warn("failed to store idempotent result", sl.Err(err))
		}
	}
	return res, nil
}

func (s *Service) subscribeWithOrder(ctx context.Context, log *slog.Logger, adapter paymentprovider.Adapter,
	u *models.User, details PaymentDetails) (*SubscribeResult, error) {
	rec := u.Subscription

	authorized := ""
	if rec.Provider == models.ProviderAuthorization {
		authorized = rec.ProviderOrderID
	}
	if details.OrderID != "" && details.OrderID != authorized {
		return nil, apperr.Validation("order does not belong to user")
	}

	var (
		order *paymentprovider.Order
		err   error
	)
	switch {
	case authorized != "" && details.PaymentMethodID == "":
		order, err = adapter.CaptureOrder(ctx, authorized)
	case details.PaymentMethodID != "":
		customerID := ""
		if rec.Provider == models.ProviderAuthorization {
			customerID = rec.ProviderCustomerID
		}
		order, err = adapter.CreateOrder(ctx, paymentprovider.OrderRequest{
			AmountMinor:     s.opts.AmountMinor,
			Currency:        s.opts.Currency,
			Description:     s.opts.Description,
			CustomerID:      customerID,
			CustomerEmail:   u.Email,
			PaymentMethodID: details.PaymentMethodID,
			IdempotencyKey:  details.IdempotencyKey,
			Metadata:        map[string]string{paymentprovider.MetadataUserID: u.ID},
		})
		if err == nil && !order.Captured {
			order, err = adapter.CaptureOrder(ctx, order.ID)
		}
	default:
		return nil, apperr.Validation("payment method or authorized order is required")
	}
	if err != nil {
		log.Error("payment failed", sl.Err(err))
		return nil, providerError(err)
	}
	if !order.Captured {
		return nil, apperr.Provider("payment was not completed, provider status "+order.Status, nil)
	}

	now := s.now().UTC()
	patch, err := s.opts.Policy.Activate(rec, subscription.Activation{
		Provider:       models.ProviderAuthorization,
		CustomerID:     order.CustomerID,
		OrderID:        order.ID,
		ProviderStatus: order.Status,
		PaidAt:         &now,
	}, now)
	if err != nil {
		return nil, err
	}
	updated, err := s.applyPatch(ctx, u.ID, patch)
	if apperr.KindOf(err) == apperr.KindConflict {
		if cur, ok := s.settledByProvider(ctx, log, u.ID, func(r models.SubscriptionRecord) bool {
			return r.Provider == models.ProviderAuthorization
		}); ok {
			return resultOf(cur, order.ID), nil
		}
	}
	if err != nil {
		// Деньги списаны, запись догонит вебхук по заказу.
		log.Error("payment captured but subscription not saved", slog.String("order_id", order.ID), sl.Err(err))
		return nil, err
	}

	log.Info("subscription activated", slog.String("order_id", order.ID))
	s.notify(ctx, updated, models.NotificationSubscriptionStarted)
	return resultOf(updated, order.ID), nil
}

func (s *Service) subscribeRecurring(ctx context.Context, log *slog.Logger, adapter paymentprovider.Adapter,
	u *models.User, details PaymentDetails) (*SubscribeResult, error) {
	rs, err := adapter.CreateRecurringSubscription(ctx, paymentprovider.SubscriptionRequest{
		PlanID: s.opts.PlanID,
		Subscriber: paymentprovider.Subscriber{
			UserID:    u.ID,
			Email:     u.Email,
			FirstName: u.FirstName,
		},
		IdempotencyKey: details.IdempotencyKey,
	})
	if err != nil {
		log.Error("failed to create recurring subscription", sl.Err(err))
		return nil, providerError(err)
	}

	if strings.EqualFold(rs.Status, recurringActive) {
		now := s.now().UTC()
		patch, err := s.opts.Policy.Activate(u.Subscription, subscription.Activation{
			Provider:       models.ProviderRecurring,
			CustomerID:     rs.CustomerID,
			SubscriptionID: rs.ID,
			ProviderStatus: rs.Status,
		}, now)
		if err != nil {
			return nil, err
		}
		updated, err := s.applyPatch(ctx, u.ID, patch)
		if apperr.KindOf(err) == apperr.KindConflict {
			if cur, ok := s.settledByProvider(ctx, log, u.ID, sameSubscription(rs.ID)); ok {
				return resultOf(cur, rs.ID), nil
			}
		}
		if err != nil {
			return nil, err
		}
		s.notify(ctx, updated, models.NotificationSubscriptionStarted)
		return resultOf(updated, rs.ID), nil
	}

	if rs.ApprovalURL == "" {
		return nil, apperr.Provider("payment provider returned no approval link", nil)
	}
	patch, err := subscription.AwaitApproval(u.Subscription, rs.ID, rs.CustomerID, rs.Status)
	if err != nil {
		return nil, err
	}
	updated, err := s.applyPatch(ctx, u.ID, patch)
	if err != nil {
		return nil, err
	}

	log.Info("recurring subscription awaiting approval", slog.String("subscription_id", rs.ID))
	return &SubscribeResult{
		HasActiveSubscription: updated.HasActiveSubscription,
		Status:                updated.Subscription.Status,
		PaymentID:             rs.ID,
		ApprovalURL:           rs.ApprovalURL,
		Pending:               true,
	}, nil
}

func resultOf(u *models.User, paymentID string) *SubscribeResult {
	return &SubscribeResult{
		HasActiveSubscription: u.HasActiveSubscription,
		Status:                u.Subscription.Status,
		PaymentID:             paymentID,
	}
}

func sameSubscription(id string) func(models.SubscriptionRecord) bool {
	return func(r models.SubscriptionRecord) bool {
		return r.Provider == models.ProviderRecurring && r.ProviderSubscriptionID == id
	}
}
