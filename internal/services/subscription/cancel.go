package services

import (
	"context"
	"log/slog"

	"github.com/sethvargo/go-retry"

	"github.com/magabrotheeeer/unimatch-billing/internal/lib/apperr"
	"github.com/magabrotheeeer/unimatch-billing/internal/lib/sl"
	"github.com/magabrotheeeer/unimatch-billing/internal/metrics"
	"github.com/magabrotheeeer/unimatch-billing/internal/models"
	"github.com/magabrotheeeer/unimatch-billing/internal/paymentprovider"
	"github.com/magabrotheeeer/unimatch-billing/internal/subscription"
)

// CancelResult: итог отмены. ProviderPending означает, что провайдер ещё не
// подтвердил отмену; при временном сбое повтор запускается в фоне.
type CancelResult struct {
	Message         string        `json:"message"`
	Status          models.Status `json:"status"`
	ProviderPending bool          `json:"provider_pending"`
	RetryScheduled  bool          `json:"retry_scheduled"`
	ProviderError   string        `json:"provider_error,omitempty"`
}

// CancelSubscription переводит подписку в pending_cancellation и отменяет её у провайдера.
// Локальная отмена фиксируется до вызова провайдера и не откатывается при его ошибке.
func (s *Service) CancelSubscription(ctx context.Context, userID string) (*CancelResult, error) {
	const op = "services.CancelSubscription"
	log := s.log.With(slog.String("op", op), sl.User(userID))

	u, err := s.getUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	rec := u.Subscription
	provider := string(rec.Provider)

	patch, err := subscription.Cancel(rec)
	if err != nil {
		metrics.SubscriptionOperations.WithLabelValues("cancel", provider, metrics.ResultRejected).Inc()
		return nil, err
	}
	updated, err := s.applyPatch(ctx, userID, patch)
	if err != nil {
		metrics.SubscriptionOperations.WithLabelValues("cancel", provider, metrics.ResultError).Inc()
		return nil, err
	}
	metrics.SubscriptionOperations.WithLabelValues("cancel", provider, metrics.ResultOK).Inc()
	log.Info("subscription cancelled locally")

	res := &CancelResult{
		Message: "Subscription cancelled",
		Status:  updated.Subscription.Status,
	}
	defer s.notify(ctx, updated, models.NotificationSubscriptionCancelled)

	// У разового заказа нет ничего рекуррентного на стороне провайдера; запись
	// закроет планировщик после окончания оплаченного периода.
	if rec.ProviderSubscriptionID == "" {
		return res, nil
	}

	adapter, err := s.adapter(rec.Provider)
	if err != nil {
		log.Error("provider for cancellation is not available", sl.Err(err))
		res.ProviderPending = true
		res.ProviderError = apperr.Message(err)
		res.Message = "Subscription cancelled. Provider cancellation is pending"
		return res, nil
	}

	err = adapter.CancelSubscription(ctx, rec.ProviderSubscriptionID)
	if err == nil {
		log.Info("subscription cancelled at provider", slog.String("subscription_id", rec.ProviderSubscriptionID))
		return res, nil
	}

	log.Error("provider cancellation failed", sl.Err(err))
	res.ProviderPending = true
	res.ProviderError = apperr.Message(providerError(err))
	res.Message = "Subscription cancelled. Provider cancellation is pending"
	if paymentprovider.IsTemporary(err) {
		s.retryCancel(adapter, userID, rec.ProviderSubscriptionID)
		res.RetryScheduled = true
		res.Message = "Subscription cancelled. Provider cancellation will be retried"
	}
	return res, nil
}

// retryCancel повторяет отмену у провайдера с экспоненциальной задержкой.
func (s *Service) retryCancel(adapter paymentprovider.Adapter, userID, subscriptionID string) {
	provider := string(adapter.Provider())
	log := s.log.With(
		slog.String("op", "services.retryCancel"),
		sl.User(userID),
		sl.Provider(provider),
		slog.String("subscription_id", subscriptionID),
	)

	b := retry.NewExponential(s.opts.CancelBackoff)
	b = retry.WithMaxRetries(s.opts.CancelRetries, b)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		err := retry.Do(s.bgCtx, b, func(ctx context.Context) error {
			err := adapter.CancelSubscription(ctx, subscriptionID)
			if err != nil && paymentprovider.IsTemporary(err) {
				metrics.ProviderCancelRetries.WithLabelValues(provider, metrics.ResultError).Inc()
				log.Warn("provider cancellation attempt failed", sl.Err(err))
				return retry.RetryableError(err)
			}
			return err
		})
		if err != nil {
			metrics.ProviderCancelRetries.WithLabelValues(provider, metrics.ResultRejected).Inc()
			log.Error("provider cancellation gave up", sl.Err(err))
			return
		}
		metrics.ProviderCancelRetries.WithLabelValues(provider, metrics.ResultOK).Inc()
		log.Info("provider cancellation completed")
	}()
}
