package services

import (
	"context"
	"log/slog"
	"slices"
	"strings"

	"github.com/magabrotheeeer/unimatch-billing/internal/lib/apperr"
	"github.com/magabrotheeeer/unimatch-billing/internal/lib/sl"
	"github.com/magabrotheeeer/unimatch-billing/internal/metrics"
	"github.com/magabrotheeeer/unimatch-billing/internal/models"
	"github.com/magabrotheeeer/unimatch-billing/internal/subscription"
)

// ConfirmRedirectSubscription подтверждает рекуррентную подписку после возврата
// пользователя с сайта провайдера. Статус запрашивается у провайдера и принимается
// только из списка разрешённых.
func (s *Service) ConfirmRedirectSubscription(ctx context.Context, userID, subscriptionID string) (*SubscribeResult, error) {
	const op = "services.ConfirmRedirectSubscription"
	provider := string(models.ProviderRecurring)
	log := s.log.With(slog.String("op", op), sl.User(userID), slog.String("subscription_id", subscriptionID))

	if strings.TrimSpace(subscriptionID) == "" {
		return nil, apperr.Validation("subscription id is required")
	}
	adapter, err := s.adapter(models.ProviderRecurring)
	if err != nil {
		return nil, err
	}
	u, err := s.getUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	rec := u.Subscription
	if rec.Provider != models.ProviderRecurring || rec.ProviderSubscriptionID != subscriptionID {
		return nil, apperr.Validation("subscription does not belong to user")
	}
	if rec.Status == models.StatusActive {
		return nil, apperr.Conflict("subscription is already confirmed")
	}

	st, err := adapter.FetchSubscriptionStatus(ctx, subscriptionID)
	if err != nil {
		log.Error("failed to fetch subscription status", sl.Err(err))
		metrics.SubscriptionOperations.WithLabelValues("confirm", provider, metrics.ResultError).Inc()
		return nil, providerError(err)
	}
	if !s.confirmable(st.Status) {
		log.Warn("subscription status is not confirmable", slog.String("provider_status", st.Status))
		metrics.SubscriptionOperations.WithLabelValues("confirm", provider, metrics.ResultRejected).Inc()
		return nil, apperr.Provider("subscription is not approved, provider status "+st.Status, nil)
	}

	patch, err := s.opts.Policy.Activate(rec, subscription.Activation{
		Provider:        models.ProviderRecurring,
		CustomerID:      st.CustomerID,
		SubscriptionID:  subscriptionID,
		ProviderStatus:  st.Status,
		PaidAt:          st.LastPaymentTime,
		NextBillingDate: st.NextBillingTime,
	}, s.now())
	if err != nil {
		metrics.SubscriptionOperations.WithLabelValues("confirm", provider, metrics.ResultRejected).Inc()
		return nil, err
	}
	updated, err := s.applyPatch(ctx, userID, patch)
	if apperr.KindOf(err) == apperr.KindConflict {
		if cur, ok := s.settledByProvider(ctx, log, userID, sameSubscription(subscriptionID)); ok {
			metrics.SubscriptionOperations.WithLabelValues("confirm", provider, metrics.ResultOK).Inc()
			return resultOf(cur, subscriptionID), nil
		}
	}
	if err != nil {
		metrics.SubscriptionOperations.WithLabelValues("confirm", provider, metrics.ResultError).Inc()
		return nil, err
	}

	metrics.SubscriptionOperations.WithLabelValues("confirm", provider, metrics.ResultOK).Inc()
	log.Info("recurring subscription confirmed", slog.String("provider_status", st.Status))
	s.notify(ctx, updated, models.NotificationSubscriptionStarted)
	return resultOf(updated, subscriptionID), nil
}

func (s *Service) confirmable(status string) bool {
	return slices.ContainsFunc(s.opts.ConfirmStatuses, func(allowed string) bool {
		return strings.EqualFold(strings.TrimSpace(allowed), status)
	})
}
