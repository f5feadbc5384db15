package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/unimatch-billing/internal/cache"
	"github.com/magabrotheeeer/unimatch-billing/internal/lib/sl"
	"github.com/magabrotheeeer/unimatch-billing/internal/models"
)

// StatusView: представление подписки для клиента.
type StatusView struct {
	Status                models.Status   `json:"status"`
	HasActiveSubscription bool            `json:"has_active_subscription"`
	Provider              models.Provider `json:"provider,omitempty"`
	TrialEndDate          time.Time       `json:"trial_end_date"`
	LastPaymentDate       *time.Time      `json:"last_payment_date,omitempty"`
	NextBillingDate       *time.Time      `json:"next_billing_date,omitempty"`
	AwaitingApproval      bool            `json:"awaiting_approval"`
}

// ViewOf строит представление подписки пользователя.
func ViewOf(u *models.User) StatusView {
	r := u.Subscription
	return StatusView{
		Status:                r.Status,
		HasActiveSubscription: u.HasActiveSubscription,
		Provider:              r.Provider,
		TrialEndDate:          r.TrialEndDate,
		LastPaymentDate:       r.LastPaymentDate,
		NextBillingDate:       r.NextBillingDate,
		AwaitingApproval: r.Provider == models.ProviderRecurring && r.ProviderSubscriptionID != "" &&
			r.Status != models.StatusActive && r.Status != models.StatusPastDue &&
			r.Status != models.StatusPendingCancellation,
	}
}

// Status возвращает состояние подписки. Ответ кэшируется в Redis и сбрасывается при записи.
func (s *Service) Status(ctx context.Context, userID string) (*StatusView, error) {
	const op = "services.Status"
	log := s.log.With(slog.String("op", op), sl.User(userID))

	key := cache.StatusKey(userID)
	var cached StatusView
	found, err := s.cache.Get(ctx, key, &cached)
	if err != nil {
		log.Warn("status cache unavailable", sl.Err(err))
	} else if found {
		return &cached, nil
	}

	u, err := s.getUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	view := ViewOf(u)
	if err := s.cache.Set(ctx, key, view, s.opts.StatusCacheTTL); err != nil {
		log.Warn("failed to cache status", sl.Err(err))
	}
	return &view, nil
}

func (s *Service) invalidateStatus(ctx context.Context, userID string) {
	if err := s.cache.Invalidate(context.WithoutCancel(ctx), cache.StatusKey(userID)); err != nil {
		s.log.Warn("failed to invalidate status cache", sl.User(userID), sl.Err(err))
	}
}
