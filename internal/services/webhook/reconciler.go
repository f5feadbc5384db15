// Package services обрабатывает входящие вебхуки платёжных провайдеров: проверяет
// подпись, находит пользователя и применяет к записи подписки решение сверки.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/magabrotheeeer/unimatch-billing/internal/cache"
	"github.com/magabrotheeeer/unimatch-billing/internal/lib/sl"
	"github.com/magabrotheeeer/unimatch-billing/internal/metrics"
	"github.com/magabrotheeeer/unimatch-billing/internal/models"
	"github.com/magabrotheeeer/unimatch-billing/internal/paymentprovider"
	"github.com/magabrotheeeer/unimatch-billing/internal/storage/repository"
	"github.com/magabrotheeeer/unimatch-billing/internal/subscription"
)

// Итоги обработки события, пишутся в журнал webhook_events и в метрики.
const (
	OutcomeApplied          = "applied"
	OutcomeDuplicate        = "duplicate"
	OutcomeIgnored          = "ignored"
	OutcomeUnmatched        = "unmatched"
	OutcomeSkipped          = "skipped"
	OutcomeStale            = "stale"
	OutcomeInProgress       = "in_progress"
	OutcomeMalformed        = "malformed"
	OutcomeInvalidSignature = "invalid_signature"
	OutcomeError            = "error"
)

// Repository: операции хранилища, нужные сверке.
type Repository interface {
	FindByProviderSubscriptionID(ctx context.Context, provider models.Provider, subscriptionID string) (*models.User, error)
	FindByProviderOrderID(ctx context.Context, provider models.Provider, orderID string) (*models.User, error)
	FindByProviderCustomerID(ctx context.Context, provider models.Provider, customerID string) (*models.User, error)
	ApplyPatch(ctx context.Context, userID string, p models.SubscriptionPatch) (*models.User, error)
	RecordWebhookEvent(ctx context.Context, provider models.Provider, eventID, eventType string) (bool, error)
	MarkWebhookEventProcessed(ctx context.Context, provider models.Provider, eventID, userID, outcome string) error
}

// Cache: блокировка обработки события и сброс кэша статуса.
type Cache interface {
	Lock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
	Invalidate(ctx context.Context, key string) error
}

// Providers: таблица адаптеров по провайдеру.
type Providers interface {
	Get(p models.Provider) (paymentprovider.Adapter, error)
}

// Notifier публикует уведомления, вызванные событием.
type Notifier interface {
	NotifyAll(ctx context.Context, user models.User, kinds []models.NotificationKind)
}

// Reconciler: обработчик вебхуков.
type Reconciler struct {
	repo      Repository
	cache     Cache
	providers Providers
	notifier  Notifier
	policy    subscription.Policy
	lockTTL   time.Duration
	log       *slog.Logger
	now       func() time.Time
}

// NewReconciler создаёт Reconciler.
func NewReconciler(repo Repository, cache Cache, providers Providers, notifier Notifier,
	policy subscription.Policy, lockTTL time.Duration, log *slog.Logger) *Reconciler {
	return &Reconciler{
		repo:      repo,
		cache:     cache,
		providers: providers,
		notifier:  notifier,
		policy:    policy,
		lockTTL:   lockTTL,
		log:       log,
		now:       time.Now,
	}
}

// Handle обрабатывает тело вебхука. Ошибка возвращается только для неизвестного
// провайдера и неверной подписи; остальные сбои логируются, событие подтверждается.
func (r *Reconciler) Handle(ctx context.Context, provider models.Provider, payload []byte, headers http.Header) error {
	const op = "services.webhook.Handle"
	log := r.log.With(slog.String("op", op), sl.Provider(string(provider)))

	if !provider.Valid() {
		return fmt.Errorf("%s: %w", op, models.ErrUnknownProvider)
	}
	adapter, err := r.providers.Get(provider)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := adapter.VerifyWebhookSignature(ctx, payload, headers); err != nil {
		log.Warn("webhook signature rejected", sl.Err(err))
		r.count(provider, OutcomeInvalidSignature)
		if !errors.Is(err, paymentprovider.ErrInvalidSignature) {
			err = fmt.Errorf("%w: %w", paymentprovider.ErrInvalidSignature, err)
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	ev, err := adapter.ParseWebhookEvent(payload)
	if err != nil {
		log.Error("failed to parse webhook event", sl.Err(err))
		r.count(provider, OutcomeMalformed)
		return nil
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = r.now().UTC()
	}
	ev.Provider = provider

	outcome := r.process(ctx, log.With(slog.String("event_id", ev.ID), slog.String("event_type", ev.Type)), ev)
	r.count(provider, outcome)
	return nil
}

func (r *Reconciler) process(ctx context.Context, log *slog.Logger, ev models.ProviderEvent) string {
	processed, err := r.repo.RecordWebhookEvent(ctx, ev.Provider, ev.ID, ev.Type)
	switch {
	case err != nil:
		log.Warn("failed to journal webhook event", sl.Err(err))
	case processed:
		log.Info("webhook event already processed")
		return OutcomeDuplicate
	}

	lockKey := cache.WebhookLockKey(string(ev.Provider), ev.ID)
	acquired, err := r.cache.Lock(ctx, lockKey, r.lockTTL)
	switch {
	case err != nil:
		log.Warn("webhook lock unavailable", sl.Err(err))
	case !acquired:
		log.Info("webhook event is being processed by another worker")
		return OutcomeInProgress
	default:
		defer func() {
			if err := r.cache.Unlock(context.WithoutCancel(ctx), lockKey); err != nil {
				log.Warn("failed to release webhook lock", sl.Err(err))
			}
		}()
	}

	if ev.Kind == models.EventIgnored {
		r.mark(ctx, log, ev, "", OutcomeIgnored)
		return OutcomeIgnored
	}

	u, err := r.resolveUser(ctx, ev)
	if errors.Is(err, repository.ErrUserNotFound) {
		log.Warn("no user matches webhook event",
			slog.String("customer_id", ev.CustomerID),
			slog.String("subscription_id", ev.SubscriptionID),
			slog.String("order_id", ev.OrderID))
		r.mark(ctx, log, ev, "", OutcomeUnmatched)
		return OutcomeUnmatched
	}
	if err != nil {
		log.Error("failed to resolve user", sl.Err(err))
		return OutcomeError
	}
	log = log.With(sl.User(u.ID))

	d := r.policy.Reconcile(u.Subscription, ev)
	if d.Skip {
		log.Info("webhook event skipped", slog.String("reason", d.Reason))
		r.mark(ctx, log, ev, u.ID, OutcomeSkipped)
		return OutcomeSkipped
	}

	updated, err := r.repo.ApplyPatch(ctx, u.ID, d.Patch)
	if errors.Is(err, repository.ErrStaleWrite) {
		log.Info("record changed by a newer event, webhook event discarded")
		r.mark(ctx, log, ev, u.ID, OutcomeStale)
		return OutcomeStale
	}
	if err != nil {
		// Событие остаётся необработанным в журнале, повторная доставка применит его.
		log.Error("failed to apply webhook event", sl.Err(err))
		return OutcomeError
	}
	if err := r.cache.Invalidate(context.WithoutCancel(ctx), cache.StatusKey(u.ID)); err != nil {
		log.Warn("failed to invalidate status cache", sl.Err(err))
	}

	log.Info("webhook event applied",
		slog.String("status", string(updated.Subscription.Status)),
		slog.Bool("has_active_subscription", updated.HasActiveSubscription))
	if len(d.Effects) > 0 {
		r.notifier.NotifyAll(ctx, *updated, d.Effects)
	}
	r.mark(ctx, log, ev, u.ID, OutcomeApplied)
	return OutcomeApplied
}

// resolveUser ищет пользователя по идентификатору подписки, затем заказа, затем клиента.
func (r *Reconciler) resolveUser(ctx context.Context, ev models.ProviderEvent) (*models.User, error) {
	lookups := []struct {
		id   string
		find func(context.Context, models.Provider, string) (*models.User, error)
	}{
		{ev.SubscriptionID, r.repo.FindByProviderSubscriptionID},
		{ev.OrderID, r.repo.FindByProviderOrderID},
		{ev.CustomerID, r.repo.FindByProviderCustomerID},
	}
	for _, l := range lookups {
		if l.id == "" {
			continue
		}
		u, err := l.find(ctx, ev.Provider, l.id)
		if errors.Is(err, repository.ErrUserNotFound) {
			continue
		}
		return u, err
	}
	return nil, repository.ErrUserNotFound
}

func (r *Reconciler) mark(ctx context.Context, log *slog.Logger, ev models.ProviderEvent, userID, outcome string) {
	if err := r.repo.MarkWebhookEventProcessed(context.WithoutCancel(ctx), ev.Provider, ev.ID, userID, outcome); err != nil {
		log.Warn("failed to mark webhook event processed", slog.String("outcome", outcome), sl.Err(err))
	}
}

func (r *Reconciler) count(provider models.Provider, outcome string) {
	metrics.WebhookEvents.WithLabelValues(string(provider), outcome).Inc()
}
