// Package services реализует контроллер подписок: пробный период, предавторизацию,
// подписку через любого из провайдеров, отмену и подтверждение после редиректа.
package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/magabrotheeeer/unimatch-billing/internal/config"
	"github.com/magabrotheeeer/unimatch-billing/internal/lib/apperr"
	"github.com/magabrotheeeer/unimatch-billing/internal/lib/sl"
	"github.com/magabrotheeeer/unimatch-billing/internal/models"
	"github.com/magabrotheeeer/unimatch-billing/internal/paymentprovider"
	"github.com/magabrotheeeer/unimatch-billing/internal/storage/repository"
	"github.com/magabrotheeeer/unimatch-billing/internal/subscription"
)

// Repository: операции хранилища, нужные контроллеру.
type Repository interface {
	GetUserByID(ctx context.Context, userID string) (*models.User, error)
	CreateUser(ctx context.Context, u models.User) (*models.User, error)
	ApplyPatch(ctx context.Context, userID string, p models.SubscriptionPatch) (*models.User, error)
}

// Cache: кэш статуса и ключи идемпотентности.
type Cache interface {
	Get(ctx context.Context, key string, result any) (bool, error)
	Set(ctx context.Context, key string, value any, expiration time.Duration) error
	Invalidate(ctx context.Context, key string) error
	Lock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

// Providers: таблица адаптеров по провайдеру.
type Providers interface {
	Get(p models.Provider) (paymentprovider.Adapter, error)
}

// Notifier ставит письма пользователю и опекуну в очередь.
type Notifier interface {
	Notify(ctx context.Context, user models.User, kind models.NotificationKind) error
}

// GuardianPolicy определяет, требуется ли контакт опекуна.
type GuardianPolicy interface {
	RequiresGuardian(gender string) bool
}

// Options: параметры тарифа и поведения контроллера.
type Options struct {
	Policy          subscription.Policy
	AmountMinor     int64
	Currency        string
	Description     string
	PlanID          string
	ConfirmStatuses []string
	CancelRetries   uint64
	CancelBackoff   time.Duration
	StatusCacheTTL  time.Duration
	IdempotencyTTL  time.Duration
}

// OptionsFromConfig собирает Options из конфига.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Policy:          subscription.Policy{TrialDays: cfg.TrialDays, PeriodDays: cfg.PeriodDays},
		AmountMinor:     cfg.AmountMinor,
		Currency:        strings.ToLower(cfg.Currency),
		Description:     cfg.Description,
		PlanID:          cfg.Providers.Recurring.PlanID,
		ConfirmStatuses: cfg.ConfirmStatuses,
		CancelRetries:   cfg.CancelRetries,
		CancelBackoff:   cfg.CancelBackoff,
		StatusCacheTTL:  cfg.StatusCacheTTL,
		IdempotencyTTL:  cfg.IdempotencyTTL,
	}
}

// Service: контроллер подписок.
type Service struct {
	repo      Repository
	cache     Cache
	providers Providers
	notifier  Notifier
	guardian  GuardianPolicy
	log       *slog.Logger
	opts      Options
	now       func() time.Time

	// Фоновые повторы отмены у провайдера живут дольше запроса.
	bgCtx    context.Context
	bgCancel context.CancelFunc
	wg       sync.WaitGroup
}

// NewService создаёт контроллер подписок.
func NewService(repo Repository, cache Cache, providers Providers, notifier Notifier,
	guardian GuardianPolicy, log *slog.Logger, opts Options) *Service {
	bgCtx, cancel := context.WithCancel(context.Background())
	return &Service{
		repo:      repo,
		cache:     cache,
		providers: providers,
		notifier:  notifier,
		guardian:  guardian,
		log:       log,
		opts:      opts,
		now:       time.Now,
		bgCtx:     bgCtx,
		bgCancel:  cancel,
	}
}

// Shutdown отменяет фоновые повторы и ждёт их завершения или истечения ctx.
func (s *Service) Shutdown(ctx context.Context) error {
	s.bgCancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) getUser(ctx context.Context, userID string) (*models.User, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, apperr.Validation("user id is required")
	}
	u, err := s.repo.GetUserByID(ctx, userID)
	if errors.Is(err, repository.ErrUserNotFound) {
		return nil, apperr.NotFound("user not found")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "failed to load user", err)
	}
	return u, nil
}

func (s *Service) adapter(p models.Provider) (paymentprovider.Adapter, error) {
	if !p.Valid() {
		return nil, apperr.Validation("unsupported payment provider")
	}
	a, err := s.providers.Get(p)
	if err != nil {
		return nil, apperr.Validation("payment provider is not enabled")
	}
	return a, nil
}

// applyPatch сохраняет патч и сбрасывает кэш статуса.
func (s *Service) applyPatch(ctx context.Context, userID string, p models.SubscriptionPatch) (*models.User, error) {
	u, err := s.repo.ApplyPatch(ctx, userID, p)
	s.invalidateStatus(ctx, userID)
	switch {
	case errors.Is(err, repository.ErrStaleWrite):
		return nil, apperr.Conflict("subscription was changed concurrently, please retry")
	case errors.Is(err, repository.ErrUserNotFound):
		return nil, apperr.NotFound("user not found")
	case err != nil:
		return nil, apperr.Wrap(apperr.KindInternal, "failed to save subscription", err)
	}
	return u, nil
}

// settledByProvider перечитывает запись после конфликта записи. Вебхук провайдера мог
// активировать подписку раньше локального сохранения; тогда возвращается сохранённая запись.
func (s *Service) settledByProvider(ctx context.Context, log *slog.Logger, userID string,
	matches func(models.SubscriptionRecord) bool) (*models.User, bool) {
	u, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		log.Warn("failed to reload subscription after conflict", sl.Err(err))
		return nil, false
	}
	if !u.HasActiveSubscription || !matches(u.Subscription) {
		return nil, false
	}
	log.Info("subscription already activated by provider webhook")
	return u, true
}

func (s *Service) notify(ctx context.Context, u *models.User, kind models.NotificationKind) {
	if s.notifier == nil || u == nil {
		return
	}
	if err := s.notifier.Notify(ctx, *u, kind); err != nil {
		s.log.Warn("notification not queued", sl.User(u.ID), slog.String("kind", string(kind)), sl.Err(err))
	}
}

// providerError переводит ошибку адаптера в ошибку для клиента.
func providerError(err error) error {
	if errors.Is(err, paymentprovider.ErrUnsupported) {
		return apperr.Validation("operation is not supported by this payment provider")
	}
	if paymentprovider.IsTemporary(err) {
		return apperr.Upstream("payment provider is unavailable, please retry", err)
	}
	msg := "payment was rejected by provider"
	var pe *paymentprovider.Error
	if errors.As(err, &pe) && pe.Message != "" {
		msg += ": " + pe.Message
	}
	return apperr.Provider(msg, err)
}
