// Package services: планировщик предупреждений о продлении подписки и закрытия
// отменённых подписок после окончания оплаченного периода.
package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/unimatch-billing/internal/lib/billingdate"
	"github.com/magabrotheeeer/unimatch-billing/internal/lib/sl"
	"github.com/magabrotheeeer/unimatch-billing/internal/metrics"
	"github.com/magabrotheeeer/unimatch-billing/internal/models"
	"github.com/magabrotheeeer/unimatch-billing/internal/storage/repository"
	"github.com/magabrotheeeer/unimatch-billing/internal/subscription"
)

// Repository: выборка подписок для предупреждений, отметка отправленных флагов
// и закрытие отменённых подписок.
type Repository interface {
	FindDueForWarning(ctx context.Context, from, to time.Time, flag models.WarningFlag, limit int) ([]*models.User, error)
	SetWarningFlag(ctx context.Context, userID string, flag models.WarningFlag, cycleDate time.Time) (bool, error)
	FindEndedCancellations(ctx context.Context, now time.Time, limit int) ([]*models.User, error)
	ApplyPatch(ctx context.Context, userID string, p models.SubscriptionPatch) (*models.User, error)
}

// Notifier ставит письмо в очередь.
type Notifier interface {
	Notify(ctx context.Context, user models.User, kind models.NotificationKind) error
}

// Threshold: порог предупреждения: за сколько дней до списания отправляется флаг.
type Threshold struct {
	Flag models.WarningFlag
	Days int
}

// Thresholds: пороги 7, 3 и 0 дней до nextBillingDate.
var Thresholds = []Threshold{
	{Flag: models.WarningSevenDay, Days: 7},
	{Flag: models.WarningThreeDay, Days: 3},
	{Flag: models.WarningExpiryDay, Days: 0},
}

// SchedulerService периодически рассылает предупреждения о продлении.
// Доставка at-least-once: флаг ставится только после успешной публикации.
type SchedulerService struct {
	repo      Repository
	notifier  Notifier
	log       *slog.Logger
	interval  time.Duration
	batchSize int
	now       func() time.Time
}

// NewSchedulerService создает новый экземпляр SchedulerService.
func NewSchedulerService(repo Repository, notifier Notifier, log *slog.Logger, interval time.Duration, batchSize int) *SchedulerService {
	return &SchedulerService{
		repo:      repo,
		notifier:  notifier,
		log:       log,
		interval:  interval,
		batchSize: batchSize,
		now:       time.Now,
	}
}

// Run выполняет проход сразу, затем по таймеру до отмены ctx.
func (s *SchedulerService) Run(ctx context.Context) {
	s.pass(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("renewal scheduler stopped")
			return
		case <-ticker.C:
			s.pass(ctx)
		}
	}
}

func (s *SchedulerService) pass(ctx context.Context) {
	now := s.now()
	s.Tick(ctx, now)
	s.ExpireCancellations(ctx, now)
}

// Tick обрабатывает все пороги и возвращает число отправленных предупреждений.
func (s *SchedulerService) Tick(ctx context.Context, now time.Time) int {
	s.log.Info("starting renewal warning pass", slog.Time("now", now.UTC()))
	sent := 0
	for _, th := range Thresholds {
		if ctx.Err() != nil {
			break
		}
		sent += s.runThreshold(ctx, now, th)
	}
	s.log.Info("renewal warning pass finished", slog.Int("sent", sent))
	return sent
}

func (s *SchedulerService) runThreshold(ctx context.Context, now time.Time, th Threshold) int {
	log := s.log.With(slog.String("flag", string(th.Flag)))
	from, to := billingdate.DayBucket(now, th.Days)

	users, err := s.repo.FindDueForWarning(ctx, from, to, th.Flag, s.batchSize)
	if err != nil {
		log.Error("failed to find subscriptions due for warning", sl.Err(err))
		return 0
	}
	if len(users) == 0 {
		log.Debug("no subscriptions due for warning")
		return 0
	}
	if len(users) == s.batchSize {
		log.Warn("warning batch is full, remaining users are handled next tick", slog.Int("batch_size", s.batchSize))
	}
	log.Info("found subscriptions due for warning", slog.Int("count", len(users)))

	kind := models.RenewalKind(th.Flag)
	sent := 0
	for _, u := range users {
		if ctx.Err() != nil {
			break
		}
		next := u.Subscription.NextBillingDate
		if next == nil {
			continue
		}
		if err := s.notifier.Notify(ctx, *u, kind); err != nil {
			log.Error("failed to queue renewal warning", sl.User(u.ID), sl.Err(err))
			metrics.RenewalWarnings.WithLabelValues(string(th.Flag), metrics.ResultError).Inc()
			continue
		}
		set, err := s.repo.SetWarningFlag(ctx, u.ID, th.Flag, *next)
		if err != nil {
			// Письмо уже в очереди; без флага следующий проход отправит его повторно.
			log.Error("failed to set warning flag", sl.User(u.ID), sl.Err(err))
			metrics.RenewalWarnings.WithLabelValues(string(th.Flag), metrics.ResultError).Inc()
			continue
		}
		if !set {
			log.Info("billing cycle changed while warning was sent", sl.User(u.ID))
		}
		metrics.RenewalWarnings.WithLabelValues(string(th.Flag), metrics.ResultOK).Inc()
		sent++
	}
	return sent
}

// ExpireCancellations переводит в inactive отменённые подписки, чей оплаченный период
// закончился, и возвращает их число. Провайдер с предавторизацией не присылает событие
// окончания подписки, поэтому такие записи закрывает планировщик.
func (s *SchedulerService) ExpireCancellations(ctx context.Context, now time.Time) int {
	log := s.log.With(slog.String("op", "services.scheduler.ExpireCancellations"))
	if ctx.Err() != nil {
		return 0
	}

	users, err := s.repo.FindEndedCancellations(ctx, now, s.batchSize)
	if err != nil {
		log.Error("failed to find ended cancellations", sl.Err(err))
		return 0
	}
	if len(users) == 0 {
		log.Debug("no ended cancellations")
		return 0
	}
	log.Info("found ended cancellations", slog.Int("count", len(users)))

	expired := 0
	for _, u := range users {
		if ctx.Err() != nil {
			break
		}
		patch, err := subscription.Expire(u.Subscription, now)
		if err != nil {
			log.Warn("record is not expirable", sl.User(u.ID), sl.Err(err))
			continue
		}
		updated, err := s.repo.ApplyPatch(ctx, u.ID, patch)
		if errors.Is(err, repository.ErrStaleWrite) {
			log.Info("subscription changed before expiry", sl.User(u.ID))
			continue
		}
		if err != nil {
			log.Error("failed to expire cancelled subscription", sl.User(u.ID), sl.Err(err))
			metrics.CancellationsExpired.WithLabelValues(metrics.ResultError).Inc()
			continue
		}
		metrics.CancellationsExpired.WithLabelValues(metrics.ResultOK).Inc()
		expired++
		if err := s.notifier.Notify(ctx, *updated, models.NotificationSubscriptionEnded); err != nil {
			log.Warn("subscription ended notification not queued", sl.User(u.ID), sl.Err(err))
		}
	}
	log.Info("expired cancelled subscriptions", slog.Int("count", expired))
	return expired
}
