// Package subscription реализует конечный автомат подписки: переходы, инициированные
// пользователем, и чистую функцию сверки событий провайдеров. Пакет не выполняет
// ввода-вывода: результат каждого перехода: типизированный патч и список эффектов.
package subscription

import (
	"slices"
	"time"

	"github.com/magabrotheeeer/unimatch-billing/internal/lib/apperr"
	"github.com/magabrotheeeer/unimatch-billing/internal/models"
)

// Policy задаёт длительности пробного и платёжного периодов в днях.
type Policy struct {
	TrialDays  int
	PeriodDays int
}

// DefaultPolicy: 30 дней пробного периода и 30 дней платёжного цикла.
var DefaultPolicy = Policy{TrialDays: 30, PeriodDays: 30}

// subscribable: статусы, из которых разрешена новая подписка.
var subscribable = []models.Status{models.StatusTrial, models.StatusInactive, models.StatusPendingCancellation}

// cancellable: статусы, из которых разрешена отмена.
var cancellable = []models.Status{models.StatusActive, models.StatusPastDue}

// NewTrialRecord создаёт запись при регистрации. Даты пробного периода больше не меняются.
func (p Policy) NewTrialRecord(now time.Time) models.SubscriptionRecord {
	start := now.UTC()
	return models.SubscriptionRecord{
		Status:         models.StatusTrial,
		TrialStartDate: start,
		TrialEndDate:   start.AddDate(0, 0, p.TrialDays),
		UpdatedAt:      start,
	}
}

// CanSubscribe проверяет, можно ли начать новый цикл.
func CanSubscribe(r models.SubscriptionRecord) error {
	if r.Status == models.StatusActive {
		return apperr.Conflict("subscription is already active")
	}
	if !slices.Contains(subscribable, r.Status) {
		return apperr.State("subscription cannot be started from status " + string(r.Status))
	}
	return nil
}

// CanCancel проверяет, есть ли что отменять.
func CanCancel(r models.SubscriptionRecord) error {
	if !slices.Contains(cancellable, r.Status) {
		return apperr.State("no active subscription")
	}
	return nil
}
