package subscription

import (
	"slices"
	"time"

	"github.com/magabrotheeeer/unimatch-billing/internal/lib/apperr"
	"github.com/magabrotheeeer/unimatch-billing/internal/lib/billingdate"
	"github.com/magabrotheeeer/unimatch-billing/internal/models"
)

// Activation: подтверждённый провайдером результат подписки.
type Activation struct {
	Provider       models.Provider
	CustomerID     string
	SubscriptionID string
	OrderID        string
	ProviderStatus string
	PaidAt         *time.Time
	// NextBillingDate задаётся, если провайдер сообщил дату следующего списания.
	NextBillingDate *time.Time
}

// Activate строит патч перехода в active после успешной подписки.
// Новый цикл начинается в now, флаги предупреждений сбрасываются. Без даты платежа
// от провайдера lastPaymentDate равна now.
func (p Policy) Activate(r models.SubscriptionRecord, a Activation, now time.Time) (models.SubscriptionPatch, error) {
	if err := CanSubscribe(r); err != nil {
		return models.SubscriptionPatch{}, err
	}
	if !a.Provider.Valid() {
		return models.SubscriptionPatch{}, apperr.Validation("unsupported payment provider")
	}

	now = now.UTC()
	next := billingdate.AddPeriod(now, p.PeriodDays)
	if a.NextBillingDate != nil && a.NextBillingDate.After(now) {
		next = a.NextBillingDate.UTC()
	}

	patch := models.SubscriptionPatch{
		Status:             ptr(models.StatusActive),
		Provider:           ptr(a.Provider),
		ProviderStatus:     ptr(a.ProviderStatus),
		CurrentPeriodStart: ptr(now),
		NextBillingDate:    ptr(next),
		ResetWarnings:      true,
		ExpectStatus:       slices.Clone(subscribable),
	}
	paid := now
	if a.PaidAt != nil {
		paid = a.PaidAt.UTC()
	}
	patch.LastPaymentDate = ptr(paid)
	if a.CustomerID != "" {
		patch.ProviderCustomerID = ptr(a.CustomerID)
	}
	switch a.Provider {
	case models.ProviderAuthorization:
		patch.ProviderOrderID = ptr(a.OrderID)
		patch.ProviderSubscriptionID = ptr("")
	case models.ProviderRecurring:
		patch.ProviderSubscriptionID = ptr(a.SubscriptionID)
		patch.ProviderOrderID = ptr("")
	}
	return patch, nil
}

// AwaitApproval сохраняет идентификатор рекуррентной подписки, ожидающей
// подтверждения пользователем. Статус не меняется.
func AwaitApproval(r models.SubscriptionRecord, subscriptionID, customerID, providerStatus string) (models.SubscriptionPatch, error) {
	if err := CanSubscribe(r); err != nil {
		return models.SubscriptionPatch{}, err
	}
	if subscriptionID == "" {
		return models.SubscriptionPatch{}, apperr.Provider("provider returned no subscription id", nil)
	}
	patch := models.SubscriptionPatch{
		Provider:               ptr(models.ProviderRecurring),
		ProviderSubscriptionID: ptr(subscriptionID),
		ProviderOrderID:        ptr(""),
		ProviderStatus:         ptr(providerStatus),
		ExpectStatus:           slices.Clone(subscribable),
	}
	if customerID != "" {
		patch.ProviderCustomerID = ptr(customerID)
	}
	return patch, nil
}

// AuthorizeTrial привязывает предавторизованный заказ к пробному периоду.
func AuthorizeTrial(r models.SubscriptionRecord, orderID, customerID, providerStatus string) (models.SubscriptionPatch, error) {
	if r.Status != models.StatusTrial {
		return models.SubscriptionPatch{}, apperr.State("card authorization is only available during trial")
	}
	if orderID == "" {
		return models.SubscriptionPatch{}, apperr.Provider("provider returned no order id", nil)
	}
	patch := models.SubscriptionPatch{
		Provider:               ptr(models.ProviderAuthorization),
		ProviderOrderID:        ptr(orderID),
		ProviderSubscriptionID: ptr(""),
		ProviderStatus:         ptr(providerStatus),
		ExpectStatus:           []models.Status{models.StatusTrial},
	}
	if customerID != "" {
		patch.ProviderCustomerID = ptr(customerID)
	}
	return patch, nil
}

// Cancel переводит подписку в pending_cancellation. Доступ отзывается сразу:
// hasActiveSubscription вычисляется из статуса.
func Cancel(r models.SubscriptionRecord) (models.SubscriptionPatch, error) {
	if err := CanCancel(r); err != nil {
		return models.SubscriptionPatch{}, err
	}
	return models.SubscriptionPatch{
		Status:       ptr(models.StatusPendingCancellation),
		ExpectStatus: slices.Clone(cancellable),
	}, nil
}

// Expire закрывает отменённую подписку после окончания оплаченного периода.
// Нужен провайдерам, которые не присылают событие окончания подписки.
func Expire(r models.SubscriptionRecord, now time.Time) (models.SubscriptionPatch, error) {
	if r.Status != models.StatusPendingCancellation {
		return models.SubscriptionPatch{}, apperr.State("subscription is not pending cancellation")
	}
	if r.NextBillingDate == nil || r.NextBillingDate.After(now) {
		return models.SubscriptionPatch{}, apperr.State("paid period has not ended")
	}
	return models.SubscriptionPatch{
		Status:               ptr(models.StatusInactive),
		ClearNextBillingDate: true,
		ClearProviderIDs:     true,
		ProviderStatus:       ptr(""),
		ResetWarnings:        len(r.WarningsSent) > 0,
		ExpectStatus:         []models.Status{models.StatusPendingCancellation},
	}, nil
}

func ptr[T any](v T) *T {
	return &v
}
