package subscription

import (
	"time"

	"github.com/magabrotheeeer/unimatch-billing/internal/lib/billingdate"
	"github.com/magabrotheeeer/unimatch-billing/internal/models"
)

// Decision: результат сверки одного события с текущей записью.
type Decision struct {
	Patch   models.SubscriptionPatch
	Effects []models.NotificationKind
	Skip    bool
	Reason  string
}

const (
	ReasonStale     = "stale event"
	ReasonForeign   = "event belongs to another provider subscription"
	ReasonIgnored   = "event type is not handled"
	ReasonNoChange  = "record already reflects event"
	ReasonUnmapped  = "provider status does not change state"
	ReasonNoPayment = "payment event without payment date"
	ReasonCaptured  = "order payment already recorded"
)

func skip(reason string) Decision {
	return Decision{Skip: true, Reason: reason}
}

// Reconcile: чистая функция (текущее состояние, событие) → (патч, эффекты).
// События старше последнего применённого отбрасываются. Повторное применение того же
// события к результату даёт пустой патч. События до начала текущего цикла и события
// чужой подписки провайдера не применяются.
func (p Policy) Reconcile(r models.SubscriptionRecord, ev models.ProviderEvent) Decision {
	if r.LastEventAt != nil && ev.OccurredAt.Before(*r.LastEventAt) {
		return skip(ReasonStale)
	}
	if r.CurrentPeriodStart != nil && ev.OccurredAt.Before(*r.CurrentPeriodStart) {
		return skip(ReasonStale)
	}
	if foreignSubscription(r, ev) {
		return skip(ReasonForeign)
	}

	var d Decision
	switch ev.Kind {
	case models.EventPaymentSucceeded:
		d = p.paymentSucceeded(r, ev)
	case models.EventPaymentFailed:
		d = paymentFailed(r)
	case models.EventSubscriptionDeleted:
		d = subscriptionDeleted(r)
	case models.EventSubscriptionUpdated:
		d = subscriptionUpdated(r, ev)
	case models.EventSubscriptionActivated:
		d = p.subscriptionActivated(r, ev)
	default:
		return skip(ReasonIgnored)
	}
	if d.Skip {
		return d
	}
	if d.Patch.IsEmpty() {
		return skip(ReasonNoChange)
	}

	at := ev.OccurredAt.UTC()
	d.Patch.EventAt = &at
	return d
}

// foreignSubscription сообщает, что событие относится к подписке провайдера, которой
// запись больше (или ещё) не принадлежит. Активация подписки допускается для записи без
// подписки: вебхук может прийти раньше локального сохранения.
func foreignSubscription(r models.SubscriptionRecord, ev models.ProviderEvent) bool {
	if ev.SubscriptionID == "" || ev.SubscriptionID == r.ProviderSubscriptionID {
		return false
	}
	return !(ev.Kind == models.EventSubscriptionActivated && r.ProviderSubscriptionID == "")
}

func (p Policy) paymentSucceeded(r models.SubscriptionRecord, ev models.ProviderEvent) Decision {
	paidAt := ev.PaidAt
	if paidAt == nil {
		if ev.OccurredAt.IsZero() {
			return skip(ReasonNoPayment)
		}
		paidAt = &ev.OccurredAt
	}
	paid := paidAt.UTC()

	// Списание заказа учитывается контроллером в момент подписки.
	if ev.OrderID != "" && ev.SubscriptionID == "" && ev.OrderID == r.ProviderOrderID &&
		r.Status == models.StatusActive && r.LastPaymentDate != nil {
		return skip(ReasonCaptured)
	}

	var patch models.SubscriptionPatch
	if r.Status != models.StatusActive {
		patch.Status = ptr(models.StatusActive)
	}
	if r.LastPaymentDate == nil || !r.LastPaymentDate.Equal(paid) {
		patch.LastPaymentDate = &paid
	}
	if ev.ProviderStatus != "" && ev.ProviderStatus != r.ProviderStatus {
		patch.ProviderStatus = ptr(ev.ProviderStatus)
	}
	if ev.PeriodEnd != nil {
		setPeriodEnd(&patch, r, *ev.PeriodEnd)
	} else if next := billingdate.Later(billingdate.AddPeriod(paid, p.PeriodDays), r.NextBillingDate); next != nil {
		patch.NextBillingDate = next
	}

	var effects []models.NotificationKind
	switch {
	case r.Status != models.StatusActive:
		effects = append(effects, models.NotificationSubscriptionStarted)
	case patch.AdvancesBilling(r):
		effects = append(effects, models.NotificationSubscriptionRenewed)
	}
	return Decision{Patch: patch, Effects: effects}
}

func paymentFailed(r models.SubscriptionRecord) Decision {
	if r.Status == models.StatusPastDue {
		return skip(ReasonNoChange)
	}
	return Decision{
		Patch:   models.SubscriptionPatch{Status: ptr(models.StatusPastDue)},
		Effects: []models.NotificationKind{models.NotificationPaymentFailed},
	}
}

func subscriptionDeleted(r models.SubscriptionRecord) Decision {
	if r.Status == models.StatusInactive && r.NextBillingDate == nil &&
		r.ProviderCustomerID == "" && r.ProviderSubscriptionID == "" && r.ProviderOrderID == "" {
		return skip(ReasonNoChange)
	}
	patch := models.SubscriptionPatch{
		Status:               ptr(models.StatusInactive),
		ClearNextBillingDate: true,
		ClearProviderIDs:     true,
		ProviderStatus:       ptr(""),
		ResetWarnings:        len(r.WarningsSent) > 0,
	}
	var effects []models.NotificationKind
	if r.Status != models.StatusInactive {
		effects = append(effects, models.NotificationSubscriptionEnded)
	}
	return Decision{Patch: patch, Effects: effects}
}

func subscriptionUpdated(r models.SubscriptionRecord, ev models.ProviderEvent) Decision {
	var patch models.SubscriptionPatch
	mapped, ok := MapProviderStatus(ev.Provider, ev.ProviderStatus)
	if ok && mapped != r.Status {
		patch.Status = ptr(mapped)
	}
	if ev.ProviderStatus != "" && ev.ProviderStatus != r.ProviderStatus {
		patch.ProviderStatus = ptr(ev.ProviderStatus)
	}
	if ev.PeriodEnd != nil && (!ok || mapped != models.StatusInactive) {
		setPeriodEnd(&patch, r, *ev.PeriodEnd)
	}
	if ev.PaidAt != nil {
		if paid := billingdate.Later(ev.PaidAt.UTC(), r.LastPaymentDate); paid != nil {
			patch.LastPaymentDate = paid
		}
	}
	if !ok && patch.IsEmpty() {
		return skip(ReasonUnmapped)
	}

	var effects []models.NotificationKind
	if patch.Status != nil {
		switch *patch.Status {
		case models.StatusPastDue:
			effects = append(effects, models.NotificationPaymentFailed)
		case models.StatusInactive:
			effects = append(effects, models.NotificationSubscriptionEnded)
		}
	}
	return Decision{Patch: patch, Effects: effects}
}

func (p Policy) subscriptionActivated(r models.SubscriptionRecord, ev models.ProviderEvent) Decision {
	var patch models.SubscriptionPatch
	wasActive := r.Status == models.StatusActive
	if !wasActive {
		patch.Status = ptr(models.StatusActive)
		start := ev.OccurredAt.UTC()
		patch.CurrentPeriodStart = &start
		paid := start
		if ev.PaidAt != nil {
			paid = ev.PaidAt.UTC()
		}
		if last := billingdate.Later(paid, r.LastPaymentDate); last != nil {
			patch.LastPaymentDate = last
		}
	}
	if r.Provider != ev.Provider {
		patch.Provider = ptr(ev.Provider)
	}
	if ev.SubscriptionID != "" && ev.SubscriptionID != r.ProviderSubscriptionID {
		patch.ProviderSubscriptionID = ptr(ev.SubscriptionID)
	}
	if r.ProviderOrderID != "" {
		patch.ProviderOrderID = ptr("")
	}
	if ev.CustomerID != "" && ev.CustomerID != r.ProviderCustomerID {
		patch.ProviderCustomerID = ptr(ev.CustomerID)
	}
	if ev.ProviderStatus != "" && ev.ProviderStatus != r.ProviderStatus {
		patch.ProviderStatus = ptr(ev.ProviderStatus)
	}
	switch {
	case ev.PeriodEnd != nil:
		setPeriodEnd(&patch, r, *ev.PeriodEnd)
	case r.NextBillingDate == nil:
		next := billingdate.AddPeriod(ev.OccurredAt.UTC(), p.PeriodDays)
		patch.NextBillingDate = &next
	}

	var effects []models.NotificationKind
	if !wasActive {
		effects = append(effects, models.NotificationSubscriptionStarted)
	}
	return Decision{Patch: patch, Effects: effects}
}

// setPeriodEnd применяет дату окончания периода от провайдера. Провайдер: источник
// истины для даты списания, поэтому дата может сдвинуться и назад; флаги
// предупреждений сбрасываются только при сдвиге вперёд.
func setPeriodEnd(patch *models.SubscriptionPatch, r models.SubscriptionRecord, end time.Time) {
	end = end.UTC()
	if r.NextBillingDate != nil && r.NextBillingDate.Equal(end) {
		return
	}
	patch.NextBillingDate = &end
	if patch.AdvancesBilling(r) {
		patch.ResetWarnings = true
	}
}
