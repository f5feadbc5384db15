package paymentprovider

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/magabrotheeeer/unimatch-billing/internal/models"
)

var recurringEventKinds = map[string]models.EventKind{
	"BILLING.SUBSCRIPTION.ACTIVATED":      models.EventSubscriptionActivated,
	"BILLING.SUBSCRIPTION.RE-ACTIVATED":   models.EventSubscriptionActivated,
	"PAYMENT.SALE.COMPLETED":              models.EventPaymentSucceeded,
	"BILLING.SUBSCRIPTION.PAYMENT.FAILED": models.EventPaymentFailed,
	"BILLING.SUBSCRIPTION.CANCELLED":      models.EventSubscriptionDeleted,
	"BILLING.SUBSCRIPTION.EXPIRED":        models.EventSubscriptionDeleted,
	"BILLING.SUBSCRIPTION.SUSPENDED":      models.EventSubscriptionUpdated,
	"BILLING.SUBSCRIPTION.UPDATED":        models.EventSubscriptionUpdated,
}

type recurringEnvelope struct {
	ID         string          `json:"id"`
	EventType  string          `json:"event_type"`
	CreateTime time.Time       `json:"create_time"`
	Resource   json.RawMessage `json:"resource"`
}

type saleResource struct {
	ID                 string     `json:"id"`
	State              string     `json:"state"`
	BillingAgreementID string     `json:"billing_agreement_id"`
	CreateTime         *time.Time `json:"create_time"`
	UpdateTime         *time.Time `json:"update_time"`
}

func parseRecurringEvent(payload []byte) (models.ProviderEvent, error) {
	var env recurringEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return models.ProviderEvent{}, fmt.Errorf("decode event: %w", err)
	}
	if env.ID == "" {
		return models.ProviderEvent{}, fmt.Errorf("decode event: missing id")
	}

	ev := models.ProviderEvent{
		ID:         env.ID,
		Provider:   models.ProviderRecurring,
		Type:       env.EventType,
		Kind:       models.EventIgnored,
		OccurredAt: env.CreateTime.UTC(),
	}
	kind, ok := recurringEventKinds[strings.ToUpper(env.EventType)]
	if !ok || len(env.Resource) == 0 {
		return ev, nil
	}
	ev.Kind = kind

	if kind == models.EventPaymentSucceeded {
		var sale saleResource
		if err := json.Unmarshal(env.Resource, &sale); err != nil {
			return ev, fmt.Errorf("decode sale: %w", err)
		}
		ev.SubscriptionID = sale.BillingAgreementID
		switch {
		case sale.UpdateTime != nil:
			ev.PaidAt = utcPtr(sale.UpdateTime)
		case sale.CreateTime != nil:
			ev.PaidAt = utcPtr(sale.CreateTime)
		default:
			ev.PaidAt = ptrTime(ev.OccurredAt)
		}
		return ev, nil
	}

	var sub subscriptionResource
	if err := json.Unmarshal(env.Resource, &sub); err != nil {
		return ev, fmt.Errorf("decode subscription: %w", err)
	}
	ev.SubscriptionID = sub.ID
	ev.ProviderStatus = sub.Status
	if sub.Subscriber != nil {
		ev.CustomerID = sub.Subscriber.PayerID
	}
	if sub.BillingInfo != nil && kind != models.EventSubscriptionDeleted {
		ev.PeriodEnd = utcPtr(sub.BillingInfo.NextBillingTime)
		if sub.BillingInfo.LastPayment != nil && kind == models.EventSubscriptionUpdated {
			ev.PaidAt = utcPtr(sub.BillingInfo.LastPayment.Time)
		}
	}
	return ev, nil
}
