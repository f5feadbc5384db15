package paymentprovider

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/magabrotheeeer/unimatch-billing/internal/models"
)

var authorizationEventKinds = map[string]models.EventKind{
	"invoice.payment_succeeded":     models.EventPaymentSucceeded,
	"invoice.paid":                  models.EventPaymentSucceeded,
	"payment_intent.succeeded":      models.EventPaymentSucceeded,
	"invoice.payment_failed":        models.EventPaymentFailed,
	"payment_intent.payment_failed": models.EventPaymentFailed,
	"customer.subscription.deleted": models.EventSubscriptionDeleted,
	"customer.subscription.updated": models.EventSubscriptionUpdated,
	"customer.subscription.created": models.EventSubscriptionUpdated,
}

// expandableID принимает как строковый идентификатор, так и развёрнутый объект с полем id.
type expandableID string

func (e *expandableID) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*e = expandableID(s)
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*e = expandableID(obj.ID)
	return nil
}

type period struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

type invoiceObject struct {
	ID           string       `json:"id"`
	Customer     expandableID `json:"customer"`
	Subscription expandableID `json:"subscription"`
	Status       string       `json:"status"`
	Parent       *struct {
		SubscriptionDetails *struct {
			Subscription expandableID `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
	StatusTransitions struct {
		PaidAt int64 `json:"paid_at"`
	} `json:"status_transitions"`
	Lines struct {
		Data []struct {
			Period period `json:"period"`
		} `json:"data"`
	} `json:"lines"`
}

func (inv invoiceObject) subscriptionID() string {
	if inv.Subscription != "" {
		return string(inv.Subscription)
	}
	if inv.Parent != nil && inv.Parent.SubscriptionDetails != nil {
		return string(inv.Parent.SubscriptionDetails.Subscription)
	}
	return ""
}

func (inv invoiceObject) periodEnd() int64 {
	var end int64
	for _, l := range inv.Lines.Data {
		end = max(end, l.Period.End)
	}
	return end
}

type subscriptionObject struct {
	ID               string       `json:"id"`
	Customer         expandableID `json:"customer"`
	Status           string       `json:"status"`
	CurrentPeriodEnd int64        `json:"current_period_end"`
	Items            struct {
		Data []struct {
			CurrentPeriodEnd int64 `json:"current_period_end"`
		} `json:"data"`
	} `json:"items"`
}

func (s subscriptionObject) periodEnd() int64 {
	end := s.CurrentPeriodEnd
	for _, item := range s.Items.Data {
		end = max(end, item.CurrentPeriodEnd)
	}
	return end
}

// MetadataUserID: ключ метаданных заказа с идентификатором пользователя. Платежи
// без него созданы провайдером для счетов подписки и приходят отдельно как invoice.*.
const MetadataUserID = "user_id"

type paymentIntentObject struct {
	ID       string            `json:"id"`
	Customer expandableID      `json:"customer"`
	Status   string            `json:"status"`
	Metadata map[string]string `json:"metadata"`
}

func parseAuthorizationEvent(payload []byte) (models.ProviderEvent, error) {
	var evt stripe.Event
	if err := json.Unmarshal(payload, &evt); err != nil {
		return models.ProviderEvent{}, fmt.Errorf("decode event: %w", err)
	}
	if evt.ID == "" {
		return models.ProviderEvent{}, fmt.Errorf("decode event: missing id")
	}

	ev := models.ProviderEvent{
		ID:         evt.ID,
		Provider:   models.ProviderAuthorization,
		Type:       string(evt.Type),
		Kind:       models.EventIgnored,
		OccurredAt: time.Unix(evt.Created, 0).UTC(),
	}
	kind, ok := authorizationEventKinds[ev.Type]
	if !ok || evt.Data == nil {
		return ev, nil
	}
	ev.Kind = kind
	raw := evt.Data.Raw

	switch {
	case kind == models.EventPaymentSucceeded || kind == models.EventPaymentFailed:
		if strings.HasPrefix(ev.Type, "payment_intent.") {
			var pi paymentIntentObject
			if err := json.Unmarshal(raw, &pi); err != nil {
				return ev, fmt.Errorf("decode payment intent: %w", err)
			}
			if pi.Metadata[MetadataUserID] == "" {
				ev.Kind = models.EventIgnored
				return ev, nil
			}
			ev.OrderID = pi.ID
			ev.CustomerID = string(pi.Customer)
			ev.ProviderStatus = pi.Status
			if kind == models.EventPaymentSucceeded {
				ev.PaidAt = ptrTime(ev.OccurredAt)
			}
			return ev, nil
		}
		var inv invoiceObject
		if err := json.Unmarshal(raw, &inv); err != nil {
			return ev, fmt.Errorf("decode invoice: %w", err)
		}
		ev.CustomerID = string(inv.Customer)
		ev.SubscriptionID = inv.subscriptionID()
		if kind == models.EventPaymentSucceeded {
			ev.PaidAt = unixPtr(inv.StatusTransitions.PaidAt)
			ev.PeriodEnd = unixPtr(inv.periodEnd())
		}
	default:
		var sub subscriptionObject
		if err := json.Unmarshal(raw, &sub); err != nil {
			return ev, fmt.Errorf("decode subscription: %w", err)
		}
		ev.CustomerID = string(sub.Customer)
		ev.SubscriptionID = sub.ID
		ev.ProviderStatus = sub.Status
		if kind != models.EventSubscriptionDeleted {
			ev.PeriodEnd = unixPtr(sub.periodEnd())
		}
	}
	return ev, nil
}

func ptrTime(t time.Time) *time.Time {
	return &t
}
