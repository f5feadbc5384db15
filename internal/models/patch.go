package models

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

var (
	// ErrEmptyPatch возвращается, если патч не меняет ни одного поля.
	ErrEmptyPatch = errors.New("subscription patch is empty")
	// ErrInvalidPatch возвращается при противоречивом патче.
	ErrInvalidPatch = errors.New("invalid subscription patch")
)

// SubscriptionPatch: типизированное частичное обновление записи подписки.
// nil означает "не трогать поле". Пустая строка в указателе очищает идентификатор.
//
// ExpectStatus и EventAt: предусловия записи: хранилище применяет патч
// только если текущий статус входит в ExpectStatus и last_event_at не позже EventAt.
type SubscriptionPatch struct {
	Status                 *Status
	Provider               *Provider
	ProviderCustomerID     *string
	ProviderSubscriptionID *string
	ProviderOrderID        *string
	ProviderStatus         *string
	CurrentPeriodStart     *time.Time
	LastPaymentDate        *time.Time
	NextBillingDate        *time.Time
	ClearNextBillingDate   bool
	ClearProviderIDs       bool
	ResetWarnings          bool

	ExpectStatus []Status
	EventAt      *time.Time
}

// IsEmpty сообщает, что патч не меняет ни одного поля.
func (p SubscriptionPatch) IsEmpty() bool {
	return p.Status == nil && p.Provider == nil && p.ProviderCustomerID == nil &&
		p.ProviderSubscriptionID == nil && p.ProviderOrderID == nil && p.ProviderStatus == nil &&
		p.CurrentPeriodStart == nil && p.LastPaymentDate == nil && p.NextBillingDate == nil &&
		!p.ClearNextBillingDate && !p.ClearProviderIDs && !p.ResetWarnings
}

// Validate проверяет патч до слияния.
func (p SubscriptionPatch) Validate() error {
	if p.IsEmpty() {
		return ErrEmptyPatch
	}
	if p.Status != nil && !p.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidPatch, *p.Status)
	}
	if p.Provider != nil && *p.Provider != "" && !p.Provider.Valid() {
		return fmt.Errorf("%w: %w", ErrInvalidPatch, ErrUnknownProvider)
	}
	if p.NextBillingDate != nil && p.ClearNextBillingDate {
		return fmt.Errorf("%w: next billing date both set and cleared", ErrInvalidPatch)
	}
	if p.ClearProviderIDs && (p.ProviderCustomerID != nil || p.ProviderSubscriptionID != nil || p.ProviderOrderID != nil) {
		return fmt.Errorf("%w: provider ids both set and cleared", ErrInvalidPatch)
	}
	if p.ProviderSubscriptionID != nil && *p.ProviderSubscriptionID != "" &&
		p.ProviderOrderID != nil && *p.ProviderOrderID != "" {
		return fmt.Errorf("%w: subscription id and order id are mutually exclusive", ErrInvalidPatch)
	}
	for _, s := range p.ExpectStatus {
		if !s.Valid() {
			return fmt.Errorf("%w: unknown expected status %q", ErrInvalidPatch, s)
		}
	}
	return nil
}

// Allows проверяет предусловия патча относительно текущей записи.
func (p SubscriptionPatch) Allows(r SubscriptionRecord) bool {
	if len(p.ExpectStatus) > 0 && !slices.Contains(p.ExpectStatus, r.Status) {
		return false
	}
	if p.EventAt != nil && r.LastEventAt != nil && p.EventAt.Before(*r.LastEventAt) {
		return false
	}
	return true
}

// AdvancesBilling сообщает, сдвигает ли патч nextBillingDate строго вперёд.
func (p SubscriptionPatch) AdvancesBilling(r SubscriptionRecord) bool {
	if p.NextBillingDate == nil {
		return false
	}
	return r.NextBillingDate == nil || p.NextBillingDate.After(*r.NextBillingDate)
}

// ApplyTo сливает патч с записью и возвращает новую запись. Предусловия не проверяются.
// Флаги предупреждений сбрасываются при любом сдвиге nextBillingDate вперёд.
func (p SubscriptionPatch) ApplyTo(r SubscriptionRecord) SubscriptionRecord {
	out := r
	out.WarningsSent = slices.Clone(r.WarningsSent)

	if p.ResetWarnings || p.AdvancesBilling(r) {
		out.WarningsSent = nil
	}
	if p.Status != nil {
		out.Status = *p.Status
	}
	if p.Provider != nil {
		out.Provider = *p.Provider
	}
	if p.ClearProviderIDs {
		out.ProviderCustomerID = ""
		out.ProviderSubscriptionID = ""
		out.ProviderOrderID = ""
	}
	if p.ProviderCustomerID != nil {
		out.ProviderCustomerID = *p.ProviderCustomerID
	}
	if p.ProviderSubscriptionID != nil {
		out.ProviderSubscriptionID = *p.ProviderSubscriptionID
	}
	if p.ProviderOrderID != nil {
		out.ProviderOrderID = *p.ProviderOrderID
	}
	if p.ProviderStatus != nil {
		out.ProviderStatus = *p.ProviderStatus
	}
	if p.CurrentPeriodStart != nil {
		out.CurrentPeriodStart = timePtr(*p.CurrentPeriodStart)
	}
	if p.LastPaymentDate != nil {
		out.LastPaymentDate = timePtr(*p.LastPaymentDate)
	}
	if p.ClearNextBillingDate {
		out.NextBillingDate = nil
	}
	if p.NextBillingDate != nil {
		out.NextBillingDate = timePtr(*p.NextBillingDate)
	}
	if p.EventAt != nil {
		out.LastEventAt = timePtr(*p.EventAt)
	}
	return out
}

func timePtr(t time.Time) *time.Time {
	return &t
}
