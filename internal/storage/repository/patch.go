package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/magabrotheeeer/unimatch-billing/internal/models"
)

// updateBuilder собирает UPDATE с нумерованными параметрами.
type updateBuilder struct {
	sets  []string
	where []string
	args  []any
}

func (b *updateBuilder) arg(v any) string {
	b.args = append(b.args, v)
	return "$" + strconv.Itoa(len(b.args))
}

func (b *updateBuilder) set(expr string) {
	b.sets = append(b.sets, expr)
}

// buildPatchQuery переводит патч в один UPDATE. Поле has_active_subscription
// вычисляется в том же запросе из итоговых статуса и статуса провайдера.
func buildPatchQuery(userID string, p models.SubscriptionPatch) (string, []any) {
	b := &updateBuilder{}
	b.where = append(b.where, "id = "+b.arg(userID))

	statusExpr := "subscription_status"
	if p.Status != nil {
		ph := b.arg(string(*p.Status))
		b.set("subscription_status = " + ph + "::text")
		statusExpr = ph + "::text"
	}
	providerStatusExpr := "provider_status"
	if p.ProviderStatus != nil {
		ph := b.arg(*p.ProviderStatus)
		b.set("provider_status = " + ph + "::text")
		providerStatusExpr = ph + "::text"
	}
	if p.Provider != nil {
		b.set("payment_provider = NULLIF(" + b.arg(string(*p.Provider)) + "::text, '')")
	}
	if p.ClearProviderIDs {
		b.set("provider_customer_id = NULL")
		b.set("provider_subscription_id = NULL")
		b.set("provider_order_id = NULL")
	}
	if p.ProviderCustomerID != nil {
		b.set("provider_customer_id = NULLIF(" + b.arg(*p.ProviderCustomerID) + "::text, '')")
	}
	if p.ProviderSubscriptionID != nil {
		b.set("provider_subscription_id = NULLIF(" + b.arg(*p.ProviderSubscriptionID) + "::text, '')")
	}
	if p.ProviderOrderID != nil {
		b.set("provider_order_id = NULLIF(" + b.arg(*p.ProviderOrderID) + "::text, '')")
	}
	if p.CurrentPeriodStart != nil {
		b.set("current_period_start = " + b.arg(p.CurrentPeriodStart.UTC()))
	}
	if p.LastPaymentDate != nil {
		b.set("last_payment_date = " + b.arg(p.LastPaymentDate.UTC()))
	}
	if p.ClearNextBillingDate {
		b.set("next_billing_date = NULL")
	}

	switch {
	case p.ResetWarnings:
		b.set("warnings_sent = '{}'::text[]")
		if p.NextBillingDate != nil {
			b.set("next_billing_date = " + b.arg(p.NextBillingDate.UTC()))
		}
	case p.NextBillingDate != nil:
		ph := b.arg(p.NextBillingDate.UTC())
		b.set("next_billing_date = " + ph)
		// Флаги относятся к циклу: новый цикл начинается, когда дата сдвигается вперёд.
		b.set("warnings_sent = CASE WHEN next_billing_date IS NULL OR next_billing_date < " + ph +
			" THEN '{}'::text[] ELSE warnings_sent END")
	}

	trialing := b.arg(models.TrialingProviderStatuses)
	b.set(fmt.Sprintf("has_active_subscription = (%[1]s = 'active' OR (%[1]s = 'trial' AND %[2]s = ANY(%[3]s::text[])))",
		statusExpr, providerStatusExpr, trialing))

	if p.EventAt != nil {
		ph := b.arg(p.EventAt.UTC())
		b.set("last_event_at = " + ph)
		b.where = append(b.where, "(last_event_at IS NULL OR last_event_at <= "+ph+")")
	}
	if len(p.ExpectStatus) > 0 {
		expect := make([]string, 0, len(p.ExpectStatus))
		for _, st := range p.ExpectStatus {
			expect = append(expect, string(st))
		}
		b.where = append(b.where, "subscription_status = ANY("+b.arg(expect)+"::text[])")
	}
	b.set("updated_at = now()")

	query := "UPDATE users SET " + strings.Join(b.sets, ", ") +
		" WHERE " + strings.Join(b.where, " AND ") +
		" RETURNING " + userColumns
	return query, b.args
}

// ApplyPatch атомарно применяет патч к записи подписки, если выполняются его
// предусловия (ExpectStatus, EventAt). Возвращает запись после обновления.
// Невыполненные предусловия дают ErrStaleWrite.
func (s *Storage) ApplyPatch(ctx context.Context, userID string, p models.SubscriptionPatch) (*models.User, error) {
	const op = "storage.ApplyPatch"
	if err := checkCtx(ctx, op); err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	query, args := buildPatchQuery(userID, p)
	u, err := scanUser(s.DB.QueryRow(ctx, query, args...))
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var exists bool
	if err := s.DB.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, userID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !exists {
		return nil, fmt.Errorf("%s: %w", op, ErrUserNotFound)
	}
	return nil, fmt.Errorf("%s: %w", op, ErrStaleWrite)
}
